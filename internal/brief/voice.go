package brief

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Voice is the operator-authored profile that shapes every brief: what the
// project is, how posts should read, and what to say when all generative
// backends are down.
type Voice struct {
	// ProjectSummary is the free-text project context fed into every brief.
	ProjectSummary string `yaml:"project_summary"`

	// StyleRules are writing constraints passed verbatim to the synthesizer.
	StyleRules []string `yaml:"style_rules,omitempty"`

	// FallbackPosts are canned texts used when every backend fails.
	FallbackPosts []string `yaml:"fallback_posts,omitempty"`

	// Hashtags are appended to punchy-format posts when they fit the
	// character ceiling.
	Hashtags []string `yaml:"hashtags,omitempty"`
}

// LoadVoice reads the YAML voice profile at path. A missing file yields an
// empty profile, not an error: the agent still works, just with a blander
// voice and no canned fallback.
func LoadVoice(path string) (*Voice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Voice{}, nil
		}
		return nil, fmt.Errorf("read voice profile: %w", err)
	}

	v := &Voice{}
	if err := yaml.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("parse voice profile: %w", err)
	}
	return v, nil
}
