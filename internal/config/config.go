package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// DailyLimit caps the number of successful publishes per calendar day.
	DailyLimit int `json:"daily_limit"`

	// Timezone is the IANA zone used for the quota day boundary and the
	// posting window. The shipped default is America/Los_Angeles.
	Timezone string `json:"timezone"`

	// TickIntervalMinutes is the daemon polling cadence.
	TickIntervalMinutes int `json:"tick_interval_minutes"`

	// BackfillWindow is how many historical commits the backfill strategy
	// inspects when the head marker has not moved.
	BackfillWindow int `json:"backfill_window"`

	// CharLimit is the platform's per-post character ceiling.
	CharLimit int `json:"char_limit"`

	// Models is the ordered list of text-generation backend identifiers.
	// The synthesizer tries them front to back.
	Models []string `json:"models,omitempty"`

	// GenBaseURL is the text-generation API base URL.
	GenBaseURL string `json:"gen_base_url,omitempty"`

	// PublishBaseURL is the social platform API base URL.
	PublishBaseURL string `json:"publish_base_url,omitempty"`

	// SearchBaseURL is the optional post-search API used for inspiration
	// lookups. Empty disables the enrichment step.
	SearchBaseURL string `json:"search_base_url,omitempty"`

	// RenderBaseURL is the optional code-card rendering service used for
	// thread visuals. Empty disables visual attachment.
	RenderBaseURL string `json:"render_base_url,omitempty"`

	// WebPort is the dashboard listen port.
	WebPort int `json:"web_port,omitempty"`

	// VoicePath points at the YAML voice profile (project summary, style
	// rules, canned fallback posts). Defaults to baseDir/voice.yaml.
	VoicePath string `json:"voice_path,omitempty"`

	// RepoDir is the local checkout watched in Local mode.
	// Defaults to the current working directory.
	RepoDir string `json:"repo_dir,omitempty"`
}

// Secrets carries credentials read from the environment, never from disk.
type Secrets struct {
	GenAPIKey    string // HERALD_GEN_API_KEY
	PostToken    string // HERALD_POST_TOKEN
	GitHubToken  string // HERALD_GITHUB_TOKEN, optional (lower rate limits without)
	SearchAPIKey string // HERALD_SEARCH_KEY, optional
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DailyLimit:          15,
		Timezone:            "America/Los_Angeles",
		TickIntervalMinutes: 15,
		BackfillWindow:      50,
		CharLimit:           280,
		Models:              []string{"pelican-large", "pelican-mini"},
		WebPort:             7177,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.herald.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	if merged.VoicePath == "" {
		merged.VoicePath = filepath.Join(baseDir, "voice.yaml")
	}
	return merged, nil
}

// LoadSecrets reads credentials from the environment.
func LoadSecrets() Secrets {
	return Secrets{
		GenAPIKey:    os.Getenv("HERALD_GEN_API_KEY"),
		PostToken:    os.Getenv("HERALD_POST_TOKEN"),
		GitHubToken:  os.Getenv("HERALD_GITHUB_TOKEN"),
		SearchAPIKey: os.Getenv("HERALD_SEARCH_KEY"),
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; model lists are merged and
// deduplicated preserving order (overlay entries first).
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.DailyLimit = pickInt(overlay.DailyLimit, base.DailyLimit)
	result.TickIntervalMinutes = pickInt(overlay.TickIntervalMinutes, base.TickIntervalMinutes)
	result.BackfillWindow = pickInt(overlay.BackfillWindow, base.BackfillWindow)
	result.CharLimit = pickInt(overlay.CharLimit, base.CharLimit)
	result.WebPort = pickInt(overlay.WebPort, base.WebPort)

	result.Timezone = pickString(overlay.Timezone, base.Timezone)
	result.GenBaseURL = pickString(overlay.GenBaseURL, base.GenBaseURL)
	result.PublishBaseURL = pickString(overlay.PublishBaseURL, base.PublishBaseURL)
	result.SearchBaseURL = pickString(overlay.SearchBaseURL, base.SearchBaseURL)
	result.RenderBaseURL = pickString(overlay.RenderBaseURL, base.RenderBaseURL)
	result.VoicePath = pickString(overlay.VoicePath, base.VoicePath)
	result.RepoDir = pickString(overlay.RepoDir, base.RepoDir)

	result.Models = mergeStringSlice(overlay.Models, base.Models)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
