package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/herald/internal/auditlog"
	"github.com/hpungsan/herald/internal/brief"
	"github.com/hpungsan/herald/internal/config"
	"github.com/hpungsan/herald/internal/engine"
	"github.com/hpungsan/herald/internal/gitwatch"
	"github.com/hpungsan/herald/internal/inspire"
	"github.com/hpungsan/herald/internal/mcp"
	"github.com/hpungsan/herald/internal/publish"
	"github.com/hpungsan/herald/internal/state"
	"github.com/hpungsan/herald/internal/synth"
	"github.com/hpungsan/herald/internal/topics"
	"github.com/hpungsan/herald/internal/visual"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"status": true, "enable": true, "disable": true, "target": true,
	"tick": true, "run": true, "log": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _  _ ___ ___    _   _    ___
  | || | __| _ \  /_\ | |  |   \
  | __ | _||   / / _ \| |__| |) |
  |_||_|___|_|_\/_/ \_\____|___/

  Autonomous release-notes-to-social agent

  Usage: herald <command> [options]
         herald --help

  MCP server mode requires piped input.`)
}

// topicSource adapts filesystem topic discovery to the engine's interface.
type topicSource struct {
	dir string
}

func (t topicSource) Discover(context.Context) ([]state.Topic, error) {
	return topics.Discover(t.dir)
}

// buildRunner wires the engine over the shared store, audit log, and the
// collaborator clients configured for the current monitor target.
func buildRunner(baseDir string, alog *auditlog.Log, cfg *config.Config) *engine.Runner {
	secrets := config.LoadSecrets()

	voice, err := brief.LoadVoice(cfg.VoicePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: voice profile ignored: %v\n", err)
		voice = &brief.Voice{}
	}

	store := state.NewStore(baseDir)

	deps := func(st state.EngineState) engine.Collaborators {
		c := engine.Collaborators{
			Synth:     synth.NewClient(cfg.GenBaseURL, secrets.GenAPIKey, cfg.Models, cfg.CharLimit, voice.FallbackPosts),
			Publisher: publish.NewClient(cfg.PublishBaseURL, secrets.PostToken, cfg.CharLimit),
			Audit:     alog,
			Voice:     voice,
		}
		if st.Mode == state.ModeRemote {
			c.Inspector = gitwatch.NewRemote("", st.RemoteOwner, st.RemoteName, secrets.GitHubToken)
		} else {
			c.Inspector = gitwatch.NewLocal(repoDir(cfg))
			c.Topics = topicSource{dir: repoDir(cfg)}
		}
		if cfg.SearchBaseURL != "" {
			c.Inspire = inspire.NewClient(cfg.SearchBaseURL, secrets.SearchAPIKey)
		}
		if cfg.RenderBaseURL != "" {
			c.Visuals = visual.NewClient(cfg.RenderBaseURL)
		}
		return c
	}

	return engine.NewRunner(store, cfg, deps)
}

// repoDir resolves the local checkout to watch.
func repoDir(cfg *config.Config) string {
	if cfg.RepoDir != "" {
		return cfg.RepoDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".herald")

	database, err := auditlog.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	alog := auditlog.New(database)
	runner := buildRunner(baseDir, alog, cfg)

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(runner, alog, cfg)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'herald --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := mcp.Run(runner, alog, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
