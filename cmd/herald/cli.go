package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/herald/internal/auditlog"
	"github.com/hpungsan/herald/internal/config"
	"github.com/hpungsan/herald/internal/engine"
	"github.com/hpungsan/herald/internal/errors"
	"github.com/hpungsan/herald/internal/gitwatch"
	"github.com/hpungsan/herald/internal/state"
	"github.com/hpungsan/herald/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(runner *engine.Runner, alog *auditlog.Log, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "herald",
		Usage:   "Autonomous agent that turns repository activity into social posts",
		Version: Version,
		Commands: []*cli.Command{
			statusCmd(runner),
			enableCmd(runner),
			disableCmd(runner),
			targetCmd(runner),
			tickCmd(runner),
			runCmd(runner, alog, cfg),
			logCmd(alog),
			serveCmd(runner, alog, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// statusCmd creates the status command.
func statusCmd(runner *engine.Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show engine state, quota usage, and the last tick outcome",
		Action: func(c *cli.Context) error {
			st, last, err := runner.Snapshot()
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"active":                st.Active,
				"mode":                  st.Mode,
				"target":                st.RepoKey(),
				"last_processed_marker": st.LastProcessedMarker,
				"posts_today":           st.PostsToday,
				"quota_date":            st.QuotaDate,
				"last_outcome":          last,
			})
		},
	}
}

// enableCmd creates the enable command.
func enableCmd(runner *engine.Runner) *cli.Command {
	return &cli.Command{
		Name:  "enable",
		Usage: "Turn the engine on",
		Action: func(c *cli.Context) error {
			return setActive(runner, true)
		},
	}
}

// disableCmd creates the disable command.
func disableCmd(runner *engine.Runner) *cli.Command {
	return &cli.Command{
		Name:  "disable",
		Usage: "Turn the engine off (state and history are kept)",
		Action: func(c *cli.Context) error {
			return setActive(runner, false)
		},
	}
}

func setActive(runner *engine.Runner, active bool) error {
	st, err := runner.SetActive(active)
	if err != nil {
		return outputError(err)
	}
	return outputJSON(map[string]any{"active": st.Active})
}

// targetCmd creates the target command.
func targetCmd(runner *engine.Runner) *cli.Command {
	return &cli.Command{
		Name:      "target",
		Usage:     "Point the engine at a repository (resets progress markers)",
		ArgsUsage: "<local | remote owner/name>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("usage: herald target local | herald target remote owner/name"))
			}

			mode := state.Mode(c.Args().Get(0))
			var owner, name string
			if mode == state.ModeRemote {
				repo := c.Args().Get(1)
				parts := strings.SplitN(repo, "/", 2)
				if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
					return outputError(errors.NewInvalidRequest("remote target must be owner/name"))
				}
				owner, name = parts[0], parts[1]
			}

			st, err := runner.SetTarget(mode, owner, name)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"mode":   st.Mode,
				"target": st.RepoKey(),
			})
		},
	}
}

// tickCmd creates the tick command.
func tickCmd(runner *engine.Runner) *cli.Command {
	return &cli.Command{
		Name:  "tick",
		Usage: "Run one decision cycle now and print the outcome",
		Action: func(c *cli.Context) error {
			out, err := runner.Tick(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// runCmd creates the run command (daemon loop plus dashboard).
func runCmd(runner *engine.Runner, alog *auditlog.Log, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the daemon: periodic ticks, event-driven ticks on local repo changes, and the dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Dashboard bind address"},
			&cli.BoolFlag{Name: "no-web", Usage: "Run ticks only, without the dashboard"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Only a local checkout can be watched; remote targets rely on
			// the periodic ticks alone.
			watchDir := ""
			if local := gitwatch.NewLocal(repoDir(cfg)); local.IsRepo() {
				watchDir = local.GitDir()
			}

			if !c.Bool("no-web") {
				srv := web.NewServer(runner, alog, cfg, Version, c.String("bind"), cfg.WebPort)
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			if err := runner.Run(ctx, watchDir); err != nil && err != context.Canceled {
				return outputError(err)
			}
			return nil
		},
	}
}

// logCmd creates the log command.
func logCmd(alog *auditlog.Log) *cli.Command {
	return &cli.Command{
		Name:      "log",
		Usage:     "Print audit records, newest first; pass an id for one record",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50, Usage: "Maximum records to print"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				rec, err := alog.Get(c.Context, c.Args().First())
				if err != nil {
					return outputError(err)
				}
				return outputJSON(rec)
			}

			recs, err := alog.Recent(c.Context, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"records": recs,
				"count":   len(recs),
			})
		},
	}
}

// serveCmd creates the serve command (web dashboard).
func serveCmd(runner *engine.Runner, alog *auditlog.Log, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the web dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port (defaults to config web_port)"},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if port == 0 {
				port = cfg.WebPort
			}
			srv := web.NewServer(runner, alog, cfg, Version, c.String("bind"), port)
			if err := web.Run(srv); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// outputJSON prints indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if hErr, ok := err.(*errors.HeraldError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", hErr.Code, hErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
