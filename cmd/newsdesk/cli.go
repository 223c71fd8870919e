package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/deusflow/newsdesk/internal/api"
	"github.com/deusflow/newsdesk/internal/app"
	"github.com/deusflow/newsdesk/internal/config"
	"github.com/deusflow/newsdesk/internal/logger"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(log *slog.Logger) *cli.App {
	a := &cli.App{
		Name:    "newsdesk",
		Usage:   "RSS ingest, summarize and rank",
		Version: Version,
		Commands: []*cli.Command{
			ingestCmd(log),
			serveCmd(log),
			homeCmd(log, os.Stdout),
		},
	}
	a.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return a
}

// withApp loads config, builds the app and closes it after fn returns.
func withApp(c *cli.Context, log *slog.Logger, fn func(*config.Config, *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return cli.Exit(fmt.Sprintf("config: %v", err), 1)
	}
	logger.SetLevel(cfg.LogLevel, cfg.Debug)

	a, err := app.New(c.Context, cfg, log)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			log.Error("close failed", "err", cerr)
		}
	}()
	return fn(cfg, a)
}

func ingestCmd(log *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Fetch feeds, summarize new articles and store them",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "feeds", Usage: "Feed list file (.txt or .yaml)"},
			&cli.StringFlag{Name: "include", Usage: "Include rules file"},
			&cli.StringFlag{Name: "exclude", Usage: "Exclude rules file"},
			&cli.IntFlag{Name: "per-feed", Usage: "Entries taken from each feed"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Extract and dedupe without summarizing or storing"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, log, func(_ *config.Config, a *app.App) error {
				res, err := a.Ingest(c.Context, app.IngestOptions{
					FeedsPath:   c.String("feeds"),
					IncludePath: c.String("include"),
					ExcludePath: c.String("exclude"),
					PerFeed:     c.Int("per-feed"),
					DryRun:      c.Bool("dry-run"),
				})
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				log.Info("ingest finished",
					"run_id", res.RunID,
					"seen", res.Seen,
					"summarized", res.Summarized,
					"cached", res.Cached,
					"skipped", res.Skipped,
					"errors", res.Errors)
				return nil
			})
		},
	}
}

func serveCmd(log *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (defaults to HTTP_ADDR)"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, log, func(cfg *config.Config, a *app.App) error {
				addr := cfg.HTTPAddr
				if v := c.String("addr"); v != "" {
					addr = v
				}
				if cfg.RefreshToken == "" {
					log.Warn("REFRESH_TOKEN is not set, refresh and settings updates are disabled")
				}

				handler := api.New(api.Options{
					Store:        a.Store(),
					Refresher:    a,
					Guard:        api.NewRefreshGuard(cfg.RefreshMinInterval, nil),
					Metrics:      a.Metrics(),
					RefreshToken: cfg.RefreshToken,
					SettingsPath: cfg.SettingsPath(),
					PoolSize:     cfg.HomePoolSize,
					Logger:       log,
				}).Handler()

				return serve(c.Context, log, &http.Server{
					Addr:        addr,
					Handler:     handler,
					ReadTimeout: 15 * time.Second,
					// refresh runs a whole ingest inside the request
					WriteTimeout: 10 * time.Minute,
					IdleTimeout:  120 * time.Second,
				})
			})
		},
	}
}

func serve(ctx context.Context, log *slog.Logger, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func homeCmd(log *slog.Logger, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "home",
		Usage: "Print the ranked home selection as JSON",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Usage: "Articles to select (defaults to saved settings)"},
			&cli.IntFlag{Name: "quota", Value: -1, Usage: "Per-domain quota in the first pass"},
			&cli.IntFlag{Name: "half-life", Usage: "Recency half-life in hours"},
			&cli.StringFlag{Name: "source", Usage: "Only rank articles from this source"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, log, func(cfg *config.Config, a *app.App) error {
				st, err := config.LoadServerSettings(cfg.SettingsPath())
				if err != nil {
					log.Warn("settings unavailable, using defaults", "err", err)
				}
				if v := c.Int("count"); v > 0 {
					st.HomeCount = v
				}
				if v := c.Int("quota"); v >= 0 {
					st.PerDomainQuota = v
				}
				if v := c.Int("half-life"); v > 0 {
					st.RecencyHalfLifeHours = v
				}

				items, err := a.Home(c.Context, st, c.String("source"))
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				return outputJSON(out, items)
			})
		},
	}
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
