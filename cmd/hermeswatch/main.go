// Command hermeswatch watches the Hermes MQTT traffic of a Rhasspy
// installation, renders it, and optionally records it for later search.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/hermeswatch/internal/app"
	"github.com/MrWong99/hermeswatch/internal/config"
	"github.com/MrWong99/hermeswatch/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRoot().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "hermeswatch: %v\n", err)
		return 1
	}
	return 0
}

func newRoot() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "hermeswatch",
		Short:         "Watch, record and search Rhasspy Hermes MQTT traffic",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f.register(root)

	root.AddCommand(
		&cobra.Command{
			Use:   "live",
			Short: "Render bus traffic without recording it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return watch(cmd, f, false)
			},
		},
		&cobra.Command{
			Use:   "record",
			Short: "Render bus traffic and record messages and audio to the archive",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return watch(cmd, f, true)
			},
		},
		newSearchCmd(f),
	)
	return root
}

func newSearchCmd(f *flags) *cobra.Command {
	var start, stop string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Replay archived records between --start and --stop",
		Example: `  hermeswatch search --start "2020-05-10 01:43:26" --stop "2020-05-10 01:50:00"
  hermeswatch search --start 2020-05-10 --stop 2020-05-11 --format raw`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.config(cmd)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			from, err := parseTime(start, cfgLocation)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			to, err := parseTime(stop, cfgLocation)
			if err != nil {
				return fmt.Errorf("--stop: %w", err)
			}

			a, err := app.New(cfg, app.ForSearch())
			if err != nil {
				return err
			}
			defer a.Close()

			slog.Info("searching archive", "store", cfg.Store.Dir, "start", from, "stop", to)
			_, err = a.Search(cmd.Context(), from, to)
			return err
		},
	}
	cmd.Flags().StringVar(&start, "start", "", `first instant to replay, e.g. "2020-05-26 23:30:00"`)
	cmd.Flags().StringVar(&stop, "stop", "", `last instant to replay, e.g. "2020-05-27 01:00:00"`)
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("stop")
	return cmd
}

// cfgLocation is the zone in which search bounds without an offset are read.
var cfgLocation = time.Local

func watch(cmd *cobra.Command, f *flags, recording bool) error {
	cfg, err := f.config(cmd)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)
	ctx := cmd.Context()

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	var (
		a    *app.App
		opts []app.Option
	)
	if w := f.watcher(func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		a.Reconfigure(d)
	}); w != nil {
		opts = append(opts, app.WithWatcher(w))
	}

	a, err = app.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.RunLive(ctx, recording); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// logLevel is shared by the process logger so config reloads can change it.
var logLevel = new(slog.LevelVar)

func setupLogging(level config.LogLevel) {
	logLevel.Set(slogLevel(level))
	slog.SetDefault(newLogger(logLevel))
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
