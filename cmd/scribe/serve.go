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

	"github.com/MrWong99/scribe/internal/app"
	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/observe"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the session HTTP API",
		Long: `Serve the per-note session HTTP API together with /healthz, /readyz and
/metrics. The config file is watched, and SIGHUP forces a reload; log level,
timestamp repair and seed speakers apply without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, flags)
		},
	}
}

func serve(cmd *cobra.Command, flags *rootFlags) error {
	ctx := cmd.Context()

	cfg, path, err := flags.loadConfig(cmd)
	if err != nil {
		return err
	}

	var opts []app.Option
	if path != "" {
		w, err := config.NewWatcher(path, func(old, new *config.Config) {
			applyReload(flags, old, new)
		})
		if err != nil {
			return err
		}
		cfg = w.Current()
		opts = append(opts, app.WithWatcher(w))
		go reloadOnHangup(ctx, w)
	}

	slog.Info("scribe starting",
		"version", version,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	if cfg.Telemetry.Metrics {
		tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			SampleRatio:    cfg.Telemetry.TraceSampleRatio,
			RuntimeMetrics: cfg.Telemetry.RuntimeMetrics,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		opts = append(opts, app.WithTelemetry(tel))
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildProviders(reg, cfg.Providers)
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		return err
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// applyReload logs a config change and applies the log level. Everything
// else that is hot-reloadable is read from the watcher by the app.
func applyReload(flags *rootFlags, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && flags.logLevel == "" {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RepairChanged {
		slog.Info("timestamp repair changed", "repair_timestamps", d.NewRepair)
	}
	if d.SpeakersChanged {
		slog.Info("seed speakers changed; applies to new sessions", "speakers", len(new.Transcript.Speakers))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// reloadOnHangup rereads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if changed, err := w.Reload(); err == nil && !changed {
				slog.Info("SIGHUP: config unchanged", "path", w.Path())
			}
		}
	}
}
