package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/scribe/internal/config"
)

// defaultConfigPath is used when --config is not given. A missing default
// file is not an error; the built-in defaults apply.
const defaultConfigPath = "scribe.yaml"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

// logLevel is shared by the default logger and the config watcher, which
// updates it on reload.
var logLevel = new(slog.LevelVar)

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "scribe",
		Short:         "Transcript post-processing and diarization continuity",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd(flags))
	rootCmd.AddCommand(newRunCmd(flags))
	rootCmd.AddCommand(newParseCmd(flags))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig reads the configured file. The default path may be absent, in
// which case the built-in defaults are returned with an empty path.
func (f *rootFlags) loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := f.configPath
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		slog.Debug("no config file, using defaults", "path", path)
		cfg, path, err = config.Default(), "", nil
	}
	if err != nil {
		return nil, "", err
	}
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	if err := f.overrideLogLevel(cfg); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func (f *rootFlags) overrideLogLevel(cfg *config.Config) error {
	if f.logLevel == "" {
		return nil
	}
	lvl := config.LogLevel(f.logLevel)
	if !lvl.IsValid() {
		return fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", f.logLevel)
	}
	cfg.Server.LogLevel = lvl
	logLevel.Set(slogLevel(lvl))
	return nil
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
