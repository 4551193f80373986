package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imebridge/internal/config"
	"imebridge/internal/logging"
)

var (
	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:           "imebridge",
	Short:         "Input session bridge between host text fields and fcitx5",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath(cmd)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		logger, err = cfg.Logging.NewLogger()
		if err != nil {
			return err
		}
		logging.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (default: search . and the config dir)")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level")
}

// configPath returns the --config flag, or the first config file found.
func configPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path, nil
	}
	path, err := config.Find()
	if errors.Is(err, config.ErrNotFound) {
		return config.ConfigPath(), nil
	}
	return path, err
}
