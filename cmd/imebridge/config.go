package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"imebridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the preferences file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a preferences file with the default values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ConfigPath()
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Validate a preferences file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		checked := cfg
		if len(args) == 1 {
			loaded, err := config.Load(args[0])
			if err != nil {
				return err
			}
			checked = loaded
		}
		if err := checked.Validate(); err != nil {
			var verrs config.ValidationErrors
			if errors.As(err, &verrs) {
				for _, e := range verrs {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e.Error())
				}
			}
			return fmt.Errorf("invalid configuration")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective preferences, environment overrides included",
	RunE: func(cmd *cobra.Command, args []string) error {
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
	},
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configCheckCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
