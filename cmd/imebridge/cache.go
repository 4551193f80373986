package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"imebridge/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the package name cache",
}

func openCache() (*store.Store, error) {
	return store.Open(cfg.Store.Path)
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of cached package names",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openCache()
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.Count()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries\n", cfg.Store.Path, n)
		return nil
	},
}

var cacheForgetCmd = &cobra.Command{
	Use:   "forget <uid>",
	Short: "Drop the cached package name of a uid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid uid %q", args[0])
		}
		s, err := openCache()
		if err != nil {
			return err
		}
		defer s.Close()
		return s.Forget(uid)
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop entries not used recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		age, _ := cmd.Flags().GetDuration("older-than")
		s, err := openCache()
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.Prune(age)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries\n", n)
		return nil
	},
}

func init() {
	cachePruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "drop entries unused for this long")
	cacheCmd.AddCommand(cacheStatsCmd, cacheForgetCmd, cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
