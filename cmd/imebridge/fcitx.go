package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"imebridge/internal/fcitx"
)

var fcitxCmd = &cobra.Command{
	Use:   "fcitx",
	Short: "Inspect the fcitx5 engine",
}

var fcitxListCmd = &cobra.Command{
	Use:   "list",
	Short: "Connect to fcitx5 and list the enabled input methods",
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		conn, err := fcitx.Dial(ctx, fcitx.Config{
			Bus:         cfg.Engine.Bus,
			ProgramName: cfg.Engine.ProgramName,
			Logger:      logger.Logger,
		})
		if err != nil {
			return err
		}
		defer conn.Close()

		methods, err := conn.EnabledInputMethods(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tLANGUAGE")
		for _, m := range methods {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Name, m.Language)
		}
		return w.Flush()
	},
}

func init() {
	fcitxListCmd.Flags().Duration("timeout", 5*time.Second, "give up after this long")
	fcitxCmd.AddCommand(fcitxListCmd)
	rootCmd.AddCommand(fcitxCmd)
}
