package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ryosukesatoh/paperwatch/internal/store"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect the delivered-ID store",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every delivered paper ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := store.New(cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		ids, err := st.Load(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, id := range ids.Sorted() {
			fmt.Fprintln(out, id)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d ids in %s store\n", ids.Len(), cfg.Store.Type)
		return nil
	},
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	rootCmd.AddCommand(stateCmd)
}
