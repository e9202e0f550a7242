package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func trashCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Inspect and restore deleted cards",
	}
	cmd.AddCommand(trashListCmd(env))
	cmd.AddCommand(trashRestoreCmd(env))
	return cmd
}

func trashListCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cards in the trash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := env.authedClient()
			if err != nil {
				return err
			}
			entries, err := api.ListTrash(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing trash: %w", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Trash is empty")
				return nil
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("ID", "TITLE", "COLUMN", "DELETED", "PURGED IN")
			for _, e := range entries {
				t.Row(e.ID, e.Title, columnTitles[e.ColumnID],
					e.DeletedAt.Local().Format("2 Jan 2006 15:04"), fmt.Sprintf("%d days", e.DaysLeft))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t)
			return nil
		},
	}
}

func trashRestoreCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "restore ID",
		Short: "Put a trashed card back on the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := env.authedClient()
			if err != nil {
				return err
			}
			card, err := api.RestoreTrash(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("restoring %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %q to %s\n", card.Title, columnTitles[card.ColumnID])
			return nil
		},
	}
}
