package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CrowderSoup/kanban-board/app"
	"github.com/CrowderSoup/kanban-board/board"
	"github.com/CrowderSoup/kanban-board/client"
	"github.com/CrowderSoup/kanban-board/database"
)

const deadlineCheckInterval = time.Hour

func cardsCmd(env *cliEnv) *cobra.Command {
	var opts client.ListOptions

	cmd := &cobra.Command{
		Use:   "cards",
		Short: "List cards by column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Priority != "" && !database.Priority(opts.Priority).Valid() {
				return fmt.Errorf("invalid priority %q", opts.Priority)
			}
			if opts.Sort != "" && board.ParseSort(opts.Sort) == board.SortNone {
				return fmt.Errorf("invalid sort %q", opts.Sort)
			}

			api, err := env.authedClient()
			if err != nil {
				return err
			}
			var cards []database.Card
			err = client.Retry(cmd.Context(), func(ctx context.Context) error {
				var err error
				cards, err = api.ListCards(ctx, opts)
				return err
			})
			if err != nil {
				return fmt.Errorf("listing cards: %w", err)
			}

			byColumn := make(map[database.Column][]database.Card, len(database.Columns))
			for _, c := range cards {
				byColumn[c.ColumnID] = append(byColumn[c.ColumnID], c)
			}
			newPrinter(cmd.OutOrStdout()).Render(database.Columns, byColumn)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.All, "all", "a", false, "Show every user's cards")
	cmd.Flags().StringVarP(&opts.Priority, "priority", "p", "", "Only cards of this priority (low, medium, high)")
	cmd.Flags().StringVarP(&opts.Sort, "sort", "s", "", "Sort order (deadline-asc, deadline-desc, priority)")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "Search titles and descriptions")

	return cmd
}

func watchCmd(env *cliEnv) *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the board and every change pushed by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			api, session, err := env.session(ctx)
			if err != nil {
				return err
			}

			out := newPrinter(cmd.OutOrStdout())
			state := board.NewState(out, board.DefaultDebounce)
			defer state.Close()

			ctrl := app.NewController(api, state, session.UserID, app.WithNotifier(out))
			if err := ctrl.Load(ctx, showAll); err != nil {
				return err
			}
			if _, err := ctrl.EnableNotifications(ctx); err != nil {
				slog.Warn("deadline reminders disabled", "error", err)
			}
			go checkDeadlines(ctx, ctrl)

			err = ctrl.Run(ctx)
			if w := ctrl.Warning(); w != "" {
				out.warn(w)
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&showAll, "all", "a", false, "Show every user's cards")
	return cmd
}

func checkDeadlines(ctx context.Context, ctrl *app.Controller) {
	ticker := time.NewTicker(deadlineCheckInterval)
	defer ticker.Stop()
	for {
		if _, err := ctrl.CheckDeadlines(); err != nil {
			slog.Warn("deadline check failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func migrateCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate FILE",
		Short: "Import cards exported from the old local-storage board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, session, err := env.session(cmd.Context())
			if err != nil {
				return err
			}
			state := board.NewState(nil, board.DefaultDebounce)
			defer state.Close()

			n, err := app.NewController(api, state, session.UserID).MigrateLocal(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d cards\n", n)
			return nil
		},
	}
}

func probeCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check that the server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api := env.anonymousClient()
			if err := api.Probe(cmd.Context()); err != nil {
				return fmt.Errorf("server %s unreachable: %w", env.server(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server %s is reachable\n", env.server())
			return nil
		},
	}
}
