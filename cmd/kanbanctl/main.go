package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CrowderSoup/kanban-board/client"
	"github.com/CrowderSoup/kanban-board/logging"
)

var Version = "dev"

func main() {
	if err := newRootCmd(newKeyringCredentials).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(creds func() (Credentials, error)) *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "kanbanctl",
		Short:         "Command line client for the Kanban board",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(v.GetString("log_level"), os.Stderr)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:3001", "Board server URL")
	flags.String("token", "", "Session token (defaults to the one saved by exchange)")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")

	_ = v.BindPFlag("server", flags.Lookup("server"))
	_ = v.BindPFlag("token", flags.Lookup("token"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	v.SetEnvPrefix("KANBANCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	env := &cliEnv{v: v, creds: creds}

	rootCmd.AddCommand(loginCmd(env))
	rootCmd.AddCommand(exchangeCmd(env))
	rootCmd.AddCommand(logoutCmd(env))
	rootCmd.AddCommand(cardsCmd(env))
	rootCmd.AddCommand(watchCmd(env))
	rootCmd.AddCommand(migrateCmd(env))
	rootCmd.AddCommand(trashCmd(env))
	rootCmd.AddCommand(probeCmd(env))

	return rootCmd
}

// cliEnv carries the resolved settings shared by every command.
type cliEnv struct {
	v     *viper.Viper
	creds func() (Credentials, error)
}

func (e *cliEnv) server() string {
	return strings.TrimRight(e.v.GetString("server"), "/")
}

// anonymousClient returns a client without a session.
func (e *cliEnv) anonymousClient() *client.Client {
	return client.New(e.server())
}

// authedClient returns a client carrying the flag, environment or saved
// session token, in that order.
func (e *cliEnv) authedClient() (*client.Client, error) {
	token := e.v.GetString("token")
	if token == "" {
		creds, err := e.creds()
		if err != nil {
			return nil, err
		}
		token, err = creds.Token(e.server())
		if errors.Is(err, ErrNoSession) {
			return nil, errors.New("not logged in: run kanbanctl login, then kanbanctl exchange")
		}
		if err != nil {
			return nil, err
		}
	}
	return client.New(e.server(), client.WithToken(token)), nil
}

// session verifies the token and returns the client with its identity.
func (e *cliEnv) session(ctx context.Context) (*client.Client, *client.Session, error) {
	api, err := e.authedClient()
	if err != nil {
		return nil, nil, err
	}
	s, err := api.Verify(ctx)
	if err != nil {
		if client.IsStatus(err, http.StatusUnauthorized) {
			return nil, nil, errors.New("session expired: log in again")
		}
		return nil, nil, fmt.Errorf("verifying session: %w", err)
	}
	return api, s, nil
}
