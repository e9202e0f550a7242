package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

func loginCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "login EMAIL",
		Short: "Request a magic sign-in link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := env.anonymousClient().Login(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("requesting magic link: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Message)
			if resp.MagicLink != "" {
				fmt.Fprintf(out, "Magic link: %s\n", resp.MagicLink)
			}
			fmt.Fprintln(out, "Finish with: kanbanctl exchange TOKEN")
			return nil
		},
	}
}

func exchangeCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "exchange TOKEN",
		Short: "Trade a magic link token (or the whole link) for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := env.anonymousClient()
			session, err := api.Exchange(cmd.Context(), magicToken(args[0]))
			if err != nil {
				return fmt.Errorf("signing in: %w", err)
			}

			creds, err := env.creds()
			if err != nil {
				return err
			}
			if err := creds.SaveToken(env.server(), session.Token); err != nil {
				return err
			}

			name := session.Nickname
			if name == "" {
				name = session.Email
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", name)
			return nil
		},
	}
}

func logoutCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := env.creds()
			if err != nil {
				return err
			}
			return creds.DeleteToken(env.server())
		},
	}
}

// magicToken accepts either a bare token or a magic link carrying one.
func magicToken(arg string) string {
	arg = strings.TrimSpace(arg)
	if !strings.Contains(arg, "token=") {
		return arg
	}
	u, err := url.Parse(arg)
	if err != nil {
		return arg
	}
	if t := u.Query().Get("token"); t != "" {
		return t
	}
	return arg
}
