// Command gapi-auth exercises the account facade from a terminal: log in to
// an account, inspect stored credentials, force a token refresh, or strip
// scopes.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/calder-labs/gapi/accounts"
	"github.com/calder-labs/gapi/config"
)

var (
	configPath string
	account    string
	scopes     []string
	verbose    bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gapi-auth",
		Short:         "Manage gapi accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: per-user config dir)")
	root.PersistentFlags().StringVarP(&account, "account", "a", "", "account name (email)")
	root.PersistentFlags().StringSliceVarP(&scopes, "scopes", "s", nil, "requested scopes")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(loginCmd(), showCmd(), refreshCmd(), removeScopesCmd())
	return root
}

func newManager(cmd *cobra.Command) (*accounts.Manager, *config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	storage, err := cfg.Storage()
	if err != nil {
		return nil, nil, err
	}
	authOpts, err := cfg.AuthOptions()
	if err != nil {
		return nil, nil, err
	}

	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	authOpts.Log = logrus.NewEntry(log)

	m := accounts.NewManager(
		accounts.WithStorage(storage),
		accounts.WithAuthOptions(authOpts),
		accounts.WithLogger(logrus.NewEntry(log)),
	)
	return m, cfg, nil
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize an account for the requested scopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cfg, err := newManager(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			requested := scopes
			if len(requested) == 0 {
				requested = cfg.Scopes
			}
			acc, err := m.GetAccount(cmd.Context(), cfg.ClientID, cfg.ClientSecret, account, requested).Wait(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Authorized %s for scopes: %s\n", acc.Name, strings.Join(acc.Scopes, ", "))
			return nil
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a stored account without any network I/O",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cfg, err := newManager(cmd)
			if err != nil {
				return err
			}
			acc, err := m.FindAccount(cmd.Context(), cfg.ClientID, account, scopes).Wait(cmd.Context())
			if err != nil {
				return err
			}
			if acc == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching account stored.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account: %s\nExpires: %s\nScopes:  %s\n",
				acc.Name, acc.ExpiresAt, strings.Join(acc.Scopes, ", "))
			return nil
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a token refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cfg, err := newManager(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			acc, err := m.RefreshTokens(cmd.Context(), cfg.ClientID, cfg.ClientSecret, account).Wait(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %s, token expires %s\n", acc.Name, acc.ExpiresAt)
			return nil
		},
	}
}

func removeScopesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-scopes",
		Short: "Strip scopes from a stored account",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cfg, err := newManager(cmd)
			if err != nil {
				return err
			}
			if err := m.RemoveScopes(cmd.Context(), cfg.ClientID, account, scopes); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Done.")
			return nil
		},
	}
}
