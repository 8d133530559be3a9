package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Rorqualx/portal-autologin/internal/credentials"
)

var settingsPath string

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Read or write the portal login stored in the settings file",
	}
	cmd.PersistentFlags().StringVar(&settingsPath, "settings", envOr("SETTINGS_PATH", "settings.yaml"), "settings file shared with the daemon (.yaml or .toml)")
	cmd.AddCommand(newCredentialsSetCmd(), newCredentialsShowCmd())
	return cmd
}

func newCredentialsSetCmd() *cobra.Command {
	var (
		username      string
		password      string
		passwordStdin bool
		noAutoSubmit  bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the portal username and password",
		Long: "Store the portal username and password. A daemon running with " +
			"SETTINGS_HOT_RELOAD picks the change up without a restart.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				if password != "" {
					return errors.New("--password and --password-stdin are mutually exclusive")
				}
				p, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = p
			}

			store, err := credentials.Open(settingsPath, false)
			if err != nil {
				return err
			}
			defer store.Close()

			c := store.Get()
			if cmd.Flags().Changed("username") {
				c.Username = username
			}
			if password != "" {
				c.Password = password
			}
			c.AutoSubmit = !noAutoSubmit
			if !c.Complete() {
				return errors.New("both a username and a password are required")
			}

			if err := store.Save(c); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓ ")+"Credentials saved to "+store.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "portal username")
	cmd.Flags().StringVar(&password, "password", "", "portal password (visible in shell history, prefer --password-stdin)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.Flags().BoolVar(&noAutoSubmit, "no-auto-submit", false, "only fill the form, leave submitting to the user")
	return cmd
}

func newCredentialsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored login with the password masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credentials.Open(settingsPath, false)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintln(cmd.OutOrStdout(), renderCredentials(store.Path(), store.Get()))
			return nil
		},
	}
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}
