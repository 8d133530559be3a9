package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rorqualx/portal-autologin/internal/types"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and login attempt status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			health, healthErr := c.Health(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(st, health, healthErr, time.Now()))
			return nil
		},
	}
}

func newLoginCmd() *cobra.Command {
	var currentURL, priority string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Ask the daemon to start a background login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().RequestLogin(cmd.Context(), currentURL, priority)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderLogin(resp))
			if !resp.Success {
				return errors.New(resp.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&currentURL, "url", "", "URL that failed to load")
	cmd.Flags().StringVar(&priority, "priority", types.PriorityInstant, "priority hint (normal, instant)")
	return cmd
}

func newSuccessCmd() *cobra.Command {
	var tabID string
	cmd := &cobra.Command{
		Use:   "success",
		Short: "Report that the login in a tab went through",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().LoginSuccess(cmd.Context(), types.TabID(tabID))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓ ")+resp.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&tabID, "tab", "", "login tab ID")
	_ = cmd.MarkFlagRequired("tab")
	return cmd
}

func newNetworkErrorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "network-error URL",
		Short: "Report a failed request as a connectivity signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().NetworkError(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
}
