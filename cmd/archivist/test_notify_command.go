package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"archivist/internal/config"
	"archivist/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification to the administrators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.Notifications.Transport == config.TransportNone || cfg.Notifications.Transport == "" {
				fmt.Fprintln(out, "Notification not sent: notifications.transport is none")
				return nil
			}
			msg := notifications.Test(cfg.Notifications.AdminEmails)
			if len(msg.To) == 0 && cfg.Notifications.Transport == config.TransportSMTP {
				return errors.New("notifications.admin_emails is empty")
			}
			if err := notifications.NewService(cfg).Send(cmd.Context(), msg); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(out, "Test notification sent")
			return nil
		},
	}
}
