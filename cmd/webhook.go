package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxbell/internal/notify"
)

func newWebhookCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram bot webhook",
		Long: `Register, remove or inspect the Telegram webhook of the bot.

The token is taken from --telegram-token or TELEGRAM_BOT_TOKEN.`,
	}
	cmd.PersistentFlags().StringVar(&token, "telegram-token", "", "Telegram bot token. Can also use TELEGRAM_BOT_TOKEN env var.")

	bot := func(cmd *cobra.Command) (*notify.Telegram, error) {
		if !cmd.Flags().Changed("telegram-token") {
			if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
				token = v
			}
		}
		if token == "" {
			return nil, fmt.Errorf("a Telegram bot token is required (--telegram-token or TELEGRAM_BOT_TOKEN)")
		}
		return notify.NewTelegram(notify.Config{Token: token})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <url>",
		Short: "Point the bot webhook at a URL, e.g. https://bell.example.com/telegram/webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := bot(cmd)
			if err != nil {
				return err
			}
			resp, err := t.SetWebhook(args[0])
			if err != nil {
				return fmt.Errorf("failed to set webhook: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the bot webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := bot(cmd)
			if err != nil {
				return err
			}
			resp, err := t.DeleteWebhook()
			if err != nil {
				return fmt.Errorf("failed to delete webhook: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show the current webhook registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := bot(cmd)
			if err != nil {
				return err
			}
			info, err := t.WebhookInfo()
			if err != nil {
				return fmt.Errorf("failed to get webhook info: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	})

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
