package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the inboxbell application
var rootCmd = &cobra.Command{
	Use:   "inboxbell",
	Short: "Telegram alerts and commands for Gmail inboxes",
	Long: `inboxbell links Telegram chats to Gmail accounts. It polls each linked
mailbox, notifies the chat about important new mail and answers chat commands
such as /summarize, /sync, /upcoming, /search and /pdfsum.

A .env file in the working directory is loaded before flags are evaluated.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Variables already set in the environment win over the file.
		_ = godotenv.Load()
	},
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "inboxbell version %s\n" .Version}}`)

	// If no subcommand is provided, run the server
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWebhookCmd())
	rootCmd.AddCommand(newVersionCmd())
}
