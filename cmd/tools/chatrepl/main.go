package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/c3-chat/backend/internal/app"
	"github.com/zhouzirui/c3-chat/backend/internal/config"
	"github.com/zhouzirui/c3-chat/backend/internal/logging"
)

var (
	threadID   string
	identifier string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "chatrepl",
	Short: "Chat with the assistant from a terminal",
	Long: `Runs the same session manager as the HTTP server against stdin/stdout.

Type a message and press enter. Commands:
  /connect   run the offered connect action
  /history   print the current thread history
  /quit      leave`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && envFile != ".env" {
			return fmt.Errorf("load %s: %w", envFile, err)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		cfg.Log.Format = "console"

		logger := logging.NewWithWriter(cfg.Log, cmd.ErrOrStderr())
		ctx := cmd.Context()

		services, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer services.Close()

		user, err := services.Store.UpsertUser(ctx, identifier, map[string]string{"provider": "terminal"})
		if err != nil {
			return err
		}

		r := newREPL(services.Sessions, user, cmd.InOrStdin(), cmd.OutOrStdout())
		return r.run(ctx, threadID)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&threadID, "thread", "t", "", "resume an existing thread instead of starting a new one")
	rootCmd.Flags().StringVarP(&identifier, "user", "u", "admin", "user identifier to chat as")
	rootCmd.Flags().StringVar(&envFile, "env", ".env", "dotenv file to load")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
