// Package commands provides the CLI commands for the assistant.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
	ephemeral bool
)

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Multi-session chat assistant",
	Long: `assistant keeps a set of chat sessions, sends each new user message to a
remote completion service together with the conversation so far, and
persists the history after every change.

Run 'assistant chat' for an interactive session, or 'assistant serve'
to expose the chat engine over HTTP.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is normal.
		_ = godotenv.Load()
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Project directory for .assistant config")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "Keep history in memory only")

	rootCmd.SetVersionTemplate(fmt.Sprintf("assistant %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
