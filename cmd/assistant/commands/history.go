package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear stored chat history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := loadHistory(cmd)
		if err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), sessions, "")
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the messages of a stored chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := loadHistory(cmd)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			if s.ID != args[0] {
				continue
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n\n", s.Title)
			for _, m := range s.Messages {
				fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Text)
			}
			return nil
		}
		return types.ErrSessionNotFound
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		closer, err := setupLogging(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		if err := openStore(cfg).Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyClearCmd)
}

func loadHistory(cmd *cobra.Command) ([]*types.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	closer, err := setupLogging(cfg)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return openStore(cfg).Load(cmd.Context()), nil
}
