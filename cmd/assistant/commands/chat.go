package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DmytroChyzh/ciedenmanager/internal/chat"
	"github.com/DmytroChyzh/ciedenmanager/internal/pipeline"
	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Chat interactively with the assistant",
	Long: `Start an interactive chat on the active session. With arguments, sends
them as a single message, prints the reply and exits.

Commands inside the prompt:
  /new              start a new chat
  /list             list chats
  /select <id>      switch to a chat
  /delete <id>      delete a chat
  /clear            delete every chat
  /retry            retry the last failed reply
  /regenerate       regenerate the last reply
  /dismiss          dismiss the last error
  /quit             exit`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closer, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl, err := openController(ctx, cfg)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	out := cmd.OutOrStdout()
	if len(args) > 0 {
		return sendAndPrint(ctx, out, ctrl, strings.Join(args, " "))
	}
	return repl(ctx, cmd.InOrStdin(), out, ctrl)
}

func repl(ctx context.Context, in io.Reader, out io.Writer, ctrl *chat.Controller) error {
	if active := ctrl.ActiveSession(); active != nil {
		fmt.Fprintf(out, "Chat %s (%s), %d messages\n", active.ID, active.Title, len(active.Messages))
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := sendAndPrint(ctx, out, ctrl, line); err != nil {
				fmt.Fprintf(out, "error: %s\n", types.Reason(err))
			}
			continue
		}

		name, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch name {
		case "/quit", "/exit":
			return nil
		case "/new":
			s := ctrl.NewChat(ctx)
			fmt.Fprintf(out, "Started chat %s\n", s.ID)
		case "/list":
			printSessions(out, ctrl.Sessions(), ctrl.ActiveID())
		case "/select":
			if !ctrl.SelectChat(ctx, arg) {
				fmt.Fprintf(out, "error: %s\n", types.ErrSessionNotFound)
			}
		case "/delete":
			if !ctrl.DeleteChat(ctx, arg) {
				fmt.Fprintf(out, "error: %s\n", types.ErrSessionNotFound)
			}
		case "/clear":
			ctrl.ClearAll(ctx)
			fmt.Fprintln(out, "All chats deleted. Use /new to start one.")
		case "/retry":
			res, err := ctrl.RetryLast(ctx)
			printExchange(out, res, err)
		case "/regenerate":
			active := ctrl.ActiveSession()
			if active == nil || active.LastMessage() == nil {
				fmt.Fprintf(out, "error: %s\n", types.ErrNotRegenerable)
				continue
			}
			res, err := ctrl.RegenerateMessage(ctx, active.LastMessage().ID)
			printExchange(out, res, err)
		case "/dismiss":
			ctrl.DismissError()
		default:
			fmt.Fprintf(out, "unknown command %s\n", name)
		}
	}
}

func sendAndPrint(ctx context.Context, out io.Writer, ctrl *chat.Controller, text string) error {
	res, err := ctrl.SendMessage(ctx, text)
	if err != nil {
		return err
	}
	printExchange(out, res, nil)
	return nil
}

func printExchange(out io.Writer, res *pipeline.Outcome, err error) {
	switch {
	case err != nil:
		fmt.Fprintf(out, "error: %s\n", types.Reason(err))
	case res.Discarded:
		fmt.Fprintln(out, "(chat was deleted before the reply arrived)")
	case res.Reply != nil:
		fmt.Fprintln(out, res.Reply.Text)
	}
}

func printSessions(out io.Writer, sessions []*types.Session, activeID string) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No chats.")
		return
	}
	for _, s := range sessions {
		marker := " "
		if s.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s  %-32s %3d messages  %s\n",
			marker, s.ID, s.Title, len(s.Messages), s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
}
