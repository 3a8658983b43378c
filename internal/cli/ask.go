package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"legalguardian/internal/app"
	"legalguardian/internal/chat"
	"legalguardian/internal/usecase"
)

var (
	answerLabel = color.New(color.FgGreen, color.Bold).SprintFunc()
	failedLabel = color.New(color.FgRed).SprintFunc()
	faint       = color.New(color.Faint).SprintFunc()
)

func newAskCmd(e *env) *cobra.Command {
	var (
		userID   string
		userName string
		history  int
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question, or chat interactively when no question is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			send := func(text string) error {
				return askOnce(cmd, a, out, chat.Message{UserID: userID, UserName: userName, Text: text}, history)
			}

			if len(args) > 0 {
				return send(strings.Join(args, " "))
			}

			fmt.Fprintln(out, faint("Введите вопрос, /help для справки, exit для выхода."))
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "exit", "quit":
					return nil
				}
				if err := send(line); err != nil && !usecase.IsInvalidInput(err) {
					return err
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "user id the conversation is kept under")
	cmd.Flags().StringVar(&userName, "name", "", "display name used by /start")
	cmd.Flags().IntVar(&history, "history", 0, "print the last N memory entries after each answer")
	return cmd
}

func askOnce(cmd *cobra.Command, a *app.App, out io.Writer, msg chat.Message, history int) error {
	reply, err := a.Chat.Handle(cmd.Context(), msg)
	if err != nil {
		fmt.Fprintln(out, failedLabel("Ошибка:"), err)
		return err
	}
	label := "Ответ:"
	if reply.Command != "" {
		label = reply.Command
	}
	fmt.Fprintln(out, answerLabel(label))
	fmt.Fprintln(out, reply.Text)
	if reply.Outcome != "" {
		fmt.Fprintln(out, faint(fmt.Sprintf("[%s, request %s]", reply.Outcome, reply.RequestID)))
	}
	if history > 0 {
		fmt.Fprintln(out, faint("История:"))
		fmt.Fprintln(out, a.Memory.Formatted(msg.UserID, history))
	}
	fmt.Fprintln(out)
	return nil
}
