package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"legalguardian/internal/integrations/telegram"
)

func newBotCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot (long polling)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if e.cfg.TelegramToken == "" {
				return errors.New("telegram_token is not configured")
			}
			a, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			client, err := telegram.NewClient(e.cfg.TelegramToken)
			if err != nil {
				return err
			}
			bot, err := telegram.NewBot(client, a.Chat, e.cfg.TelegramPollTimeout, a.Logger)
			if err != nil {
				return err
			}
			return bot.Run(cmd.Context())
		},
	}
}
