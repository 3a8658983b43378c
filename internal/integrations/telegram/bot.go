package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"legalguardian/internal/chat"
	"legalguardian/internal/usecase"
)

// Dispatcher handles one chat message; *chat.Dispatcher implements it.
type Dispatcher interface {
	Handle(ctx context.Context, msg chat.Message) (chat.Reply, error)
}

type api interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendTyping(ctx context.Context, chatID int64) error
}

// Bot long-polls the Bot API and answers every text message through the
// dispatcher. Each message is handled in its own goroutine; messages of one
// user are serialized by the dispatcher's per-user lock.
type Bot struct {
	api         api
	chat        Dispatcher
	logger      *slog.Logger
	pollTimeout int
	retryDelay  time.Duration
}

func NewBot(c api, d Dispatcher, pollTimeout time.Duration, logger *slog.Logger) (*Bot, error) {
	if c == nil || d == nil {
		return nil, errors.New("telegram: client and dispatcher must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	secs := int(pollTimeout / time.Second)
	if secs <= 0 {
		secs = 30
	}
	return &Bot{api: c, chat: d, logger: logger, pollTimeout: secs, retryDelay: 3 * time.Second}, nil
}

// Run polls until ctx is done and then waits for in-flight messages. Poll
// failures are logged and retried after a short pause.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("telegram bot polling", "timeout_s", b.pollTimeout)
	var (
		offset int64
		wg     sync.WaitGroup
	)
	defer wg.Wait()
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := b.api.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error("telegram poll failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.retryDelay):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			wg.Add(1)
			go func(u Update) {
				defer wg.Done()
				b.handle(ctx, u)
			}(u)
		}
	}
}

func (b *Bot) handle(ctx context.Context, u Update) {
	m := u.Message
	if m == nil || strings.TrimSpace(m.Text) == "" {
		return
	}
	userID, name := strconv.FormatInt(m.Chat.ID, 10), ""
	if m.From != nil {
		userID = strconv.FormatInt(m.From.ID, 10)
		name = m.From.Username
	}

	if chat.ParseCommand(m.Text) == "" {
		if err := b.api.SendTyping(ctx, m.Chat.ID); err != nil {
			b.logger.Debug("telegram typing indicator failed", "err", err)
		}
	}

	reply, err := b.chat.Handle(ctx, chat.Message{
		UserID:    userID,
		UserName:  name,
		Text:      m.Text,
		RequestID: "tg-" + strconv.FormatInt(u.UpdateID, 10),
	})
	text := reply.Text
	if err != nil {
		if !usecase.IsInvalidInput(err) {
			b.logger.Error("telegram message failed", "user", userID, "err", err)
		}
		text = usecase.MessageProcessingError
	}
	if err := b.api.SendMessage(ctx, m.Chat.ID, text); err != nil {
		b.logger.Error("telegram send failed", "user", userID, "err", err)
	}
}
