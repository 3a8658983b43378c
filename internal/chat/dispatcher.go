package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"legalguardian/internal/domain"
	"legalguardian/internal/usecase"
)

// Commands understood by the dispatcher.
const (
	CommandStart = "/start"
	CommandHelp  = "/help"
	CommandClear = "/clear"
	CommandStats = "/stats"
)

type Service interface {
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
	Clear(userID string)
	Stats() usecase.Stats
}

// Archiver stores answered turns; see repository.Client.
type Archiver interface {
	Archive(ctx context.Context, turn domain.Turn) error
}

// Message is one inbound chat message.
type Message struct {
	UserID    string
	UserName  string
	Text      string
	RequestID string
}

// Reply is what the transport sends back.
type Reply struct {
	Text      string
	Command   string
	Outcome   usecase.Outcome
	Sources   []string
	RequestID string
}

type Dispatcher struct {
	svc     Service
	archive Archiver
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Dispatcher. archive may be nil to disable transcripts.
func New(svc Service, archive Archiver, logger *slog.Logger) (*Dispatcher, error) {
	if svc == nil {
		return nil, errors.New("chat: service must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{svc: svc, archive: archive, logger: logger, now: time.Now}, nil
}

// ParseCommand returns the command word of text, or "" for a plain question.
// A "@botname" suffix on the command is ignored.
func ParseCommand(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	word := strings.Fields(text)[0]
	if i := strings.IndexByte(word, '@'); i > 0 {
		word = word[:i]
	}
	return strings.ToLower(word)
}

// Handle routes msg to a command or to the answering pipeline. Only input
// validation errors are returned.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) (Reply, error) {
	requestID := strings.TrimSpace(msg.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	userID := strings.TrimSpace(msg.UserID)

	if cmd := ParseCommand(msg.Text); cmd != "" {
		if userID == "" {
			return Reply{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: usecase.ReasonMissingUser}
		}
		return d.command(cmd, userID, msg.UserName, requestID), nil
	}

	out, err := d.svc.Ask(ctx, usecase.AskInput{UserID: userID, Question: msg.Text})
	if err != nil {
		if usecase.IsInvalidInput(err) {
			return Reply{}, err
		}
		d.logger.Error("ask failed", "user", userID, "request_id", requestID, "err", err)
		return Reply{Text: usecase.MessageProcessingError, RequestID: requestID}, nil
	}

	d.record(ctx, userID, requestID, msg.Text, out)
	return Reply{
		Text:      out.Answer,
		Outcome:   out.Outcome,
		Sources:   out.Sources,
		RequestID: requestID,
	}, nil
}

func (d *Dispatcher) command(cmd, userID, userName, requestID string) Reply {
	reply := Reply{Command: cmd, RequestID: requestID}
	switch cmd {
	case CommandStart:
		d.svc.Clear(userID)
		reply.Text = usecase.Greeting(userName)
		d.logger.Info("conversation started", "user", userID)
	case CommandClear:
		d.svc.Clear(userID)
		reply.Text = usecase.MessageHistoryCleared
		d.logger.Info("conversation cleared", "user", userID)
	case CommandStats:
		reply.Text = usecase.FormatStats(d.svc.Stats())
	default:
		reply.Text = usecase.HelpMessage
	}
	return reply
}

// record archives the turn. Failures are logged and never reach the user.
func (d *Dispatcher) record(ctx context.Context, userID, requestID, question string, out usecase.AskOutput) {
	if d.archive == nil {
		return
	}
	err := d.archive.Archive(ctx, domain.Turn{
		UserID:    userID,
		RequestID: requestID,
		Question:  strings.TrimSpace(question),
		Answer:    out.Answer,
		Outcome:   string(out.Outcome),
		CreatedAt: d.now(),
	})
	if err != nil {
		d.logger.Warn("archive turn failed", "user", userID, "request_id", requestID, "err", err)
	}
}
