package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"legalguardian/internal/domain"
	"legalguardian/internal/retrieval"
)

const (
	defaultMaxQuestion = 4000
	minAnswerRunes     = 10
)

// Outcome tags how a request was resolved.
type Outcome string

const (
	OutcomeAnswered         Outcome = "answered"
	OutcomeNotLegal         Outcome = "not_legal"
	OutcomeNothingFound     Outcome = "nothing_found"
	OutcomeLowQuality       Outcome = "low_quality"
	OutcomeFallback         Outcome = "fallback"
	OutcomeGenerationFailed Outcome = "generation_failed"
)

type Memory interface {
	History(userID string) []domain.ChatMessage
	Add(userID string, role domain.Role, content string) error
	Clear(userID string)
	Lock(userID string) func()
}

// Heuristics groups the rule-based query and answer checks.
type Heuristics interface {
	IsLegal(query string) bool
	Expand(query string) string
	IsAcceptable(query, answer string) bool
}

type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]domain.RetrievedResult, retrieval.Stats)
}

type Generator interface {
	Generate(ctx context.Context, prompt domain.PromptBundle, params domain.SamplingParams) (string, error)
}

// Config holds the pipeline knobs.
type Config struct {
	MaxChunks         int
	TopK              int
	MaxQuestionLength int
	QueryExpansion    bool
	Sampling          domain.SamplingParams
}

func DefaultConfig() Config {
	return Config{
		MaxChunks:         DefaultMaxChunks,
		TopK:              DefaultMaxChunks,
		MaxQuestionLength: defaultMaxQuestion,
		QueryExpansion:    true,
		Sampling: domain.SamplingParams{
			MaxTokens:   1024,
			Temperature: 0.7,
			TopP:        0.9,
			DoSample:    true,
		},
	}
}

type AskInput struct {
	UserID   string
	Question string
}

type AskOutput struct {
	Answer    string
	Outcome   Outcome
	Query     string
	Sources   []string
	Retrieval retrieval.Stats
}

// Stats is a snapshot of the service counters.
type Stats struct {
	StartedAt    time.Time
	Uptime       time.Duration
	TotalQueries int64
	LegalQueries int64
	ActiveUsers  int
}

// LegalShare returns legal queries as a percentage of all queries.
func (s Stats) LegalShare() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.LegalQueries) / float64(s.TotalQueries) * 100
}

type AskService struct {
	memory     Memory
	heuristics Heuristics
	retriever  Retriever
	generator  Generator
	cfg        Config
	logger     *slog.Logger

	startedAt time.Time
	total     atomic.Int64
	legal     atomic.Int64
	now       func() time.Time

	// seen holds every user id that sent a valid question.
	seen   sync.Map
	active atomic.Int64
}

func NewAskService(m Memory, h Heuristics, r Retriever, g Generator, cfg Config, logger *slog.Logger) (*AskService, error) {
	if m == nil {
		return nil, errors.New("usecase: memory must not be nil")
	}
	if h == nil {
		return nil, errors.New("usecase: heuristics must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: retriever must not be nil")
	}
	if g == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = DefaultMaxChunks
	}
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = defaultMaxQuestion
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AskService{
		memory:     m,
		heuristics: h,
		retriever:  r,
		generator:  g,
		cfg:        cfg,
		logger:     logger,
		startedAt:  time.Now(),
		now:        time.Now,
	}, nil
}

// Ask runs one question through the answering pipeline. Only input
// validation failures are returned as errors; every other path resolves to
// an Outcome with a user-facing answer.
func (s *AskService) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return AskOutput{}, newError(ErrorInvalidInput, ReasonMissingUser, nil)
	}
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return AskOutput{}, newError(ErrorInvalidInput, ReasonEmptyQuestion, nil)
	}
	if utf8.RuneCountInString(question) > s.cfg.MaxQuestionLength {
		return AskOutput{}, newError(ErrorInvalidInput, ReasonQuestionTooLong, nil)
	}

	s.total.Add(1)
	if _, loaded := s.seen.LoadOrStore(userID, struct{}{}); !loaded {
		s.active.Add(1)
	}
	log := s.logger.With("user", userID)

	if !s.heuristics.IsLegal(question) {
		log.Info("question is not legal", "outcome", OutcomeNotLegal)
		return AskOutput{Answer: MessageNotLegal, Outcome: OutcomeNotLegal}, nil
	}
	s.legal.Add(1)

	query := question
	if s.cfg.QueryExpansion {
		query = s.heuristics.Expand(question)
		if query != question {
			log.Info("query expanded", "query", query)
		}
	}

	results, rstats := s.retriever.Search(ctx, query, s.cfg.TopK)
	out := AskOutput{Query: query, Retrieval: rstats}
	if len(results) == 0 {
		log.Info("nothing retrieved", "outcome", OutcomeNothingFound, "dropped", rstats.Dropped)
		out.Answer, out.Outcome = MessageNothingFound, OutcomeNothingFound
		return out, nil
	}
	used := limitChunks(results, s.cfg.MaxChunks)

	unlock := s.memory.Lock(userID)
	defer unlock()

	prompt := BuildPrompt(question, s.memory.History(userID), used, s.cfg.MaxChunks, log)
	answer, outcome := s.generate(ctx, log, prompt)
	s.remember(log, userID, question, answer)

	switch {
	case outcome != OutcomeAnswered:
		// fallback texts bypass the quality gate
	case !s.heuristics.IsAcceptable(question, answer):
		answer, outcome = MessageLowQuality, OutcomeLowQuality
	default:
		out.Sources = References(used)
		answer = FormatWithSources(answer, used)
	}

	log.Info("question handled", "outcome", outcome, "chunks", len(used))
	out.Answer, out.Outcome = answer, outcome
	return out, nil
}

// generate calls the generator and maps failures and short output to the
// fixed fallback texts.
func (s *AskService) generate(ctx context.Context, log *slog.Logger, prompt domain.PromptBundle) (string, Outcome) {
	raw, err := s.generator.Generate(ctx, prompt, s.cfg.Sampling)
	if err != nil {
		log.Error("generation failed", "err", err)
		return FallbackGenerationError, OutcomeGenerationFailed
	}
	answer := strings.TrimSpace(raw)
	if utf8.RuneCountInString(answer) < minAnswerRunes {
		log.Warn("generated answer is empty or too short", "runes", utf8.RuneCountInString(answer))
		return FallbackShortAnswer, OutcomeFallback
	}
	return answer, OutcomeAnswered
}

func (s *AskService) remember(log *slog.Logger, userID, question, answer string) {
	if err := s.memory.Add(userID, domain.RoleUser, question); err != nil {
		log.Error("memory add failed", "err", err)
		return
	}
	if err := s.memory.Add(userID, domain.RoleAssistant, answer); err != nil {
		log.Error("memory add failed", "err", err)
	}
}

// Clear resets the stored conversation for userID.
func (s *AskService) Clear(userID string) {
	s.memory.Clear(strings.TrimSpace(userID))
}

// History returns a copy of the stored conversation for userID.
func (s *AskService) History(userID string) []domain.ChatMessage {
	return s.memory.History(strings.TrimSpace(userID))
}

func (s *AskService) Stats() Stats {
	return Stats{
		StartedAt:    s.startedAt,
		Uptime:       s.now().Sub(s.startedAt),
		TotalQueries: s.total.Load(),
		LegalQueries: s.legal.Load(),
		ActiveUsers:  int(s.active.Load()),
	}
}
