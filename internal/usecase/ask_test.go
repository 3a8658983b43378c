package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"legalguardian/internal/domain"
	"legalguardian/internal/heuristics"
	"legalguardian/internal/memory"
	"legalguardian/internal/retrieval"
)

const legalAnswer = "Согласно статье 81 Трудового кодекса Российской Федерации работодатель может расторгнуть " +
	"трудовой договор только по основаниям, прямо предусмотренным законом, с соблюдением процедуры предупреждения."

type fakeRetriever struct {
	mu      sync.Mutex
	results []domain.RetrievedResult
	stats   retrieval.Stats
	queries []string
	topKs   []int
}

func (f *fakeRetriever) Search(_ context.Context, query string, topK int) ([]domain.RetrievedResult, retrieval.Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.topKs = append(f.topKs, topK)
	out := make([]domain.RetrievedResult, len(f.results))
	copy(out, f.results)
	return out, f.stats
}

type fakeGenerator struct {
	mu      sync.Mutex
	answer  string
	err     error
	delay   time.Duration
	prompts []domain.PromptBundle
	params  []domain.SamplingParams

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeGenerator) Generate(_ context.Context, p domain.PromptBundle, params domain.SamplingParams) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	f.params = append(f.params, params)
	return f.answer, f.err
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func chunk(ref, text string, score float64) domain.RetrievedResult {
	return domain.RetrievedResult{ChunkText: text, Reference: ref, Score: score}
}

type fixture struct {
	svc *AskService
	mem *memory.Store
	ret *fakeRetriever
	gen *fakeGenerator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		mem: memory.New(8),
		ret: &fakeRetriever{results: []domain.RetrievedResult{
			chunk("Трудовой кодекс РФ, статья 81", "Трудовой договор может быть расторгнут работодателем в случаях...", 0.91),
		}},
		gen: &fakeGenerator{answer: legalAnswer},
	}
	svc, err := NewAskService(f.mem, heuristics.Default(), f.ret, f.gen, cfg, nil)
	require.NoError(t, err)
	f.svc = svc
	return f
}

// ---------------------------------------------------------------------------
// NewAskService
// ---------------------------------------------------------------------------

func TestNewAskService_NilDependencies(t *testing.T) {
	mem, h, r, g := memory.New(8), heuristics.Default(), &fakeRetriever{}, &fakeGenerator{}
	cases := []struct {
		name string
		m    Memory
		h    Heuristics
		r    Retriever
		g    Generator
		want string
	}{
		{"memory", nil, h, r, g, "memory"},
		{"heuristics", mem, nil, r, g, "heuristics"},
		{"retriever", mem, h, nil, g, "retriever"},
		{"generator", mem, h, r, nil, "generator"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAskService(tc.m, tc.h, tc.r, tc.g, DefaultConfig(), nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestNewAskService_FillsDefaults(t *testing.T) {
	f := newFixture(t, Config{})
	require.Equal(t, DefaultMaxChunks, f.svc.cfg.MaxChunks)
	require.Equal(t, defaultMaxQuestion, f.svc.cfg.MaxQuestionLength)
}

// ---------------------------------------------------------------------------
// validation
// ---------------------------------------------------------------------------

func TestAsk_Validation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	cases := []struct {
		name   string
		in     AskInput
		reason string
	}{
		{"missing user", AskInput{UserID: " ", Question: "Что такое договор?"}, ReasonMissingUser},
		{"empty question", AskInput{UserID: "1", Question: " \n\t"}, ReasonEmptyQuestion},
		{"too long", AskInput{UserID: "1", Question: strings.Repeat("ж", 4001)}, ReasonQuestionTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Ask(context.Background(), tc.in)
			require.Error(t, err)
			var ue *Error
			require.True(t, errors.As(err, &ue))
			require.Equal(t, ErrorInvalidInput, ue.Code)
			require.Equal(t, tc.reason, ue.Reason)
			require.True(t, IsInvalidInput(err))
		})
	}
	require.Zero(t, f.svc.Stats().TotalQueries)
	require.Zero(t, f.gen.calls())
}

func TestAsk_QuestionLengthCountsRunes(t *testing.T) {
	f := newFixture(t, Config{MaxQuestionLength: 20})
	question := "штраф можно ли ааааа"
	require.Greater(t, len(question), 20)

	out, err := f.svc.Ask(context.Background(), AskInput{UserID: "1", Question: question})
	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, out.Outcome)
}

// ---------------------------------------------------------------------------
// short-circuits
// ---------------------------------------------------------------------------

func TestAsk_NotLegal(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	out, err := f.svc.Ask(context.Background(), AskInput{UserID: "1", Question: "Какая погода завтра?"})
	require.NoError(t, err)
	require.Equal(t, OutcomeNotLegal, out.Outcome)
	require.Equal(t, MessageNotLegal, out.Answer)
	require.Empty(t, f.ret.queries)
	require.Zero(t, f.gen.calls())
	require.Empty(t, f.mem.History("1"))

	st := f.svc.Stats()
	require.EqualValues(t, 1, st.TotalQueries)
	require.EqualValues(t, 0, st.LegalQueries)
}

func TestAsk_NothingFound(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.ret.results = nil
	f.ret.stats = retrieval.Stats{Requested: 5, Candidates: 2, Dropped: 2}

	out, err := f.svc.Ask(context.Background(), AskInput{UserID: "1", Question: "Какой штраф за нарушение договора?"})
	require.NoError(t, err)
	require.Equal(t, OutcomeNothingFound, out.Outcome)
	require.Equal(t, MessageNothingFound, out.Answer)
	require.Equal(t, 2, out.Retrieval.Dropped)
	require.Zero(t, f.gen.calls())
	require.Empty(t, f.mem.History("1"))
	require.EqualValues(t, 1, f.svc.Stats().LegalQueries)
}

// ---------------------------------------------------------------------------
// end-to-end
// ---------------------------------------------------------------------------

func TestAsk_EndToEnd(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	question := "Можно ли уволить сотрудника без предупреждения?"

	out, err := f.svc.Ask(context.Background(), AskInput{UserID: "42", Question: question})
	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, out.Outcome)

	// retrieval used the configured top-k
	require.Equal(t, []int{5}, f.ret.topKs)

	// prompt: preamble, then one user turn with the chunk and the question
	require.Equal(t, 1, f.gen.calls())
	msgs := f.gen.prompts[0].Messages
	require.Len(t, msgs, 3)
	require.Equal(t, domain.RoleUser, msgs[0].Role)
	require.Equal(t, SystemPrompt(), msgs[0].Content)
	require.Equal(t, domain.RoleAssistant, msgs[1].Role)
	require.Equal(t, domain.RoleUser, msgs[2].Role)
	require.Contains(t, msgs[2].Content, "[Документ 1] Трудовой кодекс РФ, статья 81")
	require.True(t, strings.HasSuffix(msgs[2].Content, "Вопрос: "+question))
	require.Equal(t, DefaultConfig().Sampling, f.gen.params[0])

	// answer carries the reference exactly once
	require.True(t, strings.HasPrefix(out.Answer, legalAnswer))
	require.Equal(t, 1, strings.Count(out.Answer, "Трудовой кодекс РФ, статья 81"))
	require.Contains(t, out.Answer, sourcesHeader+"\n1. Трудовой кодекс РФ, статья 81")
	require.Equal(t, []string{"Трудовой кодекс РФ, статья 81"}, out.Sources)

	// memory holds the plain generated answer
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: question},
		{Role: domain.RoleAssistant, Content: legalAnswer},
	}, f.mem.History("42"))
}

func TestAsk_FollowUpIncludesHistory(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.svc.Ask(ctx, AskInput{UserID: "42", Question: "Можно ли уволить сотрудника без предупреждения?"})
	require.NoError(t, err)
	_, err = f.svc.Ask(ctx, AskInput{UserID: "42", Question: "А какой штраф за это?"})
	require.NoError(t, err)

	msgs := f.gen.prompts[1].Messages
	require.Len(t, msgs, 5)
	require.Equal(t, "Можно ли уволить сотрудника без предупреждения?", msgs[2].Content)
	require.Equal(t, legalAnswer, msgs[3].Content)
	require.Contains(t, msgs[4].Content, "Вопрос: А какой штраф за это?")
	require.Len(t, f.mem.History("42"), 4)
}

func TestAsk_LimitsChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChunks = 2
	f := newFixture(t, cfg)
	f.ret.results = []domain.RetrievedResult{
		chunk("ГК РФ ст. 1", "a", 0.9),
		chunk("ГК РФ ст. 1", "b", 0.8),
		chunk("ГК РФ ст. 2", "c", 0.7),
	}

	out, err := f.svc.Ask(context.Background(), AskInput{UserID: "1", Question: "Какой штраф за нарушение договора?"})
	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, out.Outcome)
	require.Equal(t, []string{"ГК РФ ст. 1"}, out.Sources)

	final := f.gen.prompts[0].Messages[2].Content
	require.Contains(t, final, "[Документ 2]")
	require.NotContains(t, final, "[Документ 3]")
}

// ---------------------------------------------------------------------------
// query expansion
// ---------------------------------------------------------------------------

func TestAsk_ExpandsQueryForRetrieval(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	out, err := f.svc.Ask(context.Background(), AskInput{UserID: "1", Question: "объясни штраф"})
	require.NoError(t, err)
	require.Equal(t, []string{"штраф юридические аспекты"}, f.ret.queries)
	require.Equal(t, "штраф юридические аспекты", out.Query)

	// the prompt and memory keep the user's wording
	require.Contains(t, f.gen.prompts[0].Messages[2].Content, "Вопрос: объясни штраф")
	require.Equal(t, "объясни штраф", f.mem.History("1")[0].Content)
}

func TestAsk_ExpansionDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueryExpansion = false
	f := newFixture(t, cfg)
	_, err := f.svc.Ask(context.Background(), AskInput{UserID: "1", Question: "объясни штраф"})
	require.NoError(t, err)
	require.Equal(t, []string{"объясни штраф"}, f.ret.queries)
}

// ---------------------------------------------------------------------------
// generation fallbacks and quality gate
// ---------------------------------------------------------------------------

func TestAsk_ShortAnswerFallsBack(t *testing.T) {
	for _, raw := range []string{"", "   ", "Да.", "  Нельзя. "} {
		f := newFixture(t, DefaultConfig())
		f.gen.answer = raw

		out, err := f.svc.Ask(context.Background(), AskInput{UserID: "7", Question: "Какой штраф за нарушение договора?"})
		require.NoError(t, err)
		require.Equal(t, OutcomeFallback, out.Outcome, "raw=%q", raw)
		require.Equal(t, FallbackShortAnswer, out.Answer)
		require.Empty(t, out.Sources)

		history := f.mem.History("7")
		require.Len(t, history, 2)
		require.Equal(t, domain.RoleAssistant, history[1].Role)
		require.Equal(t, FallbackShortAnswer, history[1].Content)
	}
}

func TestAsk_GenerationErrorFallsBack(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.gen.err = errors.New("connection reset by peer")

	out, err := f.svc.Ask(context.Background(), AskInput{UserID: "7", Question: "Какой штраф за нарушение договора?"})
	require.NoError(t, err)
	require.Equal(t, OutcomeGenerationFailed, out.Outcome)
	require.Equal(t, FallbackGenerationError, out.Answer)
	require.NotContains(t, out.Answer, "connection reset")

	history := f.mem.History("7")
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "Какой штраф за нарушение договора?"},
		{Role: domain.RoleAssistant, Content: FallbackGenerationError},
	}, history)
}

func TestAsk_LowQualityAnswer(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	generated := "Это сложный вопрос, всё зависит от обстоятельств."
	f.gen.answer = generated

	out, err := f.svc.Ask(context.Background(), AskInput{UserID: "7", Question: "Какой штраф за нарушение договора?"})
	require.NoError(t, err)
	require.Equal(t, OutcomeLowQuality, out.Outcome)
	require.Equal(t, MessageLowQuality, out.Answer)
	require.Empty(t, out.Sources)
	require.Equal(t, generated, f.mem.History("7")[1].Content)
}

func TestAsk_TrimsGeneratedAnswer(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.gen.answer = "\n\n  " + legalAnswer + "  \n"

	out, err := f.svc.Ask(context.Background(), AskInput{UserID: "7", Question: "Какой штраф за нарушение договора?"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out.Answer, legalAnswer))
	require.Equal(t, legalAnswer, f.mem.History("7")[1].Content)
}

// ---------------------------------------------------------------------------
// concurrency
// ---------------------------------------------------------------------------

func TestAsk_SerializesRequestsForSameUser(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.gen.delay = 20 * time.Millisecond

	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Ask(context.Background(), AskInput{UserID: "same", Question: fmt.Sprintf("Какой штраф %d?", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, f.gen.maxInFlight.Load())
	history := f.mem.History("same")
	require.Len(t, history, 8)
	for i, m := range history {
		want := domain.RoleUser
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		require.Equal(t, want, m.Role)
	}
}

func TestAsk_DifferentUsersRunConcurrently(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.gen.delay = 50 * time.Millisecond

	errs := make(chan error, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Ask(context.Background(), AskInput{UserID: fmt.Sprint("u", i), Question: "Какой штраф?"})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Greater(t, f.gen.maxInFlight.Load(), int32(1))
	require.Equal(t, 3, f.svc.Stats().ActiveUsers)
}

// ---------------------------------------------------------------------------
// stats and history
// ---------------------------------------------------------------------------

func TestStats(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	start := f.svc.startedAt
	f.svc.now = func() time.Time { return start.Add(90 * time.Minute) }
	ctx := context.Background()

	_, _ = f.svc.Ask(ctx, AskInput{UserID: "1", Question: "Какая погода завтра?"})
	_, _ = f.svc.Ask(ctx, AskInput{UserID: "1", Question: "Какой штраф за нарушение договора?"})
	_, _ = f.svc.Ask(ctx, AskInput{UserID: "2", Question: "Что говорит закон о наследстве?"})
	_, _ = f.svc.Ask(ctx, AskInput{UserID: "3", Question: "Привет"})

	st := f.svc.Stats()
	require.EqualValues(t, 4, st.TotalQueries)
	require.EqualValues(t, 2, st.LegalQueries)
	require.Equal(t, 3, st.ActiveUsers)
	require.Equal(t, 90*time.Minute, st.Uptime)
	require.InDelta(t, 50.0, st.LegalShare(), 1e-9)
}

func TestStats_ActiveUsersIncludeDeclinedQuestions(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.ret.results = nil
	ctx := context.Background()

	out, err := f.svc.Ask(ctx, AskInput{UserID: "a", Question: "Какая погода завтра?"})
	require.NoError(t, err)
	require.Equal(t, OutcomeNotLegal, out.Outcome)
	out, err = f.svc.Ask(ctx, AskInput{UserID: "b", Question: "Какой штраф за нарушение договора?"})
	require.NoError(t, err)
	require.Equal(t, OutcomeNothingFound, out.Outcome)
	_, _ = f.svc.Ask(ctx, AskInput{UserID: "b", Question: "Что говорит закон о наследстве?"})
	_, err = f.svc.Ask(ctx, AskInput{UserID: "c", Question: "  "})
	require.Error(t, err)

	require.Equal(t, 2, f.svc.Stats().ActiveUsers)
	require.Empty(t, f.mem.History("a"))
	require.Empty(t, f.mem.History("b"))

	f.svc.Clear("a")
	require.Equal(t, 2, f.svc.Stats().ActiveUsers)
}

func TestClearAndHistory(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.svc.Ask(context.Background(), AskInput{UserID: "1", Question: "Какой штраф за нарушение договора?"})
	require.NoError(t, err)
	require.Len(t, f.svc.History(" 1 "), 2)

	f.svc.Clear("1")
	require.Empty(t, f.svc.History("1"))
	f.svc.Clear("never-seen")
}
