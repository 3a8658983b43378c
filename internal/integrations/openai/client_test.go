package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"legalguardian/internal/domain"
)

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_EmptyModel(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestNewClient_ParamWithoutGetter(t *testing.T) {
	_, err := NewClient("saiga", WithParamStoreKey(nil, "/legalguardian/llm-token"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("saiga")
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
	require.Equal(t, "saiga", c.Model())
	require.Nil(t, c.getter)
}

// ---------------------------------------------------------------------------
// resolveAPIKey
// ---------------------------------------------------------------------------

func TestResolveAPIKey_Static(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	c, err := NewClient("saiga", WithAPIKey(" sk-static "), WithParamStoreKey(g, "/x"))
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-static", key)
	require.Equal(t, 0, g.calls)
}

func TestResolveAPIKey_NoKey(t *testing.T) {
	c, err := NewClient("saiga")
	require.NoError(t, err)
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Empty(t, key)
}

func TestResolveAPIKey_FetchedOnFirstCall(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	c, err := NewClient("saiga", WithParamStoreKey(g, "/legalguardian/llm-token"))
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.Equal(t, 1, g.calls)

	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, g.calls, "SSM must only be called once per process lifetime")
}

// ---------------------------------------------------------------------------
// fetchAPIKeyFromParamStore
// ---------------------------------------------------------------------------

type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func TestFetchAPIKey_JSONToken(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-json"}`}
	key, err := fetchAPIKeyFromParamStore(context.Background(), g, "/legalguardian/llm-token")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", key)
}

func TestFetchAPIKey_JSONMissingTokenField(t *testing.T) {
	g := &fakeGetter{val: `{"other":"value"}`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/legalguardian/llm-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "API token is empty")
}

func TestFetchAPIKey_MalformedJSON(t *testing.T) {
	g := &fakeGetter{val: `{"broken`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/legalguardian/llm-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestFetchAPIKey_GetterError(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/legalguardian/llm-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")
}

func TestFetchAPIKey_NilGetter(t *testing.T) {
	_, err := fetchAPIKeyFromParamStore(context.Background(), nil, "/legalguardian/llm-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestFetchAPIKey_EmptyName(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-json"}`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}

// ---------------------------------------------------------------------------
// Client.Generate
// ---------------------------------------------------------------------------

var (
	testPrompt = domain.PromptBundle{Messages: []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "Что такое договор?"},
	}}
	testSampling = domain.SamplingParams{MaxTokens: 1024, Temperature: 0.7, TopP: 0.9, DoSample: true}
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		"saiga-mock",
		WithParamStoreKey(&fakeGetter{val: `{"token":"sk-test"}`}, "/legalguardian/llm-token"),
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func TestClient_Generate_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req map[string]any
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Equal(t, "saiga-mock", req["model"])
		require.EqualValues(t, 1024, req["max_tokens"])
		require.InDelta(t, 0.7, req["temperature"], 1e-9)
		require.InDelta(t, 0.9, req["top_p"], 1e-9)
		msgs := req["messages"].([]any)
		require.Len(t, msgs, 1)
		require.Equal(t, "user", msgs[0].(map[string]any)["role"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"created": 1670000000,
			"choices": [{
				"index": 0,
				"message": { "role": "assistant", "content": "Договор есть соглашение сторон." }
			}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Generate(context.Background(), testPrompt, testSampling)
	require.NoError(t, err)
	require.Equal(t, "Договор есть соглашение сторон.", resp)
}

func TestClient_Generate_Greedy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(raw, &req))
		require.InDelta(t, 0.0, req["temperature"], 1e-9)
		_, hasTopP := req["top_p"]
		require.False(t, hasTopP)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), testPrompt, domain.SamplingParams{MaxTokens: 10})
	require.NoError(t, err)
}

func TestClient_Generate_NoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient("local", WithBaseURL(srv.URL+"/v1"))
	require.NoError(t, err)
	resp, err := c.Generate(context.Background(), testPrompt, testSampling)
	require.NoError(t, err)
	require.Equal(t, "ok", resp)
}

func TestClient_Generate_EmptyPrompt(t *testing.T) {
	c, err := NewClient("saiga")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), domain.PromptBundle{}, testSampling)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no messages")
}

func TestClient_Generate_KeyFetchFails(t *testing.T) {
	c, err := NewClient("saiga", WithParamStoreKey(&fakeGetter{err: errors.New("denied")}, "/x"))
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), testPrompt, testSampling)
	require.Error(t, err)
	require.Contains(t, err.Error(), "denied")
}

func TestClient_Generate_StatusErrors(t *testing.T) {
	for _, code := range []int{400, 429, 500} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		c := newTestClient(t, srv)
		_, err := c.Generate(context.Background(), testPrompt, testSampling)
		srv.Close()

		require.Error(t, err)
		var se *HTTPStatusError
		require.True(t, errors.As(err, &se))
		require.Equal(t, code, se.HTTPStatusCode())
		require.Contains(t, err.Error(), "unexpected status")
	}
}

func TestClient_Generate_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), testPrompt, testSampling)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_Generate_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), testPrompt, testSampling)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestClient_Generate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Generate(context.Background(), testPrompt, testSampling)
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestClient_Generate_NetworkError(t *testing.T) {
	c, err := NewClient("saiga", WithBaseURL("http://127.0.0.1:1"), WithTimeout(100*time.Millisecond))
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), testPrompt, testSampling)
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}
