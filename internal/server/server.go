package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"legalguardian/internal/chat"
	"legalguardian/internal/domain"
	"legalguardian/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 64 << 10
	shutdownTimeout   = 10 * time.Second
)

type Dispatcher interface {
	Handle(ctx context.Context, msg chat.Message) (chat.Reply, error)
}

// Inspector exposes read-only pipeline state.
type Inspector interface {
	History(userID string) []domain.ChatMessage
	Stats() usecase.Stats
}

type askRequest struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	Text     string `json:"text"`
}

type askResponse struct {
	Answer    string   `json:"answer"`
	Outcome   string   `json:"outcome,omitempty"`
	Command   string   `json:"command,omitempty"`
	Sources   []string `json:"sources,omitempty"`
	RequestID string   `json:"requestId"`
}

type statsResponse struct {
	StartedAt     time.Time `json:"startedAt"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	TotalQueries  int64     `json:"totalQueries"`
	LegalQueries  int64     `json:"legalQueries"`
	LegalShare    float64   `json:"legalShare"`
	ActiveUsers   int       `json:"activeUsers"`
	Text          string    `json:"text"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type Server struct {
	chat    Dispatcher
	inspect Inspector
	logger  *slog.Logger
	router  chi.Router
}

func New(d Dispatcher, inspect Inspector, logger *slog.Logger) (*Server, error) {
	if d == nil || inspect == nil {
		return nil, errors.New("server: dispatcher and inspector must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{chat: d, inspect: inspect, logger: logger}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Post("/ask", s.handleAsk)
	r.Get("/stats", s.handleStats)
	r.Get("/history/{userID}", s.handleHistory)
	r.Delete("/history/{userID}", s.handleClear)
	return r
}

// ServeHTTP makes Server usable directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
		return
	}

	reply, err := s.chat.Handle(r.Context(), chat.Message{
		UserID:    req.UserID,
		UserName:  req.UserName,
		Text:      req.Text,
		RequestID: requestID(r),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set(correlationHeader, reply.RequestID)
	writeJSON(w, http.StatusOK, askResponse{
		Answer:    reply.Text,
		Outcome:   string(reply.Outcome),
		Command:   reply.Command,
		Sources:   reply.Sources,
		RequestID: reply.RequestID,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	_, err := s.chat.Handle(r.Context(), chat.Message{
		UserID:    chi.URLParam(r, "userID"),
		Text:      chat.CommandClear,
		RequestID: requestID(r),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.inspect.History(chi.URLParam(r, "userID"))
	if history == nil {
		history = []domain.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	st := s.inspect.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		StartedAt:     st.StartedAt,
		UptimeSeconds: int64(st.Uptime / time.Second),
		TotalQueries:  st.TotalQueries,
		LegalQueries:  st.LegalQueries,
		LegalShare:    st.LegalShare(),
		ActiveUsers:   st.ActiveUsers,
		Text:          usecase.FormatStats(st),
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ue *usecase.Error
	if errors.As(err, &ue) && ue.Code == usecase.ErrorInvalidInput {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(ue.Code), Reason: ue.Reason})
		return
	}
	s.logger.Error("request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
}

// requestID prefers a caller-supplied correlation id over the one chi assigns.
func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(correlationHeader)); id != "" {
		return id
	}
	return middleware.GetReqID(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encode response failed", "err", err)
	}
}
