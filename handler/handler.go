package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"legalguardian/internal/chat"
	"legalguardian/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Dispatcher is the chat entry point the handler drives.
type Dispatcher interface {
	Handle(ctx context.Context, msg chat.Message) (chat.Reply, error)
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

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handler adapts API Gateway proxy events to the chat dispatcher.
type Handler struct {
	chat   Dispatcher
	logger *slog.Logger
}

func NewHandler(d Dispatcher, logger *slog.Logger) (*Handler, error) {
	if d == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chat: d, logger: logger}, nil
}

// Handle serves one API Gateway event. Errors are always rendered as JSON
// responses, so the returned error is reserved for the Lambda runtime.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)

	if event.HTTPMethod == http.MethodGet && strings.HasSuffix(event.Path, "/health") {
		return jsonResponse(http.StatusOK, map[string]string{"status": "ok"}, correlationID), nil
	}
	if event.HTTPMethod != "" && event.HTTPMethod != http.MethodPost {
		return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"}, correlationID), nil
	}

	var req askRequest
	if err := decodeBody(event, &req); err != nil {
		h.logger.Warn("invalid request body", "err", err)
		return jsonResponse(http.StatusBadRequest, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "invalid_body",
		}, correlationID), nil
	}

	reply, err := h.chat.Handle(ctx, chat.Message{
		UserID:    req.UserID,
		UserName:  req.UserName,
		Text:      req.Text,
		RequestID: correlationID,
	})
	if err != nil {
		status, body := mapError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("request failed", "err", err)
		}
		return jsonResponse(status, body, correlationID), nil
	}

	return jsonResponse(http.StatusOK, askResponse{
		Answer:    reply.Text,
		Outcome:   string(reply.Outcome),
		Command:   reply.Command,
		Sources:   reply.Sources,
		RequestID: reply.RequestID,
	}, reply.RequestID), nil
}

func mapError(err error) (int, errorResponse) {
	var ue *usecase.Error
	if errors.As(err, &ue) {
		switch ue.Code {
		case usecase.ErrorInvalidInput:
			return http.StatusBadRequest, errorResponse{Error: string(ue.Code), Reason: ue.Reason}
		}
	}
	return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
}

// decodeBody unmarshals the request body, undoing the gateway's base64
// encoding when the event is flagged with it.
func decodeBody(event events.APIGatewayProxyRequest, v any) error {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return err
		}
		body = decoded
	}
	return json.Unmarshal(body, v)
}

// headerValue looks up a header case-insensitively.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	headers := map[string]string{"Content-Type": "application/json; charset=utf-8"}
	if correlationID != "" {
		headers[correlationHeader] = correlationID
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       string(raw),
	}
}
