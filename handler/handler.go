package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"media-companion/internal/usecase"
)

// ControlPlaneShardID identifies the control function to the registry. It
// never hosts sessions.
const ControlPlaneShardID = "control-plane"

// ControlPlane is the ownership surface the control function exposes.
type ControlPlane interface {
	Owner(ctx context.Context, userID string) (string, bool, error)
	EndSession(ctx context.Context, userID string) (bool, error)
}

type Handler struct {
	control ControlPlane
	logger  *slog.Logger
}

type ownerResponse struct {
	UserID  string `json:"userId"`
	ShardID string `json:"shardId"`
	Active  bool   `json:"active"`
}

type endResponse struct {
	UserID string `json:"userId"`
	Ended  bool   `json:"ended"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(control ControlPlane) (*Handler, error) {
	if control == nil {
		return nil, errors.New("handler: control plane must not be nil")
	}
	return &Handler{control: control, logger: slog.Default()}, nil
}

// Handle serves GET and DELETE on /sessions/{userId}.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, "X-Correlation-Id")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.logger.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	userID := userIDFrom(req)
	if userID == "" {
		return respond(http.StatusBadRequest, correlationID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "missing_user_id"}), nil
	}

	switch req.HTTPMethod {
	case http.MethodGet:
		owner, ok, err := h.control.Owner(ctx, userID)
		if err != nil {
			log.Error("owner lookup failed", "user", userID, "err", err)
			return respondErr(err, correlationID), nil
		}
		if !ok {
			return respond(http.StatusNotFound, correlationID, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "no_active_session"}), nil
		}
		return respond(http.StatusOK, correlationID, ownerResponse{UserID: userID, ShardID: owner, Active: true}), nil
	case http.MethodDelete:
		ended, err := h.control.EndSession(ctx, userID)
		if err != nil {
			log.Error("end session failed", "user", userID, "err", err)
			return respondErr(err, correlationID), nil
		}
		if !ended {
			return respond(http.StatusNotFound, correlationID, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "no_active_session"}), nil
		}
		log.Info("session ended", "user", userID)
		return respond(http.StatusOK, correlationID, endResponse{UserID: userID, Ended: true}), nil
	default:
		return respond(http.StatusMethodNotAllowed, correlationID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "method_not_allowed"}), nil
	}
}

func userIDFrom(req events.APIGatewayProxyRequest) string {
	if id := strings.TrimSpace(req.PathParameters["userId"]); id != "" {
		return id
	}
	parts := strings.Split(strings.Trim(req.Path, "/"), "/")
	if len(parts) == 2 && parts[0] == "sessions" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func respondErr(err error, correlationID string) events.APIGatewayProxyResponse {
	code := usecase.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorRegistry:
		status = http.StatusServiceUnavailable
	}
	var ue *usecase.Error
	reason := ""
	if errors.As(err, &ue) {
		reason = ue.Reason
	}
	return respond(status, correlationID, errorResponse{Error: string(code), Reason: reason})
}

func respond(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": correlationID,
		},
		Body: string(raw),
	}
}
