package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"media-companion/internal/domain"
	"media-companion/internal/session"
	"media-companion/internal/usecase"
)

const maxHistoryLimit = 100

type createRequest struct {
	UserID            string `json:"userId"`
	Character         string `json:"character"`
	DurationMinutes   int    `json:"durationMinutes"`
	Personalization   string `json:"personalization"`
	UseProfileSummary bool   `json:"useProfileSummary"`
}

type sessionView struct {
	SessionID       string    `json:"sessionId"`
	UserID          string    `json:"userId"`
	ShardID         string    `json:"shardId"`
	Character       string    `json:"character"`
	DurationMinutes int       `json:"durationMinutes"`
	Active          bool      `json:"active"`
	StartedAt       time.Time `json:"startedAt"`
	Cycles          int       `json:"cycles"`
	Delivered       int       `json:"delivered"`
	Queued          int       `json:"queued"`
	TriggerTags     []string  `json:"triggerTags"`
}

type ownerView struct {
	UserID  string `json:"userId"`
	ShardID string `json:"shardId"`
	Local   bool   `json:"local"`
}

type summaryView struct {
	SessionID      string   `json:"sessionId"`
	Character      string   `json:"character"`
	ShardID        string   `json:"shardId"`
	StartedAt      string   `json:"startedAt"`
	EndedAt        string   `json:"endedAt"`
	MinutesUsed    int      `json:"minutesUsed"`
	Reason         string   `json:"reason"`
	TriggerTags    []string `json:"triggerTags"`
	DeliveredCount int      `json:"deliveredCount"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func toView(info session.Info) sessionView {
	tags := info.TriggerTags
	if tags == nil {
		tags = []string{}
	}
	return sessionView{
		SessionID:       info.ID,
		UserID:          info.UserID,
		ShardID:         info.ShardID,
		Character:       info.Character,
		DurationMinutes: info.DurationMinutes,
		Active:          info.Active,
		StartedAt:       info.StartedAt,
		Cycles:          info.Cycles,
		Delivered:       info.Delivered,
		Queued:          info.Queued,
		TriggerTags:     tags,
	}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorUnknownCharacter:
		return http.StatusBadRequest
	case usecase.ErrorAlreadyActive:
		return http.StatusConflict
	case usecase.ErrorQuotaExhausted:
		return http.StatusPaymentRequired
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorRegistry:
		return http.StatusServiceUnavailable
	case usecase.ErrorStartFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := usecase.CodeOf(err)
	reason := ""
	var ue *usecase.Error
	if errors.As(err, &ue) {
		reason = ue.Reason
	}
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request.URL.Path, "code", code, "err", err)
	}
	c.JSON(status, errorResponse{Error: string(code), Reason: reason})
}

func notFound(c *gin.Context, reason string) {
	c.JSON(http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: reason})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"shard":    s.sessions.ShardID(),
		"sessions": len(s.sessions.ListLocal()),
	})
}

func (s *Server) createSession(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
		return
	}
	sess, err := s.sessions.CreateSession(c.Request.Context(), usecase.CreateInput{
		UserID:            req.UserID,
		Character:         req.Character,
		DurationMinutes:   req.DurationMinutes,
		Personalization:   req.Personalization,
		UseProfileSummary: req.UseProfileSummary,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toView(sess.Info()))
}

func (s *Server) listLocal(c *gin.Context) {
	infos := s.sessions.ListLocal()
	out := make([]sessionView, 0, len(infos))
	for _, info := range infos {
		out = append(out, toView(info))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// getSession returns the local session in full, or only the owning shard
// when another shard runs it.
func (s *Server) getSession(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user"))
	if sess, ok := s.sessions.GetLocal(userID); ok {
		c.JSON(http.StatusOK, toView(sess.Info()))
		return
	}
	owner, owned, err := s.sessions.Owner(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !owned {
		notFound(c, "no_active_session")
		return
	}
	c.JSON(http.StatusOK, ownerView{UserID: userID, ShardID: owner, Local: owner == s.sessions.ShardID()})
}

func (s *Server) endSession(c *gin.Context) {
	ended, err := s.sessions.EndSession(c.Request.Context(), c.Param("user"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ended {
		notFound(c, "no_active_session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": true})
}

func (s *Server) recordTrigger(c *gin.Context) {
	n, err := s.sessions.RecordTrigger(strings.TrimSpace(c.Param("user")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": n})
}

func (s *Server) sessionHistory(c *gin.Context) {
	if s.history == nil {
		notFound(c, "history_unavailable")
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	userID := strings.TrimSpace(c.Param("user"))
	items, err := s.history.ListSessions(c.Request.Context(), userID, limit)
	if err != nil {
		s.logger.Error("list sessions failed", "user", userID, "err", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: "history_read_error"})
		return
	}
	out := make([]summaryView, 0, len(items))
	for _, it := range items {
		tags := it.TriggerTags
		if tags == nil {
			tags = []string{}
		}
		out = append(out, summaryView{
			SessionID:      it.SessionID,
			Character:      it.Character,
			ShardID:        it.ShardID,
			StartedAt:      it.StartedAt,
			EndedAt:        it.EndedAt,
			MinutesUsed:    it.MinutesUsed,
			Reason:         string(it.Reason),
			TriggerTags:    tags,
			DeliveredCount: it.DeliveredCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) endAll(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.adminTimeout)
	defer cancel()
	n := s.sessions.EndAllLocal(ctx)
	c.JSON(http.StatusOK, gin.H{"ended": n})
}

// peerEnd serves termination requests from other shards. 404 tells the
// caller this shard has no such session.
func (s *Server) peerEnd(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user"))
	if !s.sessions.EndLocal(userID, domain.EndReasonRemoteRequest) {
		notFound(c, "no_local_session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": true})
}
