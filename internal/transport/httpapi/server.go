// Package httpapi exposes the shard's session API, the peer termination
// endpoint and operational routes over gin.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"media-companion/internal/domain"
	"media-companion/internal/session"
	"media-companion/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Sessions is the coordinator surface the API drives.
type Sessions interface {
	ShardID() string
	CreateSession(ctx context.Context, in usecase.CreateInput) (*session.Session, error)
	GetLocal(userID string) (*session.Session, bool)
	ListLocal() []session.Info
	Owner(ctx context.Context, userID string) (string, bool, error)
	EndSession(ctx context.Context, userID string) (bool, error)
	EndLocal(userID string, reason domain.EndReason) bool
	EndAllLocal(ctx context.Context) int
	RecordTrigger(userID string) (int, error)
}

// History lists persisted session summaries, newest first.
type History interface {
	ListSessions(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error)
}

type Config struct {
	Sessions Sessions
	History  History
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// AdminTimeout bounds how long end-all waits for sessions to settle.
	AdminTimeout time.Duration
}

type Server struct {
	sessions     Sessions
	history      History
	logger       *slog.Logger
	adminTimeout time.Duration
	engine       *gin.Engine
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("httpapi: sessions must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AdminTimeout <= 0 {
		cfg.AdminTimeout = 10 * time.Second
	}
	s := &Server{
		sessions:     cfg.Sessions,
		history:      cfg.History,
		logger:       cfg.Logger,
		adminTimeout: cfg.AdminTimeout,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.correlation(), s.tracing(), s.requestLog())

	engine.GET("/healthz", s.health)
	if cfg.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := engine.Group("/v1")
	v1.POST("/sessions", s.createSession)
	v1.GET("/sessions", s.listLocal)
	v1.GET("/sessions/:user", s.getSession)
	v1.DELETE("/sessions/:user", s.endSession)
	v1.POST("/sessions/:user/triggers", s.recordTrigger)
	v1.GET("/users/:user/sessions", s.sessionHistory)
	v1.POST("/admin/end-all", s.endAll)

	engine.POST("/internal/v1/sessions/:user/end", s.peerEnd)

	s.engine = engine
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("correlation_id", id)
		c.Header(correlationHeader, id)
		c.Next()
	}
}

func (s *Server) tracing() gin.HandlerFunc {
	tracer := otel.Tracer("media-companion/httpapi")
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.route", route)),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"correlation_id", c.GetString("correlation_id"),
		)
	}
}
