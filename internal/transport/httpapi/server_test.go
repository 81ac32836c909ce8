package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"media-companion/internal/domain"
	"media-companion/internal/media"
	"media-companion/internal/metrics"
	"media-companion/internal/registry"
	"media-companion/internal/repository"
	"media-companion/internal/session"
	"media-companion/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubCatalog map[string]domain.Character

func (c stubCatalog) Lookup(name string) (domain.Character, bool) {
	ch, ok := c[name]
	return ch, ok
}

type stubTransport struct{}

func (stubTransport) OpenDirectChannel(context.Context, string) (string, error) { return "dm", nil }

func (stubTransport) Send(context.Context, string, domain.Delivery) (string, error) {
	return "m1", nil
}

func (stubTransport) Edit(context.Context, string, string, domain.Delivery) error { return nil }

type emptyBatcher struct{}

func (emptyBatcher) FetchBatch(context.Context, *media.PaginatedSource, media.DedupSet, int) []domain.MediaItem {
	return nil
}

func (emptyBatcher) GenerateCommentary(context.Context, []domain.MediaItem, media.CommentaryContext) []string {
	return nil
}

type emptyListing struct{}

func (emptyListing) TopByTimeframe(context.Context, string, string, int, string) (media.ListingPage, error) {
	return media.ListingPage{}, nil
}

type testEnv struct {
	store    *repository.MemoryStore
	registry *registry.Registry
	coord    *usecase.Coordinator
	srv      *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore(30)
	reg, err := registry.New(store)
	require.NoError(t, err)
	promReg := prometheus.NewRegistry()
	m, err := metrics.New(promReg)
	require.NoError(t, err)

	coord, err := usecase.NewCoordinator(usecase.CoordinatorDeps{
		ShardID:  "shard-a",
		Registry: reg,
		Catalog: stubCatalog{"Bo": {
			Name:   "Bo",
			Source: domain.SourceConfig{Kind: domain.SourceKindSubreddit, Listing: &domain.ListingSource{Subreddits: []string{"aww"}}},
		}},
		Quota: store,
		Notes: store,
		Session: session.Deps{
			Transport: stubTransport{},
			Quota:     store,
			Batcher:   emptyBatcher{},
			Listing:   emptyListing{},
			Recorder:  store,
		},
		SessionConfig: session.Config{Interval: time.Hour},
		Metrics:       m,
		Logger:        logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		coord.EndAllLocal(ctx)
	})

	srv, err := NewServer(Config{Sessions: coord, History: store, Gatherer: promReg, Logger: logger})
	require.NoError(t, err)
	return &testEnv{store: store, registry: reg, coord: coord, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNewServer_Validates(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)
}

func TestCreateGetAndEndSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/sessions", `{"userId":"u1","character":"Bo","durationMinutes":10}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[sessionView](t, rec)
	require.NotEmpty(t, created.SessionID)
	require.Equal(t, "shard-a", created.ShardID)
	require.Equal(t, 10, created.DurationMinutes)
	require.NotEmpty(t, rec.Header().Get(correlationHeader))

	rec = env.do(t, http.MethodGet, "/v1/sessions/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, created.SessionID, decode[sessionView](t, rec).SessionID)

	rec = env.do(t, http.MethodPost, "/v1/sessions", `{"userId":"u1","character":"Bo"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(usecase.ErrorAlreadyActive), decode[errorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/v1/sessions/u1/triggers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/sessions/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := env.coord.GetLocal("u1")
	require.False(t, ok)

	rec = env.do(t, http.MethodDelete, "/v1/sessions/u1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSession_Refusals(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetProfile("broke", 0, false, "")

	cases := []struct {
		name   string
		body   string
		status int
		code   usecase.ErrorCode
	}{
		{"invalid json", `{`, http.StatusBadRequest, usecase.ErrorInvalidInput},
		{"empty user", `{"userId":" ","character":"Bo"}`, http.StatusBadRequest, usecase.ErrorInvalidInput},
		{"unknown character", `{"userId":"u1","character":"Nope"}`, http.StatusBadRequest, usecase.ErrorUnknownCharacter},
		{"quota exhausted", `{"userId":"broke","character":"Bo"}`, http.StatusPaymentRequired, usecase.ErrorQuotaExhausted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/sessions", tc.body)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, string(tc.code), decode[errorResponse](t, rec).Error)
		})
	}
	require.Empty(t, env.coord.ListLocal())
}

func TestGetSession_RemoteOwnerAndMissing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.registry.RegisterIfAbsent(context.Background(), "u2", "shard-b")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/sessions/u2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	owner := decode[ownerView](t, rec)
	require.Equal(t, "shard-b", owner.ShardID)
	require.False(t, owner.Local)

	rec = env.do(t, http.MethodGet, "/v1/sessions/nobody", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordTrigger_NoSession(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/sessions/ghost/triggers", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, string(usecase.ErrorNotFound), decode[errorResponse](t, rec).Error)
}

func TestPeerEnd(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/sessions", `{"userId":"u1","character":"Bo"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/internal/v1/sessions/u1/end", "")
	require.Equal(t, http.StatusOK, rec.Code)
	owned, err := env.registry.HasOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, owned)

	rec = env.do(t, http.MethodPost, "/internal/v1/sessions/u1/end", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndAllAndList(t *testing.T) {
	env := newTestEnv(t)
	for _, u := range []string{"a", "b"} {
		rec := env.do(t, http.MethodPost, "/v1/sessions", `{"userId":"`+u+`","character":"Bo"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[map[string][]sessionView](t, rec)["sessions"], 2)

	rec = env.do(t, http.MethodPost, "/v1/admin/end-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, decode[map[string]int](t, rec)["ended"])
	require.Empty(t, env.coord.ListLocal())
}

func TestSessionHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.RecordSession(ctx, domain.SessionSummary{
		UserID: "u1", SessionID: "s-old", EndedAt: "2026-01-01T00:00:00Z", MinutesUsed: 3, Reason: domain.EndReasonUserStop,
	}))
	require.NoError(t, env.store.RecordSession(ctx, domain.SessionSummary{
		UserID: "u1", SessionID: "s-new", EndedAt: "2026-02-01T00:00:00Z", MinutesUsed: 7, Reason: domain.EndReasonDuration,
	}))

	rec := env.do(t, http.MethodGet, "/v1/users/u1/sessions?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string][]summaryView](t, rec)["sessions"]
	require.Len(t, got, 1)
	require.Equal(t, "s-new", got[0].SessionID)
	require.Equal(t, string(domain.EndReasonDuration), got[0].Reason)
	require.NotNil(t, got[0].TriggerTags)

	rec = env.do(t, http.MethodGet, "/v1/users/u1/sessions?limit=zero", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/sessions", `{"userId":"u1","character":"Bo"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"shard":"shard-a"`)

	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "media_companion_active_sessions 1"), rec.Body.String())
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(correlationHeader, "corr-123")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "corr-123", rec.Header().Get(correlationHeader))
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusServiceUnavailable, statusFor(usecase.ErrorRegistry))
	require.Equal(t, http.StatusBadGateway, statusFor(usecase.ErrorStartFailed))
	require.Equal(t, http.StatusInternalServerError, statusFor(usecase.ErrorInternal))
}
