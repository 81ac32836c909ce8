package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"media-companion/internal/domain"
	"media-companion/internal/metrics"
	"media-companion/internal/registry"
	"media-companion/internal/session"
)

type Catalog interface {
	Lookup(name string) (domain.Character, bool)
}

type NotesReader interface {
	GetPersonalNotes(ctx context.Context, userID string) (string, error)
}

// PeerClient asks another shard to end a session it owns. found is false
// when the remote shard has no such session.
type PeerClient interface {
	EndRemote(ctx context.Context, baseURL, userID string) (found bool, err error)
}

// CoordinatorDeps wires a Coordinator. Catalog, Quota and Session are only
// needed by shards that host sessions.
type CoordinatorDeps struct {
	ShardID       string
	Registry      *registry.Registry
	Catalog       Catalog
	Quota         session.QuotaStore
	Notes         NotesReader
	Peers         PeerClient
	Session       session.Deps
	SessionConfig session.Config
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

type CreateInput struct {
	UserID            string
	Character         string
	DurationMinutes   int
	Personalization   string
	UseProfileSummary bool
}

// Coordinator is the per-process entry point for session lifecycle. It owns
// the local session map and keeps it consistent with the shared registry.
type Coordinator struct {
	shardID  string
	registry *registry.Registry
	catalog  Catalog
	quota    session.QuotaStore
	notes    NotesReader
	peers    PeerClient
	deps     session.Deps
	cfg      session.Config
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func NewCoordinator(d CoordinatorDeps) (*Coordinator, error) {
	d.ShardID = strings.TrimSpace(d.ShardID)
	if d.ShardID == "" {
		return nil, errors.New("usecase: shard id must not be empty")
	}
	if d.Registry == nil {
		return nil, errors.New("usecase: registry must not be nil")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	c := &Coordinator{
		shardID:  d.ShardID,
		registry: d.Registry,
		catalog:  d.Catalog,
		quota:    d.Quota,
		notes:    d.Notes,
		peers:    d.Peers,
		deps:     d.Session,
		cfg:      d.SessionConfig,
		metrics:  d.Metrics,
		logger:   d.Logger.With("shard", d.ShardID),
		sessions: make(map[string]*session.Session),
	}
	c.deps.Releaser = c
	if c.deps.Metrics == nil {
		c.deps.Metrics = d.Metrics
	}
	if c.deps.Logger == nil {
		c.deps.Logger = c.logger
	}
	return c, nil
}

func (c *Coordinator) ShardID() string { return c.shardID }

// CreateSession starts a session for the user on this shard. It refuses when
// any shard already owns one, and never leaves local state behind on refusal.
func (c *Coordinator) CreateSession(ctx context.Context, in CreateInput) (*session.Session, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, newError(ErrorInvalidInput, "empty_user_id", nil)
	}
	if in.DurationMinutes < 0 {
		return nil, newError(ErrorInvalidInput, "negative_duration", nil)
	}
	if c.catalog == nil || c.quota == nil {
		return nil, newError(ErrorInternal, "sessions_not_hosted", nil)
	}
	character, ok := c.catalog.Lookup(in.Character)
	if !ok {
		return nil, newError(ErrorUnknownCharacter, "unknown_character", nil)
	}

	owner, owned, err := c.registry.LookupOwner(ctx, userID)
	if err != nil {
		c.metrics.RegistryError("lookup")
		return nil, newError(ErrorRegistry, "registry_lookup_error", err)
	}
	if owned {
		if owner != c.shardID || c.hasLocal(userID) {
			return nil, newError(ErrorAlreadyActive, "owned_by_"+owner, nil)
		}
		c.logger.Warn("clearing stale ownership record", "user", userID)
		if _, err := c.registry.Release(ctx, userID, c.shardID); err != nil {
			c.metrics.RegistryError("release")
			return nil, newError(ErrorRegistry, "registry_release_error", err)
		}
	}

	remaining, err := c.quota.GetRemainingMinutes(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "quota_read_error", err)
	}
	if remaining <= 0 {
		return nil, newError(ErrorQuotaExhausted, "no_minutes_left", nil)
	}

	personalization := strings.TrimSpace(in.Personalization)
	if personalization == "" && c.notes != nil {
		if notes, err := c.notes.GetPersonalNotes(ctx, userID); err != nil {
			c.logger.Warn("personal notes unavailable", "user", userID, "err", err)
		} else {
			personalization = notes
		}
	}

	s, err := session.New(session.Params{
		UserID:            userID,
		ShardID:           c.shardID,
		Character:         character,
		DurationMinutes:   in.DurationMinutes,
		Personalization:   personalization,
		UseProfileSummary: in.UseProfileSummary,
	}, c.deps, c.cfg)
	if err != nil {
		return nil, newError(ErrorInternal, "session_build_error", err)
	}

	c.mu.Lock()
	if _, exists := c.sessions[userID]; exists {
		c.mu.Unlock()
		return nil, newError(ErrorAlreadyActive, "owned_by_"+c.shardID, nil)
	}
	c.sessions[userID] = s
	c.mu.Unlock()

	registered, err := c.registry.RegisterIfAbsent(ctx, userID, c.shardID)
	if err != nil || !registered {
		c.dropLocal(userID, s.ID())
		s.End(domain.EndReasonShutdown)
		if err != nil {
			c.metrics.RegistryError("register")
			return nil, newError(ErrorRegistry, "registry_write_error", err)
		}
		return nil, newError(ErrorAlreadyActive, "registered_elsewhere", nil)
	}

	if err := s.Start(ctx); err != nil {
		// End releases both the local entry and the registry record.
		s.End(domain.EndReasonShutdown)
		return nil, newError(ErrorStartFailed, "session_start_error", err)
	}
	c.logger.Info("session created", "user", userID, "session", s.ID(), "character", character.Name)
	return s, nil
}

// GetLocal returns the session hosted on this shard, if any.
func (c *Coordinator) GetLocal(userID string) (*session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[strings.TrimSpace(userID)]
	return s, ok
}

func (c *Coordinator) hasLocal(userID string) bool {
	_, ok := c.GetLocal(userID)
	return ok
}

// ListLocal snapshots every session hosted on this shard.
func (c *Coordinator) ListLocal() []session.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.Info, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.Info())
	}
	return out
}

// HasOwnerAnywhere reports whether any shard owns a session for the user.
func (c *Coordinator) HasOwnerAnywhere(ctx context.Context, userID string) (bool, error) {
	ok, err := c.registry.HasOwner(ctx, strings.TrimSpace(userID))
	if err != nil {
		c.metrics.RegistryError("exists")
		return false, newError(ErrorRegistry, "registry_exists_error", err)
	}
	return ok, nil
}

// Owner returns the shard that owns the user's session.
func (c *Coordinator) Owner(ctx context.Context, userID string) (string, bool, error) {
	owner, ok, err := c.registry.LookupOwner(ctx, strings.TrimSpace(userID))
	if err != nil {
		c.metrics.RegistryError("lookup")
		return "", false, newError(ErrorRegistry, "registry_lookup_error", err)
	}
	return owner, ok, nil
}

// EndSession ends the user's session wherever it runs. It reports whether a
// session was ended or its ownership cleared; false means nothing was
// running. Stale or unreachable owners are force-cleared.
func (c *Coordinator) EndSession(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, newError(ErrorInvalidInput, "empty_user_id", nil)
	}
	owner, owned, err := c.registry.LookupOwner(ctx, userID)
	if err != nil {
		c.metrics.RegistryError("lookup")
		return false, newError(ErrorRegistry, "registry_lookup_error", err)
	}
	if !owned {
		return c.EndLocal(userID, domain.EndReasonUserStop), nil
	}
	if owner == c.shardID {
		if c.EndLocal(userID, domain.EndReasonUserStop) {
			return true, nil
		}
		c.logger.Warn("ownership record without local session, clearing", "user", userID)
		return false, c.forceClear(ctx, userID)
	}
	return c.endRemote(ctx, owner, userID)
}

func (c *Coordinator) endRemote(ctx context.Context, owner, userID string) (bool, error) {
	log := c.logger.With("user", userID, "owner", owner)
	if c.peers == nil {
		log.Warn("no peer channel configured, force clearing ownership")
		return true, c.forceClear(ctx, userID)
	}
	baseURL, err := c.registry.ResolveShard(ctx, owner)
	if err != nil {
		log.Warn("owner shard not addressable, force clearing ownership", "err", err)
		return true, c.forceClear(ctx, userID)
	}
	found, err := c.peers.EndRemote(ctx, baseURL, userID)
	if err != nil {
		log.Warn("peer termination failed, force clearing ownership", "err", err)
		return true, c.forceClear(ctx, userID)
	}
	if !found {
		log.Info("owner has no such session, clearing stale record")
		return false, c.forceClear(ctx, userID)
	}
	return true, nil
}

func (c *Coordinator) forceClear(ctx context.Context, userID string) error {
	if err := c.registry.Remove(ctx, userID); err != nil {
		c.metrics.RegistryError("remove")
		return newError(ErrorRegistry, "registry_remove_error", err)
	}
	return nil
}

// EndLocal ends the user's session on this shard only.
func (c *Coordinator) EndLocal(userID string, reason domain.EndReason) bool {
	s, ok := c.GetLocal(userID)
	if !ok {
		return false
	}
	s.End(reason)
	return true
}

// EndAllLocal ends every session on this shard and waits for their end
// side effects, or until ctx is done.
func (c *Coordinator) EndAllLocal(ctx context.Context) int {
	c.mu.Lock()
	sessions := make([]*session.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.End(domain.EndReasonShutdown)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, s := range sessions {
			s.Wait()
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("timed out waiting for sessions to finish", "err", ctx.Err())
	}
	return len(sessions)
}

// RecordTrigger forwards a trigger signal to the user's local session.
func (c *Coordinator) RecordTrigger(userID string) (int, error) {
	s, ok := c.GetLocal(userID)
	if !ok {
		return 0, newError(ErrorNotFound, "no_local_session", nil)
	}
	return s.RecordTrigger(), nil
}

// Release drops an ended session from the local map and the registry.
func (c *Coordinator) Release(ctx context.Context, userID, sessionID string) {
	c.dropLocal(userID, sessionID)
	if _, err := c.registry.Release(ctx, userID, c.shardID); err != nil {
		c.metrics.RegistryError("release")
		c.logger.Error("release ownership failed", "user", userID, "session", sessionID, "err", err)
	}
}

func (c *Coordinator) dropLocal(userID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.sessions[userID]; ok && cur.ID() == sessionID {
		delete(c.sessions, userID)
	}
}
