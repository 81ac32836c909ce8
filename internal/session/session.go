// Package session runs one user's timed content session: a recurring
// fetch, generate and deliver cycle under a time budget, ending exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"media-companion/internal/async"
	"media-companion/internal/domain"
	"media-companion/internal/media"
	"media-companion/internal/metrics"
)

const (
	defaultInterval        = 45 * time.Second
	defaultBatchSize       = 5
	defaultMaxFailures     = 5
	defaultFinalizeTimeout = 30 * time.Second
	releaseTimeout         = 5 * time.Second
)

// Config tunes the cycle loop. Zero values take defaults.
type Config struct {
	Interval            time.Duration
	BatchSize           int
	MaxDeliveryFailures int
	PostedCapacity      int
	DeliveryBackOff     func() backoff.BackOff
	Source              media.SourceOptions
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxDeliveryFailures <= 0 {
		c.MaxDeliveryFailures = defaultMaxFailures
	}
	if c.DeliveryBackOff == nil {
		c.DeliveryBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = time.Minute
			return b
		}
	}
	return c
}

// Params identifies a session.
type Params struct {
	ID                string
	UserID            string
	ShardID           string
	Character         domain.Character
	DurationMinutes   int
	Personalization   string
	UseProfileSummary bool
}

// Deps are the collaborators a session talks to. Recorder, Generator,
// Releaser and Metrics are optional.
type Deps struct {
	Transport Transport
	Quota     QuotaStore
	Batcher   Batcher
	Tags      media.TagSearcher
	Listing   media.ListingFetcher
	Recorder  SummaryRecorder
	Generator Generator
	Releaser  Releaser
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Info is a read-only snapshot of a session.
type Info struct {
	ID              string
	UserID          string
	ShardID         string
	Character       string
	DurationMinutes int
	Active          bool
	StartedAt       time.Time
	Cycles          int
	Delivered       int
	Queued          int
	TriggerTags     []string
}

// Session is one user's running session. All methods are safe for
// concurrent use.
type Session struct {
	id                string
	userID            string
	shardID           string
	character         domain.Character
	durationMinutes   int
	personalization   string
	useProfileSummary bool

	cfg    Config
	deps   Deps
	logger *slog.Logger
	tracer trace.Tracer

	mu             sync.Mutex
	started        bool
	active         bool
	startedAt      time.Time
	cycles         int
	delivered      int
	posted         *media.PostedSet
	triggers       map[string]struct{}
	last           *domain.MediaItem
	queue          []domain.QueuedItem
	source         *media.PaginatedSource
	channelID      string
	messageID      string
	failures       int
	retry          backoff.BackOff
	profileSummary string

	ctx           context.Context
	cancel        context.CancelFunc
	durationTimer *time.Timer
	loopDone      chan struct{}
	endOnce       sync.Once
	bg            sync.WaitGroup
}

// New builds an inactive session. Start must be called to run it.
func New(p Params, deps Deps, cfg Config) (*Session, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, errors.New("session: user id must not be empty")
	}
	if p.DurationMinutes < 0 {
		return nil, errors.New("session: duration must not be negative")
	}
	if deps.Transport == nil || deps.Quota == nil || deps.Batcher == nil {
		return nil, errors.New("session: transport, quota store and batcher are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	cfg = cfg.withDefaults()
	if cfg.Source.Logger == nil {
		cfg.Source.Logger = deps.Logger
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	src, err := media.NewPaginatedSource(p.Character, deps.Tags, deps.Listing, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	posted, err := media.NewPostedSet(cfg.PostedCapacity)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:                p.ID,
		userID:            p.UserID,
		shardID:           p.ShardID,
		character:         p.Character,
		durationMinutes:   p.DurationMinutes,
		personalization:   p.Personalization,
		useProfileSummary: p.UseProfileSummary,
		cfg:               cfg,
		deps:              deps,
		logger:            deps.Logger.With("session", p.ID, "user", p.UserID),
		tracer:            otel.Tracer("media-companion/session"),
		posted:            posted,
		triggers:          make(map[string]struct{}),
		source:            src,
		retry:             cfg.DeliveryBackOff(),
		ctx:               ctx,
		cancel:            cancel,
	}, nil
}

func (s *Session) ID() string        { return s.id }
func (s *Session) UserID() string    { return s.userID }
func (s *Session) Character() string { return s.character.Name }

// Active reports whether the session is running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start opens the user's direct channel and begins the cycle loop. The
// first cycle runs immediately.
func (s *Session) Start(ctx context.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.loopDone = make(chan struct{})
	if s.durationMinutes > 0 {
		s.durationTimer = time.AfterFunc(time.Duration(s.durationMinutes)*time.Minute, func() {
			s.End(domain.EndReasonDuration)
		})
	}
	s.mu.Unlock()
	go s.run()
	s.logger.Info("session started", "character", s.character.Name, "duration_minutes", s.durationMinutes)
	return nil
}

// prepare moves the session to active without launching the loop.
func (s *Session) prepare(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session: already started")
	}
	s.started = true
	s.mu.Unlock()

	channelID, err := s.deps.Transport.OpenDirectChannel(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("session: open direct channel: %w", err)
	}
	summary := ""
	if s.useProfileSummary {
		summary, err = s.deps.Quota.GetProfileSummary(ctx, s.userID)
		if err != nil {
			s.logger.Warn("profile summary unavailable", "err", err)
			summary = ""
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return errors.New("session: ended before start")
	}
	s.channelID = channelID
	s.profileSummary = summary
	s.startedAt = s.deps.Clock()
	s.active = true
	s.deps.Metrics.SessionStarted()
	return nil
}

func (s *Session) run() {
	defer close(s.loopDone)
	defer async.Recover(s.logger, "session-loop")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}
		next, stop := s.runCycle(s.ctx)
		if stop {
			return
		}
		timer.Reset(next)
	}
}

// End moves the session to its terminal state. Only the first call has any
// effect; it reports whether this call performed the transition.
func (s *Session) End(reason domain.EndReason) bool {
	ended := false
	s.endOnce.Do(func() {
		ended = true
		s.end(reason)
	})
	return ended
}

func (s *Session) end(reason domain.EndReason) {
	s.mu.Lock()
	wasActive := s.active
	s.active = false
	endedAt := s.deps.Clock()
	summary := domain.SessionSummary{
		SessionID:      s.id,
		UserID:         s.userID,
		Character:      s.character.Name,
		ShardID:        s.shardID,
		Reason:         reason,
		TriggerTags:    sortedKeys(s.triggers),
		DeliveredCount: s.delivered,
	}
	startedAt := s.startedAt
	oldSummary := s.profileSummary
	s.queue = nil
	s.last = nil
	s.triggers = make(map[string]struct{})
	if s.durationTimer != nil {
		s.durationTimer.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	s.posted.Purge()
	s.source.Reset()

	if wasActive {
		minutes := ceilMinutes(endedAt.Sub(startedAt))
		summary.StartedAt = startedAt.UTC().Format(time.RFC3339Nano)
		summary.EndedAt = endedAt.UTC().Format(time.RFC3339Nano)
		summary.MinutesUsed = minutes
		s.deps.Metrics.SessionEnded(string(reason))
		s.logger.Info("session ended", "reason", reason, "minutes", minutes, "delivered", summary.DeliveredCount)

		s.background("session-deduct", func(ctx context.Context) {
			s.settle(ctx, summary)
		})
		s.background("session-profile", func(ctx context.Context) {
			s.regenerateProfile(ctx, oldSummary, summary.TriggerTags)
		})
	}

	if s.deps.Releaser != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), releaseTimeout)
		defer cancel()
		s.deps.Releaser.Release(ctx, s.userID, s.id)
	}
}

func (s *Session) background(name string, fn func(ctx context.Context)) {
	s.bg.Add(1)
	async.Go(s.logger, name, func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), defaultFinalizeTimeout)
		defer cancel()
		fn(ctx)
	})
}

// settle deducts the used minutes and records the session summary.
func (s *Session) settle(ctx context.Context, summary domain.SessionSummary) {
	if summary.MinutesUsed > 0 {
		if err := s.deps.Quota.DeductMinutes(ctx, s.userID, summary.MinutesUsed); err != nil {
			s.logger.Error("deduct minutes failed", "minutes", summary.MinutesUsed, "err", err)
		} else {
			s.deps.Metrics.MinutesDeducted(summary.MinutesUsed)
		}
	}
	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.RecordSession(ctx, summary); err != nil {
			s.logger.Warn("record session summary failed", "err", err)
		}
	}
}

// Wait blocks until the cycle loop has stopped and end side effects have
// finished. Call it only after End.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.loopDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.bg.Wait()
}

// RecordTrigger copies the tags of the last delivered item into the trigger
// set. It returns how many tags were recorded, zero before any delivery.
func (s *Session) RecordTrigger() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.last == nil {
		return 0
	}
	recorded := 0
	for _, tag := range s.last.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			s.triggers[tag] = struct{}{}
			recorded++
		}
	}
	return recorded
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:              s.id,
		UserID:          s.userID,
		ShardID:         s.shardID,
		Character:       s.character.Name,
		DurationMinutes: s.durationMinutes,
		Active:          s.active,
		StartedAt:       s.startedAt,
		Cycles:          s.cycles,
		Delivered:       s.delivered,
		Queued:          len(s.queue),
		TriggerTags:     sortedKeys(s.triggers),
	}
}

func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
