package session

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"media-companion/internal/domain"
	"media-companion/internal/media"
	"media-companion/internal/metrics"
)

const (
	closingNotice = "That's all the time you have for now. See you next session!"
	failureNotice = "I'm having trouble sending images right now, so I'm ending this session."
)

// runCycle performs one action cycle and returns the delay before the next
// one. stop is true once the session has ended.
func (s *Session) runCycle(ctx context.Context) (next time.Duration, stop bool) {
	begin := time.Now()
	ctx, span := s.tracer.Start(ctx, "session.cycle")
	defer span.End()

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return 0, true
	}
	s.cycles++
	cycle := s.cycles
	elapsed := s.deps.Clock().Sub(s.startedAt)
	s.mu.Unlock()
	span.SetAttributes(attribute.Int("session.cycle", cycle))

	if s.durationMinutes > 0 && elapsed >= time.Duration(s.durationMinutes)*time.Minute {
		s.End(domain.EndReasonDuration)
		return 0, true
	}

	remaining, err := s.deps.Quota.GetRemainingMinutes(ctx, s.userID)
	switch {
	case err != nil:
		s.logger.Warn("quota check failed, continuing", "err", err)
	case elapsed > time.Duration(remaining)*time.Minute:
		s.notify(ctx, closingNotice)
		s.deps.Metrics.CycleCompleted(metrics.OutcomeQuota, time.Since(begin))
		s.End(domain.EndReasonQuotaExhausted)
		return 0, true
	}

	item, ok := s.dequeue()
	if !ok {
		s.refill(ctx)
		item, ok = s.dequeue()
	}
	if !ok {
		s.logger.Debug("nothing to deliver this cycle", "cycle", cycle)
		s.deps.Metrics.CycleCompleted(metrics.OutcomeEmpty, time.Since(begin))
		return s.cfg.Interval, false
	}
	if !s.Active() {
		return 0, true
	}

	if err := s.deliver(ctx, item); err != nil {
		s.deps.Metrics.DeliveryFailed()
		s.deps.Metrics.CycleCompleted(metrics.OutcomeFailed, time.Since(begin))
		return s.onDeliveryError(ctx, item, err)
	}
	s.deps.Metrics.CycleCompleted(metrics.OutcomeDelivered, time.Since(begin))
	return s.cfg.Interval, false
}

func (s *Session) dequeue() (domain.QueuedItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return domain.QueuedItem{}, false
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	return item, true
}

// refill stores a new batch only when every item has its commentary.
func (s *Session) refill(ctx context.Context) {
	items := s.deps.Batcher.FetchBatch(ctx, s.source, s.posted, s.cfg.BatchSize)
	if len(items) == 0 {
		s.logger.Info("no media available for this cycle")
		return
	}
	s.mu.Lock()
	cctx := media.CommentaryContext{
		Character:       s.character,
		Personalization: s.personalization,
		ProfileSummary:  s.profileSummary,
	}
	s.mu.Unlock()

	comments := s.deps.Batcher.GenerateCommentary(ctx, items, cctx)
	if len(comments) != len(items) {
		s.deps.Metrics.BatchDiscarded()
		s.logger.Warn("discarding batch without matching commentary", "items", len(items), "comments", len(comments))
		return
	}
	queued := make([]domain.QueuedItem, len(items))
	for i := range items {
		queued[i] = domain.QueuedItem{Media: items[i], Commentary: comments[i]}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.queue = append(s.queue, queued...)
	}
}

// deliver edits the session's message in place when one exists, otherwise
// sends a new one and remembers its id.
func (s *Session) deliver(ctx context.Context, item domain.QueuedItem) error {
	s.mu.Lock()
	channelID, messageID := s.channelID, s.messageID
	s.mu.Unlock()

	d := domain.Delivery{Text: item.Commentary, ImageURL: item.Media.Locator}
	if messageID != "" {
		err := s.deps.Transport.Edit(ctx, channelID, messageID, d)
		switch {
		case errors.Is(err, domain.ErrMessageNotFound):
			s.logger.Info("session message was deleted, sending a new one", "message_id", messageID)
			s.mu.Lock()
			if s.messageID == messageID {
				s.messageID = ""
			}
			s.mu.Unlock()
			messageID = ""
		case err != nil:
			return err
		}
	}
	if messageID == "" {
		id, err := s.deps.Transport.Send(ctx, channelID, d)
		if err != nil {
			return err
		}
		messageID = id
	}

	s.posted.Add(item.Media.Locator)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageID = messageID
	last := item.Media
	s.last = &last
	s.delivered++
	s.failures = 0
	s.retry.Reset()
	return nil
}

func (s *Session) onDeliveryError(ctx context.Context, item domain.QueuedItem, err error) (time.Duration, bool) {
	if errors.Is(err, domain.ErrChannelNotFound) {
		s.logger.Warn("direct channel is gone, ending session", "err", err)
		s.End(domain.EndReasonDeliveryFailure)
		return 0, true
	}

	s.mu.Lock()
	s.failures++
	failures := s.failures
	if s.active {
		s.queue = append([]domain.QueuedItem{item}, s.queue...)
	}
	wait := s.retry.NextBackOff()
	s.mu.Unlock()

	if failures > s.cfg.MaxDeliveryFailures {
		s.logger.Error("delivery keeps failing, ending session", "failures", failures, "err", err)
		s.notify(ctx, failureNotice)
		s.End(domain.EndReasonDeliveryFailure)
		return 0, true
	}
	if wait == backoff.Stop || wait <= 0 {
		wait = s.cfg.Interval
	}
	s.logger.Warn("delivery failed, backing off", "failures", failures, "retry_in", wait, "err", err)
	return wait, false
}

// notify sends a standalone text message, best-effort.
func (s *Session) notify(ctx context.Context, text string) {
	s.mu.Lock()
	channelID := s.channelID
	s.mu.Unlock()
	if _, err := s.deps.Transport.Send(ctx, channelID, domain.Delivery{Text: text}); err != nil {
		s.logger.Debug("notice not delivered", "err", err)
	}
}
