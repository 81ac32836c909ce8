package media

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"media-companion/internal/domain"
)

const attemptsPerItem = 3

// Pipeline pairs batches of media with generated commentary.
type Pipeline struct {
	commentator Commentator
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewPipeline creates a Pipeline. logger may be nil.
func NewPipeline(commentator Commentator, logger *slog.Logger) (*Pipeline, error) {
	if commentator == nil {
		return nil, errors.New("media: commentator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		commentator: commentator,
		logger:      logger,
		tracer:      otel.Tracer("media-companion/media"),
	}, nil
}

// FetchBatch collects up to size items that are unique within the batch and
// absent from dedup. The result may be short, or empty when nothing is left.
func (p *Pipeline) FetchBatch(ctx context.Context, src *PaginatedSource, dedup DedupSet, size int) []domain.MediaItem {
	if src == nil || size <= 0 {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "media.FetchBatch")
	defer span.End()

	batch := make([]domain.MediaItem, 0, size)
	inBatch := make(map[string]bool, size)
	seen := DedupFunc(func(locator string) bool {
		return inBatch[locator] || (dedup != nil && dedup.Contains(locator))
	})
	for attempt := 0; attempt < size*attemptsPerItem && len(batch) < size; attempt++ {
		if ctx.Err() != nil {
			break
		}
		item, ok := src.Select(ctx, seen)
		if !ok {
			if src.Exhausted() {
				break
			}
			continue
		}
		inBatch[item.Locator] = true
		batch = append(batch, item)
	}
	span.SetAttributes(
		attribute.Int("batch.requested", size),
		attribute.Int("batch.size", len(batch)),
	)
	return batch
}

// GenerateCommentary asks for exactly one comment per item in a single call.
// It returns nil on any failure or count mismatch.
func (p *Pipeline) GenerateCommentary(ctx context.Context, items []domain.MediaItem, cctx CommentaryContext) []string {
	if len(items) == 0 {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "media.GenerateCommentary",
		trace.WithAttributes(attribute.Int("batch.size", len(items))))
	defer span.End()

	raw, err := p.commentator.GenerateBatch(ctx, buildBatchPrompt(cctx, items), buildBatchContext(cctx), len(items))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("commentary generation failed", "items", len(items), "err", err)
		return nil
	}
	comments, err := parseCommentaryBatch(raw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("commentary payload rejected", "items", len(items), "err", err)
		return nil
	}
	if len(comments) != len(items) {
		span.SetStatus(codes.Error, "count mismatch")
		p.logger.Warn("commentary count mismatch, discarding batch", "items", len(items), "comments", len(comments))
		return nil
	}
	return comments
}
