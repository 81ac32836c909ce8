package session

import (
	"context"

	"media-companion/internal/domain"
	"media-companion/internal/media"
)

// Transport delivers content to the user. Implementations return an error
// wrapping domain.ErrChannelNotFound when the channel is gone, and
// domain.ErrMessageNotFound from Edit when only the message is gone.
type Transport interface {
	OpenDirectChannel(ctx context.Context, userID string) (string, error)
	Send(ctx context.Context, channelID string, d domain.Delivery) (string, error)
	Edit(ctx context.Context, channelID, messageID string, d domain.Delivery) error
}

// QuotaStore is the user profile and time budget store.
type QuotaStore interface {
	GetRemainingMinutes(ctx context.Context, userID string) (int, error)
	DeductMinutes(ctx context.Context, userID string, n int) error
	GetPremiumFlag(ctx context.Context, userID string) (bool, error)
	GetProfileSummary(ctx context.Context, userID string) (string, error)
	SetProfileSummary(ctx context.Context, userID, text string) error
}

// SummaryRecorder persists the end-of-session record.
type SummaryRecorder interface {
	RecordSession(ctx context.Context, s domain.SessionSummary) error
}

// Generator produces free text, used here for profile summaries.
type Generator interface {
	Generate(ctx context.Context, prompt, context string, image []byte) (string, error)
}

// Releaser is notified once a session has ended so its ownership can be
// dropped.
type Releaser interface {
	Release(ctx context.Context, userID, sessionID string)
}

// Batcher supplies paired media and commentary.
type Batcher interface {
	FetchBatch(ctx context.Context, src *media.PaginatedSource, dedup media.DedupSet, size int) []domain.MediaItem
	GenerateCommentary(ctx context.Context, items []domain.MediaItem, cctx media.CommentaryContext) []string
}
