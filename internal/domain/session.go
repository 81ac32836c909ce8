package domain

// EndReason records why a session left the active state.
type EndReason string

const (
	EndReasonQuotaExhausted  EndReason = "quota_exhausted"
	EndReasonUserStop        EndReason = "user_stop"
	EndReasonDuration        EndReason = "duration_elapsed"
	EndReasonDeliveryFailure EndReason = "delivery_failure"
	EndReasonShutdown        EndReason = "shutdown"
	EndReasonRemoteRequest   EndReason = "remote_request"
)

// SessionSummary is the persisted end-of-session record.
type SessionSummary struct {
	PK             string
	SK             string
	SessionID      string
	UserID         string
	Character      string
	ShardID        string
	StartedAt      string
	EndedAt        string
	MinutesUsed    int
	Reason         EndReason
	TriggerTags    []string
	DeliveredCount int
	TTL            int64
}
