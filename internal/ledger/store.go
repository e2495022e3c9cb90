package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one audit row. The ledger assigns the ID before the
// write so log correlation works even when the write fails.
type UsageRecord struct {
	ID               uuid.UUID
	RequestID        string
	Provider         string
	Model            string
	Category         string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	LatencyMs        int64
	CreatedAt        time.Time
}

// Store persists usage records for offline reconciliation. It is not
// consulted for budget decisions.
type Store interface {
	LogUsage(ctx context.Context, rec *UsageRecord) error
	UsageBetween(ctx context.Context, from, to time.Time) ([]*UsageRecord, error)
	CostBetween(ctx context.Context, from, to time.Time) (float64, error)
}
