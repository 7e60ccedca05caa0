package store

import (
	"context"

	"github.com/yangwenmai/fieldbox/internal/model"
)

// OutboxReader provides read access to queued submissions.
type OutboxReader interface {
	ListOrdered(ctx context.Context) ([]model.Submission, error)
	Get(ctx context.Context, id string) (*model.Submission, error)
	Count(ctx context.Context) (int, error)
}

// OutboxWriter provides write access to queued submissions.
type OutboxWriter interface {
	Put(ctx context.Context, s *model.Submission) error
	Delete(ctx context.Context, id string) error
}

// Outbox combines all outbox operations.
type Outbox interface {
	OutboxReader
	OutboxWriter
}
