package store

import (
	"context"
	"errors"
	"time"
)

// MaxBatchIDs is the largest id set a value-in-list lookup accepts per
// call. It mirrors the production document store's IN-list limit; callers
// with larger sets must chunk (see ChunkIDs) and merge client-side.
const MaxBatchIDs = 10

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrBatchTooLarge is returned when a batched lookup receives more
	// than MaxBatchIDs ids.
	ErrBatchTooLarge = errors.New("batched lookup exceeds max ids per query")
	// ErrIndexRequired is returned when a filtered+ordered query needs a
	// composite index the backend has not provisioned. Callers may retry
	// the same filter unordered and sort in memory.
	ErrIndexRequired = errors.New("query requires an unprovisioned index")
)

// ChunkIDs partitions ids into chunks of at most size elements, preserving
// order. A nil or empty input yields no chunks.
func ChunkIDs(ids []string, size int) [][]string {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// TopicFilter selects topics for listing. Ordered requests newest-first
// ordering, which may fail with ErrIndexRequired on backends that need a
// composite index for filter+order.
type TopicFilter struct {
	Status  string
	Limit   int
	Ordered bool
}

// AuditFilter selects audit events for a paginated listing. AfterID is the
// opaque cursor: the id of the last event on the previous page.
type AuditFilter struct {
	Stage    string
	TopicID  string
	DateFrom *time.Time
	DateTo   *time.Time
	AfterID  string
	Limit    int
}

// Tx is the explicit transaction context handed to decision closures. All
// reads establish the conflict-detection read set; all writes commit
// atomically or not at all. Closures must be free of side effects outside
// calls on this interface: the store re-executes them on write conflicts.
type Tx interface {
	GetTopic(ctx context.Context, id string) (TopicCandidate, error)
	SetTopicStatus(ctx context.Context, id, status string) error
	SetTopicMetadata(ctx context.Context, id string, metadata map[string]any) error
	GetOption(ctx context.Context, id string) (ContentOption, error)
	InsertAuditEvent(ctx context.Context, ev AuditEvent) error
	InsertPublishedContent(ctx context.Context, pub PublishedContent) error
	ActiveWeights(ctx context.Context) (WeightsVersion, error)
	InsertWeights(ctx context.Context, v WeightsVersion) error
}
