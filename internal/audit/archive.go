package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"masthead/api/internal/blob"
	"masthead/api/internal/util"
)

// ErrArchiveUnavailable is returned when no object store is configured.
var ErrArchiveUnavailable = errors.New("audit archive store not configured")

// ArchiveResult describes one completed export.
type ArchiveResult struct {
	Key        string `json:"key"`
	EventCount int    `json:"event_count"`
}

// Exporter writes matching audit events to the object store as JSONL, one
// event per line, keyed audit/<date>/<run>.jsonl.
type Exporter struct {
	service *Service
	blobs   *blob.Store
}

func NewExporter(service *Service, blobs *blob.Store) *Exporter {
	return &Exporter{service: service, blobs: blobs}
}

func (e *Exporter) Export(ctx context.Context, q Query) (ArchiveResult, error) {
	if e == nil || e.blobs == nil {
		return ArchiveResult{}, ErrArchiveUnavailable
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0

	q.Limit = maxPageSize
	q.Cursor = ""
	for {
		page, err := e.service.ListEvents(ctx, q)
		if err != nil {
			return ArchiveResult{}, err
		}
		for _, ev := range page.Events {
			if err := enc.Encode(ev); err != nil {
				return ArchiveResult{}, fmt.Errorf("encode audit event %s: %w", ev.ID, err)
			}
			count++
		}
		if !page.HasMore {
			break
		}
		q.Cursor = page.NextCursor
	}

	key := fmt.Sprintf("audit/%s/%s.jsonl", time.Now().UTC().Format("2006-01-02"), util.ShortID())
	if err := e.blobs.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/x-ndjson"); err != nil {
		return ArchiveResult{}, err
	}
	return ArchiveResult{Key: key, EventCount: count}, nil
}
