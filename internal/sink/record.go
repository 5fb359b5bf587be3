// Package sink delivers per-window count records to their destination.
package sink

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the local-time format of CountRecord.Timestamp
const TimestampLayout = "2006-01-02_15:04:05"

// CountRecord is the payload emitted once per reporting window
type CountRecord struct {
	ID        string    `json:"id"`
	Timestamp string    `json:"time_stamp"`
	Count     int       `json:"people_count"`
	IDs       []int     `json:"tracking_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCountRecord builds a record for a flushed window. count always equals
// len(ids).
func NewCountRecord(now time.Time, ids []int) CountRecord {
	if ids == nil {
		ids = []int{}
	}
	return CountRecord{
		ID:        uuid.New().String(),
		Timestamp: now.Local().Format(TimestampLayout),
		Count:     len(ids),
		IDs:       ids,
		CreatedAt: now,
	}
}

// Fields returns the document stored by sinks that take untyped maps
func (r CountRecord) Fields() map[string]interface{} {
	ids := make([]interface{}, len(r.IDs))
	for i, id := range r.IDs {
		ids[i] = id
	}
	return map[string]interface{}{
		"time_stamp":   r.Timestamp,
		"people_count": r.Count,
		"tracking_ids": ids,
	}
}

// Sink accepts count records. Submit is called from the reporting task only;
// implementations do not retry.
type Sink interface {
	Submit(ctx context.Context, rec CountRecord) error
	Close() error
}
