// Package audit provides the append-only Record abstraction used for
// reward distribution audit rows (S2). Rows are never updated in place:
// the package exposes Append, List and Len, plus Flush/FlushJSON, which
// drain the ring.
package audit

import (
	"io"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// Record is one immutable audit entry.
type Record struct {
	ID        string
	Subject   string
	Event     string
	Detail    string
	RecordedAt time.Time
}

// Ring is an in-memory, mutex-guarded append-only log, bounded to avoid
// unbounded growth in a long-running process. When full, the oldest
// record is evicted to make room for the newest (callers needing durable
// audit trails flush the ring to a sink before capacity is reached).
type Ring struct {
	mu       sync.Mutex
	records  []Record
	capacity int
}

// NewRing builds a ring with the given capacity. A non-positive capacity
// is treated as unbounded.
func NewRing(capacity int) *Ring {
	return &Ring{capacity: capacity}
}

// Append adds a record to the ring, evicting the oldest entry if the ring
// is at capacity.
func (r *Ring) Append(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if r.capacity > 0 && len(r.records) > r.capacity {
		r.records = r.records[len(r.records)-r.capacity:]
	}
}

// List returns a snapshot of every record currently held, oldest first.
func (r *Ring) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Len reports how many records the ring currently holds.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Flush drains every record from the ring and returns them, oldest first.
// After Flush, the ring is empty.
func (r *Ring) Flush() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.records
	r.records = nil
	return out
}

// FlushJSON drains the ring and writes each record to w as one
// newline-delimited JSON object, oldest first, using jx's streaming
// encoder rather than building an intermediate []byte per record.
func (r *Ring) FlushJSON(w io.Writer) error {
	records := r.Flush()
	enc := jx.GetEncoder()
	defer jx.PutEncoder(enc)

	for _, rec := range records {
		enc.Reset()
		enc.ObjStart()
		enc.FieldStart("id")
		enc.Str(rec.ID)
		enc.FieldStart("subject")
		enc.Str(rec.Subject)
		enc.FieldStart("event")
		enc.Str(rec.Event)
		enc.FieldStart("detail")
		enc.Str(rec.Detail)
		enc.FieldStart("recorded_at")
		enc.Str(rec.RecordedAt.UTC().Format(time.RFC3339Nano))
		enc.ObjEnd()

		if _, err := w.Write(enc.Bytes()); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return nil
}
