package ledger

import (
	"context"
	"sort"
	"time"
)

// Query filters ledger entries for audit review. Zero-valued fields match
// everything.
type Query struct {
	SubjectID string     `json:"subject_id,omitempty"`
	Kind      *EventKind `json:"kind,omitempty"`
	ActorID   string     `json:"actor_id,omitempty"`
	After     *time.Time `json:"after,omitempty"`
	Before    *time.Time `json:"before,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// Query returns the entries matching q in sequence order. It reads the chain
// as stored and performs no integrity verification; pair it with Verify when
// the trail itself is in question.
func (l *Ledger) Query(ctx context.Context, q Query) ([]*Entry, error) {
	entries, err := l.store.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*Entry, 0)
	for _, e := range entries {
		if q.SubjectID != "" && e.SubjectID != q.SubjectID {
			continue
		}
		if q.Kind != nil && e.Kind != *q.Kind {
			continue
		}
		if q.ActorID != "" && e.ActorID != q.ActorID {
			continue
		}
		if q.After != nil && !e.Timestamp.After(*q.After) {
			continue
		}
		if q.Before != nil && !e.Timestamp.Before(*q.Before) {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
