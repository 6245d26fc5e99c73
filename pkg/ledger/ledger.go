package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aconcagua-systems/pna-core/pkg/canonicalize"
	"github.com/aconcagua-systems/pna-core/pkg/faults"
)

// Store is the persistence boundary for the ledger. Implementations must
// return entries in sequence order and read from a consistent snapshot so a
// concurrent append cannot surface as a false tamper report.
type Store interface {
	// Append persists a fully formed entry. A failure must be surfaced, never
	// swallowed: a lost write would desynchronize the chain.
	Append(ctx context.Context, e *Entry) error
	// Head returns the sequence and hash of the last entry, or (0, GenesisHash)
	// for an empty store.
	Head(ctx context.Context) (uint64, string, error)
	// All returns every entry in sequence order.
	All(ctx context.Context) ([]*Entry, error)
	// BySubject returns entries for one subject id, in sequence order.
	BySubject(ctx context.Context, subjectID string) ([]*Entry, error)
}

// Ledger is the append-only, hash-chained event log. The store handle is
// injected at construction; there is no ambient global state.
type Ledger struct {
	mu    sync.Mutex
	store Store
	clock func() time.Time
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Append records one event and returns the stored entry.
//
// Appends are serialized: computing hash = f(payload, prev_hash) is a
// read-then-write on the chain head, and two concurrent writers would fork
// the chain by claiming the same prev_hash.
func (l *Ledger) Append(ctx context.Context, ev Event) (*Entry, error) {
	prior, err := marshalSnapshot(ev.Prior)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w: prior snapshot not serializable: %v", faults.ErrValidation, err)
	}
	next, err := marshalSnapshot(ev.New)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w: new snapshot not serializable: %v", faults.ErrValidation, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq, head, err := l.store.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: read head: %w", err)
	}

	entry := &Entry{
		Sequence:    seq + 1,
		Timestamp:   l.clock().UTC(),
		ActorID:     ev.ActorID,
		ActorRole:   ev.ActorRole,
		Kind:        ev.Kind,
		SubjectType: ev.SubjectType,
		SubjectID:   ev.SubjectID,
		PriorState:  prior,
		NewState:    next,
		Metadata:    ev.Metadata,
		PrevHash:    head,
	}

	hash, err := entryHash(entry)
	if err != nil {
		return nil, fmt.Errorf("ledger: compute entry hash: %w", err)
	}
	entry.EntryHash = hash

	if err := l.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("ledger: append entry %d: %w", entry.Sequence, err)
	}
	return entry, nil
}

// EventsFor returns all entries recorded against one subject id.
func (l *Ledger) EventsFor(ctx context.Context, subjectID string) ([]*Entry, error) {
	entries, err := l.store.BySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query subject %s: %w", subjectID, err)
	}
	return entries, nil
}

// Verify walks the full chain, recomputing every hash and checking every link.
//
// A violation at position i invalidates trust in everything after i, but the
// scan never stops at the first fault: an operator needs the full blast
// radius, not just the earliest break. When subjectFilter is non-empty, only
// violations on entries for that subject are reported; the walk itself always
// covers the whole chain, since links cross subjects.
func (l *Ledger) Verify(ctx context.Context, subjectFilter string) (bool, []Violation, error) {
	entries, err := l.store.All(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("ledger: read chain: %w", err)
	}

	var violations []Violation
	report := func(v Violation) {
		if subjectFilter == "" || v.SubjectID == subjectFilter {
			violations = append(violations, v)
		}
	}

	expectedPrev := GenesisHash
	expectedSeq := uint64(1)
	for _, e := range entries {
		if e.Sequence != expectedSeq {
			report(Violation{
				Position:    e.Sequence,
				Kind:        ViolationSequenceGap,
				SubjectType: e.SubjectType,
				SubjectID:   e.SubjectID,
				Detail:      fmt.Sprintf("expected sequence %d, found %d", expectedSeq, e.Sequence),
			})
			expectedSeq = e.Sequence
		}
		if e.PrevHash != expectedPrev {
			report(Violation{
				Position:    e.Sequence,
				Kind:        ViolationChainBroken,
				SubjectType: e.SubjectType,
				SubjectID:   e.SubjectID,
				Detail:      fmt.Sprintf("prev_hash %s does not match predecessor hash %s", short(e.PrevHash), short(expectedPrev)),
			})
		}
		recomputed, err := entryHash(e)
		if err != nil {
			return false, violations, fmt.Errorf("ledger: recompute hash at %d: %w", e.Sequence, err)
		}
		if recomputed != e.EntryHash {
			report(Violation{
				Position:    e.Sequence,
				Kind:        ViolationHashMismatch,
				SubjectType: e.SubjectType,
				SubjectID:   e.SubjectID,
				Detail:      fmt.Sprintf("stored hash %s, recomputed %s: entry data was altered", short(e.EntryHash), short(recomputed)),
			})
		}
		// Chase the stored hash, not the recomputed one, so a single altered
		// entry yields one mismatch rather than cascading link breaks.
		expectedPrev = e.EntryHash
		expectedSeq++
	}

	return len(violations) == 0, violations, nil
}

// entryHash computes the chain hash of an entry. The digest covers every
// stored field except the hash itself, so any post-hoc alteration is
// detectable on re-verification.
func entryHash(e *Entry) (string, error) {
	hashable := struct {
		Sequence    uint64            `json:"sequence"`
		Timestamp   time.Time         `json:"timestamp"`
		ActorID     string            `json:"actor_id"`
		ActorRole   string            `json:"actor_role"`
		Kind        EventKind         `json:"kind"`
		SubjectType string            `json:"subject_type"`
		SubjectID   string            `json:"subject_id"`
		PriorState  json.RawMessage   `json:"prior_state,omitempty"`
		NewState    json.RawMessage   `json:"new_state,omitempty"`
		Metadata    map[string]string `json:"metadata,omitempty"`
		PrevHash    string            `json:"prev_hash"`
	}{
		Sequence:    e.Sequence,
		Timestamp:   e.Timestamp,
		ActorID:     e.ActorID,
		ActorRole:   e.ActorRole,
		Kind:        e.Kind,
		SubjectType: e.SubjectType,
		SubjectID:   e.SubjectID,
		PriorState:  e.PriorState,
		NewState:    e.NewState,
		Metadata:    e.Metadata,
		PrevHash:    e.PrevHash,
	}
	return canonicalize.CanonicalHash(hashable)
}

func marshalSnapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
