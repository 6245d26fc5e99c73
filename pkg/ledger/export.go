package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aconcagua-systems/pna-core/pkg/canonicalize"
)

// Bundle is an exportable, self-verifying slice of the chain for regulator
// hand-off.
type Bundle struct {
	BundleID   string    `json:"bundle_id"`
	CreatedAt  time.Time `json:"created_at"`
	StartSeq   uint64    `json:"start_sequence"`
	EndSeq     uint64    `json:"end_sequence"`
	EntryCount int       `json:"entry_count"`
	Entries    []*Entry  `json:"entries"`
	ChainHead  string    `json:"chain_head"`
	BundleHash string    `json:"bundle_hash"`
}

// Export packages the entries in [startSeq, endSeq] (0 endSeq = to head) into
// a bundle with its own content hash.
func (l *Ledger) Export(ctx context.Context, startSeq, endSeq uint64) (*Bundle, error) {
	all, err := l.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: read chain for export: %w", err)
	}

	var entries []*Entry
	for _, e := range all {
		if e.Sequence < startSeq {
			continue
		}
		if endSeq > 0 && e.Sequence > endSeq {
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("ledger: no entries in range [%d, %d]", startSeq, endSeq)
	}

	bundle := &Bundle{
		BundleID:   uuid.New().String(),
		CreatedAt:  l.clock().UTC(),
		StartSeq:   entries[0].Sequence,
		EndSeq:     entries[len(entries)-1].Sequence,
		EntryCount: len(entries),
		Entries:    entries,
		ChainHead:  entries[len(entries)-1].EntryHash,
	}

	hash, err := canonicalize.CanonicalHash(bundle.Entries)
	if err != nil {
		return nil, fmt.Errorf("ledger: compute bundle hash: %w", err)
	}
	bundle.BundleHash = hash
	return bundle, nil
}

// VerifyBundle checks a bundle's content hash and internal chain links.
func VerifyBundle(bundle *Bundle) error {
	if len(bundle.Entries) == 0 {
		return fmt.Errorf("bundle is empty")
	}
	hash, err := canonicalize.CanonicalHash(bundle.Entries)
	if err != nil {
		return fmt.Errorf("compute bundle hash: %w", err)
	}
	if hash != bundle.BundleHash {
		return fmt.Errorf("bundle hash mismatch")
	}
	for i := 1; i < len(bundle.Entries); i++ {
		if bundle.Entries[i].PrevHash != bundle.Entries[i-1].EntryHash {
			return fmt.Errorf("chain broken inside bundle at position %d", bundle.Entries[i].Sequence)
		}
	}
	return nil
}
