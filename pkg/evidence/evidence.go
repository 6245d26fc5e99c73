// Package evidence tracks the documentary evidence of a case: uploaded
// documents, their content hashes, and certification records. The core never
// touches raw files; it only sees identifiers and hashes.
package evidence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aconcagua-systems/pna-core/pkg/canonicalize"
	"github.com/aconcagua-systems/pna-core/pkg/faults"
	"github.com/aconcagua-systems/pna-core/pkg/ledger"
)

// Document is one piece of case evidence. A document is fully certified when
// it has both a content hash and a certification record.
type Document struct {
	ID                string     `json:"id"`
	CaseID            string     `json:"case_id"`
	Name              string     `json:"name"`
	ContentHash       string     `json:"content_hash,omitempty"`
	Certified         bool       `json:"certified"`
	CertificationHash string     `json:"certification_hash,omitempty"`
	CertifiedBy       string     `json:"certified_by,omitempty"`
	CertifiedAt       *time.Time `json:"certified_at,omitempty"`
}

// Provider is the boundary the closure gate consumes: per case, the list of
// documents with their hashes and certification state.
type Provider interface {
	DocumentsFor(ctx context.Context, caseID string) ([]Document, error)
}

// Registry is the in-process Provider implementation.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Document
	byCase map[string][]string
	ledger *ledger.Ledger
	clock  func() time.Time
}

// NewRegistry creates an empty evidence registry.
func NewRegistry(led *ledger.Ledger) *Registry {
	return &Registry{
		byID:   make(map[string]*Document),
		byCase: make(map[string][]string),
		ledger: led,
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Register records an uploaded document. ContentHash may be empty at upload
// time; certification will then be refused until one is attached.
func (r *Registry) Register(doc Document) (*Document, error) {
	if doc.CaseID == "" {
		return nil, fmt.Errorf("evidence: document requires a case id: %w", faults.ErrValidation)
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.Certified = false
	doc.CertificationHash = ""

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[doc.ID]; exists {
		return nil, fmt.Errorf("evidence: document %q already registered: %w", doc.ID, faults.ErrValidation)
	}
	r.byID[doc.ID] = &doc
	r.byCase[doc.CaseID] = append(r.byCase[doc.CaseID], doc.ID)
	return &doc, nil
}

// AttachHash sets the content hash of an uncertified document.
func (r *Registry) AttachHash(docID, contentHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.byID[docID]
	if !ok {
		return fmt.Errorf("evidence: document %q: %w", docID, faults.ErrNotFound)
	}
	if doc.Certified {
		return fmt.Errorf("evidence: document %q is certified, hash is frozen: %w", docID, faults.ErrValidation)
	}
	doc.ContentHash = contentHash
	return nil
}

// Certify records a certification act over a document. The certification hash
// binds the document id, its content hash and the certifying actor, and is
// later folded into the closure seal.
func (r *Registry) Certify(ctx context.Context, docID, actorID, actorRole string) (*Document, error) {
	r.mu.Lock()
	doc, ok := r.byID[docID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("evidence: document %q: %w", docID, faults.ErrNotFound)
	}
	if strings.TrimSpace(doc.ContentHash) == "" {
		r.mu.Unlock()
		return nil, fmt.Errorf("evidence: document %q has no content hash, cannot certify: %w", docID, faults.ErrValidation)
	}
	if doc.Certified {
		r.mu.Unlock()
		return nil, fmt.Errorf("evidence: document %q already certified: %w", docID, faults.ErrValidation)
	}

	now := r.clock().UTC()
	certHash, err := canonicalize.CanonicalHash(struct {
		DocumentID  string    `json:"document_id"`
		ContentHash string    `json:"content_hash"`
		CertifiedBy string    `json:"certified_by"`
		CertifiedAt time.Time `json:"certified_at"`
	}{docID, doc.ContentHash, actorID, now})
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("evidence: compute certification hash: %w", err)
	}

	doc.Certified = true
	doc.CertificationHash = certHash
	doc.CertifiedBy = actorID
	doc.CertifiedAt = &now
	snapshot := *doc
	r.mu.Unlock()

	if _, err := r.ledger.Append(ctx, ledger.Event{
		ActorID:     actorID,
		ActorRole:   actorRole,
		Kind:        ledger.KindDocumentCertified,
		SubjectType: "document",
		SubjectID:   docID,
		New:         snapshot,
		Metadata: map[string]string{
			"case_id":            snapshot.CaseID,
			"certification_hash": certHash,
		},
	}); err != nil {
		return nil, fmt.Errorf("evidence: record certification: %w", err)
	}
	return &snapshot, nil
}

// DocumentsFor implements Provider.
func (r *Registry) DocumentsFor(_ context.Context, caseID string) ([]Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byCase[caseID]
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.byID[id])
	}
	return out, nil
}
