package closure

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aconcagua-systems/pna-core/pkg/canonicalize"
	"github.com/aconcagua-systems/pna-core/pkg/deviation"
	"github.com/aconcagua-systems/pna-core/pkg/evidence"
	"github.com/aconcagua-systems/pna-core/pkg/faults"
	"github.com/aconcagua-systems/pna-core/pkg/ledger"
	"github.com/aconcagua-systems/pna-core/pkg/override"
	"github.com/aconcagua-systems/pna-core/pkg/policy"
)

// dictamenLimit bounds the dictamen excerpt carried in the ledger entry.
const dictamenLimit = 240

// Gate orchestrates the per-case closure checklist. Every collaborator is an
// injected handle; the gate holds no ambient state.
type Gate struct {
	mu         sync.RWMutex
	cases      map[string]*Case
	ledger     *ledger.Ledger
	policy     *policy.Engine
	deviations *deviation.Validator
	docs       evidence.Provider
	clock      func() time.Time
}

// NewGate creates a closure gate over the given collaborators.
func NewGate(led *ledger.Ledger, pol *policy.Engine, dev *deviation.Validator, docs evidence.Provider) *Gate {
	return &Gate{
		cases:      make(map[string]*Case),
		ledger:     led,
		policy:     pol,
		deviations: dev,
		docs:       docs,
		clock:      time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// Start opens a closure case with the full checklist in PENDING.
func (g *Gate) Start(caseID string) (*Case, error) {
	if caseID == "" {
		return nil, fmt.Errorf("closure: case id required: %w", faults.ErrValidation)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.cases[caseID]; exists {
		return nil, fmt.Errorf("closure: case %q already started: %w", caseID, faults.ErrValidation)
	}

	c := &Case{ID: caseID, State: CaseEnProceso}
	for _, key := range checklistKeys {
		c.Items = append(c.Items, &Item{Key: key, State: ItemPending})
	}
	g.cases[caseID] = c
	return c, nil
}

// Evaluate re-derives every machine-derived checklist item and the case
// state. The acta signature is a human attestation and is never touched by a
// re-run of the automatic checks.
func (g *Gate) Evaluate(ctx context.Context, caseID string) (*Case, error) {
	g.mu.RLock()
	c, ok := g.cases[caseID]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("closure: case %q: %w", caseID, faults.ErrNotFound)
	}

	now := g.clock().UTC()
	cementState, cementNote := g.evalCementation(caseID)
	evidenceState, evidenceNote, err := g.evalEvidence(ctx, caseID)
	if err != nil {
		return nil, err
	}
	integrityState, integrityNote, err := g.evalIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	qcState, qcNote := g.evalQualityControl(caseID)

	g.mu.Lock()
	setItem(c, ItemCementationValidated, cementState, cementNote, now)
	setItem(c, ItemEvidenceCertified, evidenceState, evidenceNote, now)
	setItem(c, ItemIntegrityVerified, integrityState, integrityNote, now)
	setItem(c, ItemQualityControlOK, qcState, qcNote, now)

	if c.State != CaseCerradoDefendible && c.State != CaseAprobado {
		c.State = deriveState(c)
	}
	snapshot := g.snapshotLocked(c)
	g.mu.Unlock()

	if _, err := g.ledger.Append(ctx, ledger.Event{
		ActorID:     "closure-gate",
		ActorRole:   "system",
		Kind:        ledger.KindChecklistEvaluated,
		SubjectType: "closure_case",
		SubjectID:   caseID,
		New:         snapshot,
		Metadata:    map[string]string{"state": string(snapshot.State)},
	}); err != nil {
		return nil, fmt.Errorf("closure: record evaluation: %w", err)
	}
	return c, nil
}

// evalCementation derives the cementation item from the worst deviation
// classification across the case's baselines.
func (g *Gate) evalCementation(caseID string) (ItemState, string) {
	baselines := g.deviations.BaselinesForCase(caseID)
	if len(baselines) == 0 {
		return ItemOK, "no design baseline registered for this case; nothing to validate"
	}
	results := g.deviations.ResultsForCase(caseID)
	if len(results) == 0 {
		return ItemPending, "baseline registered but no measurements recorded yet"
	}
	if critical := g.deviations.UncompensatedCritical(caseID); len(critical) > 0 {
		ids := make([]string, 0, len(critical))
		for _, res := range critical {
			ids = append(ids, fmt.Sprintf("%s (%s)", res.ID, res.Detail))
		}
		return ItemRejected, "critical deviation without active override: " + strings.Join(ids, "; ")
	}
	worst := deviation.ClassOK
	for _, res := range results {
		if res.Classification == deviation.ClassCritical {
			worst = deviation.ClassCritical
		} else if res.Classification == deviation.ClassAlert && worst == deviation.ClassOK {
			worst = deviation.ClassAlert
		}
	}
	return ItemOK, fmt.Sprintf("worst classification %s; no unresolved critical deviation", worst)
}

func (g *Gate) evalEvidence(ctx context.Context, caseID string) (ItemState, string, error) {
	docs, err := g.docs.DocumentsFor(ctx, caseID)
	if err != nil {
		return "", "", fmt.Errorf("closure: evidence collaborator: %w", err)
	}
	if len(docs) == 0 {
		return ItemPending, "no evidentiary documents uploaded", nil
	}
	var incomplete []string
	certified := 0
	for _, doc := range docs {
		switch {
		case strings.TrimSpace(doc.ContentHash) == "":
			incomplete = append(incomplete, doc.Name+": missing content hash")
		case !doc.Certified:
			incomplete = append(incomplete, doc.Name+": missing certification")
		default:
			certified++
		}
	}
	if len(incomplete) > 0 {
		return ItemRejected, "uncertified evidence: " + strings.Join(incomplete, "; "), nil
	}
	return ItemOK, fmt.Sprintf("%d document(s) fully certified", certified), nil
}

func (g *Gate) evalIntegrity(ctx context.Context) (ItemState, string, error) {
	ok, violations, err := g.ledger.Verify(ctx, "")
	if err != nil {
		return "", "", fmt.Errorf("closure: ledger verification: %w", err)
	}
	if !ok {
		return ItemRejected, fmt.Sprintf("ledger chain verification failed with %d violation(s), earliest at position %d",
			len(violations), violations[0].Position), nil
	}
	return ItemOK, "ledger chain verified clean", nil
}

func (g *Gate) evalQualityControl(caseID string) (ItemState, string) {
	fails := g.policy.UncompensatedFails(caseID)
	if len(fails) == 0 {
		return ItemOK, "no uncompensated compliance failures"
	}
	var codes []string
	for _, res := range fails {
		codes = append(codes, fmt.Sprintf("%s: %s", res.RuleCode, res.Detail))
	}
	return ItemRejected, "uncompensated compliance failures: " + strings.Join(codes, "; ")
}

// SignActa records the human attestation on the closure acta. Capability
// gated: only a supervisor signs.
func (g *Gate) SignActa(ctx context.Context, caseID, actorID, actorRole, observation string) error {
	if !override.IsSupervisor(actorRole) {
		return fmt.Errorf("closure: role %q cannot sign the acta: %w", actorRole, faults.ErrPermissionDenied)
	}
	g.mu.Lock()
	c, ok := g.cases[caseID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("closure: case %q: %w", caseID, faults.ErrNotFound)
	}
	now := g.clock().UTC()
	item := c.Item(ItemActaSigned)
	item.State = ItemOK
	item.Observation = observation
	item.EvaluatedBy = actorID
	item.EvaluatedAt = &now
	if c.State != CaseCerradoDefendible && c.State != CaseAprobado {
		c.State = deriveState(c)
	}
	g.mu.Unlock()

	if _, err := g.ledger.Append(ctx, ledger.Event{
		ActorID:     actorID,
		ActorRole:   actorRole,
		Kind:        ledger.KindActaSigned,
		SubjectType: "closure_case",
		SubjectID:   caseID,
		Metadata:    map[string]string{"observation": observation},
	}); err != nil {
		return fmt.Errorf("closure: record acta signature: %w", err)
	}
	return nil
}

// Approve grants approval and seals the case in one call. Fails unless all
// five checklist items are OK; on success the case passes through APROBADO
// and lands in CERRADO_DEFENDIBLE with the consolidated seal, a digest over
// every document content hash and certification hash referenced by the case.
// A case stranded in APROBADO by a failed seal computation may be approved
// again.
func (g *Gate) Approve(ctx context.Context, caseID, actorID, actorRole, dictamen string) (*Case, error) {
	g.mu.RLock()
	c, ok := g.cases[caseID]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("closure: case %q: %w", caseID, faults.ErrNotFound)
	}

	g.mu.Lock()
	if c.State == CaseCerradoDefendible {
		g.mu.Unlock()
		return nil, fmt.Errorf("closure: case %q already sealed: %w", caseID, faults.ErrValidation)
	}
	var notOK []string
	for _, item := range c.Items {
		if item.State != ItemOK {
			notOK = append(notOK, fmt.Sprintf("%s is %s", item.Key, item.State))
		}
	}
	if len(notOK) > 0 {
		g.mu.Unlock()
		return nil, fmt.Errorf("closure: case %q cannot be approved: %s: %w",
			caseID, strings.Join(notOK, ", "), faults.ErrValidation)
	}
	// Approval is granted; the case stays APROBADO until the seal lands.
	c.State = CaseAprobado
	g.mu.Unlock()

	docs, err := g.docs.DocumentsFor(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("closure: evidence collaborator: %w", err)
	}
	docHashes := make([]string, 0, len(docs))
	certHashes := make([]string, 0, len(docs))
	for _, doc := range docs {
		docHashes = append(docHashes, doc.ContentHash)
		certHashes = append(certHashes, doc.CertificationHash)
	}
	seal, err := canonicalize.CanonicalHash(struct {
		DocHashes           []string `json:"doc_hashes"`
		CertificationHashes []string `json:"certification_hashes"`
	}{docHashes, certHashes})
	if err != nil {
		return nil, fmt.Errorf("closure: compute seal: %w", err)
	}

	now := g.clock().UTC()
	g.mu.Lock()
	c.State = CaseCerradoDefendible
	c.Seal = seal
	c.Dictamen = dictamen
	c.ApprovedBy = actorID
	c.ApprovedAt = &now
	g.mu.Unlock()

	if _, err := g.ledger.Append(ctx, ledger.Event{
		ActorID:     actorID,
		ActorRole:   actorRole,
		Kind:        ledger.KindClosureApproved,
		SubjectType: "closure_case",
		SubjectID:   caseID,
		Prior:       map[string]string{"state": string(CaseAprobado)},
		New:         map[string]string{"state": string(CaseCerradoDefendible), "seal": seal},
		Metadata: map[string]string{
			"seal":     seal,
			"dictamen": truncate(dictamen, dictamenLimit),
		},
	}); err != nil {
		return nil, fmt.Errorf("closure: record approval: %w", err)
	}
	return c, nil
}

// Case returns the closure case by id.
func (g *Gate) Case(caseID string) (*Case, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("closure: case %q: %w", caseID, faults.ErrNotFound)
	}
	return c, nil
}

// Snapshot returns the export-facing view of a case.
func (g *Gate) Snapshot(caseID string) (*Snapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("closure: case %q: %w", caseID, faults.ErrNotFound)
	}
	snap := g.snapshotLocked(c)
	return &snap, nil
}

func (g *Gate) snapshotLocked(c *Case) Snapshot {
	snap := Snapshot{
		CaseID:     c.ID,
		State:      c.State,
		Seal:       c.Seal,
		Dictamen:   c.Dictamen,
		ApprovedBy: c.ApprovedBy,
		ApprovedAt: c.ApprovedAt,
	}
	for _, item := range c.Items {
		snap.Items = append(snap.Items, *item)
	}
	return snap
}

func setItem(c *Case, key ItemKey, state ItemState, observation string, at time.Time) {
	item := c.Item(key)
	item.State = state
	item.Observation = observation
	item.EvaluatedBy = "closure-gate"
	item.EvaluatedAt = &at
}

func deriveState(c *Case) CaseState {
	for _, item := range c.Items {
		if item.State == ItemRejected {
			return CaseBloqueado
		}
	}
	return CaseEnProceso
}

// truncate shortens s to at most limit bytes without splitting a rune; the
// dictamen is Spanish prose, so multi-byte characters are the normal case.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
