// Package override implements governed exceptions shared by the policy engine
// and the deviation validator.
//
// An override is a time-bounded, justified, privileged exception. It suppresses
// the blocking effect of a failing result for its exact target only; it never
// rewrites the stored result.
package override

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aconcagua-systems/pna-core/pkg/faults"
	"github.com/aconcagua-systems/pna-core/pkg/ledger"
)

// RoleSupervisor is the single privileged capability the core checks. The
// caller's identity assertion is trusted; authentication lives outside.
const RoleSupervisor = "SUPERVISOR"

// IsSupervisor reports whether a role holds the supervisor capability.
func IsSupervisor(role string) bool {
	return strings.EqualFold(role, RoleSupervisor)
}

// Override is a granted exception. Created once, never mutated; re-evaluation
// supersedes it implicitly.
type Override struct {
	ID            string    `json:"id"`
	CaseID        string    `json:"case_id"`
	TargetID      string    `json:"target_id"` // compliance or deviation result id
	Justification string    `json:"justification"`
	Expiry        time.Time `json:"expiry"`
	GrantedBy     string    `json:"granted_by"`
	GrantedRole   string    `json:"granted_role"`
	GrantedAt     time.Time `json:"granted_at"`
}

// ActiveOn reports whether the override is active on the given date.
// Expiry is date-granular and inclusive: active iff expiry >= date.
func (o *Override) ActiveOn(date time.Time) bool {
	return !day(o.Expiry).Before(day(date))
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// GrantRequest carries the inputs for granting an override.
type GrantRequest struct {
	CaseID        string
	TargetID      string
	Justification string
	Expiry        time.Time
	ActorID       string
	ActorRole     string
}

// Registry stores granted overrides and records every grant in the ledger.
type Registry struct {
	mu       sync.RWMutex
	byTarget map[string][]*Override
	ledger   *ledger.Ledger
	clock    func() time.Time
}

// NewRegistry creates a registry writing grant events to the given ledger.
func NewRegistry(led *ledger.Ledger) *Registry {
	return &Registry{
		byTarget: make(map[string][]*Override),
		ledger:   led,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Grant validates and records an override.
//
// Fails with ErrPermissionDenied unless the role holds the supervisor
// capability; with ErrValidation if the justification is empty or the expiry
// absent. Expiry is mandatory everywhere: there is no indefinite override.
func (r *Registry) Grant(ctx context.Context, req GrantRequest) (*Override, error) {
	if !IsSupervisor(req.ActorRole) {
		return nil, fmt.Errorf("override: role %q cannot grant overrides: %w", req.ActorRole, faults.ErrPermissionDenied)
	}
	if strings.TrimSpace(req.Justification) == "" {
		return nil, fmt.Errorf("override: justification is mandatory: %w", faults.ErrValidation)
	}
	if req.Expiry.IsZero() {
		return nil, fmt.Errorf("override: expiry is mandatory: %w", faults.ErrValidation)
	}
	if req.TargetID == "" {
		return nil, fmt.Errorf("override: target result id is mandatory: %w", faults.ErrValidation)
	}

	o := &Override{
		ID:            uuid.New().String(),
		CaseID:        req.CaseID,
		TargetID:      req.TargetID,
		Justification: req.Justification,
		Expiry:        day(req.Expiry),
		GrantedBy:     req.ActorID,
		GrantedRole:   req.ActorRole,
		GrantedAt:     r.clock().UTC(),
	}

	if _, err := r.ledger.Append(ctx, ledger.Event{
		ActorID:     req.ActorID,
		ActorRole:   req.ActorRole,
		Kind:        ledger.KindOverrideGranted,
		SubjectType: "override",
		SubjectID:   o.ID,
		New:         o,
		Metadata: map[string]string{
			"case_id":   req.CaseID,
			"target_id": req.TargetID,
			"expiry":    o.Expiry.Format("2006-01-02"),
		},
	}); err != nil {
		return nil, fmt.Errorf("override: record grant: %w", err)
	}

	r.mu.Lock()
	r.byTarget[req.TargetID] = append(r.byTarget[req.TargetID], o)
	r.mu.Unlock()

	return o, nil
}

// ActiveFor returns an active override for the target result id, or nil.
func (r *Registry) ActiveFor(targetID string) *Override {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.clock()
	for _, o := range r.byTarget[targetID] {
		if o.ActiveOn(now) {
			return o
		}
	}
	return nil
}
