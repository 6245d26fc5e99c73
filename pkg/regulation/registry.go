package regulation

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/aconcagua-systems/pna-core/pkg/faults"
	"github.com/aconcagua-systems/pna-core/pkg/ledger"
)

// Registry holds jurisdictions, regulation versions and case assignments.
// The handle is injected into the policy engine at construction; there is no
// ambient global rule state.
type Registry struct {
	mu            sync.RWMutex
	jurisdictions map[string]*Jurisdiction
	versions      map[string]*Version
	assignments   map[string]string // case id -> version id
	ledger        *ledger.Ledger
}

// NewRegistry creates an empty registry recording publications to the ledger.
func NewRegistry(led *ledger.Ledger) *Registry {
	return &Registry{
		jurisdictions: make(map[string]*Jurisdiction),
		versions:      make(map[string]*Version),
		assignments:   make(map[string]string),
		ledger:        led,
	}
}

// AddJurisdiction registers a jurisdiction.
func (r *Registry) AddJurisdiction(j Jurisdiction) error {
	if j.ID == "" {
		return fmt.Errorf("regulation: jurisdiction id required: %w", faults.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jurisdictions[j.ID] = &j
	return nil
}

// CreateDraft opens a new draft version for a jurisdiction. The label must be
// valid semver so published versions order unambiguously.
func (r *Registry) CreateDraft(jurisdictionID, label string, rules []Rule) (*Version, error) {
	if _, err := semver.NewVersion(label); err != nil {
		return nil, fmt.Errorf("regulation: version label %q is not semver: %w", label, faults.ErrValidation)
	}

	for _, rule := range rules {
		if err := validateRule(rule); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jurisdictions[jurisdictionID]; !ok {
		return nil, fmt.Errorf("regulation: jurisdiction %q: %w", jurisdictionID, faults.ErrNotFound)
	}

	v := &Version{
		ID:             uuid.New().String(),
		JurisdictionID: jurisdictionID,
		Label:          label,
		State:          VersionDraft,
		Rules:          append([]Rule(nil), rules...),
	}
	r.versions[v.ID] = v
	return v, nil
}

// AddRule appends a rule to a draft version. Published versions are immutable.
func (r *Registry) AddRule(versionID string, rule Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.versions[versionID]
	if !ok {
		return fmt.Errorf("regulation: version %q: %w", versionID, faults.ErrNotFound)
	}
	if v.State != VersionDraft {
		return fmt.Errorf("regulation: version %s is %s and immutable, new rules require a new draft: %w",
			v.Label, v.State, faults.ErrValidation)
	}
	v.Rules = append(v.Rules, rule)
	return nil
}

// Publish promotes a draft to PUBLISHED and retires the previously published
// version of the same jurisdiction, keeping exactly one version in force.
func (r *Registry) Publish(ctx context.Context, versionID, actorID, actorRole string) error {
	r.mu.Lock()
	v, ok := r.versions[versionID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("regulation: version %q: %w", versionID, faults.ErrNotFound)
	}
	if v.State != VersionDraft {
		r.mu.Unlock()
		return fmt.Errorf("regulation: version %s is %s, only drafts publish: %w", v.Label, v.State, faults.ErrValidation)
	}

	var retired *Version
	for _, other := range r.versions {
		if other.JurisdictionID == v.JurisdictionID && other.State == VersionPublished {
			other.State = VersionRetired
			retired = other
		}
	}
	prior := v.State
	v.State = VersionPublished
	r.mu.Unlock()

	meta := map[string]string{"jurisdiction_id": v.JurisdictionID, "label": v.Label}
	if retired != nil {
		meta["retired_version"] = retired.Label
	}
	if _, err := r.ledger.Append(ctx, ledger.Event{
		ActorID:     actorID,
		ActorRole:   actorRole,
		Kind:        ledger.KindRegulationPublished,
		SubjectType: "regulation_version",
		SubjectID:   v.ID,
		Prior:       map[string]string{"state": string(prior)},
		New:         map[string]string{"state": string(VersionPublished)},
		Metadata:    meta,
	}); err != nil {
		return fmt.Errorf("regulation: record publication: %w", err)
	}
	return nil
}

// AssignCase binds a case to a regulation version.
func (r *Registry) AssignCase(caseID, versionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.versions[versionID]; !ok {
		return fmt.Errorf("regulation: version %q: %w", versionID, faults.ErrNotFound)
	}
	r.assignments[caseID] = versionID
	return nil
}

// VersionForCase resolves the version assigned to a case. A case with no
// assignment returns (nil, false); the policy engine treats that as a
// vacuous pass, not an error.
func (r *Registry) VersionForCase(caseID string) (*Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.assignments[caseID]
	if !ok {
		return nil, false
	}
	v, ok := r.versions[id]
	return v, ok
}

// Version returns a version by id.
func (r *Registry) Version(versionID string) (*Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("regulation: version %q: %w", versionID, faults.ErrNotFound)
	}
	return v, nil
}
