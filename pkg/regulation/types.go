// Package regulation models jurisdiction-specific regulatory rule sets with
// versioned publication.
//
// A RegulationVersion moves DRAFT → PUBLISHED. Rules of a published version
// are immutable; a rule change requires a new draft. Publishing a new version
// retires the previously published one for the same jurisdiction, so at most
// one version is in force per jurisdiction at a time.
package regulation

import (
	"fmt"

	"github.com/aconcagua-systems/pna-core/pkg/faults"
)

// Jurisdiction is one regulatory domain (province, basin, authority).
type Jurisdiction struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Authority string `json:"authority,omitempty" yaml:"authority,omitempty"`
}

// VersionState is the lifecycle state of a regulation version.
type VersionState string

const (
	VersionDraft     VersionState = "DRAFT"
	VersionPublished VersionState = "PUBLISHED"
	VersionRetired   VersionState = "RETIRED"
)

// RuleKind is the closed set of rule evaluation kinds. Evaluation dispatches
// with an exhaustive switch; adding a kind without handling it is a
// compile-visible change, not a silent FAILS default.
type RuleKind string

const (
	KindBoolean  RuleKind = "BOOLEAN"
	KindRequired RuleKind = "REQUIRED"
	KindMin      RuleKind = "MIN"
	KindMax      RuleKind = "MAX"
	KindRange    RuleKind = "RANGE"
)

// Severity grades a rule failure.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Rule is one regulatory requirement inside a version.
type Rule struct {
	Code        string   `json:"code" yaml:"code"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        RuleKind `json:"kind" yaml:"kind"`
	Parameter   string   `json:"parameter" yaml:"parameter"`
	Min         *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Unit        string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Blocking    bool     `json:"blocking" yaml:"blocking"`
}

// validateRule checks the structural contract of a rule: code and parameter
// present, bounds matching the kind, known severity. Every path admitting a
// rule into a version runs it, so the policy engine never receives a rule it
// cannot evaluate.
func validateRule(r Rule) error {
	if r.Code == "" || r.Parameter == "" {
		return fmt.Errorf("regulation: rule missing code or parameter: %w", faults.ErrValidation)
	}
	switch r.Kind {
	case KindBoolean, KindRequired:
	case KindMin:
		if r.Min == nil {
			return fmt.Errorf("regulation: rule %s kind MIN requires a min bound: %w", r.Code, faults.ErrValidation)
		}
	case KindMax:
		if r.Max == nil {
			return fmt.Errorf("regulation: rule %s kind MAX requires a max bound: %w", r.Code, faults.ErrValidation)
		}
	case KindRange:
		if r.Min == nil || r.Max == nil {
			return fmt.Errorf("regulation: rule %s kind RANGE requires both bounds: %w", r.Code, faults.ErrValidation)
		}
	default:
		return fmt.Errorf("regulation: rule %s has unknown kind %q: %w", r.Code, r.Kind, faults.ErrValidation)
	}
	switch r.Severity {
	case SeverityError, SeverityWarning:
	default:
		return fmt.Errorf("regulation: rule %s has unknown severity %q: %w", r.Code, r.Severity, faults.ErrValidation)
	}
	return nil
}

// Version is a versioned rule set belonging to exactly one jurisdiction.
type Version struct {
	ID             string       `json:"id"`
	JurisdictionID string       `json:"jurisdiction_id"`
	Label          string       `json:"label"` // semver
	State          VersionState `json:"state"`
	Rules          []Rule       `json:"rules"`
}
