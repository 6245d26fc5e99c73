// Package policy evaluates operational data against versioned regulatory rule
// sets with governed exceptions.
package policy

// Outcome is the result of evaluating one rule against one observed value.
type Outcome string

const (
	OutcomeComplies Outcome = "COMPLIES"
	OutcomeFails    Outcome = "FAILS"
	OutcomeWarns    Outcome = "WARNS"
)

// ComplianceResult records one (case, rule, evaluation pass) verdict.
// Immutable once produced; a re-evaluation produces new results.
type ComplianceResult struct {
	ID         string  `json:"id"`
	CaseID     string  `json:"case_id"`
	Stage      string  `json:"stage"`
	VersionID  string  `json:"version_id"`
	RuleCode   string  `json:"rule_code"`
	Parameter  string  `json:"parameter"`
	Value      any     `json:"value,omitempty"`
	Outcome    Outcome `json:"outcome"`
	OverrideID string  `json:"override_id,omitempty"`
	Detail     string  `json:"detail,omitempty"`
}

// Summary is the human-readable digest of one evaluation pass. Every blocking
// decision names the specific failing rules so an operator can act without
// inspecting raw records.
type Summary struct {
	CaseID       string   `json:"case_id"`
	Stage        string   `json:"stage"`
	VersionLabel string   `json:"version_label,omitempty"`
	Total        int      `json:"total"`
	Complies     int      `json:"complies"`
	Fails        int      `json:"fails"`
	Warns        int      `json:"warns"`
	Overridden   int      `json:"overridden"`
	BlockedBy    []string `json:"blocked_by,omitempty"`
	Note         string   `json:"note,omitempty"`
}
