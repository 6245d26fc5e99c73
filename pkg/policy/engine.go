package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aconcagua-systems/pna-core/pkg/faults"
	"github.com/aconcagua-systems/pna-core/pkg/ledger"
	"github.com/aconcagua-systems/pna-core/pkg/override"
	"github.com/aconcagua-systems/pna-core/pkg/regulation"
)

// Engine evaluates observed case values against the regulation version
// assigned to the case. All collaborator handles are injected; evaluation is
// a pure function of its inputs plus one ledger append.
type Engine struct {
	regulations *regulation.Registry
	overrides   *override.Registry
	ledger      *ledger.Ledger

	mu         sync.RWMutex
	results    map[string]*ComplianceResult // by result id
	byCaseRule map[string][]string          // case id + rule code -> result ids
	lastPass   map[string][]*ComplianceResult
}

// NewEngine creates a policy engine over the given collaborators.
func NewEngine(regs *regulation.Registry, ovr *override.Registry, led *ledger.Ledger) *Engine {
	return &Engine{
		regulations: regs,
		overrides:   ovr,
		ledger:      led,
		results:     make(map[string]*ComplianceResult),
		byCaseRule:  make(map[string][]string),
		lastPass:    make(map[string][]*ComplianceResult),
	}
}

// Evaluate runs every rule of the case's assigned regulation version against
// the observed values.
//
// The case is blocked (canProceed = false) iff at least one result FAILS on a
// blocking, ERROR-severity rule with no active override for that (case, rule)
// pair. A case with no assigned version passes vacuously, with the summary
// saying so.
func (e *Engine) Evaluate(ctx context.Context, caseID, stage string, observed map[string]any) (bool, []*ComplianceResult, *Summary, error) {
	version, ok := e.regulations.VersionForCase(caseID)
	if !ok {
		summary := &Summary{
			CaseID: caseID,
			Stage:  stage,
			Note:   "no regulation version assigned to case; nothing to evaluate",
		}
		return true, nil, summary, nil
	}

	summary := &Summary{CaseID: caseID, Stage: stage, VersionLabel: version.Label, Total: len(version.Rules)}
	results := make([]*ComplianceResult, 0, len(version.Rules))
	canProceed := true

	for _, rule := range version.Rules {
		res := e.evaluateRule(caseID, stage, version.ID, rule, observed)
		results = append(results, res)

		switch res.Outcome {
		case OutcomeComplies:
			summary.Complies++
		case OutcomeWarns:
			summary.Warns++
		case OutcomeFails:
			summary.Fails++
			if rule.Blocking && rule.Severity == regulation.SeverityError {
				if o := e.activeOverrideFor(caseID, rule.Code); o != nil {
					res.OverrideID = o.ID
					summary.Overridden++
				} else {
					canProceed = false
					summary.BlockedBy = append(summary.BlockedBy,
						fmt.Sprintf("%s (%s): %s", rule.Code, rule.Parameter, res.Detail))
				}
			}
		}
	}

	e.mu.Lock()
	for _, res := range results {
		e.results[res.ID] = res
		key := caseRuleKey(caseID, res.RuleCode)
		e.byCaseRule[key] = append(e.byCaseRule[key], res.ID)
	}
	e.lastPass[caseID] = results
	e.mu.Unlock()

	if _, err := e.ledger.Append(ctx, ledger.Event{
		ActorID:     "policy-engine",
		ActorRole:   "system",
		Kind:        ledger.KindComplianceEvaluated,
		SubjectType: "case",
		SubjectID:   caseID,
		New:         summary,
		Metadata: map[string]string{
			"stage":       stage,
			"version":     version.Label,
			"can_proceed": strconv.FormatBool(canProceed),
		},
	}); err != nil {
		return false, nil, nil, fmt.Errorf("policy: record evaluation: %w", err)
	}

	return canProceed, results, summary, nil
}

// evaluateRule applies one rule to the observed values. The switch over rule
// kinds is exhaustive over the closed enum; an unknown kind is a defect in
// the rule pack, reported as FAILS with an explicit detail.
func (e *Engine) evaluateRule(caseID, stage, versionID string, rule regulation.Rule, observed map[string]any) *ComplianceResult {
	res := &ComplianceResult{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		Stage:     stage,
		VersionID: versionID,
		RuleCode:  rule.Code,
		Parameter: rule.Parameter,
	}

	// A numeric rule missing its bound is a defective definition, never a
	// pass. The regulation registry rejects these on entry; the guard keeps
	// the engine total for versions that arrive from elsewhere.
	if missingBounds(rule) {
		res.Outcome = OutcomeFails
		res.Detail = fmt.Sprintf("rule %s kind %s is missing its numeric bound", rule.Code, rule.Kind)
		return res
	}

	value, present := observed[rule.Parameter]
	if !present {
		if rule.Severity == regulation.SeverityWarning {
			res.Outcome = OutcomeWarns
		} else {
			res.Outcome = OutcomeFails
		}
		res.Detail = fmt.Sprintf("parameter %q not reported", rule.Parameter)
		return res
	}
	res.Value = value

	switch rule.Kind {
	case regulation.KindBoolean:
		if truthy(value) {
			res.Outcome = OutcomeComplies
		} else {
			res.Outcome = OutcomeFails
			res.Detail = fmt.Sprintf("expected %q to be true, got %v", rule.Parameter, value)
		}
	case regulation.KindRequired:
		if isPresent(value) {
			res.Outcome = OutcomeComplies
		} else {
			res.Outcome = OutcomeFails
			res.Detail = fmt.Sprintf("required parameter %q is empty", rule.Parameter)
		}
	case regulation.KindMin:
		e.numericCheck(res, rule, value, func(n float64) (bool, string) {
			return n >= *rule.Min, fmt.Sprintf("%v %s is below minimum %v", n, rule.Unit, *rule.Min)
		})
	case regulation.KindMax:
		e.numericCheck(res, rule, value, func(n float64) (bool, string) {
			return n <= *rule.Max, fmt.Sprintf("%v %s exceeds maximum %v", n, rule.Unit, *rule.Max)
		})
	case regulation.KindRange:
		e.numericCheck(res, rule, value, func(n float64) (bool, string) {
			return n >= *rule.Min && n <= *rule.Max,
				fmt.Sprintf("%v %s outside range [%v, %v]", n, rule.Unit, *rule.Min, *rule.Max)
		})
	default:
		res.Outcome = OutcomeFails
		res.Detail = fmt.Sprintf("unknown rule kind %q", rule.Kind)
	}
	return res
}

func (e *Engine) numericCheck(res *ComplianceResult, rule regulation.Rule, value any, check func(float64) (bool, string)) {
	n, err := asNumber(value)
	if err != nil {
		// A malformed value is never a pass, whatever the severity.
		res.Outcome = OutcomeFails
		res.Detail = fmt.Sprintf("parameter %q is not numeric: %v", rule.Parameter, value)
		return
	}
	ok, detail := check(n)
	if ok {
		res.Outcome = OutcomeComplies
		return
	}
	res.Outcome = OutcomeFails
	res.Detail = detail
}

// ApplyOverride grants a governed exception for one compliance result.
// Permission, justification and expiry rules live in the override registry;
// the grant is ledger-recorded there.
func (e *Engine) ApplyOverride(ctx context.Context, resultID, justification string, expiry time.Time, actorID, actorRole string) (*override.Override, error) {
	e.mu.RLock()
	res, ok := e.results[resultID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("policy: compliance result %q: %w", resultID, faults.ErrNotFound)
	}

	return e.overrides.Grant(ctx, override.GrantRequest{
		CaseID:        res.CaseID,
		TargetID:      resultID,
		Justification: justification,
		Expiry:        expiry,
		ActorID:       actorID,
		ActorRole:     actorRole,
	})
}

// Result returns a stored compliance result by id.
func (e *Engine) Result(resultID string) (*ComplianceResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res, ok := e.results[resultID]
	if !ok {
		return nil, fmt.Errorf("policy: compliance result %q: %w", resultID, faults.ErrNotFound)
	}
	return res, nil
}

// ResultsForCase returns every stored result for a case, across passes.
func (e *Engine) ResultsForCase(caseID string) []*ComplianceResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*ComplianceResult
	for _, res := range e.results {
		if res.CaseID == caseID {
			out = append(out, res)
		}
	}
	return out
}

// UncompensatedFails returns, for the latest evaluation pass of a case, the
// failing results that have no active override for their (case, rule) pair.
// These are what keep the quality-control gate closed.
func (e *Engine) UncompensatedFails(caseID string) []*ComplianceResult {
	e.mu.RLock()
	last := append([]*ComplianceResult(nil), e.lastPass[caseID]...)
	e.mu.RUnlock()

	var out []*ComplianceResult
	for _, res := range last {
		if res.Outcome != OutcomeFails {
			continue
		}
		if e.activeOverrideFor(caseID, res.RuleCode) == nil {
			out = append(out, res)
		}
	}
	return out
}

// activeOverrideFor finds an active override granted against any prior result
// of the same (case, rule) pair. An override suppresses blocking for its
// exact pair only; re-evaluation keeps honoring it until expiry.
func (e *Engine) activeOverrideFor(caseID, ruleCode string) *override.Override {
	e.mu.RLock()
	ids := append([]string(nil), e.byCaseRule[caseRuleKey(caseID, ruleCode)]...)
	e.mu.RUnlock()
	for _, id := range ids {
		if o := e.overrides.ActiveFor(id); o != nil {
			return o
		}
	}
	return nil
}

func caseRuleKey(caseID, ruleCode string) string {
	return caseID + "\x00" + ruleCode
}

func missingBounds(rule regulation.Rule) bool {
	switch rule.Kind {
	case regulation.KindMin:
		return rule.Min == nil
	case regulation.KindMax:
		return rule.Max == nil
	case regulation.KindRange:
		return rule.Min == nil || rule.Max == nil
	}
	return false
}

// truthy coerces a value the way field-reported data arrives: booleans,
// numeric flags and yes-like strings all count as true.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "si", "sí":
			return true
		}
		return false
	default:
		n, err := asNumber(v)
		return err == nil && n != 0
	}
}

func isPresent(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func asNumber(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}
