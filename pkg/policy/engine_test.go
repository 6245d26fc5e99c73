package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aconcagua-systems/pna-core/pkg/faults"
	"github.com/aconcagua-systems/pna-core/pkg/ledger"
	"github.com/aconcagua-systems/pna-core/pkg/override"
	"github.com/aconcagua-systems/pna-core/pkg/regulation"
)

func f(v float64) *float64 { return &v }

type fixture struct {
	engine    *Engine
	regs      *regulation.Registry
	overrides *override.Registry
	led       *ledger.Ledger
}

func newFixture(t *testing.T, rules []regulation.Rule) *fixture {
	t.Helper()
	clock := func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }
	led := ledger.New(ledger.NewMemoryStore()).WithClock(clock)
	ovr := override.NewRegistry(led).WithClock(clock)
	regs := regulation.NewRegistry(led)
	require.NoError(t, regs.AddJurisdiction(regulation.Jurisdiction{ID: "nqn", Name: "Neuquén"}))

	v, err := regs.CreateDraft("nqn", "1.0.0", rules)
	require.NoError(t, err)
	require.NoError(t, regs.Publish(context.Background(), v.ID, "reg-1", "REGULATOR"))
	require.NoError(t, regs.AssignCase("well-42", v.ID))

	return &fixture{engine: NewEngine(regs, ovr, led), regs: regs, overrides: ovr, led: led}
}

func TestEvaluateRuleKinds(t *testing.T) {
	tests := []struct {
		name     string
		rule     regulation.Rule
		observed map[string]any
		want     Outcome
	}{
		{
			name:     "boolean true complies",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindBoolean, Parameter: "flag", Severity: regulation.SeverityError},
			observed: map[string]any{"flag": true},
			want:     OutcomeComplies,
		},
		{
			name:     "boolean truthy string complies",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindBoolean, Parameter: "flag", Severity: regulation.SeverityError},
			observed: map[string]any{"flag": "sí"},
			want:     OutcomeComplies,
		},
		{
			name:     "boolean false fails",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindBoolean, Parameter: "flag", Severity: regulation.SeverityError},
			observed: map[string]any{"flag": false},
			want:     OutcomeFails,
		},
		{
			name:     "required empty string fails",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindRequired, Parameter: "acta", Severity: regulation.SeverityError},
			observed: map[string]any{"acta": "  "},
			want:     OutcomeFails,
		},
		{
			name:     "required present complies",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindRequired, Parameter: "acta", Severity: regulation.SeverityError},
			observed: map[string]any{"acta": "ACTA-2025-118"},
			want:     OutcomeComplies,
		},
		{
			name:     "min at bound complies",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindMin, Parameter: "density", Min: f(1.5), Severity: regulation.SeverityError},
			observed: map[string]any{"density": 1.5},
			want:     OutcomeComplies,
		},
		{
			name:     "min below bound fails",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindMin, Parameter: "density", Min: f(1.5), Severity: regulation.SeverityError},
			observed: map[string]any{"density": 1.49},
			want:     OutcomeFails,
		},
		{
			name:     "max above bound fails",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindMax, Parameter: "pressure", Max: f(3000.0), Severity: regulation.SeverityError},
			observed: map[string]any{"pressure": 3000.1},
			want:     OutcomeFails,
		},
		{
			name:     "range inside complies",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindRange, Parameter: "density", Min: f(1.4), Max: f(1.9), Severity: regulation.SeverityError},
			observed: map[string]any{"density": 1.7},
			want:     OutcomeComplies,
		},
		{
			name:     "range outside fails",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindRange, Parameter: "density", Min: f(1.4), Max: f(1.9), Severity: regulation.SeverityError},
			observed: map[string]any{"density": 2.0},
			want:     OutcomeFails,
		},
		{
			name:     "numeric string coerces",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindMin, Parameter: "density", Min: f(1.5), Severity: regulation.SeverityError},
			observed: map[string]any{"density": "1.62"},
			want:     OutcomeComplies,
		},
		{
			name:     "malformed value always fails",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindMin, Parameter: "density", Min: f(1.5), Severity: regulation.SeverityWarning},
			observed: map[string]any{"density": "n/a"},
			want:     OutcomeFails,
		},
		{
			name:     "absent value warns for warning severity",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindMin, Parameter: "density", Min: f(1.5), Severity: regulation.SeverityWarning},
			observed: map[string]any{},
			want:     OutcomeWarns,
		},
		{
			name:     "absent value fails for error severity",
			rule:     regulation.Rule{Code: "R1", Kind: regulation.KindMin, Parameter: "density", Min: f(1.5), Severity: regulation.SeverityError},
			observed: map[string]any{},
			want:     OutcomeFails,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, []regulation.Rule{tt.rule})
			_, results, _, err := fx.engine.Evaluate(context.Background(), "well-42", "ABANDONO", tt.observed)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, tt.want, results[0].Outcome)
		})
	}
}

func TestEvaluateNoAssignedVersionPassesVacuously(t *testing.T) {
	fx := newFixture(t, nil)

	canProceed, results, summary, err := fx.engine.Evaluate(context.Background(), "well-unassigned", "ABANDONO", nil)
	require.NoError(t, err)
	assert.True(t, canProceed)
	assert.Empty(t, results)
	assert.Contains(t, summary.Note, "no regulation version assigned")
}

func TestEvaluateBlockingSemantics(t *testing.T) {
	tests := []struct {
		name       string
		severity   regulation.Severity
		blocking   bool
		canProceed bool
	}{
		{"blocking error fails blocks", regulation.SeverityError, true, false},
		{"non-blocking error does not block", regulation.SeverityError, false, true},
		{"blocking warning does not block", regulation.SeverityWarning, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, []regulation.Rule{{
				Code: "R1", Kind: regulation.KindMin, Parameter: "density",
				Min: f(1.5), Severity: tt.severity, Blocking: tt.blocking,
			}})
			canProceed, _, summary, err := fx.engine.Evaluate(context.Background(), "well-42", "ABANDONO",
				map[string]any{"density": 1.0})
			require.NoError(t, err)
			assert.Equal(t, tt.canProceed, canProceed)
			if !tt.canProceed {
				require.NotEmpty(t, summary.BlockedBy, "blocking summary must name the failing rule")
				assert.Contains(t, summary.BlockedBy[0], "R1")
			}
		})
	}
}

func TestOverrideUnblocksExactRuleOnly(t *testing.T) {
	rules := []regulation.Rule{
		{Code: "R1", Kind: regulation.KindMin, Parameter: "density", Min: f(1.5), Severity: regulation.SeverityError, Blocking: true},
		{Code: "R2", Kind: regulation.KindBoolean, Parameter: "flag", Severity: regulation.SeverityError, Blocking: true},
	}
	fx := newFixture(t, rules)
	observed := map[string]any{"density": 1.0, "flag": false}

	canProceed, results, _, err := fx.engine.Evaluate(context.Background(), "well-42", "ABANDONO", observed)
	require.NoError(t, err)
	require.False(t, canProceed)

	var densityResult *ComplianceResult
	for _, res := range results {
		if res.RuleCode == "R1" {
			densityResult = res
		}
	}
	require.NotNil(t, densityResult)

	_, err = fx.engine.ApplyOverride(context.Background(), densityResult.ID,
		"density verified by lab re-test", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), "sup-9", "SUPERVISOR")
	require.NoError(t, err)

	// R1 is now compensated; R2 still blocks.
	canProceed, results, summary, err := fx.engine.Evaluate(context.Background(), "well-42", "ABANDONO", observed)
	require.NoError(t, err)
	assert.False(t, canProceed)
	require.Len(t, summary.BlockedBy, 1)
	assert.Contains(t, summary.BlockedBy[0], "R2")
	assert.Equal(t, 1, summary.Overridden)

	for _, res := range results {
		if res.RuleCode == "R1" {
			assert.NotEmpty(t, res.OverrideID, "compensated result must reference its override")
		}
	}

	// Fixing R2 clears the block entirely.
	observed["flag"] = true
	canProceed, _, _, err = fx.engine.Evaluate(context.Background(), "well-42", "ABANDONO", observed)
	require.NoError(t, err)
	assert.True(t, canProceed)
}

func TestApplyOverridePermissions(t *testing.T) {
	fx := newFixture(t, []regulation.Rule{{
		Code: "R1", Kind: regulation.KindMin, Parameter: "density", Min: f(1.5),
		Severity: regulation.SeverityError, Blocking: true,
	}})
	_, results, _, err := fx.engine.Evaluate(context.Background(), "well-42", "ABANDONO", map[string]any{"density": 1.0})
	require.NoError(t, err)
	resultID := results[0].ID
	expiry := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err = fx.engine.ApplyOverride(context.Background(), resultID, "reason", expiry, "op-1", "OPERATOR")
	require.ErrorIs(t, err, faults.ErrPermissionDenied)

	_, err = fx.engine.ApplyOverride(context.Background(), resultID, "", expiry, "sup-9", "SUPERVISOR")
	require.ErrorIs(t, err, faults.ErrValidation)

	_, err = fx.engine.ApplyOverride(context.Background(), "missing-result", "reason", expiry, "sup-9", "SUPERVISOR")
	require.ErrorIs(t, err, faults.ErrNotFound)
}

func TestEvaluateRecordsLedgerEntry(t *testing.T) {
	fx := newFixture(t, []regulation.Rule{{
		Code: "R1", Kind: regulation.KindBoolean, Parameter: "flag", Severity: regulation.SeverityError,
	}})
	_, _, _, err := fx.engine.Evaluate(context.Background(), "well-42", "ABANDONO", map[string]any{"flag": true})
	require.NoError(t, err)

	entries, err := fx.led.EventsFor(context.Background(), "well-42")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindComplianceEvaluated, entries[0].Kind)
	assert.Equal(t, "true", entries[0].Metadata["can_proceed"])
}

func TestUncompensatedFails(t *testing.T) {
	fx := newFixture(t, []regulation.Rule{{
		Code: "R1", Kind: regulation.KindMin, Parameter: "density", Min: f(1.5),
		Severity: regulation.SeverityError, Blocking: true,
	}})

	assert.Empty(t, fx.engine.UncompensatedFails("well-42"), "no evaluation yet means nothing to report")

	_, results, _, err := fx.engine.Evaluate(context.Background(), "well-42", "ABANDONO", map[string]any{"density": 1.0})
	require.NoError(t, err)
	require.Len(t, fx.engine.UncompensatedFails("well-42"), 1)

	_, err = fx.engine.ApplyOverride(context.Background(), results[0].ID,
		"compensated", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), "sup-9", "SUPERVISOR")
	require.NoError(t, err)
	assert.Empty(t, fx.engine.UncompensatedFails("well-42"))
}

func TestEvaluateRuleMissingBoundFailsClosed(t *testing.T) {
	fx := newFixture(t, nil)

	tests := []struct {
		name string
		rule regulation.Rule
	}{
		{"min without bound", regulation.Rule{Code: "R1", Kind: regulation.KindMin, Parameter: "density", Severity: regulation.SeverityError}},
		{"max without bound", regulation.Rule{Code: "R2", Kind: regulation.KindMax, Parameter: "density", Severity: regulation.SeverityError}},
		{"range with one bound", regulation.Rule{Code: "R3", Kind: regulation.KindRange, Parameter: "density", Min: f(1.4), Severity: regulation.SeverityError}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := fx.engine.evaluateRule("well-42", "ABANDONO", "v-1", tt.rule, map[string]any{"density": 1.2})
			assert.Equal(t, OutcomeFails, res.Outcome)
			assert.Contains(t, res.Detail, "missing its numeric bound")
		})
	}
}
