package deviation

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aconcagua-systems/pna-core/pkg/faults"
	"github.com/aconcagua-systems/pna-core/pkg/ledger"
	"github.com/aconcagua-systems/pna-core/pkg/override"
)

// Validator records measurements against approved baselines and keeps the
// resulting classifications. Collaborator handles are injected at
// construction.
type Validator struct {
	ledger    *ledger.Ledger
	overrides *override.Registry

	mu        sync.RWMutex
	baselines map[string]*Baseline
	results   map[string]*Result
	byCase    map[string][]*Result
	clock     func() time.Time
}

// NewValidator creates a validator over the given collaborators.
func NewValidator(led *ledger.Ledger, ovr *override.Registry) *Validator {
	return &Validator{
		ledger:    led,
		overrides: ovr,
		baselines: make(map[string]*Baseline),
		results:   make(map[string]*Result),
		byCase:    make(map[string][]*Result),
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (v *Validator) WithClock(clock func() time.Time) *Validator {
	v.clock = clock
	return v
}

// CreateBaseline registers a draft design baseline for a case.
func (v *Validator) CreateBaseline(b Baseline) (*Baseline, error) {
	if b.CaseID == "" {
		return nil, fmt.Errorf("deviation: baseline requires a case id: %w", faults.ErrValidation)
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.State = BaselineDraft

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.baselines[b.ID]; exists {
		return nil, fmt.Errorf("deviation: baseline %q already exists: %w", b.ID, faults.ErrValidation)
	}
	v.baselines[b.ID] = &b
	return &b, nil
}

// ApproveBaseline promotes a draft baseline to APPROVED and records the
// approval. Measurements are accepted only after this point.
func (v *Validator) ApproveBaseline(ctx context.Context, baselineID, actorID, actorRole string) error {
	v.mu.Lock()
	b, ok := v.baselines[baselineID]
	if !ok {
		v.mu.Unlock()
		return fmt.Errorf("deviation: baseline %q: %w", baselineID, faults.ErrNotFound)
	}
	if b.State == BaselineApproved {
		v.mu.Unlock()
		return fmt.Errorf("deviation: baseline %q already approved: %w", baselineID, faults.ErrValidation)
	}
	prior := b.State
	b.State = BaselineApproved
	v.mu.Unlock()

	if _, err := v.ledger.Append(ctx, ledger.Event{
		ActorID:     actorID,
		ActorRole:   actorRole,
		Kind:        ledger.KindBaselineApproved,
		SubjectType: "design_baseline",
		SubjectID:   baselineID,
		Prior:       map[string]string{"state": string(prior)},
		New:         map[string]string{"state": string(BaselineApproved)},
		Metadata:    map[string]string{"case_id": b.CaseID},
	}); err != nil {
		return fmt.Errorf("deviation: record baseline approval: %w", err)
	}
	return nil
}

// RecordMeasurement validates a measurement against its baseline and stores
// exactly one deterministic result.
func (v *Validator) RecordMeasurement(ctx context.Context, baselineID string, m Measurement, actorID, actorRole string) (*Result, error) {
	// Snapshot the baseline while holding the lock; ApproveBaseline mutates
	// its state under the same lock from concurrent callers.
	v.mu.RLock()
	stored, ok := v.baselines[baselineID]
	var b Baseline
	if ok {
		b = *stored
	}
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("deviation: measurement against unknown baseline %q: %w", baselineID, faults.ErrValidation)
	}
	if b.State != BaselineApproved {
		return nil, fmt.Errorf("deviation: baseline %q is %s, measurements require an approved baseline: %w",
			baselineID, b.State, faults.ErrValidation)
	}

	volDev, densDev, pressureExceeded, class := Classify(&b, m)
	res := &Result{
		ID:               uuid.New().String(),
		BaselineID:       baselineID,
		CaseID:           b.CaseID,
		Measured:         m,
		VolumeDeviation:  volDev,
		DensityDeviation: densDev,
		PressureExceeded: pressureExceeded,
		Classification:   class,
		Detail:           describe(&b, volDev, densDev, pressureExceeded, class),
		RecordedAt:       v.clock().UTC(),
	}

	if _, err := v.ledger.Append(ctx, ledger.Event{
		ActorID:     actorID,
		ActorRole:   actorRole,
		Kind:        ledger.KindMeasurementRecorded,
		SubjectType: "deviation_result",
		SubjectID:   res.ID,
		New:         res,
		Metadata: map[string]string{
			"case_id":           b.CaseID,
			"baseline_id":       baselineID,
			"classification":    string(class),
			"pressure_exceeded": strconv.FormatBool(pressureExceeded),
		},
	}); err != nil {
		return nil, fmt.Errorf("deviation: record measurement: %w", err)
	}

	v.mu.Lock()
	v.results[res.ID] = res
	v.byCase[b.CaseID] = append(v.byCase[b.CaseID], res)
	v.mu.Unlock()

	return res, nil
}

// ApplyOverride grants a governed exception for one CRITICAL result. It
// suppresses the blocking effect only; the stored classification stands.
func (v *Validator) ApplyOverride(ctx context.Context, resultID, justification string, expiry time.Time, actorID, actorRole string) (*override.Override, error) {
	v.mu.RLock()
	res, ok := v.results[resultID]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("deviation: result %q: %w", resultID, faults.ErrNotFound)
	}

	return v.overrides.Grant(ctx, override.GrantRequest{
		CaseID:        res.CaseID,
		TargetID:      resultID,
		Justification: justification,
		Expiry:        expiry,
		ActorID:       actorID,
		ActorRole:     actorRole,
	})
}

// Result returns a stored result by id.
func (v *Validator) Result(resultID string) (*Result, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	res, ok := v.results[resultID]
	if !ok {
		return nil, fmt.Errorf("deviation: result %q: %w", resultID, faults.ErrNotFound)
	}
	return res, nil
}

// ResultsForCase returns every result recorded for a case.
func (v *Validator) ResultsForCase(caseID string) []*Result {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]*Result(nil), v.byCase[caseID]...)
}

// BaselinesForCase returns copies of the baselines registered for a case.
// Copies, because approval mutates baseline state under the lock and callers
// read outside it.
func (v *Validator) BaselinesForCase(caseID string) []*Baseline {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []*Baseline
	for _, b := range v.baselines {
		if b.CaseID == caseID {
			snapshot := *b
			out = append(out, &snapshot)
		}
	}
	return out
}

// UncompensatedCritical returns the CRITICAL results for a case that have no
// active override. These are the results that block closure.
func (v *Validator) UncompensatedCritical(caseID string) []*Result {
	v.mu.RLock()
	results := append([]*Result(nil), v.byCase[caseID]...)
	v.mu.RUnlock()

	var out []*Result
	for _, res := range results {
		if res.Classification == ClassCritical && v.overrides.ActiveFor(res.ID) == nil {
			out = append(out, res)
		}
	}
	return out
}

func describe(b *Baseline, volDev, densDev float64, pressureExceeded bool, class Classification) string {
	if class == ClassOK {
		return "measurement within tolerance"
	}
	msg := fmt.Sprintf("volume deviation %.2f%%, density deviation %.2f%%", volDev*100, densDev*100)
	if pressureExceeded {
		msg += fmt.Sprintf("; pressure exceeds allowed maximum %.1f", b.MaxPressureAllowed)
	}
	return string(class) + ": " + msg
}
