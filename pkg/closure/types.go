// Package closure gates final case closure behind an auto-evaluated checklist
// that consolidates the policy engine, the deviation validator, the evidence
// registry and the ledger integrity check into one sealed record.
package closure

import "time"

// ItemKey names one of the five fixed checklist items.
type ItemKey string

const (
	ItemCementationValidated ItemKey = "cementation-validated"
	ItemEvidenceCertified    ItemKey = "evidence-certified"
	ItemIntegrityVerified    ItemKey = "integrity-verified"
	ItemActaSigned           ItemKey = "acta-signed"
	ItemQualityControlOK     ItemKey = "quality-control-ok"
)

// checklistKeys fixes the checklist composition and its evaluation order.
var checklistKeys = [5]ItemKey{
	ItemCementationValidated,
	ItemEvidenceCertified,
	ItemIntegrityVerified,
	ItemActaSigned,
	ItemQualityControlOK,
}

// ItemState is the state of one checklist item.
type ItemState string

const (
	ItemPending  ItemState = "PENDING"
	ItemOK       ItemState = "OK"
	ItemRejected ItemState = "REJECTED"
	// ItemNotApplicable is part of the serialized checklist vocabulary for
	// operator tooling; the gate itself derives only the three states above,
	// and approval demands OK — NOT_APPLICABLE never satisfies it.
	ItemNotApplicable ItemState = "NOT_APPLICABLE"
)

// Item is one checklist entry with its latest evaluation.
type Item struct {
	Key         ItemKey    `json:"key"`
	State       ItemState  `json:"state"`
	Observation string     `json:"observation,omitempty"`
	EvaluatedBy string     `json:"evaluated_by,omitempty"`
	EvaluatedAt *time.Time `json:"evaluated_at,omitempty"`
}

// CaseState is the closure lifecycle state.
type CaseState string

const (
	// CaseEnProceso — evaluation in progress, no rejected items.
	CaseEnProceso CaseState = "EN_PROCESO"
	// CaseBloqueado — at least one checklist item is rejected.
	CaseBloqueado CaseState = "BLOQUEADO"
	// CaseAprobado — all items OK and approval granted, seal not yet
	// recorded. Normally transient within Approve; a case is left here only
	// when seal computation fails.
	CaseAprobado CaseState = "APROBADO"
	// CaseCerradoDefendible — terminal: sealed, regulator-defensible closure.
	CaseCerradoDefendible CaseState = "CERRADO_DEFENDIBLE"
)

// Case is one closure dossier.
type Case struct {
	ID         string     `json:"id"`
	State      CaseState  `json:"state"`
	Items      []*Item    `json:"items"`
	Seal       string     `json:"seal,omitempty"`
	Dictamen   string     `json:"dictamen,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// Item returns the checklist item with the given key, or nil.
func (c *Case) Item(key ItemKey) *Item {
	for _, it := range c.Items {
		if it.Key == key {
			return it
		}
	}
	return nil
}

// Snapshot is the stable, serializable shape the export collaborator
// consumes: the checklist as evaluated plus the consolidated seal.
type Snapshot struct {
	CaseID     string     `json:"case_id"`
	State      CaseState  `json:"state"`
	Items      []Item     `json:"items"`
	Seal       string     `json:"seal,omitempty"`
	Dictamen   string     `json:"dictamen,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}
