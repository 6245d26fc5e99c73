// Package ledger implements the tamper-evident, append-only event log at the
// base of the regulatory core.
//
// Every state-changing action in the system lands here as a hash-chained entry:
//   - Each entry's hash covers its payload plus the previous entry's hash
//   - Append-only; no mutation or deletion
//   - The chain starts from a well-known genesis hash (64 zero nibbles)
package ledger

import (
	"encoding/json"
	"time"
)

// GenesisHash anchors the chain before the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EventKind categorizes ledger entries.
type EventKind string

const (
	KindRegulationPublished EventKind = "REGULATION_PUBLISHED"
	KindComplianceEvaluated EventKind = "COMPLIANCE_EVALUATED"
	KindOverrideGranted     EventKind = "OVERRIDE_GRANTED"
	KindBaselineApproved    EventKind = "BASELINE_APPROVED"
	KindMeasurementRecorded EventKind = "MEASUREMENT_RECORDED"
	KindDocumentCertified   EventKind = "DOCUMENT_CERTIFIED"
	KindChecklistEvaluated  EventKind = "CHECKLIST_EVALUATED"
	KindActaSigned          EventKind = "ACTA_SIGNED"
	KindClosureApproved     EventKind = "CLOSURE_APPROVED"
)

// Entry is a single immutable record in the chain.
type Entry struct {
	Sequence    uint64            `json:"sequence"`
	Timestamp   time.Time         `json:"timestamp"`
	ActorID     string            `json:"actor_id"`
	ActorRole   string            `json:"actor_role"`
	Kind        EventKind         `json:"kind"`
	SubjectType string            `json:"subject_type"`
	SubjectID   string            `json:"subject_id"`
	PriorState  json.RawMessage   `json:"prior_state,omitempty"`
	NewState    json.RawMessage   `json:"new_state,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	PrevHash    string            `json:"prev_hash"`
	EntryHash   string            `json:"entry_hash"`
}

// Event is the caller-supplied payload for an append. Prior and New are
// snapshots of the subject before and after the action; either may be nil.
type Event struct {
	ActorID     string
	ActorRole   string
	Kind        EventKind
	SubjectType string
	SubjectID   string
	Prior       any
	New         any
	Metadata    map[string]string
}

// ViolationKind classifies an integrity fault found during verification.
type ViolationKind string

const (
	// ViolationChainBroken — an entry's prev_hash does not match the hash of
	// its predecessor (a link was severed or an entry inserted/removed).
	ViolationChainBroken ViolationKind = "CHAIN_BROKEN"
	// ViolationHashMismatch — an entry's stored hash does not match the hash
	// recomputed from its stored fields (the entry was altered in place).
	ViolationHashMismatch ViolationKind = "HASH_MISMATCH"
	// ViolationSequenceGap — entry sequence numbers are not contiguous.
	ViolationSequenceGap ViolationKind = "SEQUENCE_GAP"
)

// Violation reports one integrity fault at one chain position.
type Violation struct {
	Position    uint64        `json:"position"`
	Kind        ViolationKind `json:"kind"`
	SubjectType string        `json:"subject_type,omitempty"`
	SubjectID   string        `json:"subject_id,omitempty"`
	Detail      string        `json:"detail"`
}
