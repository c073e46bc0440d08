// Package gatefsm implements the Gate State Machine: the component that
// owns gate-status transitions for a project as it moves through the fixed
// G1..G9 approval sequence, consulting the Proof Ledger and Deliverable Set
// before permitting a transition.
package gatefsm

import (
	"fmt"
	"strings"
)

// GateType is a closed sum type over the fixed gate sequence. Unlike a bare
// string, it has total Next/Previous functions and cannot represent a gate
// outside G1..G9.
type GateType string

const (
	G1 GateType = "G1"
	G2 GateType = "G2"
	G3 GateType = "G3"
	G4 GateType = "G4"
	G5 GateType = "G5"
	G6 GateType = "G6"
	G7 GateType = "G7"
	G8 GateType = "G8"
	G9 GateType = "G9"
)

// Ordering is the fixed gate sequence G1 < G2 < ... < G9.
var Ordering = []GateType{G1, G2, G3, G4, G5, G6, G7, G8, G9}

func indexOf(g GateType) int {
	for i, o := range Ordering {
		if o == g {
			return i
		}
	}
	return -1
}

// Valid reports whether g is one of the fixed gate types.
func (g GateType) Valid() bool {
	return indexOf(g) >= 0
}

// Next returns the successor gate and true, or the zero value and false if
// g is G9 (terminal) or not a recognized gate.
func (g GateType) Next() (GateType, bool) {
	i := indexOf(g)
	if i < 0 || i == len(Ordering)-1 {
		return "", false
	}
	return Ordering[i+1], true
}

// Previous returns the predecessor gate and true, or the zero value and
// false if g is G1 (first) or not a recognized gate.
func (g GateType) Previous() (GateType, bool) {
	i := indexOf(g)
	if i <= 0 {
		return "", false
	}
	return Ordering[i-1], true
}

// Before reports whether g sorts strictly before other in the fixed ordering.
func (g GateType) Before(other GateType) bool {
	return indexOf(g) < indexOf(other)
}

// Status is a gate's lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusInReview  Status = "IN_REVIEW"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusBlocked   Status = "BLOCKED"
)

// Config is the canned {description, passingCriteria, requiresProof} entry
// for one gate, seeded at project creation and overridable per project.
type Config struct {
	Description     string
	PassingCriteria string
	RequiresProof   bool
}

// DefaultRegistry is the authoritative per-gate configuration: requiresProof
// is false for G1, G2, G4 and true for G3, G5..G9 unless a project overrides
// it.
var DefaultRegistry = map[GateType]Config{
	G1: {Description: "Initial scoping and opportunity framing", PassingCriteria: "Problem statement and target users are recorded", RequiresProof: false},
	G2: {Description: "Product requirements review", PassingCriteria: "PRD reviewed and accepted", RequiresProof: false},
	G3: {Description: "Technical specification validation", PassingCriteria: "API and data contracts validated", RequiresProof: true},
	G4: {Description: "UX/UI design review", PassingCriteria: "Design artifacts reviewed", RequiresProof: false},
	G5: {Description: "Implementation review", PassingCriteria: "Build, lint, and tests pass", RequiresProof: true},
	G6: {Description: "QA and accessibility review", PassingCriteria: "Tests, coverage, accessibility, and performance pass", RequiresProof: true},
	G7: {Description: "Security and privacy review", PassingCriteria: "Security scan and lint pass", RequiresProof: true},
	G8: {Description: "Deployment readiness review", PassingCriteria: "Build and deployment logs confirm readiness", RequiresProof: true},
	G9: {Description: "Production launch review", PassingCriteria: "Deployment and smoke tests pass in production", RequiresProof: true},
}

// RequiredProofTypes lists, per gate, the proof types the Proof Ledger must
// show at least one passing artifact for. An empty list (no entry here)
// means "any single pass proof of any type suffices" — the resolution of
// the spec's first open question.
var RequiredProofTypes = map[GateType][]string{
	G2: {"prd_review"},
	G3: {"spec_validation"},
	G5: {"build_output", "lint_output", "test_output"},
	G6: {"test_output", "coverage_report", "accessibility_scan", "lighthouse_report"},
	G7: {"security_scan", "lint_output"},
	G8: {"build_output", "deployment_log"},
	G9: {"deployment_log", "smoke_test"},
}

// ValidateApprovalResponse normalizes and checks a free-text approval
// string. It is valid iff it contains one of approved/yes/approve/accept.
// It is explicitly invalid (not merely unrecognized) if it exactly equals
// ok/sure/fine/alright — ambiguous polite acknowledgments are rejected by
// design; the caller must say "approved" or "yes".
func ValidateApprovalResponse(response string) (ok bool, guidance string) {
	normalized := strings.ToLower(strings.TrimSpace(response))

	for _, ambiguous := range []string{"ok", "sure", "fine", "alright"} {
		if normalized == ambiguous {
			return false, fmt.Sprintf("%q is an ambiguous acknowledgment; say \"approved\" or \"yes\" to approve this gate", response)
		}
	}

	for _, token := range []string{"approved", "yes", "approve", "accept"} {
		if strings.Contains(normalized, token) {
			return true, ""
		}
	}

	return false, "approval response not recognized; say \"approved\" or \"yes\" to approve this gate"
}
