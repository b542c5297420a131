package models

import "time"

const (
	ReasonNoEligible        = "no_eligible"
	ReasonCapacityExhausted = "capacity_exhausted"
)

// AssignmentOutcome is the result of a scheduling attempt. Assigned=false is a
// normal outcome, not a failure; Reason says why nobody was placed.
type AssignmentOutcome struct {
	ItemID           string     `json:"item_id"`
	Assigned         bool       `json:"assigned"`
	WorkerID         string     `json:"worker_id,omitempty"`
	PreviousWorkerID string     `json:"previous_worker_id,omitempty"`
	LoadScore        float64    `json:"load_score"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	SeniorFallback   bool       `json:"senior_fallback"`
	Reason           string     `json:"reason,omitempty"`
}

// Candidate is an eligible worker with the load figures used to rank it.
type Candidate struct {
	Worker      *Worker `json:"worker"`
	ActiveCount int     `json:"active_count"`
	LoadScore   float64 `json:"load_score"`
}

// Requirements describes what a worker must satisfy to take an item.
type Requirements struct {
	Kind       Kind     `json:"kind"`
	Skill      string   `json:"skill,omitempty"`
	Area       string   `json:"area,omitempty"`
	RiskTier   RiskTier `json:"risk_tier"`
	Exclude    []string `json:"exclude,omitempty"`
	SeniorOnly bool     `json:"senior_only,omitempty"`
}

// RequirementsFor derives scheduling requirements from an item.
func RequirementsFor(item *WorkItem) Requirements {
	return Requirements{
		Kind:     item.Kind,
		Skill:    item.RequiredSkill,
		Area:     item.Area,
		RiskTier: item.RiskTier,
	}
}
