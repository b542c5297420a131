package collection

import "care-dispatch/internal/models"

// Flags reported on a TransitionResult.
const (
	FlagFastingViolation    = "fasting_violation"
	FlagTubeCountMismatch   = "tube_count_mismatch"
	FlagAttemptLimitReached = "attempt_limit_reached"
	FlagCriticalValue       = "critical_value"
)

// ActorCommand identifies an item and the party acting on it.
type ActorCommand struct {
	ItemID  string `json:"item_id"`
	ActorID string `json:"actor_id"`
}

type CollectCommand struct {
	ItemID       string  `json:"item_id"`
	ActorID      string  `json:"actor_id"`
	FastingHours float64 `json:"fasting_hours"`
	TubeCount    int     `json:"tube_count"`
}

type FailCommand struct {
	ItemID  string `json:"item_id"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

type DeliverCommand struct {
	ItemID  string `json:"item_id"`
	ActorID string `json:"actor_id"`
	LabID   string `json:"lab_id"`
}

type ReceiveCommand struct {
	ItemID    string `json:"item_id"`
	ActorID   string `json:"actor_id"`
	TubeCount int    `json:"tube_count"`
}

type IssueCommand struct {
	ItemID  string `json:"item_id"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

// AdvanceCommand moves a received sample through the result lifecycle.
type AdvanceCommand struct {
	ItemID        string        `json:"item_id"`
	ActorID       string        `json:"actor_id"`
	To            models.Status `json:"to"`
	CriticalValue bool          `json:"critical_value"`
}

type TransitionResult struct {
	Item  *models.WorkItem `json:"item"`
	From  models.Status    `json:"from"`
	To    models.Status    `json:"to"`
	Flags []string         `json:"flags,omitempty"`
}

// HasFlag reports whether the transition raised flag.
func (r *TransitionResult) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
