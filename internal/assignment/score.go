package assignment

import (
	"sort"
	"time"

	"care-dispatch/internal/models"
)

var neverAssigned = time.Unix(0, 0).UTC()

// LoadScore is active/capacity. A worker with no capacity scores 1.0.
func LoadScore(active, capacity int) float64 {
	if capacity <= 0 {
		return 1.0
	}
	return float64(active) / float64(capacity)
}

// Rank orders candidates by ascending load score, then by oldest
// lastAssignedAt (never-assigned first), then by worker id.
func Rank(candidates []models.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.LoadScore != b.LoadScore {
			return a.LoadScore < b.LoadScore
		}
		ta, tb := lastAssigned(a.Worker), lastAssigned(b.Worker)
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.Worker.ID < b.Worker.ID
	})
}

func lastAssigned(w *models.Worker) time.Time {
	if w.LastAssignedAt == nil {
		return neverAssigned
	}
	return *w.LastAssignedAt
}
