package assignment

import (
	"context"
	"time"

	"care-dispatch/internal/models"
)

// EligibleWorkers returns the workers that pass every hard constraint for req,
// ranked best first. Load is read from the store on every call.
func (e *Engine) EligibleWorkers(ctx context.Context, req models.Requirements) ([]models.Candidate, error) {
	return e.eligibleAt(ctx, req, e.now())
}

func (e *Engine) eligibleAt(ctx context.Context, req models.Requirements, now time.Time) ([]models.Candidate, error) {
	role := req.Kind.WorkerRole()
	workers, err := e.db.ListWorkers(ctx, role)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(req.Exclude))
	for _, id := range req.Exclude {
		excluded[id] = true
	}

	pool := make([]*models.Worker, 0, len(workers))
	for _, w := range workers {
		if passesStatic(w, role, req, excluded) {
			pool = append(pool, w)
		}
	}
	if len(pool) == 0 {
		return nil, nil
	}

	return e.filterByLoad(ctx, pool, now)
}

// passesStatic applies the constraints that need no load read, in order:
// active, verified, positive capacity, role, skill and area, senior gate, exclusion.
func passesStatic(w *models.Worker, role models.Role, req models.Requirements, excluded map[string]bool) bool {
	switch {
	case !w.Active:
		return false
	case !w.Verified:
		return false
	case w.DailyCapacity <= 0:
		return false
	case w.Role != role:
		return false
	case !w.HasSkill(req.Skill) || !w.ServesArea(req.Area):
		return false
	case req.SeniorOnly && !w.Senior:
		return false
	case excluded[w.ID]:
		return false
	}
	return true
}

func (e *Engine) filterByLoad(ctx context.Context, pool []*models.Worker, now time.Time) ([]models.Candidate, error) {
	ids := make([]string, len(pool))
	for i, w := range pool {
		ids[i] = w.ID
	}
	loads, err := e.db.DailyLoads(ctx, ids, models.RosterDate(now))
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(pool))
	for _, w := range pool {
		active := loads[w.ID]
		if active >= w.DailyCapacity {
			continue
		}
		candidates = append(candidates, models.Candidate{
			Worker:      w,
			ActiveCount: active,
			LoadScore:   LoadScore(active, w.DailyCapacity),
		})
	}
	Rank(candidates)
	return candidates, nil
}

// rankedCandidates runs the two-pass search for HIGH risk items: seniors
// only, then everyone. fallback reports that the second pass was used.
func (e *Engine) rankedCandidates(ctx context.Context, req models.Requirements, now time.Time) (candidates []models.Candidate, fallback bool, err error) {
	if req.RiskTier != models.RiskHigh {
		candidates, err = e.eligibleAt(ctx, req, now)
		return candidates, false, err
	}

	senior := req
	senior.SeniorOnly = true
	candidates, err = e.eligibleAt(ctx, senior, now)
	if err != nil || len(candidates) > 0 {
		return candidates, false, err
	}

	req.SeniorOnly = false
	candidates, err = e.eligibleAt(ctx, req, now)
	return candidates, len(candidates) > 0, err
}
