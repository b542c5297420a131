package main

import (
	"net/http"

	"care-dispatch/internal/assignment"
	"care-dispatch/internal/models"

	"github.com/gorilla/mux"
)

type placeRequest struct {
	Exclude []string `json:"exclude"`
}

type cancelRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

type pendingResponse struct {
	Status  string                    `json:"status"`
	Message string                    `json:"message"`
	Outcome *models.AssignmentOutcome `json:"outcome"`
}

// writeOutcome answers 200 for a placement and 202 when nobody was eligible;
// the latter is a normal result and operators have been alerted.
func writeOutcome(w http.ResponseWriter, out *models.AssignmentOutcome) {
	if out.Assigned {
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeJSON(w, http.StatusAccepted, pendingResponse{Status: "pending", Message: "pending, alert sent", Outcome: out})
}

func (s *server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.engine.Assign(r.Context(), mux.Vars(r)["id"], req.Exclude...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

func (s *server) handleReassign(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.engine.Reassign(r.Context(), mux.Vars(r)["id"], req.Exclude)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.engine.Cancel(r.Context(), assignment.CancelCommand{
		ItemID:  mux.Vars(r)["id"],
		ActorID: req.ActorID,
		Reason:  req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *server) handleActions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actions, err := s.engine.AvailableActions(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"item_id": id, "actions": actions})
}

func (s *server) handleEligible(w http.ResponseWriter, r *http.Request) {
	var req models.Requirements
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	candidates, err := s.engine.EligibleWorkers(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if candidates == nil {
		candidates = []models.Candidate{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": candidates})
}

func (s *server) handleEscalationScan(w http.ResponseWriter, r *http.Request) {
	report, err := s.timer.RunScan(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) handleLabScan(w http.ResponseWriter, r *http.Request) {
	report, err := s.lab.RunScan(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
