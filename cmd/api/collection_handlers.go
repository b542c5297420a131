package main

import (
	"net/http"

	"care-dispatch/internal/collection"

	"github.com/gorilla/mux"
)

// transition decodes cmd, stamps the path id through setID, and runs fn.
func transition[C any](s *server, w http.ResponseWriter, r *http.Request, setID func(*C, string), fn func(*http.Request, C) (*collection.TransitionResult, error)) {
	var cmd C
	if err := decode(r, &cmd); err != nil {
		s.writeError(w, r, err)
		return
	}
	setID(&cmd, mux.Vars(r)["id"])
	res, err := fn(r, cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func setActorItem(c *collection.ActorCommand, id string) { c.ItemID = id }

func (s *server) handleStartRoute(w http.ResponseWriter, r *http.Request) {
	transition(s, w, r, setActorItem, func(r *http.Request, c collection.ActorCommand) (*collection.TransitionResult, error) {
		return s.machine.StartRoute(r.Context(), c)
	})
}

func (s *server) handleCollected(w http.ResponseWriter, r *http.Request) {
	transition(s, w, r, func(c *collection.CollectCommand, id string) { c.ItemID = id },
		func(r *http.Request, c collection.CollectCommand) (*collection.TransitionResult, error) {
			return s.machine.MarkCollected(r.Context(), c)
		})
}

func (s *server) handleFailed(w http.ResponseWriter, r *http.Request) {
	transition(s, w, r, func(c *collection.FailCommand, id string) { c.ItemID = id },
		func(r *http.Request, c collection.FailCommand) (*collection.TransitionResult, error) {
			return s.machine.MarkFailed(r.Context(), c)
		})
}

func (s *server) handleRebook(w http.ResponseWriter, r *http.Request) {
	out, err := s.machine.Rebook(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

func (s *server) handleInTransit(w http.ResponseWriter, r *http.Request) {
	transition(s, w, r, setActorItem, func(r *http.Request, c collection.ActorCommand) (*collection.TransitionResult, error) {
		return s.machine.StartTransit(r.Context(), c)
	})
}

func (s *server) handleDelivered(w http.ResponseWriter, r *http.Request) {
	transition(s, w, r, func(c *collection.DeliverCommand, id string) { c.ItemID = id },
		func(r *http.Request, c collection.DeliverCommand) (*collection.TransitionResult, error) {
			return s.machine.MarkDelivered(r.Context(), c)
		})
}

func (s *server) handleReceived(w http.ResponseWriter, r *http.Request) {
	transition(s, w, r, func(c *collection.ReceiveCommand, id string) { c.ItemID = id },
		func(r *http.Request, c collection.ReceiveCommand) (*collection.TransitionResult, error) {
			return s.machine.MarkReceived(r.Context(), c)
		})
}

func (s *server) handleIssue(w http.ResponseWriter, r *http.Request) {
	transition(s, w, r, func(c *collection.IssueCommand, id string) { c.ItemID = id },
		func(r *http.Request, c collection.IssueCommand) (*collection.TransitionResult, error) {
			return s.machine.ReportSampleIssue(r.Context(), c)
		})
}

func (s *server) handleRecollect(w http.ResponseWriter, r *http.Request) {
	transition(s, w, r, setActorItem, func(r *http.Request, c collection.ActorCommand) (*collection.TransitionResult, error) {
		return s.machine.RebookCollection(r.Context(), c)
	})
}

func (s *server) handleResults(w http.ResponseWriter, r *http.Request) {
	transition(s, w, r, func(c *collection.AdvanceCommand, id string) { c.ItemID = id },
		func(r *http.Request, c collection.AdvanceCommand) (*collection.TransitionResult, error) {
			return s.machine.Advance(r.Context(), c)
		})
}

func (s *server) handleCriticalAck(w http.ResponseWriter, r *http.Request) {
	var cmd collection.ActorCommand
	if err := decode(r, &cmd); err != nil {
		s.writeError(w, r, err)
		return
	}
	cmd.ItemID = mux.Vars(r)["id"]
	item, err := s.machine.AcknowledgeCritical(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
