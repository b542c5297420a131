package main

import (
	"fmt"
	"html"
	"net/http"
	"time"

	"care-dispatch/internal/models"

	"github.com/starfederation/datastar-go/datastar"
)

type alertSignals struct {
	UrgentOnly bool `json:"urgentOnly"`
}

// handleAlertFeed streams operator alerts as datastar element patches,
// newest first.
func (s *server) handleAlertFeed(w http.ResponseWriter, r *http.Request) {
	signals := &alertSignals{}
	if err := datastar.ReadSignals(r, signals); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	alerts, unsubscribe := s.hub.Subscribe(32, func(n models.Notification) bool {
		if n.Role != models.RoleOperator {
			return false
		}
		return !signals.UrgentOnly || n.Urgent
	})
	defer unsubscribe()

	// the feed outlives the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	sse := datastar.NewSSE(w, r)
	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-alerts:
			if !ok {
				return
			}
			if err := sse.PatchElements(alertRow(n), datastar.WithSelectorID("alerts"), datastar.WithModePrepend()); err != nil {
				s.log.WithContext(r.Context()).WithError(err).Debug("Alert feed closed")
				return
			}
		}
	}
}

func alertRow(n models.Notification) string {
	class := "row"
	if n.Urgent {
		class += " urgent"
	}
	return fmt.Sprintf(
		`<div id="alert-%s" class="%s"><div class="col"><span>%s</span><label>%s · %s · %s</label><p>%s</p></div></div>`,
		html.EscapeString(n.ID),
		class,
		html.EscapeString(n.Title),
		html.EscapeString(n.EventType),
		html.EscapeString(n.ItemID),
		n.CreatedAt.UTC().Format(time.RFC3339),
		html.EscapeString(n.Body),
	)
}
