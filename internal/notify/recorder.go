package notify

import (
	"context"
	"sync"

	"care-dispatch/internal/models"
)

// Recorder keeps every notification it receives. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent Notify calls record and then return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *Recorder) All() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.sent...)
}

func (r *Recorder) ByEvent(eventType string) []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Notification
	for _, n := range r.sent {
		if n.EventType == eventType {
			out = append(out, n)
		}
	}
	return out
}

func (r *Recorder) Count(eventType string) int {
	return len(r.ByEvent(eventType))
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
