package notify

import (
	"context"
	"sync"
	"time"

	"care-dispatch/internal/models"

	"github.com/sirupsen/logrus"
)

// Async queues notifications and delivers them from a background goroutine
// so callers never wait on a transport. A full queue rejects with ErrQueueFull.
type Async struct {
	next    Notifier
	queue   chan job
	log     *logrus.Entry
	timeout time.Duration

	once sync.Once
	wg   sync.WaitGroup
	mu   sync.RWMutex
	done bool
}

type job struct {
	ctx context.Context
	n   models.Notification
}

func NewAsync(next Notifier, size int, log *logrus.Entry) *Async {
	if size <= 0 {
		size = 256
	}
	a := &Async{
		next:    next,
		queue:   make(chan job, size),
		log:     log,
		timeout: 10 * time.Second,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Notify(ctx context.Context, n models.Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.done {
		return ErrQueueFull
	}
	select {
	case a.queue <- job{ctx: context.WithoutCancel(ctx), n: n}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer a.wg.Done()
	for j := range a.queue {
		ctx, cancel := context.WithTimeout(j.ctx, a.timeout)
		if err := a.next.Notify(ctx, j.n); err != nil {
			a.log.WithError(err).WithFields(logrus.Fields{
				"event_type":   j.n.EventType,
				"recipient_id": j.n.RecipientID,
			}).Warn("Queued notification delivery failed")
		}
		cancel()
	}
}

// Close stops accepting notifications and waits for the queue to drain.
func (a *Async) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.done = true
		close(a.queue)
		a.mu.Unlock()
	})
	a.wg.Wait()
}
