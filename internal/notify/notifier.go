// Package notify delivers best-effort notifications to workers, requesters
// and operators. Nothing in the dispatch core waits on or retries a delivery.
package notify

import (
	"context"
	"errors"
	"time"

	"care-dispatch/internal/metrics"
	"care-dispatch/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrQueueFull = errors.New("notification queue full")

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n models.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n models.Notification) error {
	return f(ctx, n)
}

// Dispatcher stamps and sends notifications, logging and counting failures
// instead of returning them.
type Dispatcher struct {
	notifier     Notifier
	log          *logrus.Entry
	metrics      metrics.Collector
	opsRecipient string
	now          func() time.Time
}

func NewDispatcher(notifier Notifier, log *logrus.Entry, m metrics.Collector, opsRecipient string) *Dispatcher {
	if m == nil {
		m = metrics.Nop{}
	}
	if opsRecipient == "" {
		opsRecipient = "ops"
	}
	return &Dispatcher{
		notifier:     notifier,
		log:          log,
		metrics:      m,
		opsRecipient: opsRecipient,
		now:          time.Now,
	}
}

// Emit sends n. A failure is logged and never propagated.
func (d *Dispatcher) Emit(ctx context.Context, n models.Notification) {
	if d == nil || d.notifier == nil {
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now().UTC()
	}
	if n.Channel == "" {
		n.Channel = models.ChannelPush
	}

	if err := d.notifier.Notify(ctx, n); err != nil {
		d.metrics.ObserveNotificationFailure(n.EventType)
		d.log.WithError(err).WithFields(logrus.Fields{
			"event_type":   n.EventType,
			"recipient_id": n.RecipientID,
			"item_id":      n.ItemID,
		}).Warn("Notification delivery failed")
	}
}

// Ops addresses n to the operator group and sends it.
func (d *Dispatcher) Ops(ctx context.Context, n models.Notification) {
	if d == nil {
		return
	}
	n.RecipientID = d.opsRecipient
	n.Role = models.RoleOperator
	d.Emit(ctx, n)
}

// OpsRecipient is the recipient id used for operator alerts.
func (d *Dispatcher) OpsRecipient() string {
	return d.opsRecipient
}
