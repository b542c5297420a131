package notify

import (
	"context"
	"errors"

	"care-dispatch/internal/models"
)

// ChannelRouter sends each notification to the notifier registered for its
// channel, or to the fallback when none is.
type ChannelRouter struct {
	routes   map[models.Channel]Notifier
	fallback Notifier
}

func NewChannelRouter(fallback Notifier) *ChannelRouter {
	return &ChannelRouter{routes: make(map[models.Channel]Notifier), fallback: fallback}
}

// Route registers n for channel. Not safe to call once notifications flow.
func (r *ChannelRouter) Route(channel models.Channel, n Notifier) *ChannelRouter {
	r.routes[channel] = n
	return r
}

func (r *ChannelRouter) Notify(ctx context.Context, n models.Notification) error {
	if target, ok := r.routes[n.Channel]; ok {
		return target.Notify(ctx, n)
	}
	if r.fallback == nil {
		return nil
	}
	return r.fallback.Notify(ctx, n)
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
