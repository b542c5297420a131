package notify

import (
	"context"

	"care-dispatch/internal/models"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes every notification to the log. Used when no transport
// is configured.
type LogNotifier struct {
	log *logrus.Entry
}

func NewLogNotifier(log *logrus.Entry) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n models.Notification) error {
	entry := l.log.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"recipient_id":    n.RecipientID,
		"role":            n.Role,
		"channel":         n.Channel,
		"event_type":      n.EventType,
		"item_id":         n.ItemID,
	})
	if n.Urgent {
		entry.Warn(n.Title)
		return nil
	}
	entry.Info(n.Title)
	return nil
}
