// Package intake consumes work-item events from Kafka and hands them to the
// scheduler.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"care-dispatch/internal/apperr"
	"care-dispatch/internal/assignment"
	"care-dispatch/internal/models"

	kgo "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Event types accepted on the work-item topic.
const (
	EventReady     = "work_item.ready"
	EventCancelled = "work_item.cancelled"
)

// Event announces a work item. Item is optional; when present and unknown to
// the store it is created before scheduling.
type Event struct {
	Type    string           `json:"type"`
	ItemID  string           `json:"item_id"`
	ActorID string           `json:"actor_id,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	Item    *models.WorkItem `json:"item,omitempty"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kgo.Message, error)
	CommitMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

type Items interface {
	GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error)
	CreateWorkItem(ctx context.Context, item *models.WorkItem) error
}

type Scheduler interface {
	Assign(ctx context.Context, itemID string, exclude ...string) (*models.AssignmentOutcome, error)
	Cancel(ctx context.Context, cmd assignment.CancelCommand) (*models.WorkItem, error)
}

type Consumer struct {
	reader    messageReader
	items     Items
	scheduler Scheduler
	log       *logrus.Entry
	backoff   time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, items Items, scheduler Scheduler, log *logrus.Entry) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" || groupID == "" {
		return nil, errors.New("kafka topic and group id are required")
	}
	r := kgo.NewReader(kgo.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return newConsumer(r, items, scheduler, log), nil
}

func newConsumer(r messageReader, items Items, scheduler Scheduler, log *logrus.Entry) *Consumer {
	return &Consumer{reader: r, items: items, scheduler: scheduler, log: log, backoff: 500 * time.Millisecond}
}

func (c *Consumer) Close() error { return c.reader.Close() }

// Run processes messages until ctx is cancelled. Offsets are committed only
// after an event is handled or judged permanently unprocessable, so
// transient failures are redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).Warn("Fetch failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		entry := c.log.WithFields(logrus.Fields{"partition": m.Partition, "offset": m.Offset})
		if err := c.handleMessage(ctx, m); err != nil {
			if !permanent(err) {
				entry.WithError(err).Error("Event handling failed, leaving uncommitted")
				continue
			}
			entry.WithError(err).Warn("Dropping unprocessable event")
		}

		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := c.reader.CommitMessages(cctx, m); err != nil {
			entry.WithError(err).Warn("Commit failed")
		}
		cancel()
	}
}

type badEvent struct{ err error }

func (b badEvent) Error() string { return b.err.Error() }
func (b badEvent) Unwrap() error { return b.err }

func permanent(err error) bool {
	var bad badEvent
	if errors.As(err, &bad) {
		return true
	}
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindInvalidState, apperr.KindInvalidTransition, apperr.KindValidation, apperr.KindForbidden:
		return true
	}
	return false
}

func (c *Consumer) handleMessage(ctx context.Context, m kgo.Message) error {
	var ev Event
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return badEvent{fmt.Errorf("decode event: %w", err)}
	}
	if ev.ItemID == "" && ev.Item != nil {
		ev.ItemID = ev.Item.ID
	}
	if ev.ItemID == "" {
		return badEvent{errors.New("event has no item id")}
	}
	return c.Handle(ctx, ev)
}

// Handle applies one event.
func (c *Consumer) Handle(ctx context.Context, ev Event) error {
	entry := c.log.WithFields(logrus.Fields{"event_type": ev.Type, "item_id": ev.ItemID})

	switch ev.Type {
	case EventReady:
		if ev.Item != nil {
			if err := c.ensureItem(ctx, ev.Item); err != nil {
				return err
			}
		}
		out, err := c.scheduler.Assign(ctx, ev.ItemID)
		if err != nil {
			return err
		}
		if out.Assigned {
			entry.WithField("worker_id", out.WorkerID).Info("Work item assigned from event")
		} else {
			entry.WithField("reason", out.Reason).Warn("Work item from event left unassigned")
		}
		return nil
	case EventCancelled:
		_, err := c.scheduler.Cancel(ctx, assignment.CancelCommand{ItemID: ev.ItemID, ActorID: ev.ActorID, Reason: ev.Reason})
		if err == nil {
			entry.Info("Work item cancelled from event")
		}
		return err
	default:
		return badEvent{fmt.Errorf("unknown event type %q", ev.Type)}
	}
}

func (c *Consumer) ensureItem(ctx context.Context, item *models.WorkItem) error {
	if item.ID == "" {
		return badEvent{errors.New("embedded item has no id")}
	}
	if _, err := c.items.GetWorkItem(ctx, item.ID); err == nil {
		return nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	err := c.items.CreateWorkItem(ctx, item)
	if apperr.KindOf(err) == apperr.KindConflict {
		return nil
	}
	return err
}
