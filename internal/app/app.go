// Package app assembles the dispatch core from configuration. The binaries
// under cmd/ share it so every process wires the same stack.
package app

import (
	"context"
	"errors"
	"fmt"

	"care-dispatch/internal/assignment"
	"care-dispatch/internal/collection"
	"care-dispatch/internal/config"
	"care-dispatch/internal/db"
	"care-dispatch/internal/escalation"
	"care-dispatch/internal/locks"
	"care-dispatch/internal/logger"
	"care-dispatch/internal/metrics"
	"care-dispatch/internal/models"
	"care-dispatch/internal/notify"
	"care-dispatch/internal/store"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type App struct {
	Config     *config.Config
	Log        *logger.Logger
	Store      store.Store
	Engine     *assignment.Engine
	Machine    *collection.Machine
	Timer      *escalation.Timer
	LabMonitor *escalation.LabMonitor
	Alerts     *notify.Dispatcher
	Hub        *notify.Hub
	Registry   *prometheus.Registry

	closers []func() error
}

// Option overrides a piece of the default wiring.
type Option func(*buildOptions)

type buildOptions struct {
	store    store.Store
	notifier notify.Notifier
}

// WithStore skips database setup and uses s.
func WithStore(s store.Store) Option {
	return func(o *buildOptions) { o.store = s }
}

// WithNotifier replaces the channel router built from config. The hub still
// receives every notification.
func WithNotifier(n notify.Notifier) Option {
	return func(o *buildOptions) { o.notifier = n }
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Log: log, Hub: notify.NewHub(), Registry: prometheus.NewRegistry()}

	prom, err := metrics.NewPrometheus(a.Registry, "care_dispatch")
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.Store = o.store
	if a.Store == nil {
		if a.Store, err = a.openStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	notifier := o.notifier
	if notifier == nil {
		if notifier, err = a.buildNotifier(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	async := notify.NewAsync(notify.Multi{notifier, a.Hub}, cfg.Notifications.QueueSize, log.WithComponent("notify_queue"))
	a.closers = append(a.closers, func() error { async.Close(); return nil })
	a.Alerts = notify.NewDispatcher(async, log.WithComponent("notify"), prom, cfg.Notifications.OpsRecipient)

	itemLocks := locks.NewStriped(locks.DefaultStripes)
	a.Engine = assignment.NewEngine(a.Store, a.Alerts, log,
		assignment.WithPolicy(assignment.Policy{SLA: cfg.Assignment.SLAWindows(), MaxBounces: cfg.Assignment.MaxBounces}),
		assignment.WithMetrics(prom),
		assignment.WithLocks(itemLocks),
	)
	a.Machine = collection.NewMachine(a.Store, a.Engine, a.Alerts, log,
		collection.WithSettings(collection.Settings{
			FastingHours:     cfg.Collection.FastingHours,
			MaxAttempts:      cfg.Collection.MaxAttempts,
			ResultTurnaround: cfg.Lab.ResultTurnaround,
		}),
		collection.WithLocks(itemLocks),
	)
	a.Timer = escalation.NewTimer(a.Store, a.Engine, a.Alerts, log,
		escalation.WithMetrics(prom),
		escalation.WithMaxBounces(cfg.Assignment.MaxBounces),
		escalation.WithLocks(itemLocks),
	)
	a.LabMonitor = escalation.NewLabMonitor(a.Store, a.Alerts, log,
		escalation.WithMetrics(prom),
		escalation.WithLabSettings(escalation.LabSettings{
			EscalationThreshold: cfg.Lab.EscalationThreshold,
			CriticalAckWindow:   cfg.Lab.CriticalAckWindow,
		}),
		escalation.WithLocks(itemLocks),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	if a.Config.Database.Host == "" {
		a.Log.WithComponent("app").Warn("No database host configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	conn, err := db.Connect(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, conn.Close)
	if err := db.EnsureSchema(ctx, conn); err != nil {
		return nil, err
	}
	return store.NewPostgresStore(conn), nil
}

// buildNotifier routes EMAIL to SES and everything else to Kafka, falling
// back to the log when neither is configured. Urgent operator alerts are
// mailed as well when email is enabled.
func (a *App) buildNotifier(ctx context.Context) (notify.Notifier, error) {
	entry := a.Log.WithComponent("notify")
	var fallback notify.Notifier = notify.NewLogNotifier(entry)

	if len(a.Config.Kafka.Brokers) > 0 {
		pub, err := notify.NewKafkaPublisher(a.Config.Kafka.Brokers, a.Config.Kafka.NotificationTopic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		fallback = notify.Multi{fallback, pub}
	}

	router := notify.NewChannelRouter(fallback)
	if a.Config.Email.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.Config.Email.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		ses, err := notify.NewSESNotifier(awsCfg, a.Config.Email.FromAddress, a.Config.Email.OpsAddress)
		if err != nil {
			return nil, err
		}
		router.Route(models.ChannelEmail, ses)
		return notify.Multi{router, notify.NotifierFunc(func(ctx context.Context, n models.Notification) error {
			if n.Role != models.RoleOperator || !n.Urgent || n.Channel == models.ChannelEmail {
				return nil
			}
			return ses.Notify(ctx, n)
		})}, nil
	}
	return router, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
