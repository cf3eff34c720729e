package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/plankhq/plank/pkg/config"
	"github.com/plankhq/plank/pkg/domain/task"
	"github.com/plankhq/plank/pkg/domain/webhook"
	"github.com/plankhq/plank/pkg/infrastructure/delivery"
	"github.com/plankhq/plank/pkg/infrastructure/eventbus"
	"github.com/plankhq/plank/pkg/infrastructure/outbox"
	"github.com/plankhq/plank/pkg/infrastructure/persistence"
	"github.com/plankhq/plank/pkg/metrics"
	"github.com/plankhq/plank/pkg/unitofwork"
)

// ---------------------------------------------------------------------------
// Application container — dependency injection root
// ---------------------------------------------------------------------------

// Container holds the wired application: repositories, event plumbing, and
// the use-case services. It is the composition root; nothing below it reaches
// for globals.
type Container struct {
	Store      *persistence.SQLiteStore
	EventBus   *eventbus.InProcessBus
	Outbox     *outbox.SQLiteOutbox
	Relay      *outbox.Relay
	UnitOfWork *unitofwork.Factory
	Metrics    *metrics.Metrics

	Boards   *persistence.SQLiteRepository[*task.Board]
	Webhooks *persistence.SQLiteRepository[*webhook.Webhook]

	BoardService   *BoardService
	WebhookService *WebhookService
	RetryPoller    *RetryPoller

	Log zerolog.Logger
}

// NewContainer wires the full application from configuration. The returned
// container owns the database handle; call Close when done.
func NewContainer(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	store, err := persistence.NewSQLiteStore(cfg.Database.Path, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	m := metrics.New()
	bus := eventbus.New(log)

	boards := persistence.NewSQLiteRepository(store, "board", func() *task.Board { return &task.Board{} })
	webhooks := persistence.NewSQLiteRepository(store, "webhook", func() *webhook.Webhook { return &webhook.Webhook{} })

	opts := []unitofwork.Option{
		unitofwork.WithLogger(log),
		unitofwork.WithMetrics(m),
	}

	var (
		box   *outbox.SQLiteOutbox
		relay *outbox.Relay
	)
	if cfg.Outbox.Enabled {
		box = outbox.NewSQLiteOutbox(store)
		relay, err = outbox.NewRelay(box, bus, cfg.Outbox.Schedule, cfg.Outbox.BatchSize, log, m)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("outbox relay: %w", err)
		}
		opts = append(opts, unitofwork.WithOutbox(box))
	}

	uow := unitofwork.NewFactory(store.TxRunner(), bus, opts...)

	dispatcher := delivery.NewDispatcher(
		&http.Client{Timeout: time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second}, log)

	boardSvc := NewBoardService(boards, uow, log)
	webhookSvc := NewWebhookService(webhooks, uow, dispatcher, log, m)

	poller, err := NewRetryPoller(webhookSvc, cfg.Webhook.RetrySchedule, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("retry poller: %w", err)
	}

	// Committed events fan out to matching webhook subscriptions.
	webhookSvc.SubscribeTo(bus)

	return &Container{
		Store:          store,
		EventBus:       bus,
		Outbox:         box,
		Relay:          relay,
		UnitOfWork:     uow,
		Metrics:        m,
		Boards:         boards,
		Webhooks:       webhooks,
		BoardService:   boardSvc,
		WebhookService: webhookSvc,
		RetryPoller:    poller,
		Log:            log,
	}, nil
}

// Close releases the container's resources.
func (c *Container) Close() error {
	c.EventBus.Close()
	return c.Store.Close()
}
