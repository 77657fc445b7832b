// Package platform assembles the full stack from configuration: event
// store, event bus, repositories, command bus with its middleware chain,
// saga coordinator, projection engine, and the query service. Components
// start in dependency order (store, bus, projections, sagas) and shut down
// in reverse through the runner.
package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/corefold/shopstream/pkg/bus"
	natsbus "github.com/corefold/shopstream/pkg/bus/nats"
	"github.com/corefold/shopstream/pkg/config"
	"github.com/corefold/shopstream/pkg/domain/category"
	"github.com/corefold/shopstream/pkg/domain/order"
	"github.com/corefold/shopstream/pkg/domain/product"
	"github.com/corefold/shopstream/pkg/eventsourcing"
	"github.com/corefold/shopstream/pkg/handlers"
	"github.com/corefold/shopstream/pkg/idempotency"
	"github.com/corefold/shopstream/pkg/middleware"
	"github.com/corefold/shopstream/pkg/observability"
	"github.com/corefold/shopstream/pkg/projection"
	"github.com/corefold/shopstream/pkg/query"
	"github.com/corefold/shopstream/pkg/resilience"
	"github.com/corefold/shopstream/pkg/runner"
	"github.com/corefold/shopstream/pkg/saga"
	"github.com/corefold/shopstream/pkg/store"
	"github.com/corefold/shopstream/pkg/store/memory"
	"github.com/corefold/shopstream/pkg/store/postgres"
	"github.com/corefold/shopstream/pkg/store/sqlite"
)

// Platform is the assembled system. Fields are exposed for the API surface
// (command dispatch, queries) and for tests; ownership stays with the
// platform, which closes everything in Close.
type Platform struct {
	Config *config.Config
	Logger *slog.Logger

	EventStore  eventsourcing.EventStore
	Bus         eventsourcing.EventBus
	CommandBus  *eventsourcing.DefaultCommandBus
	Coordinator *saga.Coordinator
	Projections *projection.Engine
	Queries     *query.Service
	ReadDB      *sql.DB

	services []runner.Service
	closers  []func() error
}

type options struct {
	logger      *slog.Logger
	telemetry   *observability.Telemetry
	eventStore  eventsourcing.EventStore
	eventBus    eventsourcing.EventBus
	idempotency eventsourcing.IdempotencyStore
	inventory   handlers.InventoryGateway
	payments    handlers.PaymentGateway
	shipping    handlers.ShippingGateway
}

// Option configures the platform assembly.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTelemetry wires metrics and tracing through an initialized telemetry
// stack. Without it the platform only logs.
func WithTelemetry(telemetry *observability.Telemetry) Option {
	return func(o *options) {
		o.telemetry = telemetry
	}
}

// WithEventStore overrides the configured event store adapter. The platform
// does not close an injected store.
func WithEventStore(eventStore eventsourcing.EventStore) Option {
	return func(o *options) {
		o.eventStore = eventStore
	}
}

// WithEventBus overrides the configured event bus. The platform does not
// close an injected bus.
func WithEventBus(eventBus eventsourcing.EventBus) Option {
	return func(o *options) {
		o.eventBus = eventBus
	}
}

// WithIdempotencyStore overrides the default in-memory command dedup store,
// e.g. with the Redis store when dispatch spans processes.
func WithIdempotencyStore(store eventsourcing.IdempotencyStore) Option {
	return func(o *options) {
		o.idempotency = store
	}
}

// WithGateways overrides the in-memory fulfilment gateways.
func WithGateways(inventory handlers.InventoryGateway, payments handlers.PaymentGateway, shipping handlers.ShippingGateway) Option {
	return func(o *options) {
		o.inventory = inventory
		o.payments = payments
		o.shipping = shipping
	}
}

// New assembles a platform from the configuration. On error everything
// already opened is closed before returning.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Platform, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Platform{Config: cfg, Logger: o.logger}

	if err := p.assemble(ctx, cfg, &o); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Platform) assemble(ctx context.Context, cfg *config.Config, o *options) error {
	registry := eventsourcing.NewEventRegistry()
	product.RegisterEvents(registry)
	category.RegisterEvents(registry)
	order.RegisterEvents(registry)
	saga.RegisterEvents(registry)

	eventBus, err := p.buildBus(cfg, o)
	if err != nil {
		return err
	}

	eventStore, snapshots, err := p.buildEventStore(ctx, cfg, o, eventBus)
	if err != nil {
		return err
	}

	readDSN, err := config.ResolveDSN(ctx, cfg.ReadModel.DSN)
	if err != nil {
		return fmt.Errorf("resolving read model DSN: %w", err)
	}
	readDB, err := openReadModelDB(readDSN)
	if err != nil {
		return err
	}
	p.ReadDB = readDB
	p.closers = append(p.closers, readDB.Close)

	checkpoints, err := sqlite.NewCheckpointStore(readDB, sqlite.WithCheckpointAutoMigrate(true))
	if err != nil {
		return fmt.Errorf("creating checkpoint store: %w", err)
	}
	status := sqlite.NewStatusStore(readDB)

	strategy := eventsourcing.SnapshotStrategy(eventsourcing.NeverSnapshot{})
	if cfg.EventStore.SnapshotFrequency > 0 {
		strategy = eventsourcing.EventCountStrategy{Frequency: int64(cfg.EventStore.SnapshotFrequency)}
	}

	products := eventsourcing.NewRepository(eventStore, product.New,
		eventsourcing.WithRegistry[*product.Product](registry),
		eventsourcing.WithSnapshots[*product.Product](snapshots, strategy),
	)
	categories := eventsourcing.NewRepository(eventStore, category.New,
		eventsourcing.WithRegistry[*category.Category](registry),
		eventsourcing.WithSnapshots[*category.Category](snapshots, strategy),
	)
	orders := eventsourcing.NewRepository(eventStore, order.New,
		eventsourcing.WithRegistry[*order.Order](registry),
		eventsourcing.WithSnapshots[*order.Order](snapshots, strategy),
	)

	var metrics *observability.Metrics
	if o.telemetry != nil {
		metrics = o.telemetry.Metrics
	}

	client := p.buildResilientClient(cfg, metrics)
	p.Queries = query.NewService(readDB)

	inventory := o.inventory
	payments := o.payments
	shipping := o.shipping
	if inventory == nil {
		inventory = handlers.NewMemoryInventoryGateway()
	}
	if payments == nil {
		payments = handlers.NewMemoryPaymentGateway()
	}
	if shipping == nil {
		shipping = handlers.NewMemoryShippingGateway()
	}

	idem := o.idempotency
	if idem == nil {
		memIdem := idempotency.NewMemoryStore(idempotency.DefaultSize, idempotency.DefaultTTL)
		p.closers = append(p.closers, memIdem.Close)
		idem = memIdem
	}

	commandBus := eventsourcing.NewCommandBus(
		eventsourcing.WithEventBus(eventBus),
		eventsourcing.WithIdempotencyStore(idem),
	)
	commandBus.Use(middleware.RecoveryMiddleware(p.Logger))
	commandBus.Use(middleware.LoggingMiddleware(p.Logger))
	commandBus.Use(middleware.TelemetryMiddleware("shopstream/commandbus"))
	if metrics != nil {
		commandBus.Use(observability.CommandMetricsMiddleware(metrics))
	}
	commandBus.Use(middleware.MetadataMiddleware())
	commandBus.Use(middleware.ValidationMiddleware())
	commandBus.Use(middleware.ConflictRetryMiddleware(cfg.CommandBus.MaxRetries, p.Logger))

	commandBus.RegisterHandler(handlers.NewProductHandler(products, categories))
	commandBus.RegisterHandler(handlers.NewCategoryHandler(categories, p.Queries))
	commandBus.RegisterHandler(handlers.NewOrderHandler(orders, products, inventory, payments, shipping, client))
	p.CommandBus = commandBus

	engine, err := p.buildProjections(cfg, eventStore, readDB, checkpoints, status, metrics)
	if err != nil {
		return err
	}
	p.services = append(p.services, engine)

	coordinatorOpts := []saga.CoordinatorOption{
		saga.WithLogger(p.Logger),
		saga.WithDefaultTimeout(cfg.Saga.DefaultTimeout()),
	}
	if metrics != nil {
		coordinatorOpts = append(coordinatorOpts, saga.WithObserver(metrics))
	}
	coordinator := saga.NewCoordinator(eventStore, checkpoints, commandBus, coordinatorOpts...)
	if err := coordinator.Register(saga.OrderFulfilment()); err != nil {
		return fmt.Errorf("registering order fulfilment saga: %w", err)
	}
	p.Coordinator = coordinator
	p.services = append(p.services, coordinator)

	if cfg.EventStore.ArchiveAfterDays > 0 {
		if archiver, ok := eventStore.(store.EventArchiver); ok {
			p.services = append(p.services, store.NewArchiver(archiver, cfg.EventStore.ArchiveAfterDays,
				store.WithArchiverLogger(p.Logger)))
		} else {
			p.Logger.Warn("Event store adapter does not archive, skipping archival",
				slog.String("adapter", cfg.EventStore.Adapter),
			)
		}
	}

	return nil
}

func (p *Platform) buildBus(cfg *config.Config, o *options) (eventsourcing.EventBus, error) {
	if o.eventBus != nil {
		p.Bus = o.eventBus
		return o.eventBus, nil
	}

	switch cfg.Bus.Adapter {
	case config.BusInproc:
		inproc := bus.NewInProcessBus(bus.WithLogger(p.Logger))
		p.Bus = inproc
		p.closers = append(p.closers, inproc.Close)
		return inproc, nil

	case config.BusNATS:
		if cfg.Bus.Embedded {
			natsBus, server, err := natsbus.NewEmbeddedEventBus(natsbus.WithLogger(p.Logger))
			if err != nil {
				return nil, fmt.Errorf("starting embedded NATS bus: %w", err)
			}
			p.Bus = natsBus
			p.closers = append(p.closers, func() error {
				err := natsBus.Close()
				server.Shutdown()
				return err
			})
			return natsBus, nil
		}
		busConfig := natsbus.DefaultConfig()
		busConfig.URL = cfg.Bus.URL
		natsBus, err := natsbus.NewEventBus(busConfig, natsbus.WithLogger(p.Logger))
		if err != nil {
			return nil, fmt.Errorf("connecting NATS bus: %w", err)
		}
		p.Bus = natsBus
		p.closers = append(p.closers, natsBus.Close)
		return natsBus, nil

	default:
		return nil, fmt.Errorf("unknown bus adapter %q", cfg.Bus.Adapter)
	}
}

func (p *Platform) buildEventStore(ctx context.Context, cfg *config.Config, o *options, eventBus eventsourcing.EventBus) (eventsourcing.EventStore, eventsourcing.SnapshotStore, error) {
	if o.eventStore != nil {
		p.EventStore = o.eventStore
		return o.eventStore, memory.NewSnapshotStore(), nil
	}

	switch cfg.EventStore.Adapter {
	case config.AdapterSQLite:
		dsn, err := config.ResolveDSN(ctx, cfg.EventStore.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving event store DSN: %w", err)
		}
		eventStore, err := sqlite.NewEventStore(
			sqlite.WithDSN(dsn),
			sqlite.WithEventBus(eventBus),
			sqlite.WithLogger(p.Logger),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite event store: %w", err)
		}
		p.EventStore = eventStore
		p.closers = append(p.closers, eventStore.Close)
		return eventStore, sqlite.NewSnapshotStore(eventStore.DB()), nil

	case config.AdapterPostgres:
		dsn, err := config.ResolveDSN(ctx, cfg.EventStore.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving event store DSN: %w", err)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting postgres: %w", err)
		}
		eventStore, err := postgres.NewEventStore(ctx, pool,
			postgres.WithEventBus(eventBus),
			postgres.WithLogger(p.Logger),
		)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("opening postgres event store: %w", err)
		}
		p.EventStore = eventStore
		p.closers = append(p.closers, eventStore.Close)
		return eventStore, postgres.NewSnapshotStore(eventStore.Pool()), nil

	case config.AdapterMemory:
		eventStore := memory.NewEventStore(
			memory.WithEventBus(eventBus),
			memory.WithLogger(p.Logger),
		)
		p.EventStore = eventStore
		p.closers = append(p.closers, eventStore.Close)
		return eventStore, memory.NewSnapshotStore(), nil

	default:
		return nil, nil, fmt.Errorf("unknown event store adapter %q", cfg.EventStore.Adapter)
	}
}

func (p *Platform) buildResilientClient(cfg *config.Config, metrics *observability.Metrics) *resilience.Client {
	registryOpts := make([]resilience.RegistryOption, 0, len(cfg.Breakers)+1)
	for name, breaker := range cfg.Breakers {
		registryOpts = append(registryOpts, resilience.WithBreakerConfig(name, resilience.BreakerConfig{
			Threshold: breaker.Threshold,
			Window:    breaker.Window(),
			Cooldown:  breaker.Cooldown(),
		}))
	}
	if metrics != nil {
		registryOpts = append(registryOpts, resilience.WithStateChangeHook(func(name string, from, to resilience.BreakerState) {
			metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
		}))
	}
	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig(), registryOpts...)
	return resilience.NewClient(breakers,
		resilience.WithRetry(resilience.DefaultRetryConfig()),
		resilience.WithLogger(p.Logger),
	)
}

func (p *Platform) buildProjections(cfg *config.Config, eventStore eventsourcing.EventStore, readDB *sql.DB, checkpoints *sqlite.CheckpointStore, status *sqlite.StatusStore, metrics *observability.Metrics) (*projection.Engine, error) {
	source, ok := eventStore.(projection.EventSource)
	if !ok {
		return nil, fmt.Errorf("event store adapter %q cannot feed projections", cfg.EventStore.Adapter)
	}

	engineOpts := []projection.EngineOption{projection.WithLogger(p.Logger)}
	if metrics != nil {
		engineOpts = append(engineOpts, projection.WithObserver(metrics))
	}
	engine := projection.NewEngine(source, readDB, checkpoints, status, engineOpts...)

	productView, err := projection.NewProductView(readDB)
	if err != nil {
		return nil, fmt.Errorf("creating product view: %w", err)
	}
	categoryView, err := projection.NewCategoryView(readDB)
	if err != nil {
		return nil, fmt.Errorf("creating category view: %w", err)
	}
	orderView, err := projection.NewOrderView(readDB)
	if err != nil {
		return nil, fmt.Errorf("creating order view: %w", err)
	}

	for _, view := range []projection.Projection{productView, categoryView, orderView} {
		var registerOpts []projection.RegisterOption
		if viewCfg, ok := cfg.Projections[view.Name()]; ok {
			registerOpts = append(registerOpts, projection.WithBatchSize(viewCfg.BatchSize))
		}
		if err := engine.Register(view, registerOpts...); err != nil {
			return nil, fmt.Errorf("registering projection %s: %w", view.Name(), err)
		}
	}

	p.Projections = engine
	return engine, nil
}

// openReadModelDB opens the SQLite read model database. A :memory: DSN is
// restricted to one connection so every component sees the same schema.
func openReadModelDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening read model database: %w", err)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Services returns the long-running services in start order: projections,
// then the saga coordinator, then maintenance. The stores and buses they
// read were opened during assembly and stay up until Close.
func (p *Platform) Services() []runner.Service {
	return p.services
}

// Run starts every service under a runner and blocks until shutdown.
func (p *Platform) Run(ctx context.Context) error {
	r := runner.New(p.services, runner.WithLogger(p.Logger))
	return r.Run(ctx)
}

// Close releases the stores, buses, and caches in reverse open order. Call
// after the runner has stopped the services.
func (p *Platform) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
