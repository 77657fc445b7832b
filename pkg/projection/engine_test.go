package projection_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corefold/shopstream/pkg/domain/category"
	"github.com/corefold/shopstream/pkg/domain/product"
	"github.com/corefold/shopstream/pkg/eventsourcing"
	"github.com/corefold/shopstream/pkg/observability"
	"github.com/corefold/shopstream/pkg/projection"
	storelib "github.com/corefold/shopstream/pkg/store"
	"github.com/corefold/shopstream/pkg/store/memory"
	"github.com/corefold/shopstream/pkg/store/sqlite"
)

// The telemetry metric set doubles as the engine's observer.
var _ projection.Observer = (*observability.Metrics)(nil)

const (
	testProductID  = "6f1df8b3-2a4e-4c1b-9f70-8e5d3a2b6c91"
	testCategoryID = "2b7c3e9a-5d14-48f6-a3c8-1e9f6b2d4a50"
)

type engineFixture struct {
	db          *sql.DB
	events      *memory.EventStore
	checkpoints *sqlite.CheckpointStore
	status      *sqlite.StatusStore
	engine      *projection.Engine
}

func newEngineFixture(t *testing.T, opts ...projection.EngineOption) *engineFixture {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	checkpoints, err := sqlite.NewCheckpointStore(db)
	require.NoError(t, err)
	status := sqlite.NewStatusStore(db)
	events := memory.NewEventStore()

	opts = append([]projection.EngineOption{
		projection.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	engine := projection.NewEngine(events, db, checkpoints, status, opts...)

	return &engineFixture{
		db:          db,
		events:      events,
		checkpoints: checkpoints,
		status:      status,
		engine:      engine,
	}
}

func (f *engineFixture) appendProductCreated(t *testing.T, productID, name, price, categoryID string) {
	t.Helper()
	f.append(t, productID, product.AggregateType, product.EventCreated, product.CreatedPayload{
		ProductID:  productID,
		Name:       name,
		SKU:        "SKU-" + productID[:8],
		Price:      decimal.RequireFromString(price),
		CategoryID: categoryID,
	})
}

func (f *engineFixture) append(t *testing.T, aggregateID, aggregateType, eventType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	streamID := eventsourcing.AggregateStreamID(aggregateID)
	version, err := f.events.StreamVersion(context.Background(), streamID)
	require.NoError(t, err)

	_, err = f.events.AppendToStream(context.Background(), streamID, version, []*eventsourcing.Event{{
		ID:            eventsourcing.GenerateDeterministicEventID(eventType, aggregateID, int(version)+1),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       data,
	}})
	require.NoError(t, err)
}

func (f *engineFixture) productRow(t *testing.T, productID string) (name, price string, found bool) {
	t.Helper()
	err := f.db.QueryRow(
		`SELECT name, price FROM product_view WHERE product_id = ?`, productID,
	).Scan(&name, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false
	}
	require.NoError(t, err)
	return name, price, true
}

func TestEngineProjectsProductEvents(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	view, err := projection.NewProductView(f.db)
	require.NoError(t, err)
	require.NoError(t, f.engine.Register(view))

	f.appendProductCreated(t, testProductID, "Keyboard", "2499", "")
	f.append(t, testProductID, product.AggregateType, product.EventPriceChanged, product.PriceChangedPayload{
		ProductID: testProductID,
		OldPrice:  decimal.NewFromInt(2499),
		NewPrice:  decimal.NewFromInt(1999),
	})

	require.NoError(t, f.engine.CatchUp(ctx))

	name, price, found := f.productRow(t, testProductID)
	require.True(t, found)
	assert.Equal(t, "Keyboard", name)
	assert.Equal(t, "1999", price)

	head, err := f.events.HeadSequence(ctx)
	require.NoError(t, err)
	checkpoint, err := f.checkpoints.Load(ctx, view.Name())
	require.NoError(t, err)
	assert.Equal(t, head, checkpoint.Position)

	state, err := f.status.Load(ctx, view.Name())
	require.NoError(t, err)
	assert.Equal(t, storelib.ProjectionStatusReady, state.Status)
	assert.Zero(t, state.Lag)
}

func TestEngineAdvancesPastFilteredEvents(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	view, err := projection.NewProductView(f.db)
	require.NoError(t, err)
	require.NoError(t, f.engine.Register(view))

	f.append(t, testCategoryID, category.AggregateType, category.EventCreated, category.CreatedPayload{
		CategoryID: testCategoryID,
		Name:       "Electronics",
		Path:       "/" + testCategoryID,
		Depth:      1,
	})

	require.NoError(t, f.engine.CatchUp(ctx))

	var count int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM product_view`).Scan(&count))
	assert.Zero(t, count)

	// Filtered-out events still advance the checkpoint so a narrow
	// projection does not stall behind foreign aggregates.
	checkpoint, err := f.checkpoints.Load(ctx, view.Name())
	require.NoError(t, err)
	head, err := f.events.HeadSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, head, checkpoint.Position)
}

// scratchProjection writes one row per applied event into a table the test
// owns, and can be told to fail on a specific event id.
type scratchProjection struct {
	failOn string
}

func (*scratchProjection) Name() string { return "scratch" }

func (*scratchProjection) Filter() eventsourcing.EventFilter {
	return eventsourcing.EventFilter{}
}

func (p *scratchProjection) Apply(ctx context.Context, tx *sql.Tx, event *eventsourcing.Event) error {
	if p.failOn != "" && event.ID == p.failOn {
		return errors.New("scratch apply refused")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO scratch_rows (event_id) VALUES (?)`, event.ID)
	return err
}

func (*scratchProjection) Reset(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM scratch_rows`)
	return err
}

func TestEngineBatchRollsBackAsOne(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	_, err := f.db.Exec(`CREATE TABLE scratch_rows (event_id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	scratch := &scratchProjection{}
	require.NoError(t, f.engine.Register(scratch))

	f.appendProductCreated(t, testProductID, "Keyboard", "2499", "")
	f.append(t, testProductID, product.AggregateType, product.EventPriceChanged, product.PriceChangedPayload{
		ProductID: testProductID,
		NewPrice:  decimal.NewFromInt(1999),
	})
	f.appendProductCreated(t, testCategoryID, "Mouse", "899", "")

	// Fail on the middle event: the whole batch must roll back, rows and
	// checkpoint together.
	scratch.failOn = eventsourcing.GenerateDeterministicEventID(product.EventPriceChanged, testProductID, 2)
	require.Error(t, f.engine.CatchUp(ctx))

	var count int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM scratch_rows`).Scan(&count))
	assert.Zero(t, count)
	_, err = f.checkpoints.Load(ctx, "scratch")
	assert.ErrorIs(t, err, storelib.ErrCheckpointNotFound)

	// Healed, the retry applies every event exactly once.
	scratch.failOn = ""
	require.NoError(t, f.engine.CatchUp(ctx))

	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM scratch_rows`).Scan(&count))
	assert.Equal(t, 3, count)
	checkpoint, err := f.checkpoints.Load(ctx, "scratch")
	require.NoError(t, err)
	assert.Equal(t, int64(3), checkpoint.Position)
}

func TestEngineFailsWhenCheckpointAheadOfHead(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	view, err := projection.NewProductView(f.db)
	require.NoError(t, err)
	require.NoError(t, f.engine.Register(view))

	require.NoError(t, f.checkpoints.Save(ctx, &storelib.ProjectionCheckpoint{
		ProjectionName: view.Name(),
		Position:       999,
		UpdatedAt:      time.Now(),
	}))

	err = f.engine.CatchUp(ctx)
	require.Error(t, err)
	assert.True(t, eventsourcing.IsFatal(err))

	state, err := f.status.Load(ctx, view.Name())
	require.NoError(t, err)
	assert.Equal(t, storelib.ProjectionStatusFailed, state.Status)
	assert.Contains(t, state.Message, "ahead of store head")
	require.Error(t, f.engine.HealthCheck(ctx))

	// A failed projection sits out later cycles instead of re-reporting.
	require.NoError(t, f.engine.CatchUp(ctx))
}

func TestEngineResetRebuildsIdenticalReadModel(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	view, err := projection.NewProductView(f.db)
	require.NoError(t, err)
	require.NoError(t, f.engine.Register(view))

	f.appendProductCreated(t, testProductID, "Keyboard", "2499", testCategoryID)
	f.append(t, testProductID, product.AggregateType, product.EventUpdated, product.UpdatedPayload{
		ProductID:  testProductID,
		Name:       "Mechanical Keyboard",
		CategoryID: testCategoryID,
	})
	f.appendProductCreated(t, "p2-"+testProductID[3:], "Mouse", "899", "")

	require.NoError(t, f.engine.CatchUp(ctx))
	before := dumpProductView(t, f.db)
	require.Len(t, before, 2)

	require.NoError(t, f.engine.Reset(ctx, view.Name()))

	var count int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM product_view`).Scan(&count))
	assert.Zero(t, count)
	_, err = f.checkpoints.Load(ctx, view.Name())
	assert.ErrorIs(t, err, storelib.ErrCheckpointNotFound)
	state, err := f.status.Load(ctx, view.Name())
	require.NoError(t, err)
	assert.Equal(t, storelib.ProjectionStatusRebuilding, state.Status)

	// Replaying the full history reproduces the read model row for row.
	require.NoError(t, f.engine.CatchUp(ctx))
	assert.Equal(t, before, dumpProductView(t, f.db))

	state, err = f.status.Load(ctx, view.Name())
	require.NoError(t, err)
	assert.Equal(t, storelib.ProjectionStatusReady, state.Status)
}

func TestEngineServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, projection.WithPollInterval(10*time.Millisecond))

	view, err := projection.NewProductView(f.db)
	require.NoError(t, err)
	require.NoError(t, f.engine.Register(view))

	require.NoError(t, f.engine.Start(ctx))
	defer f.engine.Stop(ctx)

	f.appendProductCreated(t, testProductID, "Keyboard", "2499", "")

	assert.Eventually(t, func() bool {
		_, _, found := f.productRow(t, testProductID)
		return found
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.engine.HealthCheck(ctx))
	require.NoError(t, f.engine.Stop(ctx))
}

func TestEngineRejectsDuplicateRegistration(t *testing.T) {
	f := newEngineFixture(t)

	view, err := projection.NewProductView(f.db)
	require.NoError(t, err)
	require.NoError(t, f.engine.Register(view))
	require.Error(t, f.engine.Register(view))
}

// recordingObserver captures engine measurements for assertions.
type recordingObserver struct {
	batches []observedBatch
	lags    map[string]int64
}

type observedBatch struct {
	projection string
	events     int
	err        error
}

func (o *recordingObserver) RecordProjectionBatch(_ context.Context, name string, _ time.Duration, eventCount int, err error) {
	o.batches = append(o.batches, observedBatch{projection: name, events: eventCount, err: err})
}

func (o *recordingObserver) RecordProjectionLag(_ context.Context, name string, eventsBehind int64) {
	if o.lags == nil {
		o.lags = make(map[string]int64)
	}
	o.lags[name] = eventsBehind
}

func TestEngineReportsToObserver(t *testing.T) {
	ctx := context.Background()
	rec := &recordingObserver{}
	f := newEngineFixture(t, projection.WithObserver(rec))

	view, err := projection.NewProductView(f.db)
	require.NoError(t, err)
	require.NoError(t, f.engine.Register(view))

	f.appendProductCreated(t, testProductID, "Keyboard", "2499", "")
	f.append(t, testCategoryID, category.AggregateType, category.EventCreated, category.CreatedPayload{
		CategoryID: testCategoryID,
		Name:       "Electronics",
		Path:       "/" + testCategoryID,
		Depth:      1,
	})

	require.NoError(t, f.engine.CatchUp(ctx))

	// One batch covering both events, the filtered category event included.
	require.Len(t, rec.batches, 1)
	assert.Equal(t, "product-view", rec.batches[0].projection)
	assert.Equal(t, 2, rec.batches[0].events)
	assert.NoError(t, rec.batches[0].err)
	assert.Equal(t, int64(0), rec.lags["product-view"])

	// An idle cycle reads no batch but still reports lag.
	rec.batches = nil
	require.NoError(t, f.engine.CatchUp(ctx))
	assert.Empty(t, rec.batches)
	assert.Equal(t, int64(0), rec.lags["product-view"])
}

func TestEngineObserverSeesBatchErrors(t *testing.T) {
	ctx := context.Background()
	rec := &recordingObserver{}
	f := newEngineFixture(t, projection.WithObserver(rec))

	_, err := f.db.Exec(`CREATE TABLE scratch_rows (event_id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	scratch := &scratchProjection{}
	require.NoError(t, f.engine.Register(scratch))

	f.appendProductCreated(t, testProductID, "Keyboard", "2499", "")
	scratch.failOn = eventsourcing.GenerateDeterministicEventID(product.EventCreated, testProductID, 1)

	require.Error(t, f.engine.CatchUp(ctx))

	require.Len(t, rec.batches, 1)
	assert.Equal(t, "scratch", rec.batches[0].projection)
	assert.Error(t, rec.batches[0].err)
}

type productViewRow struct {
	ProductID   string
	Name        string
	Description string
	SKU         string
	Price       string
	CategoryID  string
	CreatedAt   int64
	UpdatedAt   int64
}

func dumpProductView(t *testing.T, db *sql.DB) []productViewRow {
	t.Helper()
	rows, err := db.Query(`
		SELECT product_id, name, description, sku, price, category_id, created_at, updated_at
		FROM product_view ORDER BY product_id
	`)
	require.NoError(t, err)
	defer rows.Close()

	var all []productViewRow
	for rows.Next() {
		var r productViewRow
		require.NoError(t, rows.Scan(
			&r.ProductID, &r.Name, &r.Description, &r.SKU, &r.Price, &r.CategoryID, &r.CreatedAt, &r.UpdatedAt,
		))
		all = append(all, r)
	}
	require.NoError(t, rows.Err())
	return all
}
