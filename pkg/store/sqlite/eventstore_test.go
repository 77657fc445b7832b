package sqlite_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/corefold/shopstream/pkg/eventsourcing"
	storelib "github.com/corefold/shopstream/pkg/store"
	"github.com/corefold/shopstream/pkg/store/sqlite"
)

var frozenNow = time.Unix(1700000000, 0)

// recordingBus captures published batches for assertions.
type recordingBus struct {
	published [][]*eventsourcing.Event
}

func (b *recordingBus) Publish(_ context.Context, events []*eventsourcing.Event) error {
	b.published = append(b.published, events)
	return nil
}

func (b *recordingBus) Subscribe(eventsourcing.EventFilter, eventsourcing.EventHandler) (eventsourcing.Subscription, error) {
	return nil, errors.New("recordingBus does not support subscriptions")
}

func (b *recordingBus) Close() error { return nil }

func TestEventStore(t *testing.T) {
	store, err := sqlite.NewEventStore(
		sqlite.WithMemoryDatabase(),
		sqlite.WithWALMode(false),
	)
	if err != nil {
		t.Fatalf("failed to create event store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	t.Run("AppendAndReadStream", func(t *testing.T) {
		streamID := eventsourcing.AggregateStreamID("prod-1")
		events := []*eventsourcing.Event{
			{
				ID:            "event-1",
				AggregateID:   "prod-1",
				AggregateType: "Product",
				EventType:     "ProductCreated",
				Payload:       []byte(`{"name":"Keyboard"}`),
				Metadata: eventsourcing.EventMetadata{
					CommandID: "cmd-1",
					Actor:     "user-1",
				},
			},
			{
				ID:            "event-2",
				AggregateID:   "prod-1",
				AggregateType: "Product",
				EventType:     "ProductPriceChanged",
				Payload:       []byte(`{"price":"49.90"}`),
			},
		}

		version, err := store.AppendToStream(ctx, streamID, 0, events)
		if err != nil {
			t.Fatalf("failed to append events: %v", err)
		}
		if version != 2 {
			t.Fatalf("expected new version 2, got %d", version)
		}

		loaded, err := store.ReadStream(ctx, streamID, 0, 0)
		if err != nil {
			t.Fatalf("failed to read stream: %v", err)
		}
		if len(loaded) != 2 {
			t.Fatalf("expected 2 events, got %d", len(loaded))
		}
		if loaded[0].ID != "event-1" || loaded[1].ID != "event-2" {
			t.Errorf("events out of order: %s, %s", loaded[0].ID, loaded[1].ID)
		}
		if loaded[0].Version != 1 || loaded[1].Version != 2 {
			t.Errorf("expected stream versions 1 and 2, got %d and %d", loaded[0].Version, loaded[1].Version)
		}
		if loaded[0].GlobalSequence == 0 {
			t.Error("expected a commit-assigned global sequence")
		}
		if loaded[1].GlobalSequence != loaded[0].GlobalSequence+1 {
			t.Errorf("expected consecutive global sequences, got %d and %d",
				loaded[0].GlobalSequence, loaded[1].GlobalSequence)
		}
		if loaded[0].PayloadVersion != 1 {
			t.Errorf("expected payload version defaulted to 1, got %d", loaded[0].PayloadVersion)
		}
		if loaded[0].Metadata.CommandID != "cmd-1" || loaded[0].Metadata.Actor != "user-1" {
			t.Errorf("metadata not preserved: %+v", loaded[0].Metadata)
		}
		if !loaded[0].Timestamp.Equal(frozenNow) {
			t.Errorf("expected commit-stamped timestamp %v, got %v", frozenNow, loaded[0].Timestamp)
		}
		if string(loaded[1].Payload) != `{"price":"49.90"}` {
			t.Errorf("payload not preserved: %s", loaded[1].Payload)
		}

		tail, err := store.ReadStream(ctx, streamID, 1, 0)
		if err != nil {
			t.Fatalf("failed to read stream tail: %v", err)
		}
		if len(tail) != 1 || tail[0].ID != "event-2" {
			t.Errorf("expected only event-2 after version 1, got %d events", len(tail))
		}

		first, err := store.ReadStream(ctx, streamID, 0, 1)
		if err != nil {
			t.Fatalf("failed to read limited stream: %v", err)
		}
		if len(first) != 1 || first[0].ID != "event-1" {
			t.Errorf("expected only event-1 with limit 1, got %d events", len(first))
		}
	})

	t.Run("VersionConflict", func(t *testing.T) {
		streamID := eventsourcing.AggregateStreamID("prod-2")

		_, err := store.AppendToStream(ctx, streamID, 0, []*eventsourcing.Event{{
			ID:            "event-3",
			AggregateID:   "prod-2",
			AggregateType: "Product",
			EventType:     "ProductCreated",
			Payload:       []byte(`{}`),
		}})
		if err != nil {
			t.Fatalf("failed to append first event: %v", err)
		}

		// Stale expected version loses the optimistic concurrency check.
		_, err = store.AppendToStream(ctx, streamID, 0, []*eventsourcing.Event{{
			ID:            "event-4",
			AggregateID:   "prod-2",
			AggregateType: "Product",
			EventType:     "ProductUpdated",
			Payload:       []byte(`{}`),
		}})
		if !errors.Is(err, eventsourcing.ErrVersionConflict) {
			t.Fatalf("expected version conflict, got %v", err)
		}

		var conflict *eventsourcing.VersionConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected VersionConflictError, got %T", err)
		}
		if conflict.Expected != 0 || conflict.Actual != 1 {
			t.Errorf("expected conflict (0, 1), got (%d, %d)", conflict.Expected, conflict.Actual)
		}

		version, err := store.StreamVersion(ctx, streamID)
		if err != nil {
			t.Fatalf("failed to read stream version: %v", err)
		}
		if version != 1 {
			t.Errorf("conflicting append must not change the stream, version is %d", version)
		}
	})

	t.Run("RejectsMalformedEvents", func(t *testing.T) {
		streamID := eventsourcing.AggregateStreamID("prod-3")

		_, err := store.AppendToStream(ctx, streamID, 0, []*eventsourcing.Event{{
			ID:          "event-5",
			AggregateID: "prod-3",
			Payload:     []byte(`{}`),
		}})
		if !errors.Is(err, eventsourcing.ErrInvalidEvent) {
			t.Errorf("expected invalid event for missing type, got %v", err)
		}

		_, err = store.AppendToStream(ctx, streamID, 0, []*eventsourcing.Event{{
			ID:            "event-6",
			AggregateID:   "prod-3",
			AggregateType: "Product",
			EventType:     "ProductCreated",
			Version:       7,
			Payload:       []byte(`{}`),
		}})
		if !errors.Is(err, eventsourcing.ErrInvalidEvent) {
			t.Errorf("expected invalid event for out-of-sequence version, got %v", err)
		}

		version, err := store.StreamVersion(ctx, streamID)
		if err != nil {
			t.Fatalf("failed to read stream version: %v", err)
		}
		if version != 0 {
			t.Errorf("rejected appends must not persist anything, version is %d", version)
		}
	})

	t.Run("EmptyAppendIsNoOp", func(t *testing.T) {
		version, err := store.AppendToStream(ctx, eventsourcing.AggregateStreamID("prod-4"), 5, nil)
		if err != nil {
			t.Fatalf("empty append failed: %v", err)
		}
		if version != 5 {
			t.Errorf("empty append must return the expected version unchanged, got %d", version)
		}
	})

	t.Run("UniqueValues", func(t *testing.T) {
		claim := func(id, eventID string, op eventsourcing.UniqueValueOperation) []*eventsourcing.Event {
			return []*eventsourcing.Event{{
				ID:            eventID,
				AggregateID:   id,
				AggregateType: "Category",
				EventType:     "CategoryCreated",
				Payload:       []byte(`{}`),
				UniqueValues: []eventsourcing.UniqueValue{{
					Index:     "category_name",
					Value:     "Electronics",
					Operation: op,
				}},
			}}
		}

		_, err := store.AppendToStream(ctx, eventsourcing.AggregateStreamID("cat-1"), 0,
			claim("cat-1", "event-7", eventsourcing.UniqueClaim))
		if err != nil {
			t.Fatalf("failed to claim unique value: %v", err)
		}

		// Another aggregate cannot claim the same value.
		_, err = store.AppendToStream(ctx, eventsourcing.AggregateStreamID("cat-2"), 0,
			claim("cat-2", "event-8", eventsourcing.UniqueClaim))
		if !errors.Is(err, eventsourcing.ErrUniqueValueTaken) {
			t.Fatalf("expected unique value violation, got %v", err)
		}
		if !errors.Is(err, eventsourcing.ErrDomainViolation) {
			t.Error("unique value violations are domain violations")
		}
		var uve *eventsourcing.UniqueValueError
		if !errors.As(err, &uve) {
			t.Fatalf("expected UniqueValueError, got %T", err)
		}
		if uve.OwnerID != "cat-1" {
			t.Errorf("expected owner cat-1, got %s", uve.OwnerID)
		}

		// The rejected event must not have been persisted.
		version, err := store.StreamVersion(ctx, eventsourcing.AggregateStreamID("cat-2"))
		if err != nil {
			t.Fatalf("failed to read stream version: %v", err)
		}
		if version != 0 {
			t.Errorf("rejected claim must roll back the append, version is %d", version)
		}

		owner, err := store.UniqueValueOwner(ctx, "category_name", "Electronics")
		if err != nil {
			t.Fatalf("failed to read unique value owner: %v", err)
		}
		if owner != "cat-1" {
			t.Errorf("expected owner cat-1, got %q", owner)
		}

		// Re-claiming an already owned value is a no-op.
		_, err = store.AppendToStream(ctx, eventsourcing.AggregateStreamID("cat-1"), 1,
			claim("cat-1", "event-9", eventsourcing.UniqueClaim))
		if err != nil {
			t.Fatalf("re-claim by the owner must succeed: %v", err)
		}

		// Releasing frees the value for other aggregates.
		_, err = store.AppendToStream(ctx, eventsourcing.AggregateStreamID("cat-1"), 2,
			claim("cat-1", "event-10", eventsourcing.UniqueRelease))
		if err != nil {
			t.Fatalf("failed to release unique value: %v", err)
		}
		owner, err = store.UniqueValueOwner(ctx, "category_name", "Electronics")
		if err != nil {
			t.Fatalf("failed to read unique value owner: %v", err)
		}
		if owner != "" {
			t.Errorf("expected released value to be free, owner is %q", owner)
		}

		_, err = store.AppendToStream(ctx, eventsourcing.AggregateStreamID("cat-2"), 0,
			claim("cat-2", "event-11", eventsourcing.UniqueClaim))
		if err != nil {
			t.Fatalf("claim after release must succeed: %v", err)
		}
	})

	t.Run("ReadAllFromCursor", func(t *testing.T) {
		head, err := store.HeadSequence(ctx)
		if err != nil {
			t.Fatalf("failed to read head sequence: %v", err)
		}

		appendOne := func(aggregateID, eventID string, version int64) {
			t.Helper()
			_, err := store.AppendToStream(ctx, eventsourcing.AggregateStreamID(aggregateID), version-1,
				[]*eventsourcing.Event{{
					ID:            eventID,
					AggregateID:   aggregateID,
					AggregateType: "Order",
					EventType:     "OrderCreated",
					Payload:       []byte(`{}`),
				}})
			if err != nil {
				t.Fatalf("failed to append %s: %v", eventID, err)
			}
		}
		appendOne("order-1", "event-12", 1)
		appendOne("order-2", "event-13", 1)
		appendOne("order-1", "event-14", 2)

		all, err := store.ReadAllFrom(ctx, head, 0)
		if err != nil {
			t.Fatalf("failed to read all events: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 events after sequence %d, got %d", head, len(all))
		}
		for i, event := range all {
			if event.GlobalSequence <= head {
				t.Errorf("event %d at sequence %d is before the cursor %d", i, event.GlobalSequence, head)
			}
			if i > 0 && event.GlobalSequence <= all[i-1].GlobalSequence {
				t.Errorf("global order violated at index %d", i)
			}
		}
		if all[0].ID != "event-12" || all[1].ID != "event-13" || all[2].ID != "event-14" {
			t.Errorf("events not in commit order: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
		}

		rest, err := store.ReadAllFrom(ctx, all[0].GlobalSequence, 0)
		if err != nil {
			t.Fatalf("failed to read from cursor: %v", err)
		}
		if len(rest) != 2 || rest[0].ID != "event-13" {
			t.Errorf("expected 2 events after %d, got %d", all[0].GlobalSequence, len(rest))
		}

		limited, err := store.ReadAllFrom(ctx, head, 2)
		if err != nil {
			t.Fatalf("failed to read limited: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("expected 2 events with limit 2, got %d", len(limited))
		}
	})

	t.Run("ReadByType", func(t *testing.T) {
		appendTyped := func(aggregateID, eventID, eventType string, version int64) {
			t.Helper()
			_, err := store.AppendToStream(ctx, eventsourcing.AggregateStreamID(aggregateID), version-1,
				[]*eventsourcing.Event{{
					ID:            eventID,
					AggregateID:   aggregateID,
					AggregateType: "Product",
					EventType:     eventType,
					Payload:       []byte(`{}`),
				}})
			if err != nil {
				t.Fatalf("failed to append %s: %v", eventID, err)
			}
		}
		appendTyped("prod-5", "event-15", "StockDepleted", 1)
		appendTyped("prod-6", "event-16", "StockReplenished", 1)
		appendTyped("prod-6", "event-17", "StockDepleted", 2)

		depleted, err := store.ReadByType(ctx, "StockDepleted", 0, 0)
		if err != nil {
			t.Fatalf("failed to read by type: %v", err)
		}
		if len(depleted) != 2 {
			t.Fatalf("expected 2 StockDepleted events, got %d", len(depleted))
		}
		if depleted[0].ID != "event-15" || depleted[1].ID != "event-17" {
			t.Errorf("wrong events: %s, %s", depleted[0].ID, depleted[1].ID)
		}

		after, err := store.ReadByType(ctx, "StockDepleted", depleted[0].GlobalSequence, 0)
		if err != nil {
			t.Fatalf("failed to read by type from cursor: %v", err)
		}
		if len(after) != 1 || after[0].ID != "event-17" {
			t.Errorf("expected only event-17 after the cursor, got %d events", len(after))
		}
	})

	t.Run("Snapshots", func(t *testing.T) {
		snapshots := sqlite.NewSnapshotStore(store.DB())

		_, err := snapshots.Latest(ctx, "prod-9")
		if !errors.Is(err, eventsourcing.ErrSnapshotNotFound) {
			t.Fatalf("expected snapshot not found, got %v", err)
		}

		for _, s := range []*eventsourcing.Snapshot{
			{AggregateID: "prod-9", AggregateType: "Product", Version: 5, State: []byte(`{"v":5}`), CreatedAt: frozenNow},
			{AggregateID: "prod-9", AggregateType: "Product", Version: 10, State: []byte(`{"v":10}`), CreatedAt: frozenNow},
		} {
			if err := snapshots.Save(ctx, s); err != nil {
				t.Fatalf("failed to save snapshot v%d: %v", s.Version, err)
			}
		}

		latest, err := snapshots.Latest(ctx, "prod-9")
		if err != nil {
			t.Fatalf("failed to load latest snapshot: %v", err)
		}
		if latest.Version != 10 || string(latest.State) != `{"v":10}` {
			t.Errorf("expected snapshot v10, got v%d %s", latest.Version, latest.State)
		}

		// Saving the same version again overwrites.
		if err := snapshots.Save(ctx, &eventsourcing.Snapshot{
			AggregateID: "prod-9", AggregateType: "Product", Version: 10,
			State: []byte(`{"v":10,"fixed":true}`), CreatedAt: frozenNow,
		}); err != nil {
			t.Fatalf("failed to overwrite snapshot: %v", err)
		}
		latest, err = snapshots.Latest(ctx, "prod-9")
		if err != nil {
			t.Fatalf("failed to reload latest snapshot: %v", err)
		}
		if string(latest.State) != `{"v":10,"fixed":true}` {
			t.Errorf("overwrite not applied: %s", latest.State)
		}

		deleted, err := snapshots.DeleteOlderThan(ctx, "prod-9", 10)
		if err != nil {
			t.Fatalf("failed to delete old snapshots: %v", err)
		}
		if deleted != 1 {
			t.Errorf("expected 1 deleted snapshot, got %d", deleted)
		}
		if _, err := snapshots.Latest(ctx, "prod-9"); err != nil {
			t.Errorf("latest snapshot must survive the cleanup: %v", err)
		}
	})

	t.Run("CheckpointAtomicWithProjection", func(t *testing.T) {
		checkpoints, err := sqlite.NewCheckpointStore(store.DB())
		if err != nil {
			t.Fatalf("failed to create checkpoint store: %v", err)
		}

		_, err = store.DB().Exec(`
			CREATE TABLE IF NOT EXISTS product_counts (
				id    INTEGER PRIMARY KEY,
				total INTEGER NOT NULL
			)
		`)
		if err != nil {
			t.Fatalf("failed to create projection table: %v", err)
		}

		// Read model write and checkpoint advance commit together.
		tx, err := checkpoints.DB().Begin()
		if err != nil {
			t.Fatalf("failed to begin transaction: %v", err)
		}
		if _, err := tx.Exec(`INSERT INTO product_counts (id, total) VALUES (1, 7)`); err != nil {
			tx.Rollback()
			t.Fatalf("failed to update projection: %v", err)
		}
		if err := checkpoints.SaveInTx(tx, &storelib.ProjectionCheckpoint{
			ProjectionName: "product-counts",
			Position:       42,
			LastEventID:    "event-42",
			UpdatedAt:      frozenNow,
		}); err != nil {
			tx.Rollback()
			t.Fatalf("failed to save checkpoint in transaction: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("failed to commit: %v", err)
		}

		var total int
		if err := store.DB().QueryRow(`SELECT total FROM product_counts WHERE id = 1`).Scan(&total); err != nil {
			t.Fatalf("projection row not found: %v", err)
		}
		if total != 7 {
			t.Errorf("expected total 7, got %d", total)
		}

		loaded, err := checkpoints.Load(ctx, "product-counts")
		if err != nil {
			t.Fatalf("checkpoint not found: %v", err)
		}
		if loaded.Position != 42 || loaded.LastEventID != "event-42" {
			t.Errorf("checkpoint not preserved: %+v", loaded)
		}
		if !loaded.UpdatedAt.Equal(frozenNow) {
			t.Errorf("expected updated at %v, got %v", frozenNow, loaded.UpdatedAt)
		}

		// Standalone save upserts.
		if err := checkpoints.Save(ctx, &storelib.ProjectionCheckpoint{
			ProjectionName: "product-counts",
			Position:       43,
			LastEventID:    "event-43",
			UpdatedAt:      frozenNow,
		}); err != nil {
			t.Fatalf("failed to save checkpoint: %v", err)
		}
		loaded, err = checkpoints.Load(ctx, "product-counts")
		if err != nil {
			t.Fatalf("checkpoint not found after save: %v", err)
		}
		if loaded.Position != 43 {
			t.Errorf("expected position 43, got %d", loaded.Position)
		}

		if err := checkpoints.Delete(ctx, "product-counts"); err != nil {
			t.Fatalf("failed to delete checkpoint: %v", err)
		}
		if _, err := checkpoints.Load(ctx, "product-counts"); !errors.Is(err, storelib.ErrCheckpointNotFound) {
			t.Errorf("expected checkpoint not found after delete, got %v", err)
		}
	})

	t.Run("ProjectionStatus", func(t *testing.T) {
		statuses := sqlite.NewStatusStore(store.DB())

		// No row means the projection has never been touched: ready.
		state, err := statuses.Load(ctx, "order-summaries")
		if err != nil {
			t.Fatalf("failed to load missing status: %v", err)
		}
		if state.Status != storelib.ProjectionStatusReady {
			t.Errorf("expected READY default, got %s", state.Status)
		}

		if err := statuses.Save(ctx, &storelib.ProjectionState{
			ProjectionName: "order-summaries",
			Status:         storelib.ProjectionStatusRebuilding,
			Message:        "replaying history",
			Lag:            120,
			UpdatedAt:      frozenNow,
		}); err != nil {
			t.Fatalf("failed to save status: %v", err)
		}

		state, err = statuses.Load(ctx, "order-summaries")
		if err != nil {
			t.Fatalf("failed to load status: %v", err)
		}
		if state.Status != storelib.ProjectionStatusRebuilding {
			t.Errorf("expected REBUILDING, got %s", state.Status)
		}
		if state.Message != "replaying history" || state.Lag != 120 {
			t.Errorf("status not preserved: %+v", state)
		}
	})

	t.Run("PublishesAfterCommit", func(t *testing.T) {
		bus := &recordingBus{}
		withBus, err := sqlite.NewEventStore(
			sqlite.WithMemoryDatabase(),
			sqlite.WithWALMode(false),
			sqlite.WithEventBus(bus),
		)
		if err != nil {
			t.Fatalf("failed to create event store: %v", err)
		}
		defer withBus.Close()

		_, err = withBus.AppendToStream(ctx, eventsourcing.AggregateStreamID("prod-7"), 0,
			[]*eventsourcing.Event{
				{ID: "event-18", AggregateID: "prod-7", AggregateType: "Product", EventType: "ProductCreated", Payload: []byte(`{}`)},
				{ID: "event-19", AggregateID: "prod-7", AggregateType: "Product", EventType: "ProductUpdated", Payload: []byte(`{}`)},
			})
		if err != nil {
			t.Fatalf("failed to append: %v", err)
		}

		if len(bus.published) != 1 {
			t.Fatalf("expected 1 published batch, got %d", len(bus.published))
		}
		batch := bus.published[0]
		if len(batch) != 2 {
			t.Fatalf("expected 2 published events, got %d", len(batch))
		}
		if batch[0].GlobalSequence == 0 {
			t.Error("published events must carry their assigned global sequence")
		}

		// Failed appends publish nothing.
		_, err = withBus.AppendToStream(ctx, eventsourcing.AggregateStreamID("prod-7"), 0,
			[]*eventsourcing.Event{{ID: "event-20", AggregateID: "prod-7", AggregateType: "Product", EventType: "ProductUpdated", Payload: []byte(`{}`)}})
		if !errors.Is(err, eventsourcing.ErrVersionConflict) {
			t.Fatalf("expected version conflict, got %v", err)
		}
		if len(bus.published) != 1 {
			t.Errorf("conflicting append must not publish, got %d batches", len(bus.published))
		}
	})

	t.Run("MigrationVersion", func(t *testing.T) {
		version, err := store.MigrationVersion()
		if err != nil {
			t.Fatalf("failed to read migration version: %v", err)
		}
		if version != 2 {
			t.Errorf("expected schema version 2, got %d", version)
		}
	})
}

func TestArchive(t *testing.T) {
	store, err := sqlite.NewEventStore(
		sqlite.WithMemoryDatabase(),
		sqlite.WithWALMode(false),
	)
	if err != nil {
		t.Fatalf("failed to create event store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	appendOne := func(aggregateID, eventID string, version int64) {
		t.Helper()
		_, err := store.AppendToStream(ctx, eventsourcing.AggregateStreamID(aggregateID), version-1,
			[]*eventsourcing.Event{{
				ID:            eventID,
				AggregateID:   aggregateID,
				AggregateType: "Order",
				EventType:     "OrderCreated",
				Payload:       []byte(`{}`),
			}})
		if err != nil {
			t.Fatalf("failed to append %s: %v", eventID, err)
		}
	}

	// History committed at the frozen base time.
	appendOne("order-old-1", "archive-1", 1)
	appendOne("order-old-1", "archive-2", 2)
	appendOne("order-old-1", "archive-3", 3)
	appendOne("order-old-2", "archive-4", 1)

	// Move the clock 40 days forward so that history ages past the horizon.
	eventsourcing.TimeFunc = func() time.Time { return frozenNow.Add(40 * 24 * time.Hour) }
	defer func() {
		eventsourcing.TimeFunc = func() time.Time { return frozenNow }
	}()

	// A fresh commit stays in the active table.
	appendOne("order-old-2", "archive-5", 2)

	moved, err := store.Archive(ctx, 30)
	if err != nil {
		t.Fatalf("failed to archive: %v", err)
	}
	if moved != 4 {
		t.Fatalf("expected 4 archived events, got %d", moved)
	}

	var active, archived int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM events`).Scan(&active); err != nil {
		t.Fatalf("failed to count active events: %v", err)
	}
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM events_archive`).Scan(&archived); err != nil {
		t.Fatalf("failed to count archived events: %v", err)
	}
	if active != 1 || archived != 4 {
		t.Errorf("expected 1 active and 4 archived, got %d and %d", active, archived)
	}

	// Reads still see the full history in global order.
	all, err := store.ReadAllFrom(ctx, 0, 0)
	if err != nil {
		t.Fatalf("failed to read all events: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected full history of 5 events, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].GlobalSequence <= all[i-1].GlobalSequence {
			t.Errorf("global order violated at index %d", i)
		}
	}

	stream, err := store.ReadStream(ctx, eventsourcing.AggregateStreamID("order-old-1"), 0, 0)
	if err != nil {
		t.Fatalf("failed to read archived stream: %v", err)
	}
	if len(stream) != 3 {
		t.Errorf("expected 3 events in the archived stream, got %d", len(stream))
	}

	version, err := store.StreamVersion(ctx, eventsourcing.AggregateStreamID("order-old-1"))
	if err != nil {
		t.Fatalf("failed to read stream version: %v", err)
	}
	if version != 3 {
		t.Errorf("expected version 3 across both tables, got %d", version)
	}

	// Appends continue where the archived history left off.
	appendOne("order-old-1", "archive-6", 4)
	version, err = store.StreamVersion(ctx, eventsourcing.AggregateStreamID("order-old-1"))
	if err != nil {
		t.Fatalf("failed to read stream version: %v", err)
	}
	if version != 4 {
		t.Errorf("expected version 4 after appending past the archive, got %d", version)
	}

	// A second pass has nothing left to move.
	moved, err = store.Archive(ctx, 30)
	if err != nil {
		t.Fatalf("failed to re-archive: %v", err)
	}
	if moved != 0 {
		t.Errorf("expected no events on the second pass, got %d", moved)
	}

	// A stream that exists only in the archive, written by an earlier
	// process, still pins its version for new appends.
	_, err = store.DB().Exec(`
		INSERT INTO events_archive (
			global_sequence, event_id, stream_id, stream_version,
			aggregate_id, aggregate_type, event_type, payload, payload_version,
			metadata, unique_values, occurred_at, committed_at, archived_at
		) VALUES (999, 'ghost-1', ?, 1, 'order-ghost', 'Order', 'OrderCreated', '{}', 1, '{}', NULL, ?, ?, ?)
	`, eventsourcing.AggregateStreamID("order-ghost"), frozenNow.Unix(), frozenNow.Unix(), frozenNow.Unix())
	if err != nil {
		t.Fatalf("failed to seed archived stream: %v", err)
	}

	_, err = store.AppendToStream(ctx, eventsourcing.AggregateStreamID("order-ghost"), 0,
		[]*eventsourcing.Event{{
			ID:            "ghost-2",
			AggregateID:   "order-ghost",
			AggregateType: "Order",
			EventType:     "OrderCreated",
			Payload:       []byte(`{}`),
		}})
	var conflict *eventsourcing.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected version conflict against the archived stream, got %v", err)
	}
	if conflict.Actual != 1 {
		t.Errorf("expected actual version 1 from the archive, got %d", conflict.Actual)
	}

	newVersion, err := store.AppendToStream(ctx, eventsourcing.AggregateStreamID("order-ghost"), 1,
		[]*eventsourcing.Event{{
			ID:            "ghost-3",
			AggregateID:   "order-ghost",
			AggregateType: "Order",
			EventType:     "OrderCancelled",
			Payload:       []byte(`{}`),
		}})
	if err != nil {
		t.Fatalf("append after the archived version must succeed: %v", err)
	}
	if newVersion != 2 {
		t.Errorf("expected version 2, got %d", newVersion)
	}
}

func TestMain(m *testing.M) {
	// Override time function for deterministic testing
	eventsourcing.TimeFunc = func() time.Time { return frozenNow }

	code := m.Run()

	// Restore original time function
	eventsourcing.TimeFunc = time.Now

	os.Exit(code)
}
