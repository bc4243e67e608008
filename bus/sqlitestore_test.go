package bus

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/arbor/runtime"
)

// testDSN returns a unique shared-memory DSN for test isolation.
func testDSN(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
}

func newTestStore(t *testing.T, cfg ...SQLiteStoreConfig) *SQLiteEventStore {
	t.Helper()
	var c SQLiteStoreConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.DSN == "" {
		c.DSN = testDSN(t)
	}
	store, err := NewSQLiteEventStore(c)
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteEventStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) EventStore { return newTestStore(t) })
}

func TestSQLiteEventStore_PruneByAge(t *testing.T) {
	store := newTestStore(t, SQLiteStoreConfig{RetentionAge: time.Hour, PruneInterval: time.Hour})
	ctx := context.Background()

	old := makeEvent("run-1", 1, runtime.EventRunStarted).WithTime(time.Now().Add(-2 * time.Hour))
	fresh := makeEvent("run-1", 2, runtime.EventRunFinished)
	_ = store.Append(ctx, old)
	_ = store.Append(ctx, fresh)

	if err := store.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	events, _ := store.List(ctx, "run-1", 0, 0)
	if len(events) != 1 || events[0].Seq != 2 {
		t.Errorf("after prune got %v", events)
	}
}

func TestSQLiteEventStore_PruneByCount(t *testing.T) {
	store := newTestStore(t, SQLiteStoreConfig{RetentionCount: 2, PruneInterval: time.Hour})
	ctx := context.Background()

	for _, run := range []string{"run-1", "run-2"} {
		for i := uint64(1); i <= 4; i++ {
			_ = store.Append(ctx, makeEvent(run, i, runtime.EventNodeStarted))
		}
	}
	if err := store.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	for _, run := range []string{"run-1", "run-2"} {
		events, _ := store.List(ctx, run, 0, 0)
		if len(events) != 2 || events[0].Seq != 3 {
			t.Errorf("%s after prune: %d events", run, len(events))
		}
	}
}

func TestSQLiteEventStore_PersistenceAcrossReopen(t *testing.T) {
	dsn := t.TempDir() + "/events.db"
	ctx := context.Background()

	store1, err := NewSQLiteEventStore(SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := uint64(1); i <= 3; i++ {
		_ = store1.Append(ctx, makeEvent("run-1", i, runtime.EventNodeStarted).WithPayload("val", float64(i)))
	}
	if err := store1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store2, err := NewSQLiteEventStore(SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store2.Close()

	events, err := store2.List(ctx, "run-1", 0, 0)
	if err != nil || len(events) != 3 {
		t.Fatalf("List after reopen = %d events, %v", len(events), err)
	}
	if v := events[1].Payload["val"]; v != float64(2) {
		t.Errorf("Payload[val] = %v, want 2", v)
	}
}
