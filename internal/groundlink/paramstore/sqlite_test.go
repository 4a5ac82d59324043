package paramstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T, history int) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "params.db"), history)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLatest(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)

	if _, err := s.Latest(ctx, "fc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Latest on empty store = %v, want ErrNotFound", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := s.Save(ctx, Snapshot{LinkID: "fc-1", ReceivedAt: at, Values: map[string]float32{"SYSID_THISMAV": 1, "BATT_CAPACITY": 5200}})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Latest(ctx, "fc-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.ID != id || got.LinkID != "fc-1" || !got.ReceivedAt.Equal(at) {
		t.Fatalf("Latest = %+v", got)
	}
	if len(got.Values) != 2 || got.Values["BATT_CAPACITY"] != 5200 {
		t.Fatalf("values = %v", got.Values)
	}

	if _, err := s.Get(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get unknown = %v", err)
	}
}

func TestHistoryIsPruned(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 2)

	var ids []int64
	for i := 0; i < 4; i++ {
		id, err := s.Save(ctx, Snapshot{LinkID: "fc-1", ReceivedAt: time.Unix(int64(1000+i), 0), Values: map[string]float32{"P": float32(i)}})
		if err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	if _, err := s.Save(ctx, Snapshot{LinkID: "fc-2", Values: map[string]float32{"P": 9}}); err != nil {
		t.Fatalf("Save fc-2: %v", err)
	}

	list, err := s.List(ctx, "fc-1", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != ids[3] || list[1].ID != ids[2] {
		t.Fatalf("List = %+v", list)
	}
	if list[0].Count != 1 {
		t.Fatalf("count = %d", list[0].Count)
	}

	// Values of pruned snapshots go with them.
	if _, err := s.Get(ctx, ids[0]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pruned snapshot still present: %v", err)
	}
	var orphans int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parameter_values WHERE snapshot_id = ?`, ids[0]).Scan(&orphans); err != nil {
		t.Fatal(err)
	}
	if orphans != 0 {
		t.Fatalf("%d orphaned values", orphans)
	}

	other, err := s.List(ctx, "fc-2", 10)
	if err != nil || len(other) != 1 {
		t.Fatalf("fc-2 list = %+v, %v", other, err)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "params.db")

	s, err := OpenSQLite(ctx, path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(ctx, Snapshot{LinkID: "fc-1", Values: map[string]float32{"A": 1}}); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = OpenSQLite(ctx, path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()

	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Fatalf("user_version = %d, want %d", version, schemaVersion)
	}
	if got, err := s.Latest(ctx, "fc-1"); err != nil || got.Values["A"] != 1 {
		t.Fatalf("Latest after reopen = %+v, %v", got, err)
	}
}
