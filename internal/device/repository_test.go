package device

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/lumen-core/internal/infrastructure/database"
	"github.com/nerrad567/lumen-core/migrations"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "lumen.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return NewSQLiteStore(openTestDB(t).DB)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seen := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

	in := []Record{
		{
			ID:       0xffffffffffffff01, // exercises the signed storage cast
			Address:  Address{Host: "10.0.0.9", Port: 55443},
			Name:     "strip",
			Model:    "stripe",
			Firmware: "45",
			State:    LightState{Power: true, Brightness: 70},
			LastSeen: seen,
		},
		rec(1, "10.0.0.1", "study"),
	}
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	out, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Load() returned %d records, want 2", len(out))
	}

	byID := map[Identity]Record{}
	for _, r := range out {
		byID[r.ID] = r
	}
	strip, ok := byID[0xffffffffffffff01]
	if !ok {
		t.Fatalf("high identity not round-tripped: %+v", out)
	}
	if strip.Name != "strip" || strip.Model != "stripe" || strip.Firmware != "45" {
		t.Errorf("strip descriptive fields = %+v", strip)
	}
	if !strip.State.Power || strip.State.Brightness != 70 {
		t.Errorf("strip state = %+v", strip.State)
	}
	if !strip.LastSeen.Equal(seen) {
		t.Errorf("strip LastSeen = %v, want %v", strip.LastSeen, seen)
	}
	if !byID[1].LastSeen.IsZero() {
		t.Errorf("study LastSeen = %v, want zero", byID[1].LastSeen)
	}
}

func TestSQLiteStore_SaveReplaces(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, []Record{rec(1, "h1", "a"), rec(2, "h2", "b")}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, []Record{rec(3, "h3", "c")}); err != nil {
		t.Fatal(err)
	}

	out, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != 3 {
		t.Errorf("Load() after replace = %+v, want only id 3", out)
	}
}

func TestSQLiteStore_SaveInvalidRollsBack(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, []Record{rec(1, "h1", "a")}); err != nil {
		t.Fatal(err)
	}
	bad := rec(2, "", "b")
	if err := store.Save(ctx, []Record{rec(3, "h3", "c"), bad}); err == nil {
		t.Fatal("Save() with invalid record returned nil error")
	}

	out, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != 1 {
		t.Errorf("Load() = %+v, want original list intact", out)
	}
}
