package device_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/lumen-core/internal/device"
	"github.com/nerrad567/lumen-core/internal/infrastructure/database"
	"github.com/nerrad567/lumen-core/migrations"
)

type integrationStore struct {
	store device.Store
	// keepsState is false for the JSON file, which stores only id, address
	// and name.
	keepsState bool
}

// setupIntegrationStores returns each Store backend, freshly created in a
// temp dir. The SQLite store runs the production migrations.
func setupIntegrationStores(t *testing.T) map[string]integrationStore {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(dir, "lumen.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	return map[string]integrationStore{
		"sqlite": {store: device.NewSQLiteStore(db.DB), keepsState: true},
		"json":   {store: device.NewFileStore(filepath.Join(dir, "devices.json"))},
	}
}

func discovered(id device.Identity, host, name string, seen time.Time) device.Record {
	return device.Record{
		ID:       id,
		Address:  device.Address{Host: host, Port: device.DefaultPort},
		Name:     name,
		Model:    "color",
		Firmware: "18",
		State:    device.LightState{Power: true, Brightness: 100},
		LastSeen: seen,
	}
}

// TestIntegration_RegistryLifecycle runs a light list through two process
// lifetimes: discover and persist, then restart, rediscover one light at a
// new address and persist again.
func TestIntegration_RegistryLifecycle(t *testing.T) {
	for name, is := range setupIntegrationStores(t) {
		store := is.store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seen := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

			// ─── First run ──────────────────────────────────────────
			first := device.NewRegistry(store, device.PreferDiscovered)
			if err := first.Load(ctx); err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got := first.Count(); got != 0 {
				t.Fatalf("Count() on empty store = %d, want 0", got)
			}

			first.Refresh([]device.Record{
				discovered(0x2a, "192.168.1.42", "", seen),
				discovered(0x15, "192.168.1.21", "desk", seen),
			})
			if err := first.UpdateName(0x2a, "hall"); err != nil {
				t.Fatalf("UpdateName() error = %v", err)
			}
			dimmed := device.LightState{Power: true, Brightness: 30}
			if err := first.UpdateState(0x15, dimmed); err != nil {
				t.Fatalf("UpdateState() error = %v", err)
			}
			if err := first.Persist(ctx); err != nil {
				t.Fatalf("Persist() error = %v", err)
			}

			// ─── Second run ─────────────────────────────────────────
			second := device.NewRegistry(store, device.PreferDiscovered)
			if err := second.Load(ctx); err != nil {
				t.Fatalf("Load() after restart error = %v", err)
			}
			list := second.List()
			if len(list) != 2 {
				t.Fatalf("List() after restart len = %d, want 2", len(list))
			}
			if list[0].ID != 0x15 || list[1].ID != 0x2a {
				t.Errorf("List() order = [%s %s], want [0x15 0x2a]", list[0].ID, list[1].ID)
			}

			desk, err := second.ByName("desk")
			if err != nil {
				t.Fatalf("ByName(desk) error = %v", err)
			}
			if is.keepsState && desk.State != dimmed {
				t.Errorf("desk state = %+v, want %+v", desk.State, dimmed)
			}
			if _, err := second.ByName("hall"); err != nil {
				t.Errorf("ByName(hall) error = %v", err)
			}

			// Hall comes back on a new lease without a name.
			later := seen.Add(24 * time.Hour)
			second.Observe(discovered(0x2a, "192.168.1.77", "", later))

			hall, err := second.ByID(0x2a)
			if err != nil {
				t.Fatalf("ByID(0x2a) error = %v", err)
			}
			if hall.Address.Host != "192.168.1.77" {
				t.Errorf("hall host = %q, want 192.168.1.77", hall.Address.Host)
			}
			if hall.Name != "hall" {
				t.Errorf("hall name = %q, want name kept from storage", hall.Name)
			}
			if !hall.LastSeen.Equal(later) {
				t.Errorf("hall LastSeen = %v, want %v", hall.LastSeen, later)
			}

			if err := second.Persist(ctx); err != nil {
				t.Fatalf("Persist() second run error = %v", err)
			}

			stored, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("store.Load() error = %v", err)
			}
			if len(stored) != 2 {
				t.Fatalf("stored len = %d, want 2", len(stored))
			}
			for _, r := range stored {
				if r.ID == 0x2a && r.Address.Host != "192.168.1.77" {
					t.Errorf("stored hall host = %q, want 192.168.1.77", r.Address.Host)
				}
			}
		})
	}
}

// TestIntegration_PreferPersisted checks that a stored address survives
// rediscovery when the registry prefers persisted records.
func TestIntegration_PreferPersisted(t *testing.T) {
	for name, is := range setupIntegrationStores(t) {
		store := is.store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seen := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

			if err := store.Save(ctx, []device.Record{discovered(0x15, "192.168.1.21", "desk", seen)}); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			reg := device.NewRegistry(store, device.PreferPersisted)
			if err := reg.Load(ctx); err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			reg.Observe(discovered(0x15, "192.168.1.99", "", seen.Add(time.Hour)))

			got, err := reg.ByID(0x15)
			if err != nil {
				t.Fatalf("ByID() error = %v", err)
			}
			if got.Address.Host != "192.168.1.21" {
				t.Errorf("host = %q, want persisted 192.168.1.21", got.Address.Host)
			}

			if _, err := reg.ByName("missing"); !errors.Is(err, device.ErrDeviceNotFound) {
				t.Errorf("ByName(missing) error = %v, want ErrDeviceNotFound", err)
			}
		})
	}
}
