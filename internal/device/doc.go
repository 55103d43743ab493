// Package device provides the light registry for Lumen Core.
//
// The registry reconciles two views of the lights on the network: the
// list persisted from earlier runs and the lights found by discovery in
// this run. Both are keyed by Identity, the stable id a light reports,
// so a light that moved to a new IP address is still one light.
//
// # Architecture
//
//	┌──────────────────────┐      ┌──────────────────────┐
//	│       Registry       │      │        Store         │
//	│    (registry.go)     │─────▶│  FileStore (json)    │
//	│                      │      │  SQLiteStore (lights)│
//	│ • Merge by identity  │      └──────────────────────┘
//	│ • Lookup by id/name  │
//	│ • Thread safety      │◀──── discovery (bridges/yeelight)
//	└──────────────────────┘
//
// # Merge policy
//
// Merge concatenates the preferred list before the other one, stably sorts
// by identity and keeps the first record per identity:
//
//   - PreferDiscovered (default): the freshly discovered address wins; an
//     empty discovered name is filled from the persisted record.
//   - PreferPersisted: the stored record wins unchanged.
//
// # History
//
// SQLiteHistory keeps a row per observed state change in light_history.
// The JSON backend has no history.
//
// # Usage
//
//	reg := device.NewRegistry(device.NewFileStore("devices.json"), device.PreferDiscovered)
//	if err := reg.Load(ctx); err != nil {
//	    return err
//	}
//	reg.Observe(device.Record{ID: id, Address: addr})
//	study, err := reg.ByName("study")
package device
