// Package database provides SQLite connectivity and schema migrations.
//
// Lumen uses SQLite for the persisted light list when the "sqlite"
// persistence backend is selected. Migrations are plain .sql files
// embedded by package migrations and applied at startup:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
