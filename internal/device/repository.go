package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteStore implements Store on the lights table (see migrations).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns every stored light ordered by identity.
func (s *SQLiteStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, host, port, name, model, firmware, power, brightness, last_seen
		FROM lights
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying lights: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lights: %w", err)
	}
	return records, nil
}

// Save replaces the stored list with records in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM lights"); err != nil {
		return fmt.Errorf("clearing lights: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lights (id, host, port, name, model, firmware, power, brightness, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
		_, err := stmt.ExecContext(ctx,
			int64(r.ID), //nolint:gosec // Bit pattern round-trips through scanRecord
			r.Address.Host,
			r.Address.Port,
			r.Name,
			r.Model,
			r.Firmware,
			powerString(r.State.Power),
			r.State.Brightness,
			nullableTime(r.LastSeen),
			now,
		)
		if err != nil {
			return fmt.Errorf("inserting light %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing lights: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r        Record
		id       int64
		power    string
		lastSeen sql.NullString
	)
	err := row.Scan(&id, &r.Address.Host, &r.Address.Port, &r.Name, &r.Model, &r.Firmware,
		&power, &r.State.Brightness, &lastSeen)
	if err != nil {
		return Record{}, fmt.Errorf("scanning light row: %w", err)
	}
	r.ID = Identity(uint64(id)) //nolint:gosec // Inverse of the cast in Save
	r.State.Power = power == "on"
	if lastSeen.Valid {
		r.LastSeen, _ = time.Parse(time.RFC3339, lastSeen.String) //nolint:errcheck // Format is controlled
	}
	return r, nil
}

func powerString(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
