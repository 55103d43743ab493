package device

import "context"

// Store loads and saves the complete known-light list. Implementations
// replace the stored list wholesale on Save.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
}
