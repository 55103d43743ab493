package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// fileRecord is the on-disk shape of one light in devices.json.
type fileRecord struct {
	ID   Identity `json:"id"`
	IP   string   `json:"ip"`
	Port int      `json:"port"`
	Name string   `json:"name"`
}

// FileStore keeps the light list in a JSON array of {id, ip, port, name}.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the JSON file at path. The file
// need not exist yet.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the file. A missing file is an empty list.
func (s *FileStore) Load(_ context.Context) ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var entries []fileRecord
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		port := e.Port
		if port == 0 {
			port = DefaultPort
		}
		r := Record{
			ID:      e.ID,
			Address: Address{Host: e.IP, Port: port},
			Name:    e.Name,
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", s.path, err)
		}
		records = append(records, r)
	}
	return records, nil
}

// Save replaces the file contents atomically (write to temp, then rename).
func (s *FileStore) Save(_ context.Context, records []Record) error {
	entries := make([]fileRecord, 0, len(records))
	for _, r := range records {
		entries = append(entries, fileRecord{
			ID:   r.ID,
			IP:   r.Address.Host,
			Port: r.Address.Port,
			Name: r.Name,
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding device list: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(s.path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".devices-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // No-op after successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}
