package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store is the persistence port for identities. The pool loads at startup
// and saves at shutdown; it assumes nothing about the backing layout.
type Store interface {
	Load(ctx context.Context) ([]Identity, error)
	Save(ctx context.Context, ids []Identity) error
}

// record is the serialized form shared by the file and redis adapters.
// Interval travels as whole seconds to keep stored files hand-editable.
type record struct {
	Platform        string    `json:"platform"`
	Value           string    `json:"value"`
	LastUsedAt      time.Time `json:"last_used_at"`
	UsesToday       int       `json:"uses_today"`
	IntervalSeconds float64   `json:"interval_seconds"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
}

func toRecord(id Identity) record {
	return record{
		Platform:        id.Platform,
		Value:           id.Value,
		LastUsedAt:      id.LastUsedAt,
		UsesToday:       id.UsesToday,
		IntervalSeconds: id.Interval.Seconds(),
		ExpiresAt:       id.ExpiresAt,
	}
}

func (r record) identity() Identity {
	return Identity{
		Platform:   r.Platform,
		Value:      r.Value,
		LastUsedAt: r.LastUsedAt,
		UsesToday:  r.UsesToday,
		Interval:   time.Duration(r.IntervalSeconds * float64(time.Second)),
		ExpiresAt:  r.ExpiresAt,
	}
}

// FileStore persists identities as a JSON array on disk.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the file. A missing file is an empty pool, not an error.
func (s *FileStore) Load(_ context.Context) ([]Identity, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode identity file: %w", err)
	}
	ids := make([]Identity, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.identity())
	}
	return ids, nil
}

// Save writes the full identity set, creating parent directories as needed.
func (s *FileStore) Save(_ context.Context, ids []Identity) error {
	records := make([]record, 0, len(ids))
	for _, id := range ids {
		records = append(records, toRecord(id))
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identities: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create identity dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}
