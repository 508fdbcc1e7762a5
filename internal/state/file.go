package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

const fileSuffix = ".snap.gz"

// FileStore persists snapshots as gzip-compressed JSON files under a
// directory. Engine state blobs compress well, so snapshots stay small on
// disk.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed store rooted at dir, creating it if
// needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create snapshot dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save implements Store.Save.
func (s *FileStore) Save(_ context.Context, snap *Snapshot) (string, error) {
	stamp(snap)

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("state: marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write to a temp file and rename so a crashed save never leaves a
	// truncated snapshot behind.
	tmp, err := os.CreateTemp(s.dir, "snap-*.tmp")
	if err != nil {
		return "", fmt.Errorf("state: create snapshot file: %w", err)
	}
	gz := gzip.NewWriter(tmp)
	if _, err := gz.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("state: write snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("state: finish snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("state: close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(snap.ID)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("state: store snapshot: %w", err)
	}
	return snap.ID, nil
}

// Load implements Store.Load.
func (s *FileStore) Load(_ context.Context, snapshotID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.read(s.path(snapshotID))
}

// List implements Store.List.
func (s *FileStore) List(_ context.Context) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("state: read snapshot dir: %w", err)
	}

	var out []*Snapshot
	for _, entry := range names {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		snap, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			// Skip unreadable snapshots rather than fail the whole listing.
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Delete implements Store.Delete.
func (s *FileStore) Delete(_ context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(snapshotID)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("state: delete snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) read(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: open snapshot: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("state: decompress snapshot: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("state: read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("state: unmarshal snapshot: %w", err)
	}
	if snap.ID == "" {
		return nil, fmt.Errorf("state: snapshot file %s has empty id", filepath.Base(path))
	}
	return &snap, nil
}

// path maps a snapshot id to its file. IDs arrive over the wire, so path
// separators are stripped before joining.
func (s *FileStore) path(snapshotID string) string {
	cleaned := strings.ReplaceAll(snapshotID, string(os.PathSeparator), "_")
	return filepath.Join(s.dir, cleaned+fileSuffix)
}
