package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/davidahmann/antibody/pkg/types"
)

// FileStore keeps each history sequence as a JSON array on disk. Every
// append rewrites the whole file through a temporary file and a rename, so a
// crash leaves either the old or the new array.
type FileStore struct {
	mu          sync.Mutex
	memoryPath  string
	threatsPath string
}

var _ HistoryStore = (*FileStore)(nil)

func NewFileStore(memoryPath, threatsPath string) (*FileStore, error) {
	if memoryPath == "" || threatsPath == "" {
		return nil, fmt.Errorf("file store: memory_path and threats_path are required")
	}
	return &FileStore{memoryPath: memoryPath, threatsPath: threatsPath}, nil
}

func (s *FileStore) LoadMemories(context.Context) ([]types.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.MemoryEntry
	if err := readJSONArray(s.memoryPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) AppendMemory(_ context.Context, seq int, entry types.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current []types.MemoryEntry
	if err := readJSONArray(s.memoryPath, &current); err != nil {
		return err
	}
	if seq != len(current) {
		return ErrConflict
	}
	return writeJSONArray(s.memoryPath, append(current, entry))
}

func (s *FileStore) LoadThreats(context.Context) ([]types.ThreatReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.ThreatReport
	if err := readJSONArray(s.threatsPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) AppendThreat(_ context.Context, seq int, report types.ThreatReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current []types.ThreatReport
	if err := readJSONArray(s.threatsPath, &current); err != nil {
		return err
	}
	if seq != len(current) {
		return ErrConflict
	}
	return writeJSONArray(s.threatsPath, append(current, report))
}

func (s *FileStore) Close() error { return nil }

// readJSONArray treats a missing file as an empty sequence.
func readJSONArray(path string, out any) error {
	// #nosec G304 -- path comes from operator-configured storage paths.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSONArray(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
