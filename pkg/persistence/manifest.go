package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/types"
)

const manifestVersion = 1

// GenerationInfo is what the manifest records about a committed generation.
type GenerationInfo struct {
	ID              types.GenerationID `json:"id"`
	Size            int64              `json:"size"`
	Stride          int                `json:"stride"`
	LastIndexOffset int64              `json:"last_index_offset"`
	Records         int                `json:"records"`
	MaxTimestamp    types.Timestamp    `json:"max_timestamp"`
}

// ManifestData is the persisted manifest.
type ManifestData struct {
	Version        int                `json:"version"`
	NextGeneration types.GenerationID `json:"next_generation"`
	Generations    []GenerationInfo   `json:"generations"`
}

// Manifest is the commit point of flush and compaction: a generation is
// live once a manifest naming it is durable.
type Manifest struct {
	mu       sync.RWMutex
	filePath string
	metadata ManifestData
}

func NewManifest(layout Layout) *Manifest {
	return &Manifest{
		filePath: layout.ManifestPath(),
		metadata: ManifestData{Version: manifestVersion},
	}
}

// Load reads the manifest. A missing file leaves the empty default.
func (m *Manifest) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read manifest: %w", dberrors.ErrIOFailure, err)
	}

	var md ManifestData
	if err := json.Unmarshal(data, &md); err != nil {
		return fmt.Errorf("%w: parse manifest: %w", dberrors.ErrIOFailure, err)
	}
	m.metadata = md

	return nil
}

// Data returns a copy of the current manifest contents.
func (m *Manifest) Data() ManifestData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	md := m.metadata
	md.Generations = slices.Clone(m.metadata.Generations)
	return md
}

// Commit durably replaces the set of live generations.
func (m *Manifest) Commit(gens []GenerationInfo, next types.GenerationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	md := ManifestData{
		Version:        manifestVersion,
		NextGeneration: next,
		Generations:    slices.Clone(gens),
	}
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := writeFileAtomic(m.filePath, data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	m.metadata = md

	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + tmpExt
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %w", dberrors.ErrIOFailure, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", dberrors.ErrIOFailure, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", dberrors.ErrIOFailure, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", dberrors.ErrIOFailure, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %w", dberrors.ErrIOFailure, err)
	}
	return syncDir(filepath.Dir(path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("%w: %w", dberrors.ErrIOFailure, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", dberrors.ErrIOFailure, dir, err)
	}
	return nil
}
