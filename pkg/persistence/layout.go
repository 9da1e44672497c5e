package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/types"
)

const (
	dataDirName  = "sstable"
	indexDirName = "index"
	dataExt      = ".ss"
	indexExt     = ".index"
	tmpExt       = ".tmp"
	manifestName = "MANIFEST"
)

// Layout names the files of one store:
//
//	<root>/<store>/sstable/<store><g>.ss
//	<root>/<store>/index/<store><g>.index
//	<root>/<store>/MANIFEST
type Layout struct {
	Root  string
	Store string
}

func NewLayout(root, store string) Layout {
	return Layout{Root: filepath.Clean(root), Store: store}
}

func (l Layout) Dir() string {
	return filepath.Join(l.Root, l.Store)
}

func (l Layout) DataDir() string {
	return filepath.Join(l.Dir(), dataDirName)
}

func (l Layout) IndexDir() string {
	return filepath.Join(l.Dir(), indexDirName)
}

func (l Layout) DataPath(id types.GenerationID) string {
	return filepath.Join(l.DataDir(), l.Store+strconv.Itoa(id)+dataExt)
}

func (l Layout) IndexPath(id types.GenerationID) string {
	return filepath.Join(l.IndexDir(), l.Store+strconv.Itoa(id)+indexExt)
}

func (l Layout) ManifestPath() string {
	return filepath.Join(l.Dir(), manifestName)
}

// Exists reports whether Dir holds a store: a manifest or a data
// directory left by an earlier Open.
func (l Layout) Exists() bool {
	if _, err := os.Stat(l.ManifestPath()); err == nil {
		return true
	}
	info, err := os.Stat(l.DataDir())
	return err == nil && info.IsDir()
}

// Ensure creates the store directories.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.DataDir(), l.IndexDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("%w: create %s: %w", dberrors.ErrIOFailure, dir, err)
		}
	}
	return nil
}

// Orphans lists files under sstable/ and index/ that do not belong to one
// of the live generations, e.g. leftovers of an interrupted flush.
func (l Layout) Orphans(live []types.GenerationID) ([]string, error) {
	keep := make(map[string]struct{}, 2*len(live))
	for _, id := range live {
		keep[l.DataPath(id)] = struct{}{}
		keep[l.IndexPath(id)] = struct{}{}
	}

	var orphans []string
	for _, dir := range []string{l.DataDir(), l.IndexDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("%w: list %s: %w", dberrors.ErrIOFailure, dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if _, ok := keep[path]; !ok {
				orphans = append(orphans, path)
			}
		}
	}
	return orphans, nil
}
