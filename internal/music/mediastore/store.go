// Package mediastore keeps prefetched media on disk, one directory per tenant.
package mediastore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	fileExt = ".media"
	partExt = ".part"
)

// Store lays files out as <root>/<tenant>/<track>.media. Both names are
// hex encoded so distinct ids never share a file.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

// Path returns where a track's file lives, whether or not it exists.
func (s *Store) Path(tenantID, trackID string) string {
	return filepath.Join(s.tenantDir(tenantID), encode(trackID)+fileExt)
}

// CreateTemp opens a new partial file for a track. The track's current
// file, if any, is untouched until Commit.
func (s *Store) CreateTemp(tenantID, trackID string) (*os.File, error) {
	dir := s.tenantDir(tenantID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dir: %w", err)
	}
	f, err := os.CreateTemp(dir, encode(trackID)+".*"+partExt)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return f, nil
}

// Commit renames a finished partial file into the track's place and returns
// the final path. Readers of the replaced file keep their handle.
func (s *Store) Commit(tempPath, tenantID, trackID string) (string, error) {
	dst := s.Path(tenantID, trackID)
	if err := os.Rename(tempPath, dst); err != nil {
		return "", fmt.Errorf("failed to commit file: %w", err)
	}
	return dst, nil
}

// Discard removes a partial file. A missing file is not an error.
func (s *Store) Discard(tempPath string) error {
	err := os.Remove(tempPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) Open(tenantID, trackID string) (*os.File, error) {
	return os.Open(s.Path(tenantID, trackID))
}

// Remove deletes one file. A missing file is not an error.
func (s *Store) Remove(tenantID, trackID string) error {
	err := os.Remove(s.Path(tenantID, trackID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// List returns the track ids stored for a tenant. Partial files are not
// listed.
func (s *Store) List(tenantID string) ([]string, error) {
	entries, err := os.ReadDir(s.tenantDir(tenantID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		id, ok := decode(strings.TrimSuffix(e.Name(), fileExt))
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Sweep removes every stored file of a tenant and reports how many were
// deleted. Partial files belong to running downloads and are kept.
// It keeps going past individual failures and returns them joined.
func (s *Store) Sweep(tenantID string) (int, error) {
	ids, err := s.List(tenantID)
	if err != nil {
		return 0, err
	}
	var errs []error
	removed := 0
	for _, id := range ids {
		if err := s.Remove(tenantID, id); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (s *Store) tenantDir(tenantID string) string {
	return filepath.Join(s.root, encode(tenantID))
}

// encode maps an id to a file name. "_" stands for the empty id and is
// never produced by hex.
func encode(id string) string {
	if id == "" {
		return "_"
	}
	return hex.EncodeToString([]byte(id))
}

func decode(name string) (string, bool) {
	if name == "_" {
		return "", true
	}
	b, err := hex.DecodeString(name)
	if err != nil {
		return "", false
	}
	return string(b), true
}
