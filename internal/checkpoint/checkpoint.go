// Package checkpoint persists per-group resume positions as small JSON
// files, so an interrupted batch picks up at the first unprocessed item.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Position records the next unprocessed item index in a work group.
// NextIndex points at the item that has not completed yet: it is written
// before the item runs, so a crash mid-item re-processes that item and
// never skips it.
type Position struct {
	Group     string `json:"group_key"`
	NextIndex int    `json:"next_index"`
}

// Store keeps one Position file per work group under a directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	if dir == "" {
		dir = "."
	}
	return &Store{dir: dir}
}

// DeriveName maps a group key to its file-name component. Whitespace at
// the ends is dropped and interior spaces become underscores, so the
// same group always resolves to the same file across runs.
func DeriveName(group string) string {
	return strings.ReplaceAll(strings.TrimSpace(group), " ", "_")
}

// Path returns the checkpoint file path for a group.
func (s *Store) Path(group string) string {
	return filepath.Join(s.dir, "progress_"+DeriveName(group)+".json")
}

// Load reads the saved position for a group. A missing file is not an
// error: it means the group starts from the beginning.
func (s *Store) Load(group string) (Position, error) {
	path := s.Path(group)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Position{Group: group}, nil
	}
	if err != nil {
		return Position{}, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	var p Position
	if err := json.Unmarshal(data, &p); err != nil {
		return Position{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if p.NextIndex < 0 {
		return Position{}, fmt.Errorf("decode checkpoint %s: negative next_index %d", path, p.NextIndex)
	}
	p.Group = group
	return p, nil
}

// Save writes the position for a group durably: the JSON is staged in a
// sibling temp file, synced to disk and renamed over the target, so
// readers never see a partial write and a hard crash right after Save
// still finds the position on disk.
func (s *Store) Save(group string, nextIndex int) error {
	if nextIndex < 0 {
		return fmt.Errorf("save checkpoint %s: negative index %d", group, nextIndex)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(Position{Group: group, NextIndex: nextIndex}, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	path := s.Path(group)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Clear removes the checkpoint for a group. Clearing a group that has no
// checkpoint is a no-op.
func (s *Store) Clear(group string) error {
	err := os.Remove(s.Path(group))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
