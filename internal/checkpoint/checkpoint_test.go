package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveName(t *testing.T) {
	require.Equal(t, "TVA_3", DeriveName("TVA 3"))
	require.Equal(t, "TVA_5", DeriveName("  TVA 5  "))
	require.Equal(t, "Solo", DeriveName("Solo"))
}

func TestLoadMissingStartsAtZero(t *testing.T) {
	s := NewStore(t.TempDir())
	p, err := s.Load("TVA 3")
	require.NoError(t, err)
	require.Equal(t, Position{Group: "TVA 3", NextIndex: 0}, p)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Save("TVA 3", 7))

	p, err := s.Load("TVA 3")
	require.NoError(t, err)
	require.Equal(t, 7, p.NextIndex)
	require.Equal(t, "TVA 3", p.Group)
}

func TestSaveIsAtomicAndReadable(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Save("TVA 3", 2))
	require.NoError(t, s.Save("TVA 3", 3))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files may survive a save")
	require.Equal(t, "progress_TVA_3.json", entries[0].Name())

	raw, err := os.ReadFile(filepath.Join(dir, "progress_TVA_3.json"))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"group_key": "TVA 3"`)
	require.Contains(t, string(raw), `"next_index": 3`)
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")
	s := NewStore(dir)
	require.NoError(t, s.Save("TVA 4", 1))

	p, err := s.Load("TVA 4")
	require.NoError(t, err)
	require.Equal(t, 1, p.NextIndex)
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.WriteFile(s.Path("TVA 3"), []byte("{not json"), 0o644))

	_, err := s.Load("TVA 3")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "decode checkpoint"))
}

func TestLoadNegativeIndexRejected(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.WriteFile(s.Path("TVA 3"), []byte(`{"group_key":"TVA 3","next_index":-1}`), 0o644))

	_, err := s.Load("TVA 3")
	require.Error(t, err)
}

func TestClearIdempotent(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Save("TVA 3", 5))
	require.NoError(t, s.Clear("TVA 3"))
	require.NoError(t, s.Clear("TVA 3"))

	p, err := s.Load("TVA 3")
	require.NoError(t, err)
	require.Equal(t, 0, p.NextIndex)
}

func TestGroupsDoNotCollide(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Save("TVA 3", 2))
	require.NoError(t, s.Save("TVA 4", 9))

	p3, err := s.Load("TVA 3")
	require.NoError(t, err)
	p4, err := s.Load("TVA 4")
	require.NoError(t, err)
	require.Equal(t, 2, p3.NextIndex)
	require.Equal(t, 9, p4.NextIndex)
}
