package mediastore

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, s *Store, tenant, id string) {
	t.Helper()
	f, err := s.CreateTemp(tenant, id)
	require.NoError(t, err)
	_, err = f.WriteString("data")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = s.Commit(f.Name(), tenant, id)
	require.NoError(t, err)
}

func TestStoreIsTenantScoped(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	write(t, s, "g1", "a")
	write(t, s, "g1", "b")
	write(t, s, "g2", "a")

	ids, err := s.List("g1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	n, err := s.Sweep("g1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err = s.List("g1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	f, err := s.Open("g2", "a")
	require.NoError(t, err)
	f.Close()
}

func TestStoreSanitisesIDs(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	p := s.Path("../evil", "x/../../y")
	rel, err := filepath.Rel(root, p)
	require.NoError(t, err)
	assert.NotContains(t, rel, "..")
}

func TestRemoveMissingIsNoop(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, s.Remove("g1", "nope"))

	ids, err := s.List("never")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = os.Stat(s.Path("g1", "nope"))
	assert.True(t, os.IsNotExist(err))
}

func TestDistinctIDsGetDistinctFiles(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	assert.NotEqual(t, s.Path("g1", "a.b"), s.Path("g1", "a_b"))
	assert.NotEqual(t, s.Path("g.1", "a"), s.Path("g_1", "a"))
	assert.NotEqual(t, s.Path("g1", ""), s.Path("g1", "_"))

	write(t, s, "g1", "a.b")
	write(t, s, "g1", "a_b")
	ids, err := s.List("g1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.b", "a_b"}, ids)
}

func TestCommitReplacesWithoutDisturbingReaders(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	write(t, s, "g1", "a")

	reader, err := s.Open("g1", "a")
	require.NoError(t, err)
	defer reader.Close()

	tmp, err := s.CreateTemp("g1", "a")
	require.NoError(t, err)
	_, err = tmp.WriteString("fresh")
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	ids, err := s.List("g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids, "partial files are not listed")

	n, err := s.Sweep("g1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(tmp.Name())
	require.NoError(t, err, "sweep keeps partial files")

	p, err := s.Commit(tmp.Name(), "g1", "a")
	require.NoError(t, err)
	assert.Equal(t, s.Path("g1", "a"), p)

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(got))

	old, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "data", string(old))

	require.NoError(t, s.Discard(tmp.Name()))
}
