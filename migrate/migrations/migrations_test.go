package migrations

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(afero.NewMemMapFs(), "migrations")
	require.NoError(t, err)
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := newTestStore(t)

	written, err := s.Write("add users", "CREATE TABLE users (id INTEGER);\n")
	require.NoError(t, err)
	assert.Equal(t, "add_users", written.Name)
	assert.True(t, strings.HasSuffix(written.ID, "_add_users"))

	read, err := s.Read(written.ID)
	require.NoError(t, err)
	assert.Equal(t, written, read)
}

func TestReadMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("20240101000000_nope")
	require.Error(t, err)
}

func TestListOrdersByID(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := NewStore(fs, "migrations")
	require.NoError(t, err)

	for _, id := range []string{"20240301000000_c", "20240101000000_a", "20240201000000_b"} {
		require.NoError(t, fs.MkdirAll("migrations/"+id, 0o755))
		require.NoError(t, afero.WriteFile(fs, "migrations/"+id+"/"+ScriptFile, []byte("-- "+id+"\n"), 0o644))
	}
	// Noise the lister must skip: a stray file, a folder without a script,
	// and a folder that is not a migration id.
	require.NoError(t, afero.WriteFile(fs, "migrations/README.md", []byte("docs"), 0o644))
	require.NoError(t, fs.MkdirAll("migrations/20240401000000_empty", 0o755))
	require.NoError(t, fs.MkdirAll("migrations/not_a_migration", 0o755))

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "20240101000000_a", all[0].ID)
	assert.Equal(t, "20240201000000_b", all[1].ID)
	assert.Equal(t, "20240301000000_c", all[2].ID)
}

func TestNewID(t *testing.T) {
	id := NewID("add users & teams")
	assert.Regexp(t, `^\d{14}_add_users_teams$`, id)

	assert.Regexp(t, `^\d{14}_migration$`, NewID("   "))
	assert.Regexp(t, `^\d{14}_migration$`, NewID(""))
}
