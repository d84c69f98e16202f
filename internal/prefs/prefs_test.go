// ABOUTME: Tests for the prefs stores and theme helpers
// ABOUTME: Runs the same behaviour checks against SQLite and memory stores

package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cardea-console/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "prefs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newTestSQLite(t),
		"memory": NewMemory(),
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "prefs.db")

	s, err := NewSQLiteStore(dbPath, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestStore_GetPutDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			_, err := s.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, "k", []byte("v1")))
			require.NoError(t, s.Put(ctx, "k", []byte("v2")))
			got, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got)

			require.NoError(t, s.Delete(ctx, "k"))
			_, err = s.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.NoError(t, s.Delete(ctx, "never-set"))
		})
	}
}

func TestTheme_RoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			_, err := LoadTheme(ctx, s)
			require.ErrorIs(t, err, ErrNotFound)

			theme := model.Theme{"primary_color": "#123456", "secondary_color": "#abcdef"}
			require.NoError(t, SaveTheme(ctx, s, theme))

			got, err := LoadTheme(ctx, s)
			require.NoError(t, err)
			assert.Equal(t, theme, got)
		})
	}
}

func TestLoadTheme_Corrupt(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Put(t.Context(), KeyRecentTheme, []byte("{not json")))

	_, err := LoadTheme(t.Context(), s)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLoadTheme_LenientValues(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Put(t.Context(), KeyRecentTheme, []byte(`{"primary_color":"#000","border_radius":4}`)))

	got, err := LoadTheme(t.Context(), s)
	require.NoError(t, err)
	assert.Equal(t, model.Theme{"primary_color": "#000", "border_radius": "4"}, got)

	require.NoError(t, s.Put(t.Context(), KeyRecentTheme, []byte(`null`)))
	_, err = LoadTheme(t.Context(), s)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "prefs.db")

	s, err := NewSQLiteStore(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, SaveTheme(t.Context(), s, model.Theme{"primary_color": "#000000"}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := LoadTheme(t.Context(), s)
	require.NoError(t, err)
	assert.Equal(t, "#000000", got["primary_color"])
}

func TestMemory_CopiesValues(t *testing.T) {
	m := NewMemory()
	v := []byte("abc")
	require.NoError(t, m.Put(t.Context(), "k", v))
	v[0] = 'z'

	got, err := m.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}
