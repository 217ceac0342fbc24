package prefs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore(t *testing.T) {
	t.Run("get before set returns ErrNotFound", func(t *testing.T) {
		store := openTestStore(t)

		_, err := store.Get(DarkModeKey)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get round-trips", func(t *testing.T) {
		store := openTestStore(t)

		require.NoError(t, store.Set(DarkModeKey, "true"))

		value, err := store.Get(DarkModeKey)
		require.NoError(t, err)
		assert.Equal(t, "true", value)
	})

	t.Run("set replaces an existing value", func(t *testing.T) {
		store := openTestStore(t)

		require.NoError(t, store.Set(DarkModeKey, "true"))
		require.NoError(t, store.Set(DarkModeKey, "false"))

		value, err := store.Get(DarkModeKey)
		require.NoError(t, err)
		assert.Equal(t, "false", value)
	})

	t.Run("keys are independent", func(t *testing.T) {
		store := openTestStore(t)

		require.NoError(t, store.Set("a", "1"))
		require.NoError(t, store.Set("b", "2"))

		a, err := store.Get("a")
		require.NoError(t, err)
		assert.Equal(t, "1", a)
	})

	t.Run("values survive reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prefs.db")

		store, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, store.Set(DarkModeKey, "true"))
		require.NoError(t, store.Close())

		reopened, err := Open(path)
		require.NoError(t, err)
		defer reopened.Close()

		value, err := reopened.Get(DarkModeKey)
		require.NoError(t, err)
		assert.Equal(t, "true", value)
	})
}

func TestOpenBadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "nested", "prefs.db"))
	assert.Error(t, err)
}
