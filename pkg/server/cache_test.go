package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptyModule is a wasm container with no sections: loadable, but not
// debuggable
func emptyModule() []byte {
	return []byte("\x00asm\x01\x00\x00\x00")
}

func TestCacheInlineDeduplication(t *testing.T) {
	cache := NewModuleCache()

	first, err := cache.GetModuleFromCode("id-1", emptyModule())
	require.NoError(t, err)

	// same bytes under a second id alias the same module object
	second, err := cache.GetModuleFromCode("id-2", emptyModule())
	require.NoError(t, err)
	assert.Same(t, first, second)

	// and the same id returns the registered module untouched
	again, err := cache.GetModuleFromCode("id-1", emptyModule())
	require.NoError(t, err)
	assert.Same(t, first, again)
}

func TestCacheDeleteReleasesLastAlias(t *testing.T) {
	cache := NewModuleCache()

	m, err := cache.GetModuleFromCode("id-1", emptyModule())
	require.NoError(t, err)
	_, err = cache.GetModuleFromCode("id-2", emptyModule())
	require.NoError(t, err)

	tempPath := m.tempPath
	require.NotEmpty(t, tempPath)
	require.FileExists(t, tempPath)

	// first delete leaves the alias alive
	assert.True(t, cache.DeleteModule("id-1"))
	assert.Nil(t, cache.FindModule("id-1"))
	assert.NotNil(t, cache.FindModule("id-2"))
	assert.FileExists(t, tempPath)

	// last delete releases the temp file
	assert.True(t, cache.DeleteModule("id-2"))
	assert.NoFileExists(t, tempPath)

	// and the hash entry is gone: the next load materializes fresh
	reloaded, err := cache.GetModuleFromCode("id-3", emptyModule())
	require.NoError(t, err)
	assert.NotSame(t, m, reloaded)
}

func TestCacheKeepTemporaries(t *testing.T) {
	cache := NewModuleCache()
	cache.SetKeepTemporaries(true)

	m, err := cache.GetModuleFromCode("id", emptyModule())
	require.NoError(t, err)
	tempPath := m.tempPath

	assert.True(t, cache.DeleteModule("id"))
	assert.FileExists(t, tempPath)
	os.Remove(tempPath)
}

func TestCacheDeleteUnknown(t *testing.T) {
	cache := NewModuleCache()
	assert.False(t, cache.DeleteModule("missing"))
}

func TestCacheUrlResolution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.wasm")
	require.NoError(t, os.WriteFile(path, emptyModule(), 0644))

	t.Run("relative url against search path", func(t *testing.T) {
		cache := NewModuleCache()
		cache.AddModuleSearchPath(dir)
		m, err := cache.GetModuleFromUrl("id", "mod.wasm")
		require.NoError(t, err)
		assert.NotNil(t, m)
	})

	t.Run("absolute url taken literally", func(t *testing.T) {
		cache := NewModuleCache()
		m, err := cache.GetModuleFromUrl("id", path)
		require.NoError(t, err)
		assert.NotNil(t, m)
	})

	t.Run("absolute url resolved by basename", func(t *testing.T) {
		cache := NewModuleCache()
		cache.AddModuleSearchPath(dir)
		m, err := cache.GetModuleFromUrl("id", "/served/from/elsewhere/mod.wasm")
		require.NoError(t, err)
		assert.NotNil(t, m)
	})

	t.Run("unresolvable url", func(t *testing.T) {
		cache := NewModuleCache()
		_, err := cache.GetModuleFromUrl("id", "nope.wasm")
		assert.Error(t, err)
	})
}

func TestCacheUrlHashIsUrlBased(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.wasm")
	pathB := filepath.Join(dir, "b.wasm")
	require.NoError(t, os.WriteFile(pathA, emptyModule(), 0644))
	require.NoError(t, os.WriteFile(pathB, emptyModule(), 0644))

	cache := NewModuleCache()

	// identical content under two urls loads two distinct modules: the
	// url-load path hashes the url string, not the file bytes
	first, err := cache.GetModuleFromUrl("id-1", pathA)
	require.NoError(t, err)
	second, err := cache.GetModuleFromUrl("id-2", pathB)
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	// while the same url under a new id aliases
	third, err := cache.GetModuleFromUrl("id-3", pathA)
	require.NoError(t, err)
	assert.Same(t, first, third)
}

func TestCacheFindModulesContainingSourceScript(t *testing.T) {
	cache := NewModuleCache()
	path := filepath.Join(t.TempDir(), "hello.wasm")
	require.NoError(t, os.WriteFile(path, debugFixture(t), 0644))

	_, err := cache.GetModuleFromUrl("hello", path)
	require.NoError(t, err)
	_, err = cache.GetModuleFromCode("empty", emptyModule())
	require.NoError(t, err)

	found := cache.FindModulesContainingSourceScript("hello.c")
	require.Len(t, found, 1)
	assert.Equal(t, "hello", found[0].Id)

	assert.Empty(t, cache.FindModulesContainingSourceScript("missing.c"))
}
