package server

// Module cache
//
// An insertion-ordered registry of loaded modules, keyed twice: by the
// caller supplied identifier, and by a content hash for deduplication.
// Two ids may alias the same module object; a module's resources are
// released when its last alias is deleted.
//
// The hash input differs between the two load paths: URL loads hash the
// URL string, inline loads hash the module bytes. That asymmetry is
// long-standing observed behavior of the protocol and is kept as is.

import (
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
)

// ModuleCache owns every loaded module
type ModuleCache struct {
	modules map[string]*WasmModule
	// ids in insertion order, for deterministic iteration
	order  []string
	hashes map[string]*WasmModule

	searchPaths []string
	keepTemp    bool
}

// NewModuleCache creates an empty cache
func NewModuleCache() *ModuleCache {
	return &ModuleCache{
		modules: map[string]*WasmModule{},
		hashes:  map[string]*WasmModule{},
	}
}

// AddModuleSearchPath appends a directory for relative URL resolution
func (c *ModuleCache) AddModuleSearchPath(path string) {
	c.searchPaths = append(c.searchPaths, path)
}

// SetKeepTemporaries disables temp file cleanup on module release
func (c *ModuleCache) SetKeepTemporaries(keep bool) {
	c.keepTemp = keep
}

// FindModule returns the module registered under id, or nil
func (c *ModuleCache) FindModule(id string) *WasmModule {
	return c.modules[id]
}

// DeleteModule removes an id. The module's resources are released when
// no other id aliases it.
func (c *ModuleCache) DeleteModule(id string) bool {
	m, ok := c.modules[id]
	if !ok {
		return false
	}
	delete(c.modules, id)
	for i, known := range c.order {
		if known == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if !c.aliased(m) {
		for hash, hashed := range c.hashes {
			if hashed == m {
				delete(c.hashes, hash)
			}
		}
		m.dispose(c.keepTemp)
	}
	return true
}

func (c *ModuleCache) aliased(m *WasmModule) bool {
	for _, known := range c.modules {
		if known == m {
			return true
		}
	}
	return false
}

func (c *ModuleCache) install(id, hash string, m *WasmModule) {
	c.modules[id] = m
	c.order = append(c.order, id)
	c.hashes[hash] = m
}

func moduleHash(payload []byte) string {
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])
}

// GetModuleFromUrl returns the module registered under id, loading it
// from the resolved URL on first reference. The hash key is the URL
// string itself.
func (c *ModuleCache) GetModuleFromUrl(id, url string) (*WasmModule, error) {
	if m := c.FindModule(id); m != nil {
		return m, nil
	}

	hash := moduleHash([]byte(url))
	if m, ok := c.hashes[hash]; ok {
		slog.Debug("cache hit for module", "id", id, "url", url)
		c.modules[id] = m
		c.order = append(c.order, id)
		return m, nil
	}

	source, ok := c.resolveLocalModuleFile(url)
	if !ok {
		slog.Info("module not found", "id", id, "url", url)
		return nil, os.ErrNotExist
	}

	m, err := newModuleFromFile(id, source)
	if err != nil {
		return nil, err
	}
	c.install(id, hash, m)
	slog.Info("loaded module", "id", id, "sources", len(m.SourceScripts()))
	return m, nil
}

// GetModuleFromCode returns the module registered under id, materializing
// the inline bytes on first reference. The hash key is the module bytes.
func (c *ModuleCache) GetModuleFromCode(id string, code []byte) (*WasmModule, error) {
	if m := c.FindModule(id); m != nil {
		return m, nil
	}

	hash := moduleHash(code)
	if m, ok := c.hashes[hash]; ok {
		slog.Debug("cache hit for module", "id", id)
		c.modules[id] = m
		c.order = append(c.order, id)
		return m, nil
	}

	m, err := newModuleFromCode(id, code)
	if err != nil {
		return nil, err
	}
	c.install(id, hash, m)
	slog.Info("loaded module", "id", id, "sources", len(m.SourceScripts()))
	return m, nil
}

// resolveLocalModuleFile maps a URL onto an existing local file. Relative
// URLs try each search path; absolute URLs also try their relative form
// and bare file name before being taken literally.
func (c *ModuleCache) resolveLocalModuleFile(url string) (string, bool) {
	if !filepath.IsAbs(url) {
		for _, base := range c.searchPaths {
			candidate := filepath.Join(base, url)
			if fileExists(candidate) {
				return candidate, true
			}
		}
	} else {
		if local, ok := c.resolveLocalModuleFile(relativePath(url)); ok {
			return local, true
		}
		if local, ok := c.resolveLocalModuleFile(filepath.Base(url)); ok {
			return local, true
		}
	}

	if fileExists(url) {
		return url, true
	}
	return "", false
}

// relativePath strips the leading separator from an absolute path
func relativePath(path string) string {
	for len(path) > 0 && path[0] == filepath.Separator {
		path = path[1:]
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FindModulesContainingSourceScript returns every cached module whose
// compilation units reference the source file, in registration order
func (c *ModuleCache) FindModulesContainingSourceScript(file string) []*WasmModule {
	var found []*WasmModule
	for _, id := range c.order {
		m := c.modules[id]
		if m == nil || !m.ContainsSourceScript(file) {
			continue
		}
		slog.Debug("found module containing source", "id", id, "file", file)
		found = append(found, m)
	}
	return found
}
