// Package filecache mirrors directory trees into memory and serves the
// cached bytes with a reader/writer concurrency discipline. Each inserted
// root is watched for filesystem changes so the cache refreshes itself; a
// reverse index (root path -> key set) makes root removal atomic.
package filecache

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// InsertHandler decides how a file's bytes are encoded into the cache.
// The HTTP server uses it to prebuild a complete 200 response around the
// file content. Returning false skips the file.
type InsertHandler func(cache *Cache, key string, value []byte, ttl time.Duration) bool

// entry is one cached value with its expiration deadline.
type entry struct {
	value    []byte
	deadline time.Time // zero means no expiration
}

// pathEntry tracks one inserted root and its watcher.
type pathEntry struct {
	prefix  string
	filter  string
	handler InsertHandler
	ttl     time.Duration
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Cache is a key/value store with TTLs, per-root reverse indexing, and
// filesystem watching. A single reader/writer lock guards the key map, the
// reverse index, and the path map; watcher callbacks run on background
// goroutines and take the write lock before mutating.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	paths   map[string]*pathEntry
	index   map[string]map[string]struct{} // root path -> keys derived from it
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		paths:   make(map[string]*pathEntry),
		index:   make(map[string]map[string]struct{}),
	}
}

// Add stores value under key with the given TTL (zero = no expiration).
func (c *Cache) Add(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value, ttl)
}

// store writes an entry. Caller holds the write lock.
func (c *Cache) store(key string, value []byte, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.deadline = time.Now().Add(ttl)
	}
	c.entries[key] = e
}

// Find returns the cached value for key. Expired entries miss.
func (c *Cache) Find(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.deadline.IsZero() && time.Now().After(e.deadline) {
		return nil, false
	}
	return e.value, true
}

// Remove deletes key from the cache.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry, root, and watcher.
func (c *Cache) Clear() {
	c.mu.Lock()
	watchers := make([]*pathEntry, 0, len(c.paths))
	for _, pe := range c.paths {
		watchers = append(watchers, pe)
	}
	c.entries = make(map[string]entry)
	c.paths = make(map[string]*pathEntry)
	c.index = make(map[string]map[string]struct{})
	c.mu.Unlock()

	for _, pe := range watchers {
		pe.stop()
	}
}

// InsertPath walks the directory tree rooted at root, caching every file
// that matches filter (a glob over the base name; empty matches all) under
// a key built by URL-decoding each path segment and joining with '/',
// rooted at prefix (default "/"). A filesystem watcher keeps the subtree
// fresh until RemovePath. Returns false when the walk fails.
func (c *Cache) InsertPath(root, prefix, filter string, ttl time.Duration, handler InsertHandler) bool {
	if handler == nil {
		handler = DefaultHandler
	}
	if prefix == "" {
		prefix = "/"
	}
	root = filepath.Clean(root)

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false
	}

	pe := &pathEntry{
		prefix:  prefix,
		filter:  filter,
		handler: handler,
		ttl:     ttl,
		watcher: watcher,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if _, exists := c.paths[root]; exists {
		c.mu.Unlock()
		watcher.Close()
		return false
	}
	c.paths[root] = pe
	c.index[root] = make(map[string]struct{})
	c.mu.Unlock()

	if !c.walkAndInsert(root, pe) {
		c.RemovePath(root)
		return false
	}

	go c.watchLoop(root, pe)
	return true
}

// walkAndInsert loads the subtree into the cache and registers every
// directory with the watcher (fsnotify does not recurse by itself).
func (c *Cache) walkAndInsert(root string, pe *pathEntry) bool {
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return pe.watcher.Add(path)
		}
		if !matchFilter(pe.filter, info.Name()) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		c.insertFile(root, pe, path, data)
		return nil
	})
	return err == nil
}

// FindPath reports whether root is an inserted path.
func (c *Cache) FindPath(root string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.paths[filepath.Clean(root)]
	return ok
}

// RemovePath drops a root: its watcher stops and every key derived from it
// is removed atomically under the write lock.
func (c *Cache) RemovePath(root string) bool {
	root = filepath.Clean(root)

	c.mu.Lock()
	pe, ok := c.paths[root]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.paths, root)
	for key := range c.index[root] {
		delete(c.entries, key)
	}
	delete(c.index, root)
	c.mu.Unlock()

	pe.stop()
	return true
}

// Keys returns a snapshot of all cache keys derived from root.
func (c *Cache) Keys(root string) []string {
	root = filepath.Clean(root)
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.index[root]))
	for key := range c.index[root] {
		keys = append(keys, key)
	}
	return keys
}

// keyForPath derives the cache key for a file under root: relative path,
// separators normalized to '/', each segment URL-decoded, joined under
// prefix.
func keyForPath(root, prefix, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)

	segments := strings.Split(rel, "/")
	for i, seg := range segments {
		if decoded, err := url.PathUnescape(seg); err == nil {
			segments[i] = decoded
		}
	}

	key := strings.Join(segments, "/")
	if strings.HasSuffix(prefix, "/") {
		return prefix + key
	}
	return prefix + "/" + key
}

// insertFile encodes one file into the cache through the root's handler and
// records the key in the reverse index.
func (c *Cache) insertFile(root string, pe *pathEntry, path string, data []byte) {
	key := keyForPath(root, pe.prefix, path)
	if !pe.handler(c, key, data, pe.ttl) {
		return
	}
	c.mu.Lock()
	if keys, ok := c.index[root]; ok {
		keys[key] = struct{}{}
	}
	c.mu.Unlock()
}

// removeFile drops one file's key from the cache and the reverse index.
func (c *Cache) removeFile(root string, pe *pathEntry, path string) {
	key := keyForPath(root, pe.prefix, path)
	c.mu.Lock()
	delete(c.entries, key)
	if keys, ok := c.index[root]; ok {
		delete(keys, key)
	}
	c.mu.Unlock()
}

// removeSubtree drops every cached key under the given directory path.
// Used for directory removes and renames, where the watcher only reports
// the directory itself.
func (c *Cache) removeSubtree(root string, pe *pathEntry, dir string) {
	keyPrefix := keyForPath(root, pe.prefix, dir) + "/"
	c.mu.Lock()
	for key := range c.index[root] {
		if strings.HasPrefix(key, keyPrefix) {
			delete(c.entries, key)
			delete(c.index[root], key)
		}
	}
	c.mu.Unlock()
}

// watchLoop translates filesystem events into cache refreshes. Errors are
// best-effort: a failed refresh is logged and dropped.
func (c *Cache) watchLoop(root string, pe *pathEntry) {
	for {
		select {
		case <-pe.done:
			return
		case ev, ok := <-pe.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(root, pe, ev)
		case err, ok := <-pe.watcher.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Str("root", root).Msg("file cache watch error")
		}
	}
}

// handleEvent applies one filesystem event to the cache.
func (c *Cache) handleEvent(root string, pe *pathEntry, ev fsnotify.Event) {
	path := ev.Name

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			// New directory (including the target of a directory rename):
			// register it with the watcher and load its contents.
			if err := pe.watcher.Add(path); err != nil {
				log.Debug().Err(err).Str("path", path).Msg("file cache watch add failed")
			}
			c.insertSubtree(root, pe, path)
			return
		}
		c.refreshFile(root, pe, path, info.Name())

	case ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return
		}
		c.refreshFile(root, pe, path, info.Name())

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// The old name is gone either way. A renamed directory produces a
		// Create for its new name, handled above, so a rename behaves as a
		// remove+insert pair over the reverse index.
		c.removeFile(root, pe, path)
		c.removeSubtree(root, pe, path)
	}
}

// refreshFile re-reads one file into the cache.
func (c *Cache) refreshFile(root string, pe *pathEntry, path, base string) {
	if !matchFilter(pe.filter, base) {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("file cache refresh failed")
		return
	}
	c.insertFile(root, pe, path, data)
}

// insertSubtree loads a directory created after the initial walk.
func (c *Cache) insertSubtree(root string, pe *pathEntry, dir string) {
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort refresh
		}
		if info.IsDir() {
			_ = pe.watcher.Add(path)
			return nil
		}
		c.refreshFile(root, pe, path, info.Name())
		return nil
	})
}

// matchFilter applies the glob filter to a file's base name.
func matchFilter(filter, name string) bool {
	if filter == "" || filter == "*" || filter == "*.*" {
		return true
	}
	ok, err := filepath.Match(filter, name)
	return err == nil && ok
}

// stop shuts the watcher down.
func (pe *pathEntry) stop() {
	close(pe.done)
	_ = pe.watcher.Close()
}

// DefaultHandler stores the file bytes unchanged.
func DefaultHandler(cache *Cache, key string, value []byte, ttl time.Duration) bool {
	cache.Add(key, value, ttl)
	return true
}
