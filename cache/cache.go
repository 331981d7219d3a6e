// Package cache memoizes parsed GD3 metadata by file path so repeated
// lookups of the same library (e.g. a directory browser re-rendering) skip
// re-reading and re-parsing the file.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/retrotone/vgmcore/header"
)

// GD3Cache is an LRU cache of header.GD3 keyed by file path.
type GD3Cache struct {
	inner *lru.Cache[string, *header.GD3]
}

// New builds a GD3Cache holding at most size entries. size must be positive.
func New(size int) (*GD3Cache, error) {
	inner, err := lru.New[string, *header.GD3](size)
	if err != nil {
		return nil, err
	}
	return &GD3Cache{inner: inner}, nil
}

// Get returns the cached GD3 for path, if present.
func (c *GD3Cache) Get(path string) (*header.GD3, bool) {
	return c.inner.Get(path)
}

// Put stores gd3 under path, evicting the least-recently-used entry if the
// cache is full.
func (c *GD3Cache) Put(path string, gd3 *header.GD3) {
	c.inner.Add(path, gd3)
}

// Len returns the number of entries currently cached.
func (c *GD3Cache) Len() int {
	return c.inner.Len()
}

// Remove evicts path's entry, if any.
func (c *GD3Cache) Remove(path string) {
	c.inner.Remove(path)
}
