package objdb

import (
	"runtime"
	"sync"
	"weak"
)

// weakCache is the per-table identity map: primary key to a non-owning
// reference to the live object. The cache never keeps objects alive; once
// no caller holds an object, its slot is cleared by a GC cleanup, with
// incidental cleanup on access as a fallback.
//
// All lookup-or-insert paths hold the single mutex, which is what makes
// hydration atomic per key across goroutines.
type weakCache struct {
	mu      sync.Mutex
	entries map[Key]cacheEntry
	nextGen uint64
}

// cacheEntry pairs the weak reference with a generation so a GC cleanup
// for a dead entry never removes a newer live entry under the same key.
type cacheEntry struct {
	ptr weak.Pointer[Object]
	gen uint64
}

func newWeakCache() *weakCache {
	return &weakCache{entries: make(map[Key]cacheEntry)}
}

// cleanupKey is passed to runtime.AddCleanup; it must not reference the
// object itself.
type cleanupKey struct {
	key Key
	gen uint64
}

func (c *weakCache) get(key Key) *Object {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.getLocked(key)
}

func (c *weakCache) getLocked(key Key) *Object {
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}

	o := entry.ptr.Value()
	if o == nil {
		delete(c.entries, key)

		return nil
	}

	return o
}

// put registers the object under key without taking ownership. When a
// live object already occupies the slot, the existing object wins and is
// returned; callers must adopt it and discard their instance.
func (c *weakCache) put(key Key, o *Object) *Object {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing := c.getLocked(key); existing != nil {
		return existing
	}

	c.registerLocked(key, o)

	return o
}

// lookupOrCreate returns the live object for key, or registers the result
// of create. The whole check-create-insert sequence runs under the lock.
func (c *weakCache) lookupOrCreate(key Key, create func() (*Object, error)) (*Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if o := c.getLocked(key); o != nil {
		return o, nil
	}

	o, err := create()
	if err != nil {
		return nil, err
	}

	c.registerLocked(key, o)

	return o, nil
}

func (c *weakCache) registerLocked(key Key, o *Object) {
	c.nextGen++
	gen := c.nextGen
	c.entries[key] = cacheEntry{ptr: weak.Make(o), gen: gen}

	runtime.AddCleanup(o, func(ck cleanupKey) { c.evict(ck) }, cleanupKey{key: key, gen: gen})
}

// evict removes a slot after its object was collected. Guarded by the
// generation so a re-hydrated entry under the same key survives.
func (c *weakCache) evict(ck cleanupKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[ck.key]
	if !ok || entry.gen != ck.gen {
		return
	}

	if entry.ptr.Value() == nil {
		delete(c.entries, ck.key)
	}
}

// remove explicitly drops a slot (delete, primary-key change).
func (c *weakCache) remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// live counts slots whose object is still reachable.
func (c *weakCache) live() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for _, entry := range c.entries {
		if entry.ptr.Value() != nil {
			n++
		}
	}

	return n
}
