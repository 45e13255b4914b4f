package loom

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// stackMatchThreshold is the small-result-set size (spec.md §4.5's T=8)
// below which matching scans accumulate into a fixed-size local array
// instead of a growable slice, avoiding an allocation for the common
// narrow-query case before the result is copied into the cache.
const stackMatchThreshold = 8

// QueryCacheStats reports ArchetypeIndex cache effectiveness.
type QueryCacheStats struct {
	Hits         uint64
	Misses       uint64
	Invalidations uint64
	CurrentSize  int
	Generation   uint64
}

type queryCacheKey struct {
	with    string
	without string
}

type queryCacheEntry struct {
	archetypes []*Archetype
	generation uint64
}

// ArchetypeIndex owns the set of archetypes in a World, clusters them for
// matching, and caches (with,without) query results. A single generation
// counter invalidates the cache: any archetype creation bumps it, and a
// stale cache entry is detected (and refreshed) rather than ever being
// served as-is.
type ArchetypeIndex struct {
	world *World

	mu          sync.RWMutex
	bySignature map[string]*Archetype
	byID        []*Archetype
	nextID      ArchetypeID
	generation  atomic.Uint64
	group       singleflight.Group

	cacheMu sync.Mutex
	cache   map[queryCacheKey]*queryCacheEntry

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
}

func newArchetypeIndex(world *World) *ArchetypeIndex {
	return &ArchetypeIndex{
		world:       world,
		bySignature: make(map[string]*Archetype, 32),
		cache:       make(map[queryCacheKey]*queryCacheEntry, 32),
	}
}

// getOrCreate returns the archetype for signature, creating it if this is
// the first time it has been observed. Concurrent creates for the same
// signature are coalesced via singleflight so exactly one archetype is
// created and every caller observes the same target.
func (idx *ArchetypeIndex) getOrCreate(sig ArchetypeSignature) *Archetype {
	key := sig.key()

	idx.mu.RLock()
	if a, ok := idx.bySignature[key]; ok {
		idx.mu.RUnlock()
		return a
	}
	idx.mu.RUnlock()

	result, _, _ := idx.group.Do(key, func() (interface{}, error) {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		if a, ok := idx.bySignature[key]; ok {
			return a, nil
		}
		idx.nextID++
		a := newArchetype(idx.world, idx.nextID, sig, idx.world.config.chunkCapacity)
		idx.bySignature[key] = a
		idx.byID = append(idx.byID, a)
		idx.generation.Add(1)
		idx.invalidations.Add(1)
		idx.world.metrics.ArchetypeCreated()
		return a, nil
	})
	return result.(*Archetype)
}

// All returns every archetype currently known to the index, ordered by
// ascending ArchetypeID.
func (idx *ArchetypeIndex) All() []*Archetype {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*Archetype, len(idx.byID))
	copy(out, idx.byID)
	return out
}

// Matching returns, in deterministic ArchetypeID order, every archetype
// whose signature is a superset of with and disjoint from without.
// Results are served from cache when the index generation has not
// changed since the entry was built.
func (idx *ArchetypeIndex) Matching(with, without ArchetypeSignature) []*Archetype {
	key := queryCacheKey{with: with.key(), without: without.key()}
	gen := idx.generation.Load()

	idx.cacheMu.Lock()
	if entry, ok := idx.cache[key]; ok && entry.generation == gen {
		idx.cacheMu.Unlock()
		idx.hits.Add(1)
		return entry.archetypes
	}
	idx.cacheMu.Unlock()

	idx.misses.Add(1)
	matched := idx.scanMatching(with, without)

	idx.cacheMu.Lock()
	idx.cache[key] = &queryCacheEntry{archetypes: matched, generation: gen}
	idx.cacheMu.Unlock()

	return matched
}

func (idx *ArchetypeIndex) scanMatching(with, without ArchetypeSignature) []*Archetype {
	var stackBuf [stackMatchThreshold]*Archetype
	matched := stackBuf[:0]
	var overflow []*Archetype

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, a := range idx.byID {
		if !a.signature.IsSupersetOf(with) {
			continue
		}
		if a.signature.IntersectsAny(without) {
			continue
		}
		if overflow != nil {
			overflow = append(overflow, a)
			continue
		}
		if len(matched) == cap(matched) {
			overflow = acquireArchetypeSlice()
			overflow = append(overflow, matched...)
			overflow = append(overflow, a)
			continue
		}
		matched = append(matched, a)
	}
	if overflow != nil {
		result := append([]*Archetype(nil), overflow...)
		releaseArchetypeSlice(overflow)
		return result
	}
	return append([]*Archetype(nil), matched...)
}

// Stats reports current cache effectiveness counters.
func (idx *ArchetypeIndex) Stats() QueryCacheStats {
	idx.cacheMu.Lock()
	size := len(idx.cache)
	idx.cacheMu.Unlock()
	return QueryCacheStats{
		Hits:          idx.hits.Load(),
		Misses:        idx.misses.Load(),
		Invalidations: idx.invalidations.Load(),
		CurrentSize:   size,
		Generation:    idx.generation.Load(),
	}
}
