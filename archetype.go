package loom

import (
	"sort"
	"sync"
)

// ArchetypeID is a monotonically assigned, process-lifetime-stable
// identifier for one archetype within a World.
type ArchetypeID uint64

type archetypeEdge struct {
	add    *Archetype
	remove *Archetype
}

// Archetype is the ordered collection of chunks holding every live entity
// that carries exactly one signature's set of component types. Structural
// mutation (row insert/remove) serializes on mu; reads of chunk columns
// are lock-free as long as no writer holds mu (spec.md §5).
type Archetype struct {
	id            ArchetypeID
	signature     ArchetypeSignature
	componentIDs  []ComponentTypeID
	infos         []*componentTypeInfo
	colIndex      [maxComponentTypes]int32 // -1 when absent
	chunkCapacity int
	world         *World

	mu     sync.Mutex
	chunks []*Chunk

	edgeMu sync.RWMutex
	edges  map[ComponentTypeID]archetypeEdge
}

func newArchetype(world *World, id ArchetypeID, signature ArchetypeSignature, chunkCapacity int) *Archetype {
	ids := signature.ComponentIDs()
	infos := make([]*componentTypeInfo, len(ids))
	for i, cid := range ids {
		infos[i] = componentInfoByID(cid)
	}
	// Reorder for locality: higher access-frequency tier first, then
	// ascending size, matching spec.md §4.4's column-ordering rule. This
	// affects only column index, never external addressing by type id.
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].accessTier != infos[j].accessTier {
			return infos[i].accessTier > infos[j].accessTier
		}
		return infos[i].size < infos[j].size
	})
	orderedIDs := make([]ComponentTypeID, len(infos))
	for i, info := range infos {
		orderedIDs[i] = info.id
	}

	a := &Archetype{
		id:            id,
		signature:     signature,
		componentIDs:  orderedIDs,
		infos:         infos,
		chunkCapacity: chunkCapacity,
		world:         world,
		edges:         make(map[ComponentTypeID]archetypeEdge, 4),
	}
	for i := range a.colIndex {
		a.colIndex[i] = -1
	}
	for i, cid := range orderedIDs {
		a.colIndex[cid] = int32(i)
	}
	return a
}

// ID returns the archetype's stable identifier.
func (a *Archetype) ID() ArchetypeID { return a.id }

// Signature returns the archetype's immutable component-set bitset.
func (a *Archetype) Signature() ArchetypeSignature { return a.signature }

// ComponentIDs returns the archetype's component types in storage
// (locality) order.
func (a *Archetype) ComponentIDs() []ComponentTypeID { return a.componentIDs }

// Chunks returns the archetype's current chunk list. Callers must not
// retain it across a structural mutation.
func (a *Archetype) Chunks() []*Chunk { return a.chunks }

// Count returns the total number of live entities across all chunks.
func (a *Archetype) Count() int {
	total := 0
	for _, c := range a.chunks {
		total += c.Len()
	}
	return total
}

func (a *Archetype) columnIndexFor(id ComponentTypeID) int {
	if int(id) >= len(a.colIndex) {
		return -1
	}
	return int(a.colIndex[id])
}

// insertEntity appends a new row to the last non-full chunk, allocating a
// fresh chunk when needed, and returns its (chunkIndex, row).
func (a *Archetype) insertEntity(id EntityID) (chunkIndex, row int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.chunks) == 0 || a.chunks[len(a.chunks)-1].Full() {
		a.chunks = append(a.chunks, newChunk(a.chunkCapacity, a.infos))
		a.world.metrics.ChunkAllocated()
	}
	chunkIndex = len(a.chunks) - 1
	chunk := a.chunks[chunkIndex]
	row = chunk.addRow(id)
	return chunkIndex, row
}

// removeRow removes the row at (chunkIndex,row) via swap-back. It returns
// the entity that was moved into that slot (if any) so World can update
// its record. When removing the row empties the chunk, the chunk is
// released by swapping the last chunk into its slot; if that relocates a
// different, still-live chunk, relocated is that chunk (now living at
// chunkIndex) and relocatedFrom is its previous index, so World can
// repoint every entity record that referenced relocatedFrom.
func (a *Archetype) removeRow(chunkIndex, row int) (moved EntityID, relocated *Chunk, relocatedFrom int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chunk := a.chunks[chunkIndex]
	moved = chunk.swapRemove(row)
	relocatedFrom = -1
	if chunk.Len() == 0 && len(a.chunks) > 1 {
		last := len(a.chunks) - 1
		if chunkIndex != last {
			a.chunks[chunkIndex] = a.chunks[last]
			relocated = a.chunks[chunkIndex]
			relocatedFrom = last
		}
		a.chunks[last] = nil
		a.chunks = a.chunks[:last]
		a.world.metrics.ChunkFreed()
	}
	return moved, relocated, relocatedFrom
}

// getOrCreateEdge returns the neighbor archetype reached by adding (or
// removing) a single component type, creating it on first need. Edge
// creation is coalesced through the ArchetypeIndex so concurrent callers
// resolve to a single target archetype.
func (a *Archetype) getOrCreateEdge(id ComponentTypeID, add bool) *Archetype {
	a.edgeMu.RLock()
	edge, ok := a.edges[id]
	a.edgeMu.RUnlock()
	if ok {
		if add && edge.add != nil {
			return edge.add
		}
		if !add && edge.remove != nil {
			return edge.remove
		}
	}

	var target ArchetypeSignature
	if add {
		target = a.signature.Add(id)
	} else {
		target = a.signature.Remove(id)
	}
	targetArchetype := a.world.index.getOrCreate(target)

	a.edgeMu.Lock()
	edge = a.edges[id]
	if add {
		edge.add = targetArchetype
	} else {
		edge.remove = targetArchetype
	}
	a.edges[id] = edge
	a.edgeMu.Unlock()

	return targetArchetype
}
