package loom

// query.go implements the query builder of spec.md §4.5, grounded in
// TheBitDrifter-warehouse's query.go/cursor.go: the same two-phase shape
// (build a signature, then resolve matching archetypes and iterate their
// rows) but collapsed to the with/without pair spec.md actually asks
// for, rather than the teacher's general AND/OR/NOT boolean tree — this
// module has no use for a composite query language, only "has these,
// lacks those". Chunk iteration uses iter.Seq, the same stdlib iterator
// shape cursor.go's Entities() returns via iter.Seq2.

import (
	"iter"
	"time"
)

// QueryBuilder accumulates a (with, without) component-type signature
// pair and resolves it against a World's ArchetypeIndex.
type QueryBuilder struct {
	world   *World
	with    ArchetypeSignature
	without ArchetypeSignature
}

// With requires that matching archetypes carry the component type T.
func With[T any](q *QueryBuilder, handle ComponentHandle[T]) *QueryBuilder {
	q.with = q.with.Add(handle.ID())
	return q
}

// Without excludes archetypes that carry the component type T.
func Without[T any](q *QueryBuilder, handle ComponentHandle[T]) *QueryBuilder {
	q.without = q.without.Add(handle.ID())
	return q
}

// archetypes resolves the builder's signature pair to the current
// matching archetype list, via the World's cached ArchetypeIndex lookup.
func (q *QueryBuilder) archetypes() []*Archetype {
	return q.world.index.Matching(q.with, q.without)
}

// Chunks returns an iterator over every chunk of every archetype
// matching this query's with/without signature. Chunks from archetypes
// with zero live rows are skipped.
func (q *QueryBuilder) Chunks() iter.Seq[*Chunk] {
	return func(yield func(*Chunk) bool) {
		for _, arche := range q.archetypes() {
			for _, chunk := range arche.Chunks() {
				if chunk.Len() == 0 {
					continue
				}
				if !yield(chunk) {
					return
				}
			}
		}
	}
}

// Count returns the total number of live entities across every
// archetype matching this query.
func (q *QueryBuilder) Count() int {
	start := time.Now()
	total := 0
	for _, arche := range q.archetypes() {
		total += arche.Count()
	}
	q.world.metrics.RecordQuery(total, time.Since(start))
	return total
}
