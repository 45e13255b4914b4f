/*
Package loom provides an archetype-based Entity-Component-System (ECS)
runtime for games and simulations.

Loom groups entities by the exact set of component types they carry
("archetypes"), lays component values out contiguously in fixed-size
chunks, and lets client code iterate those chunks without per-iteration
heap traffic. It is built around five tightly coupled pieces:

  - EntityRegistry: stable (index, generation) identifiers with recycling.
  - ArchetypeSignature: an immutable, hashable bitset of component type ids.
  - Chunk / ColumnStorage: fixed-capacity, cache-aligned columnar storage.
  - ArchetypeIndex: fast With/Without query matching with an invalidated cache.
  - SystemScheduler: dependency-ordered phases with parallel execution of
    non-conflicting systems.

Basic usage:

	w := loom.NewWorld()

	position := loom.RegisterComponent[Position]()
	velocity := loom.RegisterComponent[Velocity]()

	e, _ := w.CreateEntity()
	loom.AddComponent(w, e, position, Position{X: 1, Y: 2})
	loom.AddComponent(w, e, velocity, Velocity{X: 1, Y: 0})

	q := loom.With(loom.With(w.Query(), position), velocity)
	for chunk := range q.Chunks() {
		for row := range chunk.Len() {
			id := chunk.Entity(row)
			pos, _ := loom.GetComponentMut(w, id, position)
			vel, _ := loom.GetComponent(w, id, velocity)
			pos.X += vel.X
			pos.Y += vel.Y
		}
	}

Loom is a standalone runtime; persistence beyond the snapshot format,
networking, gameplay logic, GUI, and scripting are explicitly out of
scope.
*/
package loom
