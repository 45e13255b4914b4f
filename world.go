package loom

// world.go implements the World façade of spec.md §4.6, grounded in
// TheBitDrifter-warehouse's storage.go (the same role: owns the
// registries, dispatches entity/component operations, hides archetype
// bookkeeping behind a small surface). Where storage.go's Storage
// interface operates on table.Entity handles, World operates on the
// packed EntityID of entity.go and the archetype/chunk layer built for
// this module; the entity-operation queue (operation_queue.go in the
// teacher) is not reused because spec.md has no deferred/enqueued
// mutation model — every World method applies immediately under the
// per-archetype mutex.

import (
	"context"
	"sync"
	"time"
)

// entityRecord tracks where one live entity's row currently lives.
type entityRecord struct {
	archetype *Archetype
	chunkIdx  int
	row       int
}

// World is the top-level ECS runtime: it owns entity identity, archetype
// storage, and the collaborators (logger, metrics, event bus, delta
// cache, scheduler) wired in at construction via WorldOption.
type World struct {
	config *worldConfig

	mu       sync.RWMutex
	entities *EntityRegistry
	records  map[EntityID]*entityRecord

	index      *ArchetypeIndex
	deltaCache *DeltaCache
	eventBus   *EventBus
	metrics    MetricsSink
	logger     Logger
	scheduler  *SystemScheduler

	disposed bool
}

// NewWorld constructs an empty World. Logging, metrics, chunk capacity,
// and scheduler worker count are configured via WorldOption values;
// omitting all of them yields a NullLogger, no-op metrics, the default
// chunk capacity, and GOMAXPROCS(0) scheduler workers.
func NewWorld(opts ...WorldOption) *World {
	cfg := defaultWorldConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	w := &World{
		config:     cfg,
		entities:   NewEntityRegistry(),
		records:    make(map[EntityID]*entityRecord, 1024),
		deltaCache: newDeltaCache(),
		eventBus:   NewEventBus(),
		metrics:    newMetricsSink(cfg.metricsRegistry),
		logger:     cfg.logger,
	}
	w.index = newArchetypeIndex(w)
	w.scheduler = newSystemScheduler(w, cfg.schedulerWorkers)
	return w
}

func (w *World) checkDisposed() error {
	if w.disposed {
		return DisposedError{}
	}
	return nil
}

func (w *World) log(level LogLevel, op EcsOperation, entity EntityID, hasEntity bool, component, msg string) {
	w.logger.Log(LogEvent{
		Level:         level,
		Op:            op,
		Entity:        entity,
		HasEntity:     hasEntity,
		ComponentName: component,
		Message:       msg,
	})
}

// Scheduler returns the World's SystemScheduler.
func (w *World) Scheduler() *SystemScheduler { return w.scheduler }

// Events returns the World's EventBus, for Subscribe/Publish.
func (w *World) Events() *EventBus { return w.eventBus }

// Metrics returns the World's configured MetricsSink.
func (w *World) Metrics() MetricsSink { return w.metrics }

// CreateEntity allocates a new entity with no components, placing it in
// the empty archetype.
func (w *World) CreateEntity() (EntityID, error) {
	ids, err := w.CreateEntities(1)
	if err != nil {
		return InvalidEntity, err
	}
	return ids[0], nil
}

// CreateEntities allocates n new entities in a single batch, all placed
// in the empty archetype. Batching avoids n separate archetype-index
// lookups and lock acquisitions (spec.md's supplemented batch-creation
// feature; see SPEC_FULL.md).
func (w *World) CreateEntities(n int) ([]EntityID, error) {
	if err := w.checkDisposed(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, InvalidOperationError{Reason: "CreateEntities: n must be positive"}
	}
	start := time.Now()

	empty := w.index.getOrCreate(EmptySignature)

	w.mu.Lock()
	ids := make([]EntityID, n)
	for i := 0; i < n; i++ {
		id := w.entities.Create()
		chunkIdx, row := empty.insertEntity(id)
		w.records[id] = &entityRecord{archetype: empty, chunkIdx: chunkIdx, row: row}
		ids[i] = id
	}
	w.mu.Unlock()

	w.metrics.RecordOperation(OpEntityCreate, time.Since(start))
	for _, id := range ids {
		w.log(LogTrace, OpEntityCreate, id, true, "", "entity created")
	}
	return ids, nil
}

// DestroyEntity removes an entity and its components. Destroying an
// already-dead or unknown entity is a silent no-op (spec.md §4.1).
func (w *World) DestroyEntity(id EntityID) error {
	if err := w.checkDisposed(); err != nil {
		return err
	}

	start := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.records[id]
	if !ok || !w.entities.IsAlive(id) {
		return nil
	}

	moved, relocated, _ := rec.archetype.removeRow(rec.chunkIdx, rec.row)
	if moved != InvalidEntity {
		if movedRec, ok := w.records[moved]; ok {
			movedRec.row = rec.row
			movedRec.chunkIdx = rec.chunkIdx
		}
	}
	w.reconcileChunkRelocation(relocated, rec.chunkIdx)
	delete(w.records, id)
	w.entities.Destroy(id)

	w.metrics.RecordOperation(OpEntityDestroy, time.Since(start))
	w.log(LogTrace, OpEntityDestroy, id, true, "", "entity destroyed")
	return nil
}

// HasComponent reports whether entity currently carries the component
// identified by handle.
func HasComponent[T any](w *World, id EntityID, handle ComponentHandle[T]) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rec, ok := w.records[id]
	if !ok {
		w.log(LogWarn, OpComponentGet, id, false, handle.Name(), "HasComponent on unknown entity")
		return false
	}
	return rec.archetype.Signature().Has(handle.ID())
}

// GetComponent returns a read-only pointer to entity's component value.
// The pointer is only valid until the next structural mutation
// (AddComponent/RemoveComponent/DestroyEntity) on any entity of the same
// archetype.
func GetComponent[T any](w *World, id EntityID, handle ComponentHandle[T]) (*T, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rec, ok := w.records[id]
	if !ok {
		return nil, EntityNotFoundError{Entity: id, Op: OpComponentGet}
	}
	colIndex := rec.archetype.columnIndexFor(handle.ID())
	if colIndex < 0 {
		return nil, ComponentMissingError{Entity: id, ComponentName: handle.Name()}
	}
	chunk := rec.archetype.Chunks()[rec.chunkIdx]
	col := Column(chunk, handle, colIndex)
	return &col[rec.row], nil
}

// GetComponentMut is GetComponent, but marks the row's column dirty.
func GetComponentMut[T any](w *World, id EntityID, handle ComponentHandle[T]) (*T, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rec, ok := w.records[id]
	if !ok {
		return nil, EntityNotFoundError{Entity: id, Op: OpComponentGet}
	}
	colIndex := rec.archetype.columnIndexFor(handle.ID())
	if colIndex < 0 {
		return nil, ComponentMissingError{Entity: id, ComponentName: handle.Name()}
	}
	chunk := rec.archetype.Chunks()[rec.chunkIdx]
	chunk.markDirty(colIndex, rec.row)
	col := Column(chunk, handle, colIndex)
	return &col[rec.row], nil
}

// AddComponent attaches value to entity, migrating it to the archetype
// with the added component type. If entity already carries the
// component, its value is overwritten in place (upsert semantics — the
// Open Question in spec.md §7 is resolved toward "last write wins" so
// that repeated AddComponent calls compose like a set operation rather
// than requiring callers to check HasComponent first).
func AddComponent[T any](w *World, id EntityID, handle ComponentHandle[T], value T) error {
	if err := w.checkDisposed(); err != nil {
		return err
	}
	start := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.records[id]
	if !ok {
		return EntityNotFoundError{Entity: id, Op: OpComponentAdd}
	}

	if colIndex := rec.archetype.columnIndexFor(handle.ID()); colIndex >= 0 {
		chunk := rec.archetype.Chunks()[rec.chunkIdx]
		chunk.markDirty(colIndex, rec.row)
		col := Column(chunk, handle, colIndex)
		col[rec.row] = value
		w.metrics.RecordOperation(OpComponentAdd, time.Since(start))
		w.log(LogTrace, OpComponentAdd, id, true, handle.Name(), "component overwritten")
		return nil
	}

	if err := w.migrate(id, rec, rec.archetype.Signature().Add(handle.ID())); err != nil {
		return err
	}

	rec = w.records[id]
	colIndex := rec.archetype.columnIndexFor(handle.ID())
	chunk := rec.archetype.Chunks()[rec.chunkIdx]
	chunk.markDirty(colIndex, rec.row)
	col := Column(chunk, handle, colIndex)
	col[rec.row] = value

	w.metrics.RecordOperation(OpComponentAdd, time.Since(start))
	w.log(LogTrace, OpComponentAdd, id, true, handle.Name(), "component added")
	return nil
}

// AddComponentStrict is AddComponent, but fails with
// ComponentAlreadyPresentError instead of overwriting an existing value.
func AddComponentStrict[T any](w *World, id EntityID, handle ComponentHandle[T], value T) error {
	if err := w.checkDisposed(); err != nil {
		return err
	}

	w.mu.Lock()
	rec, ok := w.records[id]
	if !ok {
		w.mu.Unlock()
		return EntityNotFoundError{Entity: id, Op: OpComponentAdd}
	}
	if rec.archetype.Signature().Has(handle.ID()) {
		w.mu.Unlock()
		return ComponentAlreadyPresentError{Entity: id, ComponentName: handle.Name()}
	}
	w.mu.Unlock()

	return AddComponent(w, id, handle, value)
}

// RemoveComponent detaches the component identified by handle from
// entity, migrating it to the archetype without that component type.
// Removing an absent component is a no-op.
func RemoveComponent[T any](w *World, id EntityID, handle ComponentHandle[T]) error {
	if err := w.checkDisposed(); err != nil {
		return err
	}
	start := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.records[id]
	if !ok {
		return EntityNotFoundError{Entity: id, Op: OpComponentRemove}
	}
	if !rec.archetype.Signature().Has(handle.ID()) {
		return nil
	}

	if err := w.migrate(id, rec, rec.archetype.Signature().Remove(handle.ID())); err != nil {
		return err
	}

	w.metrics.RecordOperation(OpComponentRemove, time.Since(start))
	w.log(LogTrace, OpComponentRemove, id, true, handle.Name(), "component removed")
	return nil
}

// reconcileChunkRelocation repoints every live entity's record after
// Archetype.removeRow has swapped some other chunk into newIndex to fill
// a freed slot. relocated is nil when no chunk was relocated. Must be
// called with w.mu held for writing.
func (w *World) reconcileChunkRelocation(relocated *Chunk, newIndex int) {
	if relocated == nil {
		return
	}
	for row := 0; row < relocated.Len(); row++ {
		if rec, ok := w.records[relocated.Entity(row)]; ok {
			rec.chunkIdx = newIndex
		}
	}
}

// migrate moves entity id from its current archetype to the archetype
// matching target, preserving every column both archetypes share via the
// cached DeltaPlan. Must be called with w.mu held for writing.
func (w *World) migrate(id EntityID, rec *entityRecord, target ArchetypeSignature) error {
	start := time.Now()
	dst := w.index.getOrCreate(target)
	src := rec.archetype

	srcChunk := src.Chunks()[rec.chunkIdx]
	dstChunkIdx, dstRow := dst.insertEntity(id)
	dstChunk := dst.Chunks()[dstChunkIdx]

	plan := w.deltaCache.get(src, dst)
	plan.apply(srcChunk, dstChunk, rec.row, dstRow)

	moved, relocated, _ := src.removeRow(rec.chunkIdx, rec.row)
	w.reconcileChunkRelocation(relocated, rec.chunkIdx)
	if moved != InvalidEntity && moved != id {
		if movedRec, ok := w.records[moved]; ok {
			movedRec.row = rec.row
			movedRec.chunkIdx = rec.chunkIdx
		}
	}

	w.records[id] = &entityRecord{archetype: dst, chunkIdx: dstChunkIdx, row: dstRow}
	w.metrics.RecordTransition(src.ID(), dst.ID(), time.Since(start))
	return nil
}

// Query begins building a query over this World's archetypes.
func (w *World) Query() *QueryBuilder {
	return &QueryBuilder{world: w}
}

// ClearOneFrameData removes every one-frame-tagged component type from
// every entity that carries one, migrating each affected archetype's
// entities to the signature with those types removed in one batch per
// archetype, then drains every event channel (spec.md §6).
func (w *World) ClearOneFrameData() {
	w.mu.Lock()
	defer w.mu.Unlock()

	oneFrameIDs := oneFrameComponentIDs()
	if len(oneFrameIDs) > 0 {
		for _, arche := range w.index.All() {
			sig := arche.Signature()
			var present []ComponentTypeID
			for _, id := range oneFrameIDs {
				if sig.Has(id) {
					present = append(present, id)
				}
			}
			if len(present) == 0 {
				continue
			}

			// target starts as a private clone so Removes in this chain can
			// release their discarded intermediates without risking sig,
			// which is still arche's own live signature field.
			target := sig.clone()
			for _, id := range present {
				next := target.Remove(id)
				if !sameBacking(next, target) {
					target.release()
				}
				target = next
			}

			var entities []EntityID
			for _, chunk := range arche.Chunks() {
				for row := 0; row < chunk.Len(); row++ {
					entities = append(entities, chunk.Entity(row))
				}
			}
			for _, id := range entities {
				rec := w.records[id]
				_ = w.migrate(id, rec, target)
			}
		}
	}
	w.eventBus.drainAll()
}

// RunFrame runs every registered system phase in order, then clears
// one-frame component data and drains event channels, bracketing the
// whole pass with the metrics sink's frame-start/frame-end hooks. This
// is a convenience composing Scheduler().RunAll and ClearOneFrameData
// for the common single-threaded game-loop driver shape; callers with a
// different frame structure (fixed timestep accumulator, multiple
// worlds) are free to call the two pieces separately.
func (w *World) RunFrame(ctx context.Context) error {
	w.metrics.FrameStart()
	defer w.metrics.FrameEnd()

	err := w.scheduler.RunAll(ctx)
	w.ClearOneFrameData()
	return err
}

// Dispose marks the World as no longer usable. Every mutating method
// called afterward returns DisposedError.
func (w *World) Dispose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disposed = true
}
