package loom

import (
	"errors"
	"testing"
)

type wPosition struct {
	X, Y float64
}

type wHealth struct {
	HP int
}

type wFrameDamage struct {
	Amount int
}

type wTag struct{}

func TestWorldCreateAndDestroyEntity(t *testing.T) {
	w := NewWorld()
	id, err := w.CreateEntity()
	if err != nil {
		t.Fatalf("CreateEntity() error = %v", err)
	}
	if !w.entities.IsAlive(id) {
		t.Fatalf("freshly created entity must be alive")
	}

	if err := w.DestroyEntity(id); err != nil {
		t.Fatalf("DestroyEntity() error = %v", err)
	}
	if w.entities.IsAlive(id) {
		t.Fatalf("entity must be dead after DestroyEntity")
	}

	// Destroying again must be a silent no-op.
	if err := w.DestroyEntity(id); err != nil {
		t.Fatalf("DestroyEntity on an already-dead entity returned an error: %v", err)
	}
}

func TestWorldCreateEntitiesBatch(t *testing.T) {
	w := NewWorld()
	ids, err := w.CreateEntities(5)
	if err != nil {
		t.Fatalf("CreateEntities() error = %v", err)
	}
	if len(ids) != 5 {
		t.Fatalf("len(ids) = %d, want 5", len(ids))
	}
	seen := map[EntityID]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("CreateEntities returned duplicate id %v", id)
		}
		seen[id] = true
	}
}

func TestWorldCreateEntitiesRejectsNonPositive(t *testing.T) {
	w := NewWorld()
	if _, err := w.CreateEntities(0); err == nil {
		t.Fatalf("CreateEntities(0) must return an error")
	}
}

func TestWorldAddGetComponent(t *testing.T) {
	w := NewWorld()
	posHandle := RegisterComponent[wPosition]()
	id, _ := w.CreateEntity()

	if err := AddComponent(w, id, posHandle, wPosition{X: 1, Y: 2}); err != nil {
		t.Fatalf("AddComponent() error = %v", err)
	}
	if !HasComponent(w, id, posHandle) {
		t.Fatalf("HasComponent() = false after AddComponent")
	}

	got, err := GetComponent(w, id, posHandle)
	if err != nil {
		t.Fatalf("GetComponent() error = %v", err)
	}
	if *got != (wPosition{X: 1, Y: 2}) {
		t.Fatalf("GetComponent() = %+v, want {1 2}", *got)
	}
}

func TestWorldAddComponentUpsertOverwritesInPlace(t *testing.T) {
	tests := []struct {
		name   string
		writes []wPosition
		want   wPosition
	}{
		{"single add keeps its value", []wPosition{{X: 1, Y: 2}}, wPosition{X: 1, Y: 2}},
		{"second add overwrites in place", []wPosition{{X: 1, Y: 1}, {X: 9, Y: 9}}, wPosition{X: 9, Y: 9}},
		{"third add overwrites again", []wPosition{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}, wPosition{X: 3, Y: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWorld()
			posHandle := RegisterComponent[wPosition]()
			id, _ := w.CreateEntity()

			for _, v := range tt.writes {
				if err := AddComponent(w, id, posHandle, v); err != nil {
					t.Fatalf("AddComponent(%+v) error = %v", v, err)
				}
			}

			got, err := GetComponent(w, id, posHandle)
			if err != nil {
				t.Fatalf("GetComponent() error = %v", err)
			}
			if *got != tt.want {
				t.Errorf("GetComponent() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestWorldAddComponentStrictRejectsDuplicate(t *testing.T) {
	w := NewWorld()
	posHandle := RegisterComponent[wPosition]()
	id, _ := w.CreateEntity()

	if err := AddComponentStrict(w, id, posHandle, wPosition{X: 1, Y: 1}); err != nil {
		t.Fatalf("first AddComponentStrict() error = %v", err)
	}
	err := AddComponentStrict(w, id, posHandle, wPosition{X: 2, Y: 2})
	var already ComponentAlreadyPresentError
	if !errors.As(err, &already) {
		t.Fatalf("AddComponentStrict on an existing component = %v, want ComponentAlreadyPresentError", err)
	}
}

func TestWorldRemoveComponentIsNoOpWhenAbsent(t *testing.T) {
	w := NewWorld()
	posHandle := RegisterComponent[wPosition]()
	id, _ := w.CreateEntity()

	if err := RemoveComponent(w, id, posHandle); err != nil {
		t.Fatalf("RemoveComponent on an absent component must be a no-op, got error %v", err)
	}
}

func TestWorldRemoveComponentMigratesEntity(t *testing.T) {
	w := NewWorld()
	posHandle := RegisterComponent[wPosition]()
	hpHandle := RegisterComponent[wHealth]()
	id, _ := w.CreateEntity()

	if err := AddComponent(w, id, posHandle, wPosition{X: 1, Y: 2}); err != nil {
		t.Fatalf("AddComponent(pos) error = %v", err)
	}
	if err := AddComponent(w, id, hpHandle, wHealth{HP: 10}); err != nil {
		t.Fatalf("AddComponent(hp) error = %v", err)
	}
	if err := RemoveComponent(w, id, hpHandle); err != nil {
		t.Fatalf("RemoveComponent(hp) error = %v", err)
	}

	if HasComponent(w, id, hpHandle) {
		t.Fatalf("HasComponent(hp) = true after RemoveComponent")
	}
	if !HasComponent(w, id, posHandle) {
		t.Fatalf("position must survive the migration")
	}
	got, err := GetComponent(w, id, posHandle)
	if err != nil {
		t.Fatalf("GetComponent(pos) error = %v", err)
	}
	if *got != (wPosition{X: 1, Y: 2}) {
		t.Fatalf("position value must be preserved across migration, got %+v", *got)
	}
}

func TestWorldGetComponentMissingReturnsError(t *testing.T) {
	w := NewWorld()
	posHandle := RegisterComponent[wPosition]()
	id, _ := w.CreateEntity()

	_, err := GetComponent(w, id, posHandle)
	var missing ComponentMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("GetComponent on an absent component = %v, want ComponentMissingError", err)
	}
}

func TestWorldQueryWithAndWithoutExclusion(t *testing.T) {
	w := NewWorld()
	posHandle := RegisterComponent[wPosition]()
	hpHandle := RegisterComponent[wHealth]()
	tagHandle := RegisterComponent[wTag]()

	matching, _ := w.CreateEntity()
	AddComponent(w, matching, posHandle, wPosition{})
	AddComponent(w, matching, hpHandle, wHealth{})

	excluded, _ := w.CreateEntity()
	AddComponent(w, excluded, posHandle, wPosition{})
	AddComponent(w, excluded, hpHandle, wHealth{})
	AddComponent(w, excluded, tagHandle, wTag{})

	unrelated, _ := w.CreateEntity()
	AddComponent(w, unrelated, posHandle, wPosition{})

	q := Without(With(w.Query(), posHandle), tagHandle)
	q = With(q, hpHandle)

	seen := map[EntityID]bool{}
	for chunk := range q.Chunks() {
		for row := 0; row < chunk.Len(); row++ {
			seen[chunk.Entity(row)] = true
		}
	}

	if !seen[matching] {
		t.Fatalf("expected matching entity %v in query result", matching)
	}
	if seen[excluded] {
		t.Fatalf("excluded entity %v must not appear in query result", excluded)
	}
	if seen[unrelated] {
		t.Fatalf("unrelated entity %v (missing hp) must not appear in query result", unrelated)
	}
	if len(seen) != 1 {
		t.Fatalf("len(seen) = %d, want exactly 1 matching entity", len(seen))
	}
}

func TestWorldClearOneFrameDataMigratesAwayOneFrameComponents(t *testing.T) {
	w := NewWorld()
	posHandle := RegisterComponent[wPosition]()
	dmgHandle := RegisterComponent[wFrameDamage](OneFrame())

	id, _ := w.CreateEntity()
	AddComponent(w, id, posHandle, wPosition{X: 1})
	AddComponent(w, id, dmgHandle, wFrameDamage{Amount: 5})

	w.ClearOneFrameData()

	if HasComponent(w, id, dmgHandle) {
		t.Fatalf("one-frame component must be stripped after ClearOneFrameData")
	}
	if !HasComponent(w, id, posHandle) {
		t.Fatalf("non-one-frame component must survive ClearOneFrameData")
	}
}

type capturingLogger struct {
	events []LogEvent
}

func (c *capturingLogger) Log(e LogEvent) {
	c.events = append(c.events, e)
}

func TestWorldHasComponentOnUnknownEntityLogsEvent(t *testing.T) {
	logger := &capturingLogger{}
	w := NewWorld(WithLogger(logger))
	posHandle := RegisterComponent[wPosition]()

	if HasComponent(w, EntityID(999999), posHandle) {
		t.Fatalf("HasComponent on an unknown entity must return false")
	}
	if len(logger.events) == 0 {
		t.Fatalf("HasComponent on an unknown entity must emit a log event")
	}
	last := logger.events[len(logger.events)-1]
	if last.HasEntity {
		t.Errorf("logged event HasEntity = true, want false for an unknown entity")
	}
}

func TestWorldDisposedRejectsMutation(t *testing.T) {
	w := NewWorld()
	w.Dispose()

	if _, err := w.CreateEntity(); !errors.As(err, new(DisposedError)) {
		t.Fatalf("CreateEntity on a disposed world = %v, want DisposedError", err)
	}
}

func TestWorldDestroyEntityRelocatesSwappedRowRecord(t *testing.T) {
	w := NewWorld()
	hpHandle := RegisterComponent[wHealth]()

	first, _ := w.CreateEntity()
	AddComponent(w, first, hpHandle, wHealth{HP: 1})
	second, _ := w.CreateEntity()
	AddComponent(w, second, hpHandle, wHealth{HP: 2})
	third, _ := w.CreateEntity()
	AddComponent(w, third, hpHandle, wHealth{HP: 3})

	if err := w.DestroyEntity(first); err != nil {
		t.Fatalf("DestroyEntity() error = %v", err)
	}

	got, err := GetComponent(w, third, hpHandle)
	if err != nil {
		t.Fatalf("GetComponent(third) after swap-remove error = %v", err)
	}
	if got.HP != 3 {
		t.Fatalf("third entity's component corrupted after swap-remove relocation: got HP=%d, want 3", got.HP)
	}

	got2, err := GetComponent(w, second, hpHandle)
	if err != nil {
		t.Fatalf("GetComponent(second) error = %v", err)
	}
	if got2.HP != 2 {
		t.Fatalf("second entity's component corrupted: got HP=%d, want 2", got2.HP)
	}
}
