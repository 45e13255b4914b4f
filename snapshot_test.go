package loom

import (
	"bytes"
	"errors"
	"testing"
)

type snapPosition struct {
	X, Y float64
}

type snapHealth struct {
	HP int32
}

func buildSnapshotFixtureWorld() *World {
	w := NewWorld()
	posHandle := RegisterComponent[snapPosition]()
	hpHandle := RegisterComponent[snapHealth]()

	// Deterministic pseudo-random-looking but seed-free fixture: entity i
	// always gets position (i,i) and, for every third entity, health.
	for i := 0; i < 100; i++ {
		id, _ := w.CreateEntity()
		AddComponent(w, id, posHandle, snapPosition{X: float64(i), Y: float64(i)})
		if i%3 == 0 {
			AddComponent(w, id, hpHandle, snapHealth{HP: int32(i)})
		}
	}
	return w
}

func TestSnapshotRoundTripIsByteStable(t *testing.T) {
	w := buildSnapshotFixtureWorld()

	var first bytes.Buffer
	if err := w.SnapshotSave(&first); err != nil {
		t.Fatalf("SnapshotSave() error = %v", err)
	}

	loaded := NewWorld()
	if err := loaded.SnapshotLoad(bytes.NewReader(first.Bytes())); err != nil {
		t.Fatalf("SnapshotLoad() error = %v", err)
	}

	var second bytes.Buffer
	if err := loaded.SnapshotSave(&second); err != nil {
		t.Fatalf("second SnapshotSave() error = %v", err)
	}

	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("save(load(save(W))) must be byte-identical to save(W)")
	}
}

func TestSnapshotRoundTripPreservesComponentValues(t *testing.T) {
	w := NewWorld()
	posHandle := RegisterComponent[snapPosition]()
	hpHandle := RegisterComponent[snapHealth]()

	id, _ := w.CreateEntity()
	AddComponent(w, id, posHandle, snapPosition{X: 3, Y: 4})
	AddComponent(w, id, hpHandle, snapHealth{HP: 7})

	var buf bytes.Buffer
	if err := w.SnapshotSave(&buf); err != nil {
		t.Fatalf("SnapshotSave() error = %v", err)
	}

	loaded := NewWorld()
	if err := loaded.SnapshotLoad(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("SnapshotLoad() error = %v", err)
	}

	if !loaded.entities.IsAlive(id) {
		t.Fatalf("loaded world must resurrect the same entity id %v", id)
	}
	pos, err := GetComponent(loaded, id, posHandle)
	if err != nil {
		t.Fatalf("GetComponent(pos) error = %v", err)
	}
	if *pos != (snapPosition{X: 3, Y: 4}) {
		t.Fatalf("GetComponent(pos) = %+v, want {3 4}", *pos)
	}
	hp, err := GetComponent(loaded, id, hpHandle)
	if err != nil {
		t.Fatalf("GetComponent(hp) error = %v", err)
	}
	if hp.HP != 7 {
		t.Fatalf("GetComponent(hp).HP = %d, want 7", hp.HP)
	}
}

func TestSnapshotLoadRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name    string
		fixture func() []byte
		corrupt func([]byte) []byte
	}{
		{
			name:    "bad magic",
			fixture: func() []byte { return bytes.Repeat([]byte{0xff}, 32) },
			corrupt: func(b []byte) []byte { return b },
		},
		{
			name: "hash mismatch",
			fixture: func() []byte {
				w := buildSnapshotFixtureWorld()
				var buf bytes.Buffer
				if err := w.SnapshotSave(&buf); err != nil {
					t.Fatalf("SnapshotSave() error = %v", err)
				}
				return buf.Bytes()
			},
			corrupt: func(b []byte) []byte {
				// Flip a byte inside the body, past the 24-byte header
				// (8-byte magic + 4-byte version + 4-byte flags + 8-byte hash).
				b[30] ^= 0xff
				return b
			},
		},
		{
			name: "unsupported version",
			fixture: func() []byte {
				w := NewWorld()
				var buf bytes.Buffer
				if err := w.SnapshotSave(&buf); err != nil {
					t.Fatalf("SnapshotSave() error = %v", err)
				}
				return buf.Bytes()
			},
			corrupt: func(b []byte) []byte {
				b[8] = 0xff // version field starts right after the 8-byte magic
				return b
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := append([]byte(nil), tt.fixture()...)
			raw = tt.corrupt(raw)

			loaded := NewWorld()
			err := loaded.SnapshotLoad(bytes.NewReader(raw))
			var corrupt SnapshotCorruptError
			if !errors.As(err, &corrupt) {
				t.Errorf("SnapshotLoad() error = %v, want SnapshotCorruptError", err)
			}
		})
	}
}
