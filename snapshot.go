package loom

// snapshot.go implements the byte-deterministic save/load format of
// spec.md §6. There is no teacher analog (warehouse has no persistence
// layer at all), so the wire format itself is built straight from the
// spec's header/entity-table/archetype-table/column-data/trailer layout,
// using encoding/binary the way the rest of this pack reaches for it
// (e.g. AKJUS-bsc-erigon's low-level codecs). The content hash uses
// cespare/xxhash/v2, already present in the dependency graph as an
// indirect pull of github.com/prometheus/client_golang (see go.mod);
// promoting it to a direct import here gives that transitive dependency
// an actual caller instead of leaving it dark.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/cespare/xxhash/v2"
)

var snapshotMagic = [8]byte{'l', 'o', 'o', 'm', 's', 'n', 'a', 'p'}

const snapshotVersion uint32 = 1

// SnapshotSave serializes the entire World to w in the format described
// in spec.md §6: a fixed header, an entity table, an archetype table,
// per-column raw bytes, and a trailer carrying a content hash over
// everything written after the header's hash field.
func (w *World) SnapshotSave(out io.Writer) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var body bytes.Buffer
	if err := w.writeEntityTable(&body); err != nil {
		return err
	}
	if err := w.writeArchetypeTable(&body); err != nil {
		return err
	}

	var header bytes.Buffer
	header.Write(snapshotMagic[:])
	binary.Write(&header, binary.LittleEndian, snapshotVersion)
	binary.Write(&header, binary.LittleEndian, uint32(0)) // flags, reserved

	hash := xxhash.Sum64(body.Bytes())
	binary.Write(&header, binary.LittleEndian, hash)

	if _, err := out.Write(header.Bytes()); err != nil {
		return err
	}
	if _, err := out.Write(body.Bytes()); err != nil {
		return err
	}
	return binary.Write(out, binary.LittleEndian, hash)
}

func (w *World) writeEntityTable(buf *bytes.Buffer) error {
	type liveEntity struct {
		index, generation uint32
	}
	var live []liveEntity
	for id := range w.records {
		live = append(live, liveEntity{index: id.Index(), generation: id.Generation()})
	}
	sort.Slice(live, func(i, j int) bool { return live[i].index < live[j].index })

	binary.Write(buf, binary.LittleEndian, uint32(len(live)))
	for _, e := range live {
		binary.Write(buf, binary.LittleEndian, e.index)
		binary.Write(buf, binary.LittleEndian, e.generation)
	}
	return nil
}

func (w *World) writeArchetypeTable(buf *bytes.Buffer) error {
	archetypes := w.index.All()
	binary.Write(buf, binary.LittleEndian, uint32(len(archetypes)))

	for _, arche := range archetypes {
		binary.Write(buf, binary.LittleEndian, uint64(arche.ID()))

		ids := arche.ComponentIDs()
		binary.Write(buf, binary.LittleEndian, uint32(len(ids)))
		for _, id := range ids {
			binary.Write(buf, binary.LittleEndian, uint32(id))
		}

		var entities []EntityID
		for _, chunk := range arche.Chunks() {
			for row := 0; row < chunk.Len(); row++ {
				entities = append(entities, chunk.Entity(row))
			}
		}
		binary.Write(buf, binary.LittleEndian, uint32(len(entities)))
		for _, id := range entities {
			binary.Write(buf, binary.LittleEndian, uint64(id))
		}

		for colIdx, info := range arche.infos {
			var raw bytes.Buffer
			for _, chunk := range arche.Chunks() {
				raw.Write(chunk.columnFor(colIdx).rawBytes(chunk.Len()))
			}
			binary.Write(buf, binary.LittleEndian, uint32(raw.Len()))
			buf.Write(raw.Bytes())
			_ = info
		}
	}
	return nil
}

// SnapshotLoad replaces the World's entire contents with the snapshot
// read from in; any entities the World held before are discarded. Every
// component type referenced by the snapshot must already be registered
// in this process via RegisterComponent (component type ids are
// process-wide and stable, but a column's raw bytes cannot be validated
// against a type the registry has never seen).
func (w *World) SnapshotLoad(in io.Reader) error {
	if err := w.checkDisposed(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var magic [8]byte
	if _, err := io.ReadFull(in, magic[:]); err != nil {
		return SnapshotCorruptError{Reason: "truncated header"}
	}
	if magic != snapshotMagic {
		return SnapshotCorruptError{Reason: "bad magic"}
	}

	var version, flags uint32
	var headerHash uint64
	if err := binary.Read(in, binary.LittleEndian, &version); err != nil {
		return SnapshotCorruptError{Reason: "truncated version"}
	}
	if version != snapshotVersion {
		return SnapshotCorruptError{Reason: fmt.Sprintf("unsupported version %d", version)}
	}
	if err := binary.Read(in, binary.LittleEndian, &flags); err != nil {
		return SnapshotCorruptError{Reason: "truncated flags"}
	}
	if err := binary.Read(in, binary.LittleEndian, &headerHash); err != nil {
		return SnapshotCorruptError{Reason: "truncated hash"}
	}

	rest, err := io.ReadAll(in)
	if err != nil {
		return SnapshotCorruptError{Reason: "truncated body"}
	}
	if len(rest) < 8 {
		return SnapshotCorruptError{Reason: "missing trailer"}
	}
	body, trailerBytes := rest[:len(rest)-8], rest[len(rest)-8:]
	trailerHash := binary.LittleEndian.Uint64(trailerBytes)

	computed := xxhash.Sum64(body)
	if computed != headerHash || computed != trailerHash {
		return SnapshotCorruptError{Reason: "content hash mismatch"}
	}

	return w.loadBody(body)
}

func (w *World) loadBody(body []byte) error {
	r := bytes.NewReader(body)

	w.entities = NewEntityRegistry()
	w.records = make(map[EntityID]*entityRecord, 1024)
	w.index = newArchetypeIndex(w)
	w.deltaCache = newDeltaCache()

	var entityCount uint32
	if err := binary.Read(r, binary.LittleEndian, &entityCount); err != nil {
		return SnapshotCorruptError{Reason: "truncated entity table"}
	}
	maxIndex := uint32(0)
	generations := make(map[uint32]uint32, entityCount)
	for i := uint32(0); i < entityCount; i++ {
		var index, generation uint32
		if err := binary.Read(r, binary.LittleEndian, &index); err != nil {
			return SnapshotCorruptError{Reason: "truncated entity index"}
		}
		if err := binary.Read(r, binary.LittleEndian, &generation); err != nil {
			return SnapshotCorruptError{Reason: "truncated entity generation"}
		}
		generations[index] = generation
		if index+1 > maxIndex {
			maxIndex = index + 1
		}
	}
	w.entities.preload(maxIndex, generations)

	var archetypeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &archetypeCount); err != nil {
		return SnapshotCorruptError{Reason: "truncated archetype table"}
	}

	for a := uint32(0); a < archetypeCount; a++ {
		var archetypeID uint64
		if err := binary.Read(r, binary.LittleEndian, &archetypeID); err != nil {
			return SnapshotCorruptError{Reason: "truncated archetype id"}
		}

		var idCount uint32
		if err := binary.Read(r, binary.LittleEndian, &idCount); err != nil {
			return SnapshotCorruptError{Reason: "truncated component id count"}
		}
		sig := EmptySignature
		for i := uint32(0); i < idCount; i++ {
			var cid uint32
			if err := binary.Read(r, binary.LittleEndian, &cid); err != nil {
				return SnapshotCorruptError{Reason: "truncated component id"}
			}
			sig = sig.Add(ComponentTypeID(cid))
		}
		arche := w.index.getOrCreate(sig)

		var entityListLen uint32
		if err := binary.Read(r, binary.LittleEndian, &entityListLen); err != nil {
			return SnapshotCorruptError{Reason: "truncated entity list"}
		}
		entityList := make([]EntityID, entityListLen)
		for i := range entityList {
			var raw uint64
			if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
				return SnapshotCorruptError{Reason: "truncated entity id"}
			}
			entityList[i] = EntityID(raw)
		}

		rows := make([]struct{ chunkIdx, row int }, len(entityList))
		for i, id := range entityList {
			chunkIdx, row := arche.insertEntity(id)
			rows[i] = struct{ chunkIdx, row int }{chunkIdx, row}
			w.records[id] = &entityRecord{archetype: arche, chunkIdx: chunkIdx, row: row}
		}

		for colIdx := range arche.infos {
			var byteLen uint32
			if err := binary.Read(r, binary.LittleEndian, &byteLen); err != nil {
				return SnapshotCorruptError{Reason: "truncated column length"}
			}
			raw := make([]byte, byteLen)
			if _, err := io.ReadFull(r, raw); err != nil {
				return SnapshotCorruptError{Reason: "truncated column data"}
			}
			w.scatterColumn(arche, colIdx, raw, rows)
		}
	}

	return nil
}

// scatterColumn distributes one archetype's per-column raw bytes (stored
// contiguously in chunk/row order at save time) back into the live
// chunks created for this load.
func (w *World) scatterColumn(arche *Archetype, colIdx int, raw []byte, rows []struct{ chunkIdx, row int }) {
	if len(rows) == 0 {
		return
	}
	elemSize := len(raw) / len(rows)
	if elemSize == 0 {
		return
	}
	offset := 0
	chunks := arche.Chunks()
	for _, chunk := range chunks {
		n := chunk.Len()
		if n == 0 {
			continue
		}
		end := offset + n*elemSize
		chunk.columnFor(colIdx).loadRaw(raw[offset:end], n)
		offset = end
	}
}
