package skirmish

import (
	"crypto/sha256"
	"encoding/hex"

	"warfront.io/internal/lockstep"
	"warfront.io/internal/protocol"
	"warfront.io/internal/sim/digestcodec"
)

// HashObservableState hashes everything a player can observe: entities,
// their orders, nodes and stocks. Paused state is local and not included.
func (w *World) HashObservableState(tick uint64) lockstep.ChecksumRecord {
	d := digestcodec.NewWriter(sha256.New())
	d.U64(tick)

	var resources int64
	for _, v := range w.stock {
		resources += v
	}
	d.U64(uint64(w.nextID))

	d.U64(uint64(len(w.units)))
	for _, id := range sortedKeys(w.units) {
		u := w.units[id]
		d.U64(uint64(u.ID))
		d.String(u.Owner)
		d.String(u.Kind)
		writeVec(d, u.Pos)
		d.I64(u.HP)
		d.Bool(u.MoveTo != nil)
		if u.MoveTo != nil {
			writeVec(d, *u.MoveTo)
		}
		d.U64(uint64(u.Attack))
		d.U64(uint64(u.Gather))
		d.U64(uint64(u.Carrier))
		d.U64(uint64(len(u.Cargo)))
		for _, c := range u.Cargo {
			d.U64(uint64(c))
		}
		d.U64(uint64(len(u.QueuedMove)))
		for _, p := range u.QueuedMove {
			writeVec(d, p)
		}
	}

	d.U64(uint64(len(w.buildings)))
	for _, id := range sortedKeys(w.buildings) {
		b := w.buildings[id]
		d.U64(uint64(b.ID))
		d.String(b.Owner)
		d.String(b.Kind)
		writeVec(d, b.Pos)
		d.I64(b.HP)
		d.Bool(b.Rally != nil)
		if b.Rally != nil {
			writeVec(d, *b.Rally)
		}
		d.U64(uint64(len(b.Queue)))
		for _, o := range b.Queue {
			d.String(o.Kind)
			d.I64(int64(o.Remaining))
		}
	}

	d.U64(uint64(len(w.nodes)))
	for _, id := range sortedKeys(w.nodes) {
		n := w.nodes[id]
		d.U64(uint64(n.ID))
		writeVec(d, n.Pos)
		d.I64(n.Amount)
	}
	d.SortedNonZeroInt64Map(w.stock)

	return lockstep.ChecksumRecord{
		Tick:          tick,
		Hash:          hex.EncodeToString(d.Sum()),
		UnitCount:     len(w.units),
		BuildingCount: len(w.buildings),
		ResourceSum:   resources,
	}
}

func writeVec(d *digestcodec.Writer, v protocol.Vec2) {
	d.I64(v.X)
	d.I64(v.Y)
}
