package skirmish

import (
	"time"

	"warfront.io/internal/protocol"
)

// Step advances the world one tick: production, then movement and gathering,
// then combat, then removal of the dead. Entities are visited in id order.
func (w *World) Step(tick uint64, _ time.Duration) {
	w.tick = tick
	if w.paused {
		return
	}
	w.stepProduction()
	w.stepUnits()
	w.stepCombat()
	w.removeDead()
}

func (w *World) stepProduction() {
	for _, id := range sortedKeys(w.buildings) {
		b := w.buildings[id]
		if len(b.Queue) == 0 {
			continue
		}
		b.Queue[0].Remaining--
		if b.Queue[0].Remaining > 0 {
			continue
		}
		kind := b.Queue[0].Kind
		b.Queue = b.Queue[1:]
		u := w.addUnit(b.Owner, kind, protocol.Vec2{X: b.Pos.X + 1500, Y: b.Pos.Y + 1500})
		if b.Rally != nil {
			t := *b.Rally
			u.MoveTo = &t
		}
	}
}

func (w *World) stepUnits() {
	for _, id := range sortedKeys(w.units) {
		u := w.units[id]
		if u.Carrier != 0 {
			continue
		}
		spec := unitSpecs[u.Kind]
		switch {
		case u.Gather != 0:
			n, ok := w.nodes[u.Gather]
			if !ok || n.Amount == 0 {
				u.Gather = 0
				continue
			}
			if dist(u.Pos, n.Pos) > gatherRange {
				u.Pos = stepToward(u.Pos, n.Pos, spec.Speed)
				continue
			}
			take := gatherRate
			if n.Amount < take {
				take = n.Amount
			}
			n.Amount -= take
			w.stock[u.Owner] += take
		case u.Attack != 0:
			pos, ok := w.posOf(u.Attack)
			if !ok {
				u.Attack = 0
				continue
			}
			if dist(u.Pos, pos) > spec.Range {
				u.Pos = stepToward(u.Pos, pos, spec.Speed)
			}
		case u.MoveTo != nil:
			u.Pos = stepToward(u.Pos, *u.MoveTo, spec.Speed)
			if u.Pos == *u.MoveTo {
				u.MoveTo = nil
				if len(u.QueuedMove) > 0 {
					next := u.QueuedMove[0]
					u.QueuedMove = u.QueuedMove[1:]
					u.MoveTo = &next
				}
			}
		}
		for _, cid := range u.Cargo {
			if c, ok := w.units[cid]; ok {
				c.Pos = u.Pos
			}
		}
	}
}

func (w *World) stepCombat() {
	for _, id := range sortedKeys(w.units) {
		u := w.units[id]
		if u.Attack == 0 || u.Carrier != 0 {
			continue
		}
		spec := unitSpecs[u.Kind]
		if t, ok := w.units[u.Attack]; ok {
			if t.Carrier == 0 && dist(u.Pos, t.Pos) <= spec.Range {
				t.HP -= spec.Damage
			}
			continue
		}
		if b, ok := w.buildings[u.Attack]; ok && dist(u.Pos, b.Pos) <= spec.Range {
			b.HP -= spec.Damage
		}
	}
}

func (w *World) removeDead() {
	for _, id := range sortedKeys(w.units) {
		u, ok := w.units[id]
		if !ok || u.HP > 0 {
			continue
		}
		// Cargo of a destroyed carrier is lost with it.
		for _, cid := range u.Cargo {
			delete(w.units, cid)
		}
		if c, ok := w.units[u.Carrier]; ok {
			c.Cargo = removeID(c.Cargo, id)
		}
		delete(w.units, id)
	}
	for _, id := range sortedKeys(w.buildings) {
		if w.buildings[id].HP <= 0 {
			delete(w.buildings, id)
		}
	}
}

func removeID(ids []protocol.EntityID, id protocol.EntityID) []protocol.EntityID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
