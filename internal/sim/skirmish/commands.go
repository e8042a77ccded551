package skirmish

import (
	"warfront.io/internal/protocol"
)

// ApplyCommand applies an authorized command. Orders that the world state
// cannot honour (dead units, unaffordable builds) are dropped silently; every
// peer drops them identically.
func (w *World) ApplyCommand(cmd protocol.CommandMsg) {
	switch cmd.CommandType {
	case protocol.CmdMove:
		if cmd.Target == nil {
			return
		}
		for _, u := range w.ownUnits(cmd) {
			if u.Carrier != 0 {
				continue
			}
			if cmd.Queued && u.MoveTo != nil {
				u.QueuedMove = append(u.QueuedMove, *cmd.Target)
				continue
			}
			u.clearOrders()
			t := *cmd.Target
			u.MoveTo = &t
		}
	case protocol.CmdAttack:
		if _, ok := w.posOf(cmd.TargetEntity); !ok {
			return
		}
		for _, u := range w.ownUnits(cmd) {
			if u.Carrier != 0 || unitSpecs[u.Kind].Damage == 0 {
				continue
			}
			u.clearOrders()
			u.Attack = cmd.TargetEntity
		}
	case protocol.CmdStop:
		for _, u := range w.ownUnits(cmd) {
			u.clearOrders()
		}
	case protocol.CmdGather:
		if _, ok := w.nodes[cmd.TargetEntity]; !ok {
			return
		}
		for _, u := range w.ownUnits(cmd) {
			if u.Carrier != 0 || !unitSpecs[u.Kind].Gathers {
				continue
			}
			u.clearOrders()
			u.Gather = cmd.TargetEntity
		}
	case protocol.CmdBuild:
		spec, ok := buildingSpecs[cmd.Building]
		if !ok || cmd.Target == nil || w.stock[cmd.PlayerID] < spec.Cost || !w.isPlayer(cmd.PlayerID) {
			return
		}
		w.stock[cmd.PlayerID] -= spec.Cost
		w.addBuilding(cmd.PlayerID, spec.Kind, *cmd.Target)
	case protocol.CmdTrain:
		spec, ok := unitSpecs[cmd.UnitType]
		if !ok {
			return
		}
		for _, id := range cmd.EntityIDs {
			b, ok := w.buildings[id]
			if !ok || b.Owner != cmd.PlayerID || !buildingSpecs[b.Kind].canTrain(spec.Kind) {
				continue
			}
			if w.stock[cmd.PlayerID] < spec.Cost {
				return
			}
			w.stock[cmd.PlayerID] -= spec.Cost
			b.Queue = append(b.Queue, trainOrder{Kind: spec.Kind, Remaining: spec.TrainTicks})
		}
	case protocol.CmdLoad:
		carrier, ok := w.units[cmd.TargetEntity]
		if !ok || carrier.Owner != cmd.PlayerID {
			return
		}
		capacity := unitSpecs[carrier.Kind].Capacity
		for _, u := range w.ownUnits(cmd) {
			if len(carrier.Cargo) >= capacity {
				return
			}
			if u.ID == carrier.ID || u.Carrier != 0 || len(u.Cargo) > 0 || dist(u.Pos, carrier.Pos) > loadRange {
				continue
			}
			u.clearOrders()
			u.Carrier = carrier.ID
			u.Pos = carrier.Pos
			carrier.Cargo = append(carrier.Cargo, u.ID)
		}
	case protocol.CmdUnload:
		for _, c := range w.ownUnits(cmd) {
			w.unload(c)
		}
	case protocol.CmdRally:
		if cmd.Target == nil {
			return
		}
		for _, id := range cmd.EntityIDs {
			if b, ok := w.buildings[id]; ok && b.Owner == cmd.PlayerID {
				t := *cmd.Target
				b.Rally = &t
			}
		}
	}
}

// ownUnits resolves the command's live units owned by its player, in
// command order.
func (w *World) ownUnits(cmd protocol.CommandMsg) []*Unit {
	out := make([]*Unit, 0, len(cmd.EntityIDs))
	for _, id := range cmd.EntityIDs {
		if u, ok := w.units[id]; ok && u.Owner == cmd.PlayerID {
			out = append(out, u)
		}
	}
	return out
}

func (w *World) unload(c *Unit) {
	for i, id := range c.Cargo {
		if u, ok := w.units[id]; ok {
			u.Carrier = 0
			u.Pos = protocol.Vec2{X: c.Pos.X + int64(i+1)*500, Y: c.Pos.Y}
		}
	}
	c.Cargo = nil
}

func (w *World) isPlayer(id string) bool {
	for _, p := range w.players {
		if p == id {
			return true
		}
	}
	return false
}

func (u *Unit) clearOrders() {
	u.MoveTo = nil
	u.Attack = 0
	u.Gather = 0
	u.QueuedMove = nil
}
