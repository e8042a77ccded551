package skirmish

import "warfront.io/internal/protocol"

// Snapshot is a read-only copy of the world for renderers and tools.
type Snapshot struct {
	Tick      uint64           `json:"tick"`
	Units     []UnitView       `json:"units"`
	Buildings []BuildingView   `json:"buildings"`
	Nodes     []NodeView       `json:"nodes"`
	Stock     map[string]int64 `json:"stock"`
}

type UnitView struct {
	ID      protocol.EntityID `json:"id"`
	Owner   string            `json:"owner"`
	Kind    string            `json:"kind"`
	Pos     protocol.Vec2     `json:"pos"`
	HP      int64             `json:"hp"`
	Carried bool              `json:"carried,omitempty"`
}

type BuildingView struct {
	ID       protocol.EntityID `json:"id"`
	Owner    string            `json:"owner"`
	Kind     string            `json:"kind"`
	Pos      protocol.Vec2     `json:"pos"`
	HP       int64             `json:"hp"`
	Training int               `json:"training,omitempty"`
}

type NodeView struct {
	ID     protocol.EntityID `json:"id"`
	Pos    protocol.Vec2     `json:"pos"`
	Amount int64             `json:"amount"`
}

func (w *World) Snapshot(tick uint64) any {
	s := Snapshot{Tick: tick, Stock: make(map[string]int64, len(w.stock))}
	for _, id := range sortedKeys(w.units) {
		u := w.units[id]
		s.Units = append(s.Units, UnitView{ID: u.ID, Owner: u.Owner, Kind: u.Kind, Pos: u.Pos, HP: u.HP, Carried: u.Carrier != 0})
	}
	for _, id := range sortedKeys(w.buildings) {
		b := w.buildings[id]
		s.Buildings = append(s.Buildings, BuildingView{ID: b.ID, Owner: b.Owner, Kind: b.Kind, Pos: b.Pos, HP: b.HP, Training: len(b.Queue)})
	}
	for _, id := range sortedKeys(w.nodes) {
		n := w.nodes[id]
		s.Nodes = append(s.Nodes, NodeView{ID: n.ID, Pos: n.Pos, Amount: n.Amount})
	}
	for p, v := range w.stock {
		s.Stock[p] = v
	}
	return s
}
