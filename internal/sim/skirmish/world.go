// Package skirmish is a small deterministic RTS world: units, buildings and
// resource nodes on an integer grid. It implements the simulation side of a
// lockstep session and is what cmd/replay re-runs to verify a tick log.
package skirmish

import (
	"sort"

	"warfront.io/internal/protocol"
)

type Unit struct {
	ID    protocol.EntityID
	Owner string
	Kind  string
	Pos   protocol.Vec2
	HP    int64

	MoveTo     *protocol.Vec2
	Attack     protocol.EntityID
	Gather     protocol.EntityID
	Carrier    protocol.EntityID
	Cargo      []protocol.EntityID
	QueuedMove []protocol.Vec2
}

type trainOrder struct {
	Kind      string
	Remaining int
}

type Building struct {
	ID    protocol.EntityID
	Owner string
	Kind  string
	Pos   protocol.Vec2
	HP    int64
	Rally *protocol.Vec2
	Queue []trainOrder
}

type Node struct {
	ID     protocol.EntityID
	Pos    protocol.Vec2
	Amount int64
}

type World struct {
	players   []string
	units     map[protocol.EntityID]*Unit
	buildings map[protocol.EntityID]*Building
	nodes     map[protocol.EntityID]*Node
	stock     map[string]int64
	nextID    protocol.EntityID
	tick      uint64
	paused    bool
}

// New lays out a symmetric start: per player (in sorted order) a base, three
// workers, two soldiers and a transport, plus two resource nodes. Entity ids
// depend only on the player list.
func New(players []string) *World {
	ps := append([]string(nil), players...)
	sort.Strings(ps)
	w := &World{
		players:   ps,
		units:     map[protocol.EntityID]*Unit{},
		buildings: map[protocol.EntityID]*Building{},
		nodes:     map[protocol.EntityID]*Node{},
		stock:     map[string]int64{},
		nextID:    1,
	}
	for i, p := range ps {
		ox := int64(i) * 40_000
		w.stock[p] = startingGold
		w.addBuilding(p, "base", protocol.Vec2{X: ox, Y: 0})
		for k := int64(0); k < 3; k++ {
			w.addUnit(p, "worker", protocol.Vec2{X: ox + 2000 + k*1000, Y: 2000})
		}
		w.addUnit(p, "soldier", protocol.Vec2{X: ox + 2000, Y: -2000})
		w.addUnit(p, "soldier", protocol.Vec2{X: ox + 3000, Y: -2000})
		w.addUnit(p, "transport", protocol.Vec2{X: ox - 2000, Y: 0})
		w.addNode(protocol.Vec2{X: ox + 6000, Y: 6000})
		w.addNode(protocol.Vec2{X: ox + 6000, Y: -6000})
	}
	return w
}

func (w *World) Players() []string { return append([]string(nil), w.players...) }
func (w *World) Tick() uint64      { return w.tick }

func (w *World) Stock(player string) int64 { return w.stock[player] }

func (w *World) Unit(id protocol.EntityID) (Unit, bool) {
	u, ok := w.units[id]
	if !ok {
		return Unit{}, false
	}
	return *u, true
}

func (w *World) Building(id protocol.EntityID) (Building, bool) {
	b, ok := w.buildings[id]
	if !ok {
		return Building{}, false
	}
	return *b, true
}

// UnitsOf returns the ids of a player's units of kind ("" for any), ascending.
func (w *World) UnitsOf(player, kind string) []protocol.EntityID {
	var out []protocol.EntityID
	for _, id := range sortedKeys(w.units) {
		u := w.units[id]
		if u.Owner == player && (kind == "" || u.Kind == kind) {
			out = append(out, id)
		}
	}
	return out
}

func (w *World) BuildingsOf(player, kind string) []protocol.EntityID {
	var out []protocol.EntityID
	for _, id := range sortedKeys(w.buildings) {
		b := w.buildings[id]
		if b.Owner == player && (kind == "" || b.Kind == kind) {
			out = append(out, id)
		}
	}
	return out
}

func (w *World) Nodes() []protocol.EntityID { return sortedKeys(w.nodes) }

func (w *World) OwnerOf(id protocol.EntityID) (string, bool) {
	if u, ok := w.units[id]; ok {
		return u.Owner, true
	}
	if b, ok := w.buildings[id]; ok {
		return b.Owner, true
	}
	return "", false
}

// Pause and Resume only gate Step; commands still apply.
func (w *World) Pause()  { w.paused = true }
func (w *World) Resume() { w.paused = false }

func (w *World) addUnit(owner, kind string, pos protocol.Vec2) *Unit {
	u := &Unit{ID: w.nextID, Owner: owner, Kind: kind, Pos: pos, HP: unitSpecs[kind].HP}
	w.units[u.ID] = u
	w.nextID++
	return u
}

func (w *World) addBuilding(owner, kind string, pos protocol.Vec2) *Building {
	b := &Building{ID: w.nextID, Owner: owner, Kind: kind, Pos: pos, HP: buildingSpecs[kind].HP}
	w.buildings[b.ID] = b
	w.nextID++
	return b
}

func (w *World) addNode(pos protocol.Vec2) *Node {
	n := &Node{ID: w.nextID, Pos: pos, Amount: nodeAmount}
	w.nodes[n.ID] = n
	w.nextID++
	return n
}

func (w *World) posOf(id protocol.EntityID) (protocol.Vec2, bool) {
	if u, ok := w.units[id]; ok {
		return u.Pos, true
	}
	if b, ok := w.buildings[id]; ok {
		return b.Pos, true
	}
	if n, ok := w.nodes[id]; ok {
		return n.Pos, true
	}
	return protocol.Vec2{}, false
}

func sortedKeys[V any](m map[protocol.EntityID]V) []protocol.EntityID {
	ids := make([]protocol.EntityID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// dist is the Chebyshev distance.
func dist(a, b protocol.Vec2) int64 {
	dx, dy := abs(a.X-b.X), abs(a.Y-b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// stepToward moves from toward to by at most speed on each axis.
func stepToward(from, to protocol.Vec2, speed int64) protocol.Vec2 {
	return protocol.Vec2{X: from.X + clampDelta(to.X-from.X, speed), Y: from.Y + clampDelta(to.Y-from.Y, speed)}
}

func clampDelta(d, limit int64) int64 {
	if d > limit {
		return limit
	}
	if d < -limit {
		return -limit
	}
	return d
}
