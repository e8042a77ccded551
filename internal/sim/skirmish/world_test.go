package skirmish

import (
	"testing"

	"warfront.io/internal/protocol"
)

func cmd(player string, typ protocol.CommandType, ids ...protocol.EntityID) protocol.CommandMsg {
	return protocol.CommandMsg{PlayerID: player, CommandType: typ, EntityIDs: ids}
}

func at(x, y int64) *protocol.Vec2 { return &protocol.Vec2{X: x, Y: y} }

func run(w *World, from, n uint64) uint64 {
	for t := from; t < from+n; t++ {
		w.Step(t, 0)
	}
	return from + n
}

func TestNewLayoutIsStable(t *testing.T) {
	w := New([]string{"p2", "p1"})
	cases := map[protocol.EntityID]string{1: "p1", 2: "p1", 5: "p1", 7: "p1", 10: "p2", 14: "p2", 16: "p2"}
	for id, want := range cases {
		got, ok := w.OwnerOf(id)
		if !ok || got != want {
			t.Fatalf("owner of %d: got %q,%v want %q", id, got, ok, want)
		}
	}
	if _, ok := w.OwnerOf(8); ok {
		t.Fatalf("resource node must not be owned")
	}
	if got := w.UnitsOf("p1", "worker"); len(got) != 3 || got[0] != 2 {
		t.Fatalf("workers: %v", got)
	}
	if w.Stock("p2") != startingGold {
		t.Fatalf("stock: %d", w.Stock("p2"))
	}
}

func TestMoveAndQueuedWaypoints(t *testing.T) {
	w := New([]string{"p1", "p2"})
	w.ApplyCommand(protocol.CommandMsg{PlayerID: "p1", CommandType: protocol.CmdMove, EntityIDs: []protocol.EntityID{2}, Target: at(2600, 2000)})
	q := protocol.CommandMsg{PlayerID: "p1", CommandType: protocol.CmdMove, EntityIDs: []protocol.EntityID{2}, Target: at(2600, 2600), Queued: true}
	w.ApplyCommand(q)

	tick := run(w, 1, 4)
	u, _ := w.Unit(2)
	if u.Pos != (protocol.Vec2{X: 2600, Y: 2000}) {
		t.Fatalf("pos after 4 ticks: %+v", u.Pos)
	}
	if u.MoveTo == nil || *u.MoveTo != (protocol.Vec2{X: 2600, Y: 2600}) {
		t.Fatalf("queued waypoint not taken: %+v", u.MoveTo)
	}
	run(w, tick, 4)
	u, _ = w.Unit(2)
	if u.Pos != (protocol.Vec2{X: 2600, Y: 2600}) || u.MoveTo != nil {
		t.Fatalf("final: %+v moveTo=%v", u.Pos, u.MoveTo)
	}

	// Commands naming another player's unit do nothing.
	w.ApplyCommand(protocol.CommandMsg{PlayerID: "p1", CommandType: protocol.CmdMove, EntityIDs: []protocol.EntityID{11}, Target: at(0, 0)})
	if u, _ := w.Unit(11); u.MoveTo != nil {
		t.Fatalf("moved a foreign unit")
	}
}

func TestGatherFillsStock(t *testing.T) {
	w := New([]string{"p1", "p2"})
	g := cmd("p1", protocol.CmdGather, 2)
	g.TargetEntity = 8
	w.ApplyCommand(g)
	run(w, 1, 30)
	if got := w.Stock("p1"); got != startingGold+10 {
		t.Fatalf("stock after 30 ticks: %d", got)
	}
}

func TestTrainSpawnsAtRally(t *testing.T) {
	w := New([]string{"p1", "p2"})
	r := cmd("p1", protocol.CmdRally, 1)
	r.Target = at(5000, 0)
	w.ApplyCommand(r)

	tr := cmd("p1", protocol.CmdTrain, 1)
	tr.UnitType = "worker"
	w.ApplyCommand(tr)
	bad := cmd("p1", protocol.CmdTrain, 1)
	bad.UnitType = "soldier"
	w.ApplyCommand(bad)
	if w.Stock("p1") != startingGold-50 {
		t.Fatalf("stock: %d", w.Stock("p1"))
	}

	run(w, 1, 39)
	if _, ok := w.Unit(19); ok {
		t.Fatalf("unit spawned early")
	}
	w.Step(40, 0)
	u, ok := w.Unit(19)
	if !ok || u.Owner != "p1" || u.Kind != "worker" {
		t.Fatalf("trained unit: %+v %v", u, ok)
	}
	if u.MoveTo == nil || *u.MoveTo != (protocol.Vec2{X: 5000}) {
		t.Fatalf("rally not applied: %+v", u.MoveTo)
	}
}

func TestBuildSpendsStock(t *testing.T) {
	w := New([]string{"p1", "p2"})
	for i := 0; i < 3; i++ {
		b := cmd("p1", protocol.CmdBuild)
		b.Building = "barracks"
		b.Target = at(10_000, int64(i)*3000)
		w.ApplyCommand(b)
	}
	if got := w.BuildingsOf("p1", "barracks"); len(got) != 2 {
		t.Fatalf("barracks: %v", got)
	}
	if w.Stock("p1") != 0 {
		t.Fatalf("stock: %d", w.Stock("p1"))
	}
	if owner, _ := w.OwnerOf(19); owner != "p1" {
		t.Fatalf("new building owner %q", owner)
	}
}

func TestAttackDestroysUnit(t *testing.T) {
	w := New([]string{"p1", "p2"})
	a := cmd("p1", protocol.CmdAttack, 5)
	a.TargetEntity = 11
	w.ApplyCommand(a)

	run(w, 1, 324)
	if u, ok := w.Unit(11); !ok || u.HP != 8 {
		t.Fatalf("target before last hit: %+v %v", u, ok)
	}
	w.Step(325, 0)
	if _, ok := w.OwnerOf(11); ok {
		t.Fatalf("target survived")
	}
	w.Step(326, 0)
	if u, _ := w.Unit(5); u.Attack != 0 {
		t.Fatalf("attack order kept on a dead target")
	}
}

func TestLoadCarryUnload(t *testing.T) {
	w := New([]string{"p1", "p2"})
	m := cmd("p1", protocol.CmdMove, 2)
	m.Target = at(-1000, 0)
	w.ApplyCommand(m)
	tick := run(w, 1, 20)

	l := cmd("p1", protocol.CmdLoad, 2, 3)
	l.TargetEntity = 7
	w.ApplyCommand(l)
	tr, _ := w.Unit(7)
	if len(tr.Cargo) != 1 || tr.Cargo[0] != 2 {
		t.Fatalf("cargo: %v (worker 3 is out of range)", tr.Cargo)
	}

	mt := cmd("p1", protocol.CmdMove, 7)
	mt.Target = at(-2000, 3000)
	w.ApplyCommand(mt)
	run(w, tick, 15)
	if u, _ := w.Unit(2); u.Pos != (protocol.Vec2{X: -2000, Y: 3000}) {
		t.Fatalf("cargo did not follow: %+v", u.Pos)
	}

	w.ApplyCommand(cmd("p1", protocol.CmdUnload, 7))
	u, _ := w.Unit(2)
	if u.Carrier != 0 || u.Pos != (protocol.Vec2{X: -1500, Y: 3000}) {
		t.Fatalf("unloaded: %+v", u)
	}
}

func TestHashTracksState(t *testing.T) {
	a := New([]string{"p1", "p2"})
	b := New([]string{"p2", "p1"})
	if a.HashObservableState(0).Hash != b.HashObservableState(0).Hash {
		t.Fatalf("identical worlds hash differently")
	}
	m := cmd("p1", protocol.CmdMove, 2)
	m.Target = at(0, 0)
	a.ApplyCommand(m)
	ra, rb := a.HashObservableState(0), b.HashObservableState(0)
	if ra.Hash == rb.Hash {
		t.Fatalf("order change not reflected in hash")
	}
	if ra.UnitCount != 12 || ra.BuildingCount != 2 || ra.ResourceSum != 2*startingGold {
		t.Fatalf("aux counts: %+v", ra)
	}
}
