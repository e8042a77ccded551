package skirmish

import (
	"testing"
	"time"

	"warfront.io/internal/lockstep"
	"warfront.io/internal/protocol"
)

type loopback struct {
	from  string
	peers map[string]*lockstep.Session
}

func (l loopback) Send(to string, msg protocol.Message) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	decoded, err := protocol.Decode(b)
	if err != nil {
		return err
	}
	l.peers[to].ReceiveRemoteMessage(l.from, decoded)
	return nil
}

// TestSessionsAgreeOnSkirmish drives two strict sessions over the skirmish
// world with a mixed command script and compares every sampled checksum.
func TestSessionsAgreeOnSkirmish(t *testing.T) {
	peers := map[string]*lockstep.Session{}
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	type side struct {
		s     *lockstep.Session
		world *World
		sums  map[uint64]string
	}
	mk := func(local, remote string) *side {
		w := New([]string{"p1", "p2"})
		cfg := lockstep.DefaultConfig()
		cfg.SessionID = "skirmish"
		cfg.LocalPlayerID = local
		cfg.RemotePlayerIDs = []string{remote}
		cfg.ChecksumInterval = 10
		sd := &side{world: w, sums: map[uint64]string{}}
		s, err := lockstep.NewSession(cfg, lockstep.Deps{
			Sim:       w,
			Transport: loopback{from: local, peers: peers},
			Recorder: recorderFunc(func(rec lockstep.TickRecord) error {
				if rec.Checksum != nil {
					sd.sums[rec.Tick] = rec.Checksum.Hash
				}
				return nil
			}),
			Now: clock,
		})
		if err != nil {
			t.Fatalf("session %s: %v", local, err)
		}
		peers[local] = s
		sd.s = s
		return sd
	}
	a, b := mk("p1", "p2"), mk("p2", "p1")
	a.s.Start()
	b.s.Start()

	script := map[int][]protocol.CommandMsg{
		0:  {{CommandType: protocol.CmdGather, EntityIDs: []protocol.EntityID{2, 3}, TargetEntity: 8}},
		5:  {{CommandType: protocol.CmdAttack, EntityIDs: []protocol.EntityID{5, 6}, TargetEntity: 11}},
		9:  {{CommandType: protocol.CmdTrain, EntityIDs: []protocol.EntityID{1}, UnitType: "worker"}},
		30: {{CommandType: protocol.CmdBuild, Building: "barracks", Target: &protocol.Vec2{X: 8000, Y: 0}}},
		60: {{CommandType: protocol.CmdRally, EntityIDs: []protocol.EntityID{1}, Target: &protocol.Vec2{X: 3000, Y: 3000}}},
	}
	scriptB := map[int][]protocol.CommandMsg{
		2:  {{CommandType: protocol.CmdGather, EntityIDs: []protocol.EntityID{11, 12, 13}, TargetEntity: 17}},
		7:  {{CommandType: protocol.CmdMove, EntityIDs: []protocol.EntityID{14, 15}, Target: &protocol.Vec2{X: 20000, Y: -2000}}},
		8:  {{CommandType: protocol.CmdAttack, EntityIDs: []protocol.EntityID{14, 15}, TargetEntity: 5, Queued: true}},
		40: {{CommandType: protocol.CmdMove, EntityIDs: []protocol.EntityID{1}, Target: &protocol.Vec2{}}},
	}

	for i := 0; i < 400; i++ {
		for _, c := range script[i] {
			a.s.IssueCommand(c)
		}
		for _, c := range scriptB[i] {
			b.s.IssueCommand(c)
		}
		now = now.Add(50 * time.Millisecond)
		a.s.Frame()
		b.s.Frame()
	}

	if a.s.DesyncState() != lockstep.Synced || b.s.DesyncState() != lockstep.Synced {
		t.Fatalf("desynced: %+v / %+v", a.s.Status(), b.s.Status())
	}
	if a.s.CurrentTick() != 400 || b.s.CurrentTick() != 400 {
		t.Fatalf("ticks: %d / %d", a.s.CurrentTick(), b.s.CurrentTick())
	}
	if len(a.sums) != 40 {
		t.Fatalf("checksums sampled: %d", len(a.sums))
	}
	for tick, h := range a.sums {
		if b.sums[tick] != h {
			t.Fatalf("checksum mismatch at tick %d", tick)
		}
	}
	if a.world.Stock("p1") <= startingGold-50-150 {
		t.Fatalf("gathering had no effect: %d", a.world.Stock("p1"))
	}
	snap, ok := a.s.RenderState().(Snapshot)
	if !ok || snap.Tick != 400 {
		t.Fatalf("render state: %#v", a.s.RenderState())
	}
}

type recorderFunc func(lockstep.TickRecord) error

func (f recorderFunc) RecordTick(rec lockstep.TickRecord) error { return f(rec) }
