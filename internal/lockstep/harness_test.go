package lockstep

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"warfront.io/internal/protocol"
)

type fakeSim struct {
	owners  map[protocol.EntityID]string
	applied []protocol.CommandMsg
	steps   []uint64
	state   uint64
}

func newFakeSim() *fakeSim {
	return &fakeSim{owners: map[protocol.EntityID]string{
		1: "p1", 2: "p1", 3: "p1",
		10: "p2", 11: "p2", 12: "p2",
	}}
}

func (f *fakeSim) ApplyCommand(c protocol.CommandMsg) {
	f.applied = append(f.applied, c)
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%d|%s|%v", c.Tick, c.PlayerID, c.Seq, c.CommandType, c.EntityIDs)
	f.state = f.state*1099511628211 ^ h.Sum64()
}

func (f *fakeSim) Step(tick uint64, _ time.Duration) {
	f.steps = append(f.steps, tick)
	f.state = f.state*31 + tick
}

func (f *fakeSim) HashObservableState(tick uint64) ChecksumRecord {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], f.state)
	sum := sha256.Sum256(b[:])
	return ChecksumRecord{Tick: tick, Hash: hex.EncodeToString(sum[:]), UnitCount: len(f.owners)}
}

func (f *fakeSim) OwnerOf(id protocol.EntityID) (string, bool) {
	p, ok := f.owners[id]
	return p, ok
}

func (f *fakeSim) Snapshot(tick uint64) any { return tick }

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type memRecorder struct {
	ticks []TickRecord
}

func (r *memRecorder) RecordTick(rec TickRecord) error {
	r.ticks = append(r.ticks, rec)
	return nil
}

func (r *memRecorder) checksums() map[uint64]string {
	out := map[uint64]string{}
	for _, rec := range r.ticks {
		if rec.Checksum != nil {
			out[rec.Tick] = rec.Checksum.Hash
		}
	}
	return out
}

var errLinkDown = errors.New("link down")

// memNet connects sessions in-process. Every message goes through the wire
// codec so the tests also cover encoding.
type memNet struct {
	t        *testing.T
	sessions map[string]*Session
	down     map[string]bool
}

func newMemNet(t *testing.T) *memNet {
	return &memNet{t: t, sessions: map[string]*Session{}, down: map[string]bool{}}
}

type memLink struct {
	net  *memNet
	from string
}

func (l memLink) Send(to string, msg protocol.Message) error {
	n := l.net
	b, err := protocol.Encode(msg)
	require.NoError(n.t, err)
	decoded, err := protocol.Decode(b)
	require.NoError(n.t, err)
	if n.down[l.from] || n.down[to] {
		return errLinkDown
	}
	if dst := n.sessions[to]; dst != nil {
		dst.ReceiveRemoteMessage(l.from, decoded)
	}
	return nil
}

type testPeer struct {
	s     *Session
	sim   *fakeSim
	clock *fakeClock
	rec   *memRecorder
	evs   *[]Event
}

// step advances the peer's clock by one tick and runs a frame.
func (p *testPeer) step() int {
	p.clock.Advance(p.s.tickDur)
	return p.s.Frame()
}

func (p *testPeer) eventsOf(kind EventKind) []Event {
	var out []Event
	for _, ev := range *p.evs {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig(local string, remotes []string, mode Mode) Config {
	cfg := DefaultConfig()
	cfg.SessionID = "test"
	cfg.LocalPlayerID = local
	cfg.RemotePlayerIDs = remotes
	cfg.Mode = mode
	return cfg
}

func newTestPeer(t *testing.T, net *memNet, cfg Config) *testPeer {
	t.Helper()
	sim := newFakeSim()
	clock := newFakeClock()
	rec := &memRecorder{}
	deps := Deps{Sim: sim, Recorder: rec, Now: clock.Now}
	if net != nil {
		deps.Transport = memLink{net: net, from: cfg.LocalPlayerID}
	}
	s, err := NewSession(cfg, deps)
	require.NoError(t, err)
	if net != nil {
		net.sessions[cfg.LocalPlayerID] = s
	}
	evs := &[]Event{}
	s.Events().Subscribe(func(ev Event) { *evs = append(*evs, ev) })
	return &testPeer{s: s, sim: sim, clock: clock, rec: rec, evs: evs}
}

func newTestPair(t *testing.T, mode Mode, tune func(*Config)) (*testPeer, *testPeer, *memNet) {
	t.Helper()
	net := newMemNet(t)
	ca := testConfig("p1", []string{"p2"}, mode)
	cb := testConfig("p2", []string{"p1"}, mode)
	if tune != nil {
		tune(&ca)
		tune(&cb)
	}
	a := newTestPeer(t, net, ca)
	b := newTestPeer(t, net, cb)
	a.s.Start()
	b.s.Start()
	return a, b, net
}

func stepBoth(a, b *testPeer, rounds int) {
	for i := 0; i < rounds; i++ {
		a.step()
		b.step()
	}
}

func move(ids ...protocol.EntityID) protocol.CommandMsg {
	return protocol.CommandMsg{CommandType: protocol.CmdMove, EntityIDs: ids, Target: &protocol.Vec2{X: 1000, Y: 2000}}
}
