package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warfront.io/internal/lockstep"
	persistlog "warfront.io/internal/persistence/log"
	"warfront.io/internal/protocol"
	"warfront.io/internal/sim/skirmish"
)

// recordLocalSession plays a short local session against the skirmish world
// and leaves its tick log and meta in a temp dir.
func recordLocalSession(t *testing.T, ticks int) (string, persistlog.Meta) {
	t.Helper()
	dir := t.TempDir()
	players := []string{"p1", "p2"}
	meta := persistlog.Meta{SessionID: "replay-test", LocalPlayer: "p1", Players: players, Mode: "local", TickRateHz: 20, StartedAt: time.Now().UTC()}
	require.NoError(t, persistlog.WriteMeta(dir, meta))

	cfg := lockstep.DefaultConfig()
	cfg.SessionID = meta.SessionID
	cfg.LocalPlayerID = "p1"
	cfg.Mode = lockstep.ModeLocal
	cfg.TickRateHz = 20

	now := time.Unix(1_700_000_000, 0)
	tickLog := persistlog.NewTickLogger(dir, meta.SessionID)
	w := skirmish.New(players)
	s, err := lockstep.NewSession(cfg, lockstep.Deps{Sim: w, Recorder: tickLog, Now: func() time.Time { return now }})
	require.NoError(t, err)
	s.Start()

	workers := w.UnitsOf("p1", "worker")
	soldiers := w.UnitsOf("p1", "soldier")
	for i := 0; i < ticks; i++ {
		switch i {
		case 3:
			s.IssueCommand(protocol.CommandMsg{CommandType: protocol.CmdGather, EntityIDs: workers, TargetEntity: w.Nodes()[0]})
		case 10:
			s.IssueCommand(protocol.CommandMsg{CommandType: protocol.CmdMove, EntityIDs: soldiers, Target: &protocol.Vec2{X: 20_000, Y: 0}})
		case 25:
			s.IssueCommand(protocol.CommandMsg{CommandType: protocol.CmdTrain, EntityIDs: w.BuildingsOf("p1", "base"), UnitType: "worker"})
		}
		now = now.Add(50 * time.Millisecond)
		s.Frame()
	}
	require.NoError(t, tickLog.Close())
	require.Equal(t, uint64(ticks), s.CurrentTick())
	return dir, meta
}

func TestVerifyReplaysRecordedSession(t *testing.T) {
	dir, meta := recordLocalSession(t, 120)

	res, err := verify(dir, meta, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 120, res.ticks)
	assert.Equal(t, 3, res.commands)
	assert.Equal(t, 6, res.checked)
	assert.Equal(t, uint64(120), res.last)
}

func TestVerifyHonorsTickRange(t *testing.T) {
	dir, meta := recordLocalSession(t, 120)

	res, err := verify(dir, meta, 50, 90)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), res.last)
	assert.Equal(t, 2, res.checked) // 60 and 80
}

func TestVerifyDetectsDivergence(t *testing.T) {
	dir, meta := recordLocalSession(t, 40)

	// A different roster builds a different world.
	meta.Players = []string{"p1", "p3"}
	_, err := verify(dir, meta, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch at tick 20")
}

func TestCompare(t *testing.T) {
	a := lockstep.ChecksumRecord{Hash: "aa", UnitCount: 3}
	require.NoError(t, compare(a, a))
	b := a
	b.UnitCount = 4
	assert.Error(t, compare(a, b))
	b = a
	b.Hash = "bb"
	assert.Error(t, compare(a, b))
}
