package lockstep

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumDetectorPairsByTick(t *testing.T) {
	d := newChecksumDetector(20, 200)
	require.False(t, d.due(0))
	require.False(t, d.due(30))
	require.True(t, d.due(40))

	require.Empty(t, d.addLocal(ChecksumRecord{Tick: 20, Hash: "aa"}))
	_, bad := d.addRemote("p2", ChecksumRecord{Tick: 20, Hash: "aa"}, 25)
	require.False(t, bad)

	// Remote first, local later.
	_, bad = d.addRemote("p2", ChecksumRecord{Tick: 40, Hash: "bb", UnitCount: 3}, 25)
	require.False(t, bad)
	mm := d.addLocal(ChecksumRecord{Tick: 40, Hash: "cc", UnitCount: 4})
	require.Len(t, mm, 1)
	require.Equal(t, "p2", mm[0].PeerID)
	require.Contains(t, mm[0].String(), "units=4")
	require.Contains(t, mm[0].String(), "units=3")

	m, bad := d.addRemote("p3", ChecksumRecord{Tick: 20, Hash: "zz"}, 45)
	require.True(t, bad)
	require.Equal(t, "aa", m.Local.Hash)
}

func TestChecksumDetectorDropsOutOfRange(t *testing.T) {
	d := newChecksumDetector(10, 50)
	_, bad := d.addRemote("p2", ChecksumRecord{Tick: 15, Hash: "x"}, 20)
	require.False(t, bad, "off the sampling grid")
	_, bad = d.addRemote("p2", ChecksumRecord{Tick: 1000, Hash: "x"}, 20)
	require.False(t, bad)
	require.Empty(t, d.remote["p2"])

	d.addLocal(ChecksumRecord{Tick: 10, Hash: "a"})
	d.addLocal(ChecksumRecord{Tick: 70, Hash: "b"})
	d.prune(70)
	require.NotContains(t, d.local, uint64(10))
	require.Contains(t, d.local, uint64(70))
}

func TestChecksumRecordMessage(t *testing.T) {
	rec := ChecksumRecord{Tick: 60, Hash: "ff", UnitCount: 1, BuildingCount: 2, ResourceSum: 3}
	msg := rec.Message("p1")
	require.Equal(t, "p1", msg.PeerID)
	require.Equal(t, "ff", msg.Checksum)
	require.Equal(t, rec, RecordFromMessage(msg))
}
