package lockstep

import (
	"fmt"

	"warfront.io/internal/protocol"
)

// ChecksumRecord is the hashed projection of observable state at a tick.
type ChecksumRecord struct {
	Tick          uint64 `json:"tick"`
	Hash          string `json:"hash"`
	UnitCount     int    `json:"unit_count"`
	BuildingCount int    `json:"building_count"`
	ResourceSum   int64  `json:"resource_sum"`
}

func (r ChecksumRecord) Message(peerID string) protocol.ChecksumMsg {
	return protocol.ChecksumMsg{
		Tick:          r.Tick,
		Checksum:      r.Hash,
		UnitCount:     r.UnitCount,
		BuildingCount: r.BuildingCount,
		ResourceSum:   r.ResourceSum,
		PeerID:        peerID,
	}
}

func RecordFromMessage(m protocol.ChecksumMsg) ChecksumRecord {
	return ChecksumRecord{
		Tick:          m.Tick,
		Hash:          m.Checksum,
		UnitCount:     m.UnitCount,
		BuildingCount: m.BuildingCount,
		ResourceSum:   m.ResourceSum,
	}
}

type checksumMismatch struct {
	PeerID string
	Local  ChecksumRecord
	Remote ChecksumRecord
}

func (m checksumMismatch) String() string {
	return fmt.Sprintf("peer %s: local=%s units=%d buildings=%d resources=%d remote=%s units=%d buildings=%d resources=%d",
		m.PeerID,
		m.Local.Hash, m.Local.UnitCount, m.Local.BuildingCount, m.Local.ResourceSum,
		m.Remote.Hash, m.Remote.UnitCount, m.Remote.BuildingCount, m.Remote.ResourceSum)
}

// checksumDetector pairs local and remote records strictly by tick.
type checksumDetector struct {
	interval uint64
	retain   uint64
	local    map[uint64]ChecksumRecord
	remote   map[string]map[uint64]ChecksumRecord
}

func newChecksumDetector(interval, retain int) *checksumDetector {
	return &checksumDetector{
		interval: uint64(interval),
		retain:   uint64(retain),
		local:    map[uint64]ChecksumRecord{},
		remote:   map[string]map[uint64]ChecksumRecord{},
	}
}

func (d *checksumDetector) due(tick uint64) bool {
	return d.interval > 0 && tick > 0 && tick%d.interval == 0
}

func (d *checksumDetector) addLocal(rec ChecksumRecord) []checksumMismatch {
	d.local[rec.Tick] = rec
	var out []checksumMismatch
	for peer, recs := range d.remote {
		if r, ok := recs[rec.Tick]; ok && r.Hash != rec.Hash {
			out = append(out, checksumMismatch{PeerID: peer, Local: rec, Remote: r})
		}
	}
	return out
}

// addRemote stores a peer record and compares it if the local record for the
// same tick exists. Records that are not on the sampling grid or fall outside
// the retention window around current are dropped.
func (d *checksumDetector) addRemote(peerID string, rec ChecksumRecord, current uint64) (checksumMismatch, bool) {
	if !d.due(rec.Tick) {
		return checksumMismatch{}, false
	}
	if rec.Tick+d.retain < current || rec.Tick > current+d.retain {
		return checksumMismatch{}, false
	}
	recs := d.remote[peerID]
	if recs == nil {
		recs = map[uint64]ChecksumRecord{}
		d.remote[peerID] = recs
	}
	recs[rec.Tick] = rec
	if l, ok := d.local[rec.Tick]; ok && l.Hash != rec.Hash {
		return checksumMismatch{PeerID: peerID, Local: l, Remote: rec}, true
	}
	return checksumMismatch{}, false
}

func (d *checksumDetector) prune(current uint64) {
	if current <= d.retain {
		return
	}
	floor := current - d.retain
	for t := range d.local {
		if t < floor {
			delete(d.local, t)
		}
	}
	for _, recs := range d.remote {
		for t := range recs {
			if t < floor {
				delete(recs, t)
			}
		}
	}
}

func (d *checksumDetector) clear() {
	d.local = map[uint64]ChecksumRecord{}
	d.remote = map[string]map[uint64]ChecksumRecord{}
}
