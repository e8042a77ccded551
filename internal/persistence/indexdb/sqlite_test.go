package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"warfront.io/internal/lockstep"
	"warfront.io/internal/protocol"
)

func TestSQLiteIndex_RecordsSessionArtifacts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	if err := idx.UpsertSession(ctx, SessionRow{
		SessionID: "s1", LocalPlayer: "p1", Players: []string{"p1", "p2"},
		Mode: "strict", TickRateHz: 20, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	rec := idx.Recorder("s1")
	_ = rec.RecordTick(lockstep.TickRecord{Tick: 19})
	_ = rec.RecordTick(lockstep.TickRecord{Tick: 20, Checksum: &lockstep.ChecksumRecord{Tick: 20, Hash: "h20", UnitCount: 14, BuildingCount: 2, ResourceSum: 600}})
	_ = rec.RecordTick(lockstep.TickRecord{Tick: 40, Checksum: &lockstep.ChecksumRecord{Tick: 40, Hash: "h40"}})
	rec.Handle(lockstep.Event{Kind: lockstep.EventSpoofedPlayerID, Tick: 21, PlayerID: "p2", Code: protocol.ErrSpoofedPlayer, Detail: "x"})
	rec.Handle(lockstep.Event{Kind: lockstep.EventUnauthorizedCommand, Tick: 22, PlayerID: "p2", Code: protocol.ErrUnauthorized})
	rec.Handle(lockstep.Event{Kind: lockstep.EventPeerQuit, Tick: 23, PlayerID: "p2"})
	rec.Handle(lockstep.Event{Kind: lockstep.EventSyncComplete, Tick: 30, Sync: &lockstep.SyncSummary{FromTick: 24, ToTick: 30, CommandsReplayed: 3}})
	rec.Handle(lockstep.Event{Kind: lockstep.EventDesyncDetected, Tick: 40, Reason: lockstep.ReasonChecksumMismatch, Detail: "hash"})

	if err := idx.EndSession(ctx, "s1", 40, "desynced"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	sums, err := idx.Checksums(ctx, "s1")
	if err != nil {
		t.Fatalf("Checksums: %v", err)
	}
	if len(sums) != 2 || sums[0].Tick != 20 || sums[0].Hash != "h20" || sums[0].ResourceSum != 600 || sums[1].Tick != 40 {
		t.Fatalf("checksums=%+v", sums)
	}

	sec, err := idx.SecurityEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("SecurityEvents: %v", err)
	}
	if len(sec) != 2 || sec[0].Seq != 0 || sec[0].Code != protocol.ErrSpoofedPlayer || sec[1].Kind != string(lockstep.EventUnauthorizedCommand) {
		t.Fatalf("security=%+v", sec)
	}

	ds, err := idx.Desyncs(ctx, "s1")
	if err != nil {
		t.Fatalf("Desyncs: %v", err)
	}
	if len(ds) != 1 || ds[0].Tick != 40 || ds[0].Reason != lockstep.ReasonChecksumMismatch {
		t.Fatalf("desyncs=%+v", ds)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var (
		state    string
		lastTick int64
		players  string
		replayed int
	)
	if err := db.QueryRow(`SELECT end_state,last_tick,players_json FROM sessions WHERE session_id='s1'`).Scan(&state, &lastTick, &players); err != nil {
		t.Fatalf("Scan session: %v", err)
	}
	if state != "desynced" || lastTick != 40 || players != `["p1","p2"]` {
		t.Fatalf("session row: state=%q last=%d players=%s", state, lastTick, players)
	}
	if err := db.QueryRow(`SELECT commands_replayed FROM syncs WHERE session_id='s1'`).Scan(&replayed); err != nil {
		t.Fatalf("Scan sync: %v", err)
	}
	if replayed != 3 {
		t.Fatalf("commands_replayed=%d", replayed)
	}
}

func TestSQLiteIndex_SecuritySeqContinuesAfterReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	for i := 0; i < 2; i++ {
		idx, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		idx.Recorder("s1").Handle(lockstep.Event{Kind: lockstep.EventInvalidCommandTick, Tick: uint64(i), PlayerID: "p2"})
		idx.Flush()
		if i == 1 {
			sec, err := idx.SecurityEvents(ctx, "s1")
			if err != nil {
				t.Fatalf("SecurityEvents: %v", err)
			}
			if len(sec) != 2 || sec[1].Seq != 1 || sec[1].Tick != 1 {
				t.Fatalf("security=%+v", sec)
			}
		}
		if err := idx.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqChecksum}
	rec := s.Recorder("s1")

	_ = rec.RecordTick(lockstep.TickRecord{Tick: 2, Checksum: &lockstep.ChecksumRecord{Tick: 2}})
	_ = rec.RecordTick(lockstep.TickRecord{Tick: 3})
	rec.Handle(lockstep.Event{Kind: lockstep.EventDesyncDetected})
	rec.Handle(lockstep.Event{Kind: lockstep.EventNetworkPause})

	st := s.Stats()
	if st.DropChecksumTotal != 1 {
		t.Fatalf("DropChecksumTotal=%d want=1", st.DropChecksumTotal)
	}
	if st.DropEventTotal != 1 {
		t.Fatalf("DropEventTotal=%d want=1", st.DropEventTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_SessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		if err := idx.UpsertSession(ctx, SessionRow{
			SessionID: id, LocalPlayer: "p1", Players: []string{"p1", "p2"},
			Mode: "adaptive", TickRateHz: 20, StartedAt: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("UpsertSession: %v", err)
		}
	}
	if err := idx.EndSession(ctx, "old", 1200, "stopped"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	got, err := idx.Sessions(ctx, 0)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(got) != 2 || got[0].SessionID != "new" || got[1].SessionID != "old" {
		t.Fatalf("sessions=%+v", got)
	}
	if got[0].EndState != "" || !got[0].EndedAt.IsZero() {
		t.Fatalf("open session=%+v", got[0])
	}
	if got[1].EndState != "stopped" || got[1].LastTick != 1200 || got[1].EndedAt.IsZero() {
		t.Fatalf("ended session=%+v", got[1])
	}
	if len(got[1].Players) != 2 || !got[1].StartedAt.Equal(base) {
		t.Fatalf("row=%+v", got[1])
	}
}
