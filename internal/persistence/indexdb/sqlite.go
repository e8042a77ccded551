// Package indexdb keeps a SQLite read model of recorded sessions: their
// checksums, desync reports and security events. The JSONL logs stay the
// source of truth; the index is for post-match queries.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"warfront.io/internal/lockstep"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropChecksum atomic.Uint64
	dropEvent    atomic.Uint64
}

type reqKind int

const (
	reqChecksum reqKind = iota + 1
	reqEvent
	reqFlush
)

type req struct {
	kind    reqKind
	session string
	at      time.Time

	checksum lockstep.ChecksumRecord
	event    lockstep.Event
	done     chan struct{}
}

type SessionRow struct {
	SessionID   string
	LocalPlayer string
	Players     []string
	Mode        string
	TickRateHz  int
	StartedAt   time.Time
}

type ChecksumRow struct {
	Tick          uint64
	Hash          string
	UnitCount     int
	BuildingCount int
	ResourceSum   int64
}

type DesyncRow struct {
	Tick   uint64
	Reason string
	Detail string
}

type SecurityRow struct {
	Seq      int
	Tick     uint64
	Kind     string
	PlayerID string
	Code     string
	Detail   string
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropChecksumTotal uint64
	DropEventTotal    uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			local_player TEXT NOT NULL,
			players_json TEXT NOT NULL,
			mode TEXT NOT NULL,
			tick_rate_hz INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			end_state TEXT,
			last_tick INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS checksums (
			session_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			hash TEXT NOT NULL,
			unit_count INTEGER NOT NULL,
			building_count INTEGER NOT NULL,
			resource_sum INTEGER NOT NULL,
			PRIMARY KEY (session_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS desyncs (
			session_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			reason TEXT NOT NULL,
			detail TEXT,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, tick, reason)
		);`,
		`CREATE TABLE IF NOT EXISTS security_events (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			kind TEXT NOT NULL,
			player_id TEXT,
			code TEXT,
			detail TEXT,
			raw_json TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_security_player ON security_events(session_id, player_id, tick);`,
		`CREATE TABLE IF NOT EXISTS syncs (
			session_id TEXT NOT NULL,
			from_tick INTEGER NOT NULL,
			to_tick INTEGER NOT NULL,
			commands_replayed INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, from_tick, to_tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropChecksumTotal: s.dropChecksum.Load(),
		DropEventTotal:    s.dropEvent.Load(),
	}
}

// UpsertSession writes the session row synchronously.
func (s *SQLiteIndex) UpsertSession(ctx context.Context, r SessionRow) error {
	players, err := json.Marshal(r.Players)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id,local_player,players_json,mode,tick_rate_hz,started_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(session_id) DO UPDATE SET local_player=excluded.local_player, players_json=excluded.players_json,
		 mode=excluded.mode, tick_rate_hz=excluded.tick_rate_hz`,
		r.SessionID, r.LocalPlayer, string(players), r.Mode, r.TickRateHz, r.StartedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// EndSession flushes pending rows and marks the session finished.
func (s *SQLiteIndex) EndSession(ctx context.Context, sessionID string, lastTick uint64, state string) error {
	s.Flush()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at=?, end_state=?, last_tick=? WHERE session_id=?`,
		time.Now().UTC().Format(time.RFC3339Nano), state, int64(lastTick), sessionID)
	return err
}

// Flush blocks until everything queued so far is committed.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqFlush, done: done}
	<-done
}

// Recorder returns the session-scoped writer handed to the session: it is a
// TickRecorder and its Handle method subscribes to the event bus.
func (s *SQLiteIndex) Recorder(sessionID string) *SessionRecorder {
	return &SessionRecorder{idx: s, session: sessionID}
}

type SessionRecorder struct {
	idx     *SQLiteIndex
	session string
}

func (r *SessionRecorder) RecordTick(rec lockstep.TickRecord) error {
	s := r.idx
	if s == nil || s.closed.Load() || rec.Checksum == nil {
		return nil
	}
	select {
	case s.ch <- req{kind: reqChecksum, session: r.session, checksum: *rec.Checksum}:
	default:
		// Drop if the indexer falls behind; the tick log remains the source of truth.
		s.dropChecksum.Add(1)
	}
	return nil
}

func (r *SessionRecorder) Handle(ev lockstep.Event) {
	s := r.idx
	if s == nil || s.closed.Load() {
		return
	}
	switch {
	case ev.Kind.Security(), ev.Kind == lockstep.EventDesyncDetected, ev.Kind == lockstep.EventSyncComplete:
	default:
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, session: r.session, event: ev, at: time.Now().UTC()}:
	default:
		s.dropEvent.Add(1)
	}
}

// Queries flush the writer first so they see everything queued before them.

func (s *SQLiteIndex) Checksums(ctx context.Context, sessionID string) ([]ChecksumRow, error) {
	s.Flush()
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick,hash,unit_count,building_count,resource_sum FROM checksums WHERE session_id=? ORDER BY tick`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChecksumRow
	for rows.Next() {
		var r ChecksumRow
		var tick int64
		if err := rows.Scan(&tick, &r.Hash, &r.UnitCount, &r.BuildingCount, &r.ResourceSum); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Desyncs(ctx context.Context, sessionID string) ([]DesyncRow, error) {
	s.Flush()
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick,reason,COALESCE(detail,'') FROM desyncs WHERE session_id=? ORDER BY tick`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DesyncRow
	for rows.Next() {
		var r DesyncRow
		var tick int64
		if err := rows.Scan(&tick, &r.Reason, &r.Detail); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) SecurityEvents(ctx context.Context, sessionID string) ([]SecurityRow, error) {
	s.Flush()
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq,tick,kind,COALESCE(player_id,''),COALESCE(code,''),COALESCE(detail,'')
		 FROM security_events WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SecurityRow
	for rows.Next() {
		var r SecurityRow
		var tick int64
		if err := rows.Scan(&r.Seq, &tick, &r.Kind, &r.PlayerID, &r.Code, &r.Detail); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertChecksum, _ := s.db.Prepare(`INSERT OR REPLACE INTO checksums(session_id,tick,hash,unit_count,building_count,resource_sum) VALUES(?,?,?,?,?,?)`)
	insertDesync, _ := s.db.Prepare(`INSERT OR REPLACE INTO desyncs(session_id,tick,reason,detail,recorded_at) VALUES(?,?,?,?,?)`)
	insertSecurity, _ := s.db.Prepare(`INSERT OR REPLACE INTO security_events(session_id,seq,tick,kind,player_id,code,detail,raw_json,recorded_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertSync, _ := s.db.Prepare(`INSERT OR REPLACE INTO syncs(session_id,from_tick,to_tick,commands_replayed,recorded_at) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertChecksum, insertDesync, insertSecurity, insertSync} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		securitySeq = map[string]int{}
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqChecksum:
			c := r.checksum
			exec(insertChecksum, r.session, int64(c.Tick), c.Hash, c.UnitCount, c.BuildingCount, c.ResourceSum)

		case reqEvent:
			ev := r.event
			at := r.at.Format(time.RFC3339Nano)
			switch {
			case ev.Kind == lockstep.EventDesyncDetected:
				exec(insertDesync, r.session, int64(ev.Tick), ev.Reason, ev.Detail, at)
			case ev.Kind == lockstep.EventSyncComplete && ev.Sync != nil:
				exec(insertSync, r.session, int64(ev.Sync.FromTick), int64(ev.Sync.ToTick), ev.Sync.CommandsReplayed, at)
			case ev.Kind.Security():
				seq, ok := securitySeq[r.session]
				if !ok {
					// Continue numbering when a session is reopened.
					_ = tx.QueryRow(`SELECT COALESCE(MAX(seq)+1,0) FROM security_events WHERE session_id=?`, r.session).Scan(&seq)
				}
				securitySeq[r.session] = seq + 1
				raw, _ := json.Marshal(ev)
				exec(insertSecurity, r.session, seq, int64(ev.Tick), string(ev.Kind), ev.PlayerID, ev.Code, ev.Detail, string(raw), at)
			}
		}
		flushIfNeeded()
	}

	commit()
}

// SessionSummary is a sessions row including how the session ended. EndState
// is empty while the session is still open.
type SessionSummary struct {
	SessionRow
	EndedAt  time.Time
	EndState string
	LastTick uint64
}

// Sessions lists sessions, most recently started first.
func (s *SQLiteIndex) Sessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	s.Flush()
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id,local_player,players_json,mode,tick_rate_hz,started_at,
		 COALESCE(ended_at,''),COALESCE(end_state,''),COALESCE(last_tick,0)
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionSummary
	for rows.Next() {
		var r SessionSummary
		var players, started, ended string
		var last int64
		if err := rows.Scan(&r.SessionID, &r.LocalPlayer, &players, &r.Mode, &r.TickRateHz, &started, &ended, &r.EndState, &last); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(players), &r.Players); err != nil {
			return nil, fmt.Errorf("session %s players: %w", r.SessionID, err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if ended != "" {
			r.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		}
		r.LastTick = uint64(last)
		out = append(out, r)
	}
	return out, rows.Err()
}
