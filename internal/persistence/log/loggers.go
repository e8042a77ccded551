package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"warfront.io/internal/lockstep"
	"warfront.io/internal/protocol"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickEntry is one executed tick as written to the tick log.
type TickEntry struct {
	SessionID string                   `json:"session_id"`
	Tick      uint64                   `json:"tick"`
	Commands  []protocol.CommandMsg    `json:"commands,omitempty"`
	Checksum  *lockstep.ChecksumRecord `json:"checksum,omitempty"`
}

// TickLogger writes one JSONL entry per executed tick (compressed). It is the
// session's TickRecorder.
type TickLogger struct {
	sessionID string
	w         *JSONLZstdWriter
}

func NewTickLogger(sessionDir, sessionID string) *TickLogger {
	return &TickLogger{sessionID: sessionID, w: NewJSONLZstdWriter(filepath.Join(sessionDir, "ticks"), "ticks")}
}

func (l *TickLogger) RecordTick(rec lockstep.TickRecord) error {
	return l.w.Write(TickEntry{SessionID: l.sessionID, Tick: rec.Tick, Commands: rec.Commands, Checksum: rec.Checksum})
}

func (l *TickLogger) Close() error { return l.w.Close() }

// EventEntry is one session event as written to the event log.
type EventEntry struct {
	SessionID string         `json:"session_id"`
	At        time.Time      `json:"at"`
	Event     lockstep.Event `json:"event"`
}

// EventLogger writes session events (compressed). Handle is meant to be
// subscribed to the session's event bus.
type EventLogger struct {
	sessionID string
	w         *JSONLZstdWriter
	log       zerolog.Logger
}

func NewEventLogger(sessionDir, sessionID string, logger zerolog.Logger) *EventLogger {
	return &EventLogger{
		sessionID: sessionID,
		w:         NewJSONLZstdWriter(filepath.Join(sessionDir, "events"), "events"),
		log:       logger,
	}
}

func (l *EventLogger) WriteEvent(ev lockstep.Event) error {
	return l.w.Write(EventEntry{SessionID: l.sessionID, At: l.w.now().UTC(), Event: ev})
}

func (l *EventLogger) Handle(ev lockstep.Event) {
	if err := l.WriteEvent(ev); err != nil {
		l.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("event log write failed")
	}
}

func (l *EventLogger) Close() error { return l.w.Close() }
