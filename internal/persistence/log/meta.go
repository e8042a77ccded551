package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const metaFile = "session.json"

// Meta describes a recorded session well enough to replay it.
type Meta struct {
	SessionID   string    `json:"session_id"`
	LocalPlayer string    `json:"local_player"`
	Players     []string  `json:"players"`
	Mode        string    `json:"mode"`
	TickRateHz  int       `json:"tick_rate_hz"`
	StartedAt   time.Time `json:"started_at"`
}

func WriteMeta(sessionDir string, m Meta) error {
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(sessionDir, metaFile+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(sessionDir, metaFile))
}

func ReadMeta(sessionDir string) (Meta, error) {
	var m Meta
	b, err := os.ReadFile(filepath.Join(sessionDir, metaFile))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}
