package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warfront.io/internal/config"
	"warfront.io/internal/lockstep"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_RepoConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "session.yaml"))
	require.NoError(t, err)

	lc := cfg.Lockstep()
	assert.Equal(t, "p1", lc.LocalPlayerID)
	assert.Equal(t, []string{"p2"}, lc.RemotePlayerIDs)
	assert.Equal(t, lockstep.ModeStrict, lc.Mode)
	assert.Equal(t, 10*time.Second, lc.ResyncTimeout)
	assert.Equal(t, 250*time.Millisecond, lc.MaxFrameTime)
	assert.Equal(t, time.Second, cfg.PingInterval())
	assert.Equal(t, "skirmish-1", lc.SessionID)
}

func TestLoad_EmptySessionIDGetsUUID(t *testing.T) {
	p := writeFile(t, `
session:
  local_player: p1
  mode: local
`)
	cfg, err := config.Load(p)
	require.NoError(t, err)
	_, err = uuid.Parse(cfg.Session.ID)
	assert.NoError(t, err)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	// Defaults carry no local player.
	require.Error(t, err)
	assert.Equal(t, config.Defaults().Timing, cfg.Timing)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := writeFile(t, `
session:
  id: " match-7 "
  local_player: " alice "
  remote_players: ["bob", " "]
  mode: ADAPTIVE
checksum:
  interval_ticks: 5
`)
	cfg, err := config.Load(p)
	require.NoError(t, err)
	lc := cfg.Lockstep()
	assert.Equal(t, "match-7", lc.SessionID)
	assert.Equal(t, "alice", lc.LocalPlayerID)
	assert.Equal(t, []string{"bob"}, lc.RemotePlayerIDs)
	assert.Equal(t, lockstep.ModeAdaptive, lc.Mode)
	assert.Equal(t, 5, lc.ChecksumInterval)
	assert.Equal(t, lockstep.DefaultConfig().HistoryTicks, lc.HistoryTicks)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad yaml": "session: [",
		"unknown mode": `
session: {local_player: a, remote_players: [b], mode: turbo}
`,
		"inverted delay": `
session: {local_player: a, remote_players: [b]}
delay: {min_ticks: 8, max_ticks: 3}
`,
		"min delay below floor": `
session: {local_player: a, remote_players: [b]}
delay: {initial_ticks: 1, min_ticks: 1, max_ticks: 4}
`,
		"max delay above ceiling": `
session: {local_player: a, remote_players: [b]}
delay: {initial_ticks: 4, min_ticks: 2, max_ticks: 12}
`,
		"stray peer": `
session: {local_player: a, remote_players: [b]}
transport: {peers: {c: "ws://x"}}
`,
		"unreachable remote": `
session: {local_player: a, remote_players: [b]}
transport: {listen: ""}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "session.yaml")
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
