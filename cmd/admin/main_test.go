package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warfront.io/internal/lockstep"
	"warfront.io/internal/persistence/indexdb"
	persistlog "warfront.io/internal/persistence/log"
)

func rows(pairs ...any) []indexdb.ChecksumRow {
	var out []indexdb.ChecksumRow
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, indexdb.ChecksumRow{Tick: uint64(pairs[i].(int)), Hash: pairs[i+1].(string)})
	}
	return out
}

func TestFirstDivergence(t *testing.T) {
	d := firstDivergence(rows(20, "a", 40, "b", 60, "c"), rows(40, "b", 60, "c", 80, "d"))
	assert.False(t, d.found)
	assert.Equal(t, 2, d.compared)

	d = firstDivergence(rows(20, "a", 40, "b", 60, "x"), rows(20, "a", 40, "y", 60, "z"))
	require.True(t, d.found)
	assert.Equal(t, uint64(40), d.tick)
	assert.Equal(t, "b", d.a.Hash)
	assert.Equal(t, "y", d.b.Hash)

	assert.False(t, firstDivergence(nil, rows(20, "a")).found)
}

func TestListSessionsSkipsForeignDirs(t *testing.T) {
	root := t.TempDir()
	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, persistlog.WriteMeta(filepath.Join(root, "late"), persistlog.Meta{SessionID: "late", StartedAt: t0.Add(time.Hour)}))
	require.NoError(t, persistlog.WriteMeta(filepath.Join(root, "early"), persistlog.Meta{SessionID: "early", StartedAt: t0}))
	require.NoError(t, persistlog.WriteMeta(filepath.Join(root, "early", "nested"), persistlog.Meta{SessionID: "nested"}))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	got, err := listSessions(root)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].SessionID)
	assert.Equal(t, "late", got[1].SessionID)
}

func TestFetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(rw, r)
			return
		}
		_ = json.NewEncoder(rw).Encode(lockstep.Status{
			Tick: 42, State: lockstep.StateDesynced, Mode: lockstep.ModeStrict,
			Desync: &lockstep.DesyncReport{Tick: 40, Reason: lockstep.ReasonChecksumMismatch},
		})
	}))
	defer srv.Close()

	st, err := fetchStatus(srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), st.Tick)
	assert.Equal(t, lockstep.StateDesynced, st.State)
	require.NotNil(t, st.Desync)
	assert.Equal(t, lockstep.ReasonChecksumMismatch, st.Desync.Reason)

	_, err = fetchStatus(srv.Client(), srv.URL+"/missing")
	assert.Error(t, err)
}
