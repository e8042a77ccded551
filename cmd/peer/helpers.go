package main

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"warfront.io/internal/lockstep"
	"warfront.io/internal/protocol"
	"warfront.io/internal/sim/skirmish"
)

// fanoutRecorder hands every tick record to each sink. A failing sink is
// logged and skipped; it never stops the session.
type fanoutRecorder struct {
	sinks []lockstep.TickRecorder
	log   zerolog.Logger
}

func (f *fanoutRecorder) add(r lockstep.TickRecorder) { f.sinks = append(f.sinks, r) }

func (f *fanoutRecorder) RecordTick(rec lockstep.TickRecord) error {
	for _, r := range f.sinks {
		if err := r.RecordTick(rec); err != nil {
			f.log.Warn().Err(err).Uint64("tick", rec.Tick).Msg("record tick")
		}
	}
	return nil
}

type linkSession interface {
	PeerLinkLost(player string)
	PeerLinkRestored(player string)
	RequestResync()
}

// linkWatcher feeds transport link changes to the session: a dropped link
// pauses it and the link coming back triggers the catch-up on both sides.
type linkWatcher struct {
	session linkSession
	rejoin  bool
	log     zerolog.Logger
	joined  atomic.Bool
}

func (w *linkWatcher) up(player string, redial bool) {
	if w.session == nil {
		return
	}
	w.session.PeerLinkRestored(player)
	// A restarted peer has no history of its own; it asks once, on the
	// first link it gets.
	if w.rejoin && w.joined.CompareAndSwap(false, true) {
		w.log.Info().Str("peer", player).Bool("redial", redial).Msg("rejoining, requesting resync")
		w.session.RequestResync()
	}
}

func (w *linkWatcher) down(player string) {
	if w.session == nil {
		return
	}
	w.log.Warn().Str("peer", player).Msg("peer link down")
	w.session.PeerLinkLost(player)
}

// waitForPeers blocks until every peer has a live link, so the first ticks
// are not spent against a barrier nobody can answer.
func waitForPeers(ctx context.Context, connected func() []string, peers []string, poll time.Duration) error {
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		up := connected()
		all := true
		for _, p := range peers {
			if !slices.Contains(up, p) {
				all = false
				break
			}
		}
		if all {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func statusHandler(s *lockstep.Session) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.Status())
	}
}

// autoplayLoop drives the local player from the latest render snapshot:
// idle workers gather, the base keeps training workers and soldiers push
// toward the nearest enemy building.
func autoplayLoop(ctx context.Context, s *lockstep.Session, player string, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	round := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		snap, ok := s.RenderState().(skirmish.Snapshot)
		if !ok || s.Status().State != lockstep.StateRunning {
			continue
		}
		for _, cmd := range planCommands(snap, player, round) {
			s.IssueCommand(cmd)
		}
		round++
	}
}

func planCommands(snap skirmish.Snapshot, player string, round int) []protocol.CommandMsg {
	var workers, soldiers []protocol.EntityID
	for _, u := range snap.Units {
		if u.Owner != player || u.Carried {
			continue
		}
		switch u.Kind {
		case "worker":
			workers = append(workers, u.ID)
		case "soldier":
			soldiers = append(soldiers, u.ID)
		}
	}

	var out []protocol.CommandMsg
	if len(workers) > 0 && len(snap.Nodes) > 0 && round%4 == 0 {
		node := snap.Nodes[round/4%len(snap.Nodes)]
		out = append(out, protocol.CommandMsg{CommandType: protocol.CmdGather, EntityIDs: workers, TargetEntity: node.ID})
	}

	var base, enemy *skirmish.BuildingView
	for i := range snap.Buildings {
		b := &snap.Buildings[i]
		switch {
		case b.Owner == player && b.Kind == "base" && base == nil:
			base = b
		case b.Owner != player && enemy == nil:
			enemy = b
		}
	}
	if base != nil && base.Training == 0 && snap.Stock[player] >= 50 {
		out = append(out, protocol.CommandMsg{CommandType: protocol.CmdTrain, EntityIDs: []protocol.EntityID{base.ID}, UnitType: "worker"})
	}
	if enemy != nil && len(soldiers) > 0 && round%2 == 1 {
		out = append(out, protocol.CommandMsg{CommandType: protocol.CmdAttack, EntityIDs: soldiers, TargetEntity: enemy.ID})
	}
	return out
}
