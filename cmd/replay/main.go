package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"warfront.io/internal/lockstep"
	persistlog "warfront.io/internal/persistence/log"
	"warfront.io/internal/sim/skirmish"
)

func main() {
	var (
		sessionDir = flag.String("session", "", "session directory (data/sessions/<id>)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		events     = flag.Bool("events", true, "summarize the event log")
	)
	flag.Parse()

	if *sessionDir == "" {
		fmt.Fprintln(os.Stderr, "missing -session")
		os.Exit(2)
	}
	meta, err := persistlog.ReadMeta(*sessionDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read meta:", err)
		os.Exit(1)
	}
	fmt.Printf("session=%s player=%s players=%v mode=%s tick_rate=%d started=%s\n",
		meta.SessionID, meta.LocalPlayer, meta.Players, meta.Mode, meta.TickRateHz, meta.StartedAt.Format(time.RFC3339))

	res, err := verify(*sessionDir, meta, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: ticks=%d commands=%d checked=%d last_tick=%d\n", res.ticks, res.commands, res.checked, res.last)

	if *events {
		if err := summarizeEvents(*sessionDir); err != nil {
			fmt.Fprintln(os.Stderr, "events:", err)
			os.Exit(1)
		}
	}
}

type result struct {
	ticks    int
	commands int
	checked  int
	last     uint64
}

var errStop = errors.New("stop")

// verify rebuilds the world from the recorded commands and compares every
// recorded checksum in [from, to] with a fresh hash of the rebuilt state.
func verify(sessionDir string, meta persistlog.Meta, from, to uint64) (result, error) {
	var res result
	if meta.TickRateHz <= 0 {
		return res, fmt.Errorf("bad tick rate %d", meta.TickRateHz)
	}
	step := time.Second / time.Duration(meta.TickRateHz)
	w := skirmish.New(meta.Players)

	err := persistlog.ReadTicks(sessionDir, func(e persistlog.TickEntry) error {
		if to != 0 && e.Tick > to {
			return errStop
		}
		if e.Tick == 1 && res.last > 0 {
			// A restarted peer begins a new run in the same log.
			w = skirmish.New(meta.Players)
			res.last = 0
		}
		if e.Tick != res.last+1 {
			return fmt.Errorf("tick log gap: have %d, next entry %d", res.last, e.Tick)
		}
		for _, c := range e.Commands {
			w.ApplyCommand(c)
		}
		w.Step(e.Tick, step)
		res.ticks++
		res.commands += len(e.Commands)
		res.last = e.Tick

		if e.Checksum == nil || e.Tick < from {
			return nil
		}
		got := w.HashObservableState(e.Tick)
		if err := compare(*e.Checksum, got); err != nil {
			return fmt.Errorf("checksum mismatch at tick %d: %w", e.Tick, err)
		}
		res.checked++
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return res, err
	}
	return res, nil
}

func compare(want, got lockstep.ChecksumRecord) error {
	if want.Hash != got.Hash {
		return fmt.Errorf("recorded %s, replayed %s", want.Hash, got.Hash)
	}
	if want.UnitCount != got.UnitCount || want.BuildingCount != got.BuildingCount || want.ResourceSum != got.ResourceSum {
		return fmt.Errorf("recorded units=%d buildings=%d resources=%d, replayed units=%d buildings=%d resources=%d",
			want.UnitCount, want.BuildingCount, want.ResourceSum, got.UnitCount, got.BuildingCount, got.ResourceSum)
	}
	return nil
}

func summarizeEvents(sessionDir string) error {
	counts := map[lockstep.EventKind]int{}
	err := persistlog.ReadEvents(sessionDir, func(e persistlog.EventEntry) error {
		counts[e.Event.Kind]++
		if e.Event.Kind == lockstep.EventDesyncDetected {
			fmt.Printf("desync tick=%d reason=%s %s\n", e.Event.Tick, e.Event.Reason, e.Event.Detail)
		}
		return nil
	})
	if err != nil {
		return err
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("event %s=%d\n", k, counts[lockstep.EventKind(k)])
	}
	return nil
}
