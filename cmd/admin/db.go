package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"warfront.io/internal/persistence/indexdb"
)

func openIndex(dataDir, dbPath string) *indexdb.SQLiteIndex {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join(dataDir, "index.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return idx
}

// dbCmd queries one peer's session index:
// sessions | checksums | desyncs | security.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	sessionID := fs.String("session", "", "session id (required except for sessions)")
	limit := fs.Int("limit", 20, "result limit for sessions")
	_ = fs.Parse(args)

	q := "sessions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if q != "sessions" && strings.TrimSpace(*sessionID) == "" {
		fmt.Fprintln(os.Stderr, "missing -session")
		os.Exit(2)
	}

	idx := openIndex(*dataDir, *dbPath)
	defer idx.Close()
	ctx := context.Background()

	var (
		rows any
		err  error
	)
	switch q {
	case "sessions":
		rows, err = idx.Sessions(ctx, *limit)
	case "checksums":
		rows, err = idx.Checksums(ctx, *sessionID)
	case "desyncs":
		rows, err = idx.Desyncs(ctx, *sessionID)
	case "security":
		rows, err = idx.SecurityEvents(ctx, *sessionID)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rows)
}

// diffCmd compares the checksum records two peers indexed for the same
// session and reports the first tick where they disagree.
func diffCmd(args []string) {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	aPath := fs.String("a", "", "first peer's sqlite db")
	bPath := fs.String("b", "", "second peer's sqlite db")
	sessionID := fs.String("session", "", "session id")
	_ = fs.Parse(args)

	if *aPath == "" || *bPath == "" || *sessionID == "" {
		fmt.Fprintln(os.Stderr, "need -a, -b and -session")
		os.Exit(2)
	}
	ctx := context.Background()
	load := func(path string) []indexdb.ChecksumRow {
		idx := openIndex("", path)
		defer idx.Close()
		rows, err := idx.Checksums(ctx, *sessionID)
		if err != nil {
			fmt.Fprintln(os.Stderr, path+":", err)
			os.Exit(1)
		}
		return rows
	}
	d := firstDivergence(load(*aPath), load(*bPath))
	if !d.found {
		fmt.Printf("diff ok: compared=%d\n", d.compared)
		return
	}
	fmt.Printf("diverged at tick %d: a=%s b=%s (compared=%d)\n", d.tick, d.a.Hash, d.b.Hash, d.compared)
	os.Exit(1)
}

type divergence struct {
	found    bool
	tick     uint64
	a, b     indexdb.ChecksumRow
	compared int
}

// firstDivergence walks two tick-ordered checksum lists and compares the
// ticks both contain.
func firstDivergence(a, b []indexdb.ChecksumRow) divergence {
	var d divergence
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Tick < b[j].Tick:
			i++
		case a[i].Tick > b[j].Tick:
			j++
		default:
			d.compared++
			if a[i].Hash != b[j].Hash {
				d.found, d.tick, d.a, d.b = true, a[i].Tick, a[i], b[j]
				return d
			}
			i++
			j++
		}
	}
	return d
}
