package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	persistlog "warfront.io/internal/persistence/log"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "diff":
			diffCmd(os.Args[2:])
			return
		case "status":
			statusCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the recorded sessions under a data directory.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	metas, err := listSessions(filepath.Join(*dataDir, "sessions"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, m := range metas {
		fmt.Printf("%s\tplayer=%s\tplayers=%v\tmode=%s\tstarted=%s\n",
			m.SessionID, m.LocalPlayer, m.Players, m.Mode, m.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
}

// listSessions reads every session.json below root, oldest first. Directories
// without one are skipped.
func listSessions(root string) ([]persistlog.Meta, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []persistlog.Meta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := persistlog.ReadMeta(filepath.Join(root, e.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}
