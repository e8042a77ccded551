package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
)

const maxLine = 16 << 20

// ReadJSONL calls fn with every line of the prefix's files under dir, oldest
// file first.
func ReadJSONL(dir, prefix string, fn func(line []byte) error) error {
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, path := range files {
		if err := readFile(path, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func readFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadTicks decodes the tick log of a session directory in order.
func ReadTicks(sessionDir string, fn func(TickEntry) error) error {
	return ReadJSONL(filepath.Join(sessionDir, "ticks"), "ticks", func(line []byte) error {
		var e TickEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		return fn(e)
	})
}

// ReadEvents decodes the event log of a session directory in order.
func ReadEvents(sessionDir string, fn func(EventEntry) error) error {
	return ReadJSONL(filepath.Join(sessionDir, "events"), "events", func(line []byte) error {
		var e EventEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		return fn(e)
	})
}
