package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"warfront.io/internal/lockstep"
)

// statusCmd asks a running peer for its session status.
func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:9420", "peer metrics base url")
	_ = fs.Parse(args)

	st, err := fetchStatus(&http.Client{Timeout: 5 * time.Second}, *baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status:", err)
		os.Exit(1)
	}
	fmt.Printf("tick=%d state=%s mode=%s delay=%d", st.Tick, st.State, st.Mode, st.DelayTicks)
	if len(st.WaitingOn) > 0 {
		fmt.Printf(" waiting_on=%v", st.WaitingOn)
	}
	if st.Desync != nil {
		fmt.Printf(" desync_tick=%d reason=%s", st.Desync.Tick, st.Desync.Reason)
	}
	fmt.Println()
}

func fetchStatus(cl *http.Client, baseURL string) (lockstep.Status, error) {
	var st lockstep.Status
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/status"
	resp, err := cl.Get(u)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return st, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	err = json.NewDecoder(resp.Body).Decode(&st)
	return st, err
}
