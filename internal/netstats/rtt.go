// Package netstats keeps smoothed round-trip statistics for a peer link.
package netstats

import (
	"sync"
	"time"
)

// Stats is the measuredRTTStats() view consumed by the delay controller.
type Stats struct {
	AverageRTT time.Duration
	Jitter     time.Duration
	Samples    int
}

// RTT smooths samples the way TCP does (RFC 6298): srtt with gain 1/8 and
// rttvar with gain 1/4. Safe for concurrent use.
type RTT struct {
	mu      sync.Mutex
	srtt    time.Duration
	rttvar  time.Duration
	samples int
}

func NewRTT() *RTT { return &RTT{} }

func (r *RTT) Observe(sample time.Duration) {
	if sample < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.samples == 0 {
		r.srtt = sample
		r.rttvar = sample / 2
		r.samples = 1
		return
	}
	diff := r.srtt - sample
	if diff < 0 {
		diff = -diff
	}
	r.rttvar = (3*r.rttvar + diff) / 4
	r.srtt = (7*r.srtt + sample) / 8
	r.samples++
}

func (r *RTT) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{AverageRTT: r.srtt, Jitter: r.rttvar, Samples: r.samples}
}

// RTTStats lets *RTT satisfy lockstep.RTTSource directly.
func (r *RTT) RTTStats() Stats { return r.Stats() }
