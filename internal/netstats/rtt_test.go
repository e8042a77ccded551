package netstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRTT_FirstSampleSeedsEstimate(t *testing.T) {
	r := NewRTT()
	r.Observe(80 * time.Millisecond)
	st := r.Stats()
	require.Equal(t, 80*time.Millisecond, st.AverageRTT)
	require.Equal(t, 40*time.Millisecond, st.Jitter)
	require.Equal(t, 1, st.Samples)
}

func TestRTT_SteadySamplesShrinkJitter(t *testing.T) {
	r := NewRTT()
	for i := 0; i < 64; i++ {
		r.Observe(50 * time.Millisecond)
	}
	st := r.Stats()
	require.Equal(t, 50*time.Millisecond, st.AverageRTT)
	require.Less(t, st.Jitter, time.Millisecond)
}

func TestRTT_IgnoresNegativeSamples(t *testing.T) {
	r := NewRTT()
	r.Observe(-time.Second)
	require.Equal(t, 0, r.Stats().Samples)
}
