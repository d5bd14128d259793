package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBandwidthPercent(t *testing.T) {
	now := time.Now()
	prev := netSample{rxBytes: 1_000_000, txBytes: 500_000, when: now.Add(-10 * time.Second)}

	// 1.5 MB over 10s on a 100 Mbit link: 1.2 Mbit/s = 1.2%.
	pct, ok := bandwidthPercent(2_000_000, 1_000_000, prev, now, 100)
	require.True(t, ok)
	require.InDelta(t, 1.2, pct, 0.01)
}

func TestBandwidthPercentSkipsCounterReset(t *testing.T) {
	now := time.Now()
	prev := netSample{rxBytes: 5_000_000, txBytes: 3_000_000, when: now.Add(-10 * time.Second)}

	// An interface bounce resets the kernel counters to zero; the delta
	// would underflow into an absurd sample.
	_, ok := bandwidthPercent(1_000, 2_000, prev, now, 1000)
	require.False(t, ok)

	// A single reset counter is just as bogus.
	_, ok = bandwidthPercent(6_000_000, 1_000, prev, now, 1000)
	require.False(t, ok)
}

func TestBandwidthPercentNeedsSpeedAndInterval(t *testing.T) {
	now := time.Now()
	prev := netSample{rxBytes: 0, txBytes: 0, when: now.Add(-10 * time.Second)}

	_, ok := bandwidthPercent(1_000, 1_000, prev, now, 0)
	require.False(t, ok)

	prev.when = now
	_, ok = bandwidthPercent(1_000, 1_000, prev, now, 100)
	require.False(t, ok)
}
