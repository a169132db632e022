package core

import (
	"testing"

	"github.com/jabolina/go-peertalk/pkg/peertalk/types"
)

func TestShouldThrottle_MonotonicByPressure(t *testing.T) {
	cases := []struct {
		pressure int
		low      bool
		normal   bool
		high     bool
		critical bool
	}{
		{0, false, false, false, false},
		{24, false, false, false, false},
		{25, true, false, false, false},
		{50, true, false, false, false},
		{74, true, false, false, false},
		{75, true, true, false, false},
		{89, true, true, false, false},
		{90, true, true, true, false},
		{99, true, true, true, false},
		{100, true, true, true, false},
	}
	for _, c := range cases {
		if got := shouldThrottle(c.pressure, types.PriorityLow); got != c.low {
			t.Errorf("pressure=%d LOW: got %v want %v", c.pressure, got, c.low)
		}
		if got := shouldThrottle(c.pressure, types.PriorityNormal); got != c.normal {
			t.Errorf("pressure=%d NORMAL: got %v want %v", c.pressure, got, c.normal)
		}
		if got := shouldThrottle(c.pressure, types.PriorityHigh); got != c.high {
			t.Errorf("pressure=%d HIGH: got %v want %v", c.pressure, got, c.high)
		}
		if got := shouldThrottle(c.pressure, types.PriorityCritical); got != c.critical {
			t.Errorf("pressure=%d CRITICAL: got %v want %v", c.pressure, got, c.critical)
		}
	}
}

// TestShouldThrottle_Monotonicity is the testable-property version:
// as pressure rises the set of accepted priorities only ever shrinks.
func TestShouldThrottle_Monotonicity(t *testing.T) {
	priorities := []types.Priority{types.PriorityLow, types.PriorityNormal, types.PriorityHigh, types.PriorityCritical}
	var prevAccepted int
	first := true
	for pressure := 0; pressure <= 100; pressure++ {
		accepted := 0
		for _, p := range priorities {
			if !shouldThrottle(pressure, p) {
				accepted++
			}
		}
		if !first && accepted > prevAccepted {
			t.Fatalf("accepted priority count grew at pressure %d: %d > %d", pressure, accepted, prevAccepted)
		}
		prevAccepted = accepted
		first = false
	}
}

func TestCrossedThreshold(t *testing.T) {
	cases := []struct {
		last, current int
		want          bool
	}{
		{0, 0, false},
		{0, 10, false},
		{10, 25, true},
		{25, 24, true},
		{30, 60, true},
		{60, 30, true},
		{50, 95, true},
		{0, 100, true},
	}
	for _, c := range cases {
		if got := crossedThreshold(c.last, c.current); got != c.want {
			t.Errorf("crossedThreshold(%d, %d): got %v want %v", c.last, c.current, got, c.want)
		}
	}
}

func TestNegotiateCapabilities_TakesMinimum(t *testing.T) {
	var block capabilityBlock
	effMax, effChunk := negotiateCapabilities(&block, 8192, 1024, 512, 2048)
	if effMax != 512 {
		t.Errorf("effective max: got %d want 512", effMax)
	}
	if effChunk != 1024 {
		t.Errorf("effective chunk: got %d want 1024", effChunk)
	}
	if block.peerMaxMessage != 512 || block.peerPreferredChunk != 2048 {
		t.Errorf("capability block not updated: %+v", block)
	}
}
