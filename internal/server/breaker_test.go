package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/blockstudio/internal/security"
)

func testBreakers(now *time.Time) *breakers {
	bs := newBreakers(BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		FailureWindow:    time.Minute,
	}, quietLogger())
	bs.clock = func() time.Time { return *now }
	return bs
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	bs := testBreakers(&now)

	for range 3 {
		require.NoError(t, bs.allow("api.example.com"))
		bs.record("api.example.com", true)
	}
	assert.Equal(t, CircuitOpen, bs.State("api.example.com"))
	assert.True(t, errors.Is(bs.allow("api.example.com"), ErrCircuitOpen))
	assert.NoError(t, bs.allow("other.example.com"), "breakers are per host")
}

func TestBreakerForgetsOldFailures(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	bs := testBreakers(&now)

	bs.record("h", true)
	bs.record("h", true)
	now = now.Add(2 * time.Minute)
	bs.record("h", true)
	if bs.State("h") != CircuitClosed {
		t.Errorf("failures outside the window should not open the circuit, got %v", bs.State("h"))
	}

	bs.record("h", true)
	bs.record("h", false)
	bs.record("h", true)
	if bs.State("h") != CircuitClosed {
		t.Errorf("a success should reset the failure count, got %v", bs.State("h"))
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	bs := testBreakers(&now)
	for range 3 {
		bs.record("h", true)
	}

	now = now.Add(31 * time.Second)
	require.NoError(t, bs.allow("h"))
	assert.Equal(t, CircuitHalfOpen, bs.State("h"))

	// A failure while probing opens the circuit again.
	bs.record("h", true)
	assert.Equal(t, CircuitOpen, bs.State("h"))

	now = now.Add(31 * time.Second)
	require.NoError(t, bs.allow("h"))
	bs.record("h", false)
	assert.Equal(t, CircuitHalfOpen, bs.State("h"))
	bs.record("h", false)
	assert.Equal(t, CircuitClosed, bs.State("h"))
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

func TestEditorCallAPIBreaker(t *testing.T) {
	var hits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer api.Close()
	security.TestBypassSSRF = true
	t.Cleanup(func() { security.TestBypassSSRF = false })

	srv, st, ts := newTestServer(t, nil)
	srv.breakers.cfg.FailureThreshold = 2
	page, id := pageWithEvent(t, st, map[string]any{"action": "Call API", "api_endpoint": api.URL})

	c, _ := dial(t, ts)
	c.mustCall("setPage", map[string]string{"name": page})
	for range 3 {
		resp := c.call("trigger", map[string]string{"blockId": id, "event": "click"})
		assert.False(t, resp.OK)
	}
	assert.Equal(t, int32(2), hits.Load(), "the third call fails fast")
	resp := c.call("trigger", map[string]string{"blockId": id, "event": "click"})
	assert.Contains(t, resp.Error, "too many recent failures")
}
