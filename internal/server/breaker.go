package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// CircuitState is the state of one host's circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls pass through
	CircuitOpen                         // calls fail fast
	CircuitHalfOpen                     // probing whether the host recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned for API calls to a host whose breaker is open.
var ErrCircuitOpen = errors.New("too many recent failures, try again later")

// BreakerConfig tunes the per-host breakers guarding API calls made by
// block event scripts.
type BreakerConfig struct {
	FailureThreshold int           // failures within FailureWindow that open the circuit (default: 5)
	SuccessThreshold int           // half-open successes that close it again (default: 2)
	Timeout          time.Duration // how long it stays open (default: 30s)
	FailureWindow    time.Duration // default: 1 minute
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		FailureWindow:    time.Minute,
	}
}

type breaker struct {
	state     CircuitState
	failures  []time.Time
	successes int
	changed   time.Time
}

// breakers holds one breaker per host, shared by every editor connection.
type breakers struct {
	cfg   BreakerConfig
	log   *log.Logger
	clock func() time.Time

	mu    sync.Mutex
	hosts map[string]*breaker
}

func newBreakers(cfg BreakerConfig, logger *log.Logger) *breakers {
	return &breakers{cfg: cfg, log: logger, clock: time.Now, hosts: make(map[string]*breaker)}
}

func (bs *breakers) get(host string) *breaker {
	b, ok := bs.hosts[host]
	if !ok {
		b = &breaker{changed: bs.clock()}
		bs.hosts[host] = b
	}
	return b
}

// allow reports whether a call to host may go ahead. An open breaker turns
// half-open once its timeout has passed.
func (bs *breakers) allow(host string) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b := bs.get(host)
	if b.state == CircuitOpen {
		if bs.clock().Sub(b.changed) < bs.cfg.Timeout {
			return fmt.Errorf("%s: %w", host, ErrCircuitOpen)
		}
		bs.transition(host, b, CircuitHalfOpen)
	}
	return nil
}

// record counts the outcome of a call that allow let through.
func (bs *breakers) record(host string, failed bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b := bs.get(host)
	now := bs.clock()

	if !failed {
		switch b.state {
		case CircuitHalfOpen:
			b.successes++
			if b.successes >= bs.cfg.SuccessThreshold {
				bs.transition(host, b, CircuitClosed)
			}
		case CircuitClosed:
			b.failures = b.failures[:0]
		}
		return
	}

	b.failures = append(b.failures, now)
	cutoff := now.Add(-bs.cfg.FailureWindow)
	recent := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	b.failures = recent

	switch b.state {
	case CircuitClosed:
		if len(b.failures) >= bs.cfg.FailureThreshold {
			bs.transition(host, b, CircuitOpen)
		}
	case CircuitHalfOpen:
		bs.transition(host, b, CircuitOpen)
	}
}

func (bs *breakers) transition(host string, b *breaker, to CircuitState) {
	if b.state == to {
		return
	}
	bs.log.Warn("circuit state changed", "host", host, "from", b.state, "to", to)
	b.state = to
	b.changed = bs.clock()
	b.successes = 0
	if to == CircuitClosed {
		b.failures = b.failures[:0]
	}
}

// State returns host's breaker state.
func (bs *breakers) State(host string) CircuitState {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok := bs.hosts[host]; ok {
		return b.state
	}
	return CircuitClosed
}
