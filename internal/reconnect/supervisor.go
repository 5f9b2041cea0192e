// Package reconnect implements the per-connection reconnect supervisor
// (C4): bounded-exponential backoff with jitter, a circuit breaker
// around dial attempts, and an IAM-token refresh hook invoked on every
// attempt. Grounded on the teacher's use of cenkalti/backoff and
// sony/gobreaker as declared (indirect) dependencies, and on
// modules/backendscheduler's starting/running-style ticker loop for the
// supervisor's own run loop (see DESIGN.md).
package reconnect

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sony/gobreaker"
)

// Strategy mirrors ConnectionConfig's reconnect strategy fields
// (spec.md §3). The delay for an attempt is factor * exponent_base^attempt
// milliseconds, randomized within +/- jitter_percent/100 of that value and
// capped once attempt >= NumRetries; no additional uniform random(0, delay)
// spread is applied. Retries never stop — the cap only freezes the delay
// at its ceiling.
type Strategy struct {
	NumRetries    int
	FactorMS      int
	ExponentBase  float64
	JitterPercent int
}

// DefaultStrategy matches spec.md's reconnect defaults.
var DefaultStrategy = Strategy{NumRetries: 5, FactorMS: 100, ExponentBase: 2, JitterPercent: 20}

// newBackoff builds a cenkalti/backoff ExponentialBackOff configured so
// its delay plateaus at the strategy's implicit ceiling instead of
// growing without bound, and never gives up (MaxElapsedTime = 0).
func newBackoff(s Strategy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(s.FactorMS) * time.Millisecond
	b.Multiplier = s.ExponentBase
	b.RandomizationFactor = float64(s.JitterPercent) / 100
	ceiling := float64(s.FactorMS) * pow(s.ExponentBase, float64(s.NumRetries))
	b.MaxInterval = time.Duration(ceiling) * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// TokenSource returns the current AUTH password to present on (re)connect.
// Password-mode credentials return a constant string; IAM-mode
// credentials call into internal/iamrefresh's generator on every attempt.
type TokenSource func(ctx context.Context) (string, error)

// Supervisor drives reconnect attempts for a single logical connection
// slot (e.g. one pool member). It is not itself a Connection; callers
// plug in the dial function that owns conn.Dial + conn.Handshake.
type Supervisor struct {
	addr     string
	logger   log.Logger
	strategy Strategy
	tokens   TokenSource
	breaker  *gobreaker.CircuitBreaker

	// OnUnreachable fires when the breaker trips open, signaling the
	// TopologyManager that this node should be treated as down (trigger
	// #4 in spec.md §4.5).
	OnUnreachable func(addr string)
	// OnReady fires after a successful (re)connect, so the caller can
	// notify the TopologyManager and PubSub subsystem per spec.md §4.4.
	OnReady func(addr string)
}

// NewSupervisor builds a Supervisor for addr. tokens may be nil, in
// which case no AUTH password is ever presented (anonymous auth).
func NewSupervisor(addr string, strategy Strategy, tokens TokenSource, logger log.Logger) *Supervisor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reconnect-dial-" + addr,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Supervisor{
		addr:     addr,
		logger:   log.With(logger, "component", "reconnect", "addr", addr),
		strategy: strategy,
		tokens:   tokens,
		breaker:  cb,
	}
}

// Run drives attempt after attempt, calling dial through the circuit
// breaker and backing off between failures, until ctx is cancelled or
// dial succeeds. The caller is responsible for calling Run again after
// a subsequent connection loss (the supervisor does not loop forever
// across reconnects by itself — it governs a single bring-up).
func (s *Supervisor) Run(ctx context.Context, dial func(ctx context.Context, password string) error) error {
	b := backoff.WithContext(newBackoff(s.strategy), ctx)
	attempt := 0

	operation := func() error {
		password := ""
		if s.tokens != nil {
			pw, err := s.tokens(ctx)
			if err != nil {
				return err
			}
			password = pw
		}

		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, dial(ctx, password)
		})
		attempt++
		if err != nil {
			level.Warn(s.logger).Log("msg", "dial attempt failed", "attempt", attempt, "err", err)
			if s.breaker.State() == gobreaker.StateOpen && s.OnUnreachable != nil {
				s.OnUnreachable(s.addr)
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, b); err != nil {
		return err
	}
	if s.OnReady != nil {
		s.OnReady(s.addr)
	}
	return nil
}

// jitteredDelay is exposed for tests: factor * exponent_base^attempt
// milliseconds, shifted by a uniformly random amount within
// +/- jitter_percent/100 of it, computed independently of
// cenkalti/backoff's own internal jitter implementation.
func jitteredDelay(s Strategy, attempt int) time.Duration {
	base := float64(s.FactorMS) * pow(s.ExponentBase, float64(attempt))
	jitter := base * float64(s.JitterPercent) / 100
	delta := (rand.Float64()*2 - 1) * jitter
	d := base + delta
	if d < 0 {
		d = 0
	}
	return time.Duration(d) * time.Millisecond
}
