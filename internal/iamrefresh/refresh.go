// Package iamrefresh runs the periodic IAM-token regeneration ticker
// for Credentials.IAM connections: every RefreshIntervalSeconds it calls
// into internal/awsauth.GenerateToken and pushes the new password to
// every interested consumer (spec.md §3, §4.2 [EXPANDED]).
package iamrefresh

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/valkey-io/valkey-glide-sub003/internal/awsauth"
)

// DefaultIntervalSeconds matches spec.md §3's IAM credential default.
const DefaultIntervalSeconds = 300

// Generator produces a fresh AUTH token on demand.
type Generator func(ctx context.Context) (string, error)

// NewAWSGenerator adapts a fixed awsauth.TokenRequest into a Generator.
func NewAWSGenerator(req awsauth.TokenRequest) Generator {
	return func(ctx context.Context) (string, error) {
		return awsauth.GenerateToken(ctx, req)
	}
}

// Ticker regenerates a token on a fixed interval and publishes it to
// every consumer channel registered with Subscribe; it has no other way
// of reaching open connections.
type Ticker struct {
	generator Generator
	interval  time.Duration
	logger    log.Logger

	consumers []chan<- string
}

// NewTicker builds a Ticker. intervalSeconds <= 0 uses
// DefaultIntervalSeconds.
func NewTicker(generator Generator, intervalSeconds int, logger log.Logger) *Ticker {
	if intervalSeconds <= 0 {
		intervalSeconds = DefaultIntervalSeconds
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Ticker{
		generator: generator,
		interval:  time.Duration(intervalSeconds) * time.Second,
		logger:    log.With(logger, "component", "iamrefresh"),
	}
}

// Subscribe registers a channel to receive every subsequently generated
// token. The channel should be buffered by at least 1 so a slow
// consumer doesn't stall the refresh loop.
func (t *Ticker) Subscribe(ch chan<- string) {
	t.consumers = append(t.consumers, ch)
}

// Run generates one token immediately, publishes it, then regenerates
// on every tick until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) error {
	if err := t.refreshOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.refreshOnce(ctx); err != nil {
				level.Warn(t.logger).Log("msg", "IAM token refresh failed", "err", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *Ticker) refreshOnce(ctx context.Context) error {
	token, err := t.generator(ctx)
	if err != nil {
		return err
	}
	for _, c := range t.consumers {
		select {
		case c <- token:
		default:
		}
	}
	return nil
}
