package reconnect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSupervisorRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	sup := NewSupervisor("127.0.0.1:6379", Strategy{NumRetries: 5, FactorMS: 1, ExponentBase: 2, JitterPercent: 0}, nil, nil)

	var readyAddr string
	sup.OnReady = func(addr string) { readyAddr = addr }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := sup.Run(ctx, func(ctx context.Context, password string) error {
		attempts++
		if attempts < 3 {
			return errors.New("dial refused")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, "127.0.0.1:6379", readyAddr)
}

func TestSupervisorUsesTokenSource(t *testing.T) {
	seen := []string{}
	tokens := func(ctx context.Context) (string, error) { return "tok-1", nil }
	sup := NewSupervisor("node-a", Strategy{NumRetries: 3, FactorMS: 1, ExponentBase: 2, JitterPercent: 0}, tokens, nil)

	err := sup.Run(context.Background(), func(ctx context.Context, password string) error {
		seen = append(seen, password)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"tok-1"}, seen)
}

func TestSupervisorStopsOnContextCancel(t *testing.T) {
	sup := NewSupervisor("unreachable", Strategy{NumRetries: 5, FactorMS: 1, ExponentBase: 2, JitterPercent: 0}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sup.Run(ctx, func(ctx context.Context, password string) error {
		return errors.New("always fails")
	})
	require.Error(t, err)
}

func TestJitteredDelayFormula(t *testing.T) {
	s := Strategy{NumRetries: 5, FactorMS: 100, ExponentBase: 2, JitterPercent: 0}
	d := jitteredDelay(s, 2)
	require.Equal(t, 400*time.Millisecond, d)
}
