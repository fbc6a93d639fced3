package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunStopsOnCancelAndClosesInReverse(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) func() error {
		return func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, s)
			return nil
		}
	}
	wait := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := New(nil,
		WithComponent("http", wait),
		WithComponent("queue", wait),
		WithCloser("redis", record("redis")),
		WithCloser("kafka", record("kafka")),
	)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("app did not stop")
	}
	require.Equal(t, []string{"kafka", "redis"}, order)
}

func TestComponentFailureStopsTheRest(t *testing.T) {
	boom := errors.New("listen: address in use")
	stopped := make(chan struct{})
	app := New(nil,
		WithComponent("http", func(context.Context) error { return boom }),
		WithComponent("pipeline", func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}),
	)

	err := app.Run(context.Background())
	require.ErrorIs(t, err, boom)
	<-stopped
}

func TestStartHookFailureAborts(t *testing.T) {
	ran := false
	app := New(nil,
		WithStartHook(func(context.Context) error { return errors.New("restore failed") }),
		WithComponent("http", func(context.Context) error { ran = true; return nil }),
	)
	require.Error(t, app.Run(context.Background()))
	require.False(t, ran)
}
