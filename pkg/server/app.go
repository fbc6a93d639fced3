// Package server runs the relay's long-lived components under one lifecycle.
package server

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"TeeRelay/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Component is one long-running part of the process. Run blocks until ctx is cancelled.
type Component struct {
	Name string
	Run  func(ctx context.Context) error
}

// Closer releases a resource after every component has stopped.
type Closer struct {
	Name  string
	Close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	log        *logger.Logger
	components []Component
	closers    []Closer
	// Start runs before any component, e.g. restoring state from storage.
	start   []func(ctx context.Context) error
	timeout time.Duration
}

type Option func(*App)

func WithComponent(name string, run func(ctx context.Context) error) Option {
	return func(a *App) {
		if run != nil {
			a.components = append(a.components, Component{Name: name, Run: run})
		}
	}
}

func WithCloser(name string, fn func() error) Option {
	return func(a *App) {
		if fn != nil {
			a.closers = append(a.closers, Closer{Name: name, Close: fn})
		}
	}
}

func WithStartHook(fn func(ctx context.Context) error) Option {
	return func(a *App) {
		if fn != nil {
			a.start = append(a.start, fn)
		}
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func New(log *logger.Logger, opts ...Option) *App {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{log: log, timeout: 15 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every component and blocks until SIGINT/SIGTERM, ctx cancellation or the first
// component failure. Closers run in reverse registration order afterwards.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.close()

	for _, fn := range a.start {
		if err := fn(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range a.components {
		c := c
		g.Go(func() error {
			a.log.Info("component started", logger.String("component", c.Name))
			err := c.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("component failed", logger.String("component", c.Name), logger.Error(err))
				return err
			}
			a.log.Info("component stopped", logger.String("component", c.Name))
			return nil
		})
	}

	<-gctx.Done()
	if ctx.Err() != nil {
		a.log.Info("shutdown signal received")
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(a.timeout):
		a.log.Warn("components did not stop in time", logger.Duration("timeout", a.timeout))
		return errors.New("shutdown timed out")
	}
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", logger.String("resource", c.Name), logger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
