package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	xhttp "FinVerdict/pkg/http"
	"FinVerdict/pkg/logger"
)

// Lifecycle is a background component started before and stopped after the HTTP server.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// App encapsulates the entire application lifecycle.
type App struct {
	logger          *logger.Logger
	httpServer      *xhttp.Server
	components      []Lifecycle
	closers         []func() error
	shutdownTimeout time.Duration
}

// New creates an App. Components start in order and stop in reverse.
func New(lgr *logger.Logger, httpServer *xhttp.Server, shutdownTimeout time.Duration, components ...Lifecycle) *App {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &App{
		logger:          lgr,
		httpServer:      httpServer,
		components:      components,
		shutdownTimeout: shutdownTimeout,
	}
}

// OnClose registers fn to run after every component has stopped.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Run starts every component and blocks until ctx ends or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := 0
	for _, c := range a.components {
		if err := c.Start(ctx); err != nil {
			a.stopComponents(a.components[:started])
			return fmt.Errorf("start component: %w", err)
		}
		started++
	}

	if err := a.httpServer.Start(); err != nil {
		a.stopComponents(a.components)
		return fmt.Errorf("start http server: %w", err)
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, a.stopComponentsCtx(ctx, a.components)...)
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", logger.Error(err))
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) stopComponents(cs []Lifecycle) {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	for _, err := range a.stopComponentsCtx(ctx, cs) {
		a.logger.Warn("component stop error", logger.Error(err))
	}
}

func (a *App) stopComponentsCtx(ctx context.Context, cs []Lifecycle) []error {
	var errs []error
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
