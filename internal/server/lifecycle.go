// Package server assembles the gateway's long-running components into
// one process: components start in registration order, run until a
// termination signal or a failure, and stop in reverse order.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service is a long-running component of the gateway process, such as
// the director link or the client acceptor.
type Service interface {
	// Start runs the service and blocks until it stops or fails.
	Start() error
	// Stop asks the service to wind down; Start returns once it has.
	Stop()
}

// FuncService wraps a start and stop function pair as a Service.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

func (f *FuncService) Start() error { return f.StartFn() }
func (f *FuncService) Stop()        { f.StopFn() }

// Lifecycle runs a set of named services as one unit. Registration
// order is start order; shutdown walks the set backwards so dependents
// stop before what they depend on.
type Lifecycle struct {
	logger *zap.Logger

	mu       sync.Mutex
	names    []string
	services []Service
}

// NewLifecycle creates a Lifecycle that logs through logger.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers a service under a name used for logging. Services must
// be registered before Run.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
	l.services = append(l.services, svc)
}

// Run starts every registered service and blocks until SIGINT or
// SIGTERM arrives, the context is cancelled, or a service fails. Any of
// those triggers a full reverse-order shutdown.
//
// Postcondition: every registered service has been stopped when Run
// returns.
func (l *Lifecycle) Run(ctx context.Context) error {
	started := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	failures := make(chan error, len(l.services))
	for i := range l.services {
		name, svc := l.names[i], l.services[i]
		go func() {
			l.logger.Info("starting service", zap.String("service", name))
			if err := svc.Start(); err != nil {
				failures <- fmt.Errorf("service %s: %w", name, err)
				cancel()
			}
		}()
	}

	l.logger.Info("gateway up", zap.Int("services", len(l.services)))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		l.logger.Info("received signal, shutting down",
			zap.String("signal", sig.String()),
		)
	case err := <-failures:
		l.logger.Error("service failed, shutting down", zap.Error(err))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}

	l.stopAll()

	l.logger.Info("gateway down", zap.Duration("uptime", time.Since(started)))
	return nil
}

// stopAll walks the service set in reverse, stopping each in turn.
func (l *Lifecycle) stopAll() {
	for i := len(l.services) - 1; i >= 0; i-- {
		l.logger.Info("stopping service", zap.String("service", l.names[i]))
		l.services[i].Stop()
		l.logger.Info("service stopped", zap.String("service", l.names[i]))
	}
}
