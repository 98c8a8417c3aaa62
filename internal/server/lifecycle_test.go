package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// blockingService blocks in Start until stopped and records call order.
type blockingService struct {
	name  string
	order *callOrder
	quit  chan struct{}
	once  sync.Once
}

type callOrder struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func (o *callOrder) record(list *[]string, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*list = append(*list, name)
}

func newBlockingService(name string, order *callOrder) *blockingService {
	return &blockingService{name: name, order: order, quit: make(chan struct{})}
}

func (s *blockingService) Start() error {
	s.order.record(&s.order.started, s.name)
	<-s.quit
	return nil
}

func (s *blockingService) Stop() {
	s.order.record(&s.order.stopped, s.name)
	s.once.Do(func() { close(s.quit) })
}

func TestLifecycle_StopsInReverseOrder(t *testing.T) {
	order := &callOrder{}
	l := NewLifecycle(zap.NewNop())
	l.Add("first", newBlockingService("first", order))
	l.Add("second", newBlockingService("second", order))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		order.mu.Lock()
		defer order.mu.Unlock()
		return len(order.started) == 2
	}, 5*time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down")
	}

	assert.Equal(t, []string{"second", "first"}, order.stopped)
}

func TestLifecycle_ServiceFailureTriggersShutdown(t *testing.T) {
	order := &callOrder{}
	healthy := newBlockingService("healthy", order)

	l := NewLifecycle(zap.NewNop())
	l.Add("healthy", healthy)
	l.Add("failing", &FuncService{
		StartFn: func() error { return assert.AnError },
		StopFn:  func() {},
	})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down after service failure")
	}

	assert.Contains(t, order.stopped, "healthy")
}

func TestFuncService(t *testing.T) {
	var stopped bool
	f := &FuncService{
		StartFn: func() error { return nil },
		StopFn:  func() { stopped = true },
	}

	require.NoError(t, f.Start())
	f.Stop()
	assert.True(t, stopped)
}
