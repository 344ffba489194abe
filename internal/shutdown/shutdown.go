// Package shutdown provides graceful shutdown functionality for the Drover application.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/drover-project/drover/internal/logger"
)

// ShutdownHook represents a function that can be called during shutdown
type ShutdownHook func(ctx context.Context) error

// HookPriority defines the order in which hooks are executed
type HookPriority int

const (
	// PriorityCritical hooks run first (e.g., stop accepting new connections)
	PriorityCritical HookPriority = 0
	// PriorityHigh hooks run second (e.g., stop processing)
	PriorityHigh HookPriority = 1
	// PriorityNormal hooks run third (e.g., cleanup resources)
	PriorityNormal HookPriority = 2
	// PriorityLow hooks run last (e.g., flush logs)
	PriorityLow HookPriority = 3
)

type shutdownHook struct {
	name     string
	hook     ShutdownHook
	priority HookPriority
}

// Manager manages graceful shutdown
type Manager struct {
	mu          sync.RWMutex
	hooks       []shutdownHook
	timeout     time.Duration
	sigChan     chan os.Signal
	stopChan    chan struct{}
	shutdownCtx context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
	shutdown    bool
}

// NewManager creates a new shutdown manager
func NewManager(timeout time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		hooks:       make([]shutdownHook, 0),
		timeout:     timeout,
		sigChan:     make(chan os.Signal, 1),
		stopChan:    make(chan struct{}, 1),
		shutdownCtx: ctx,
		cancel:      cancel,
	}
}

// Register registers a new shutdown hook with the given name and priority
func (m *Manager) Register(name string, hook ShutdownHook, priority HookPriority) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, shutdownHook{
		name:     name,
		hook:     hook,
		priority: priority,
	})

	logger.Debugf("Registered shutdown hook: %s (priority: %d)", name, priority)
}

// Start begins listening for shutdown signals
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	signal.Notify(m.sigChan,
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	m.wg.Add(1)
	go m.waitForShutdown()
}

func (m *Manager) waitForShutdown() {
	defer m.wg.Done()

	select {
	case sig := <-m.sigChan:
		logger.Infof("Received shutdown signal: %v", sig)
		m.performShutdown()
	case <-m.stopChan:
		logger.Info("Received programmatic stop request")
		m.performShutdown()
	case <-m.shutdownCtx.Done():
		logger.Info("Shutdown context cancelled")
		m.performShutdown()
	}
}

// performShutdown executes all shutdown hooks in priority order
func (m *Manager) performShutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	sortedHooks := make([]shutdownHook, len(m.hooks))
	copy(sortedHooks, m.hooks)
	m.mu.Unlock()

	logger.Info("Starting graceful shutdown...")

	// Low number = high priority = run first
	sort.SliceStable(sortedHooks, func(i, j int) bool {
		return sortedHooks[i].priority < sortedHooks[j].priority
	})

	for _, hook := range sortedHooks {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)

		logger.Infof("Running shutdown hook: %s", hook.name)

		done := make(chan error, 1)
		go func(h ShutdownHook) {
			done <- h(ctx)
		}(hook.hook)

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Shutdown hook %s failed: %v", hook.name, err)
			} else {
				logger.Infof("Shutdown hook %s finished", hook.name)
			}
		case <-ctx.Done():
			logger.Errorf("Shutdown hook %s timed out (%v)", hook.name, m.timeout)
		}
		cancel()
	}

	logger.Info("Graceful shutdown complete")

	m.cancel()
}

// Stop triggers graceful shutdown programmatically
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	select {
	case m.stopChan <- struct{}{}:
	default:
	}
}

// Context returns the shutdown context
func (m *Manager) Context() context.Context {
	return m.shutdownCtx
}

// Done returns a channel that's closed when shutdown is complete
func (m *Manager) Done() <-chan struct{} {
	return m.shutdownCtx.Done()
}

// Wait blocks until shutdown is complete
func (m *Manager) Wait() {
	m.wg.Wait()
}
