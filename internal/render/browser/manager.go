package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultKeepaliveInterval = 240 * time.Second
	DefaultLaunchTimeout     = 30 * time.Second
	probeTimeout             = 5 * time.Second
)

// Observer receives lifecycle events of the shared browser.
type Observer interface {
	BrowserLaunched(duration time.Duration, err error)
	BrowserReset(reason string)
	BrowserProbed(ok bool)
}

type noopObserver struct{}

func (noopObserver) BrowserLaunched(time.Duration, error) {}
func (noopObserver) BrowserReset(string)                  {}
func (noopObserver) BrowserProbed(bool)                   {}

// ManagerOptions configures a Manager. Zero values fall back to defaults.
type ManagerOptions struct {
	KeepaliveInterval time.Duration
	LaunchTimeout     time.Duration
	Observer          Observer
	Clock             func() time.Time
}

// Manager owns the single browser process of the service. The browser is
// started lazily, shared by all renders and torn down on any fault; the next
// Acquire after a Reset starts a new one. Launch, reset and liveness checks
// are serialized by one mutex.
type Manager struct {
	launcher      Launcher
	keepalive     time.Duration
	launchTimeout time.Duration
	observer      Observer
	now           func() time.Time
	logger        *zap.Logger

	mu        sync.Mutex
	current   Browser
	lastCheck time.Time
	closed    bool

	status   atomic.Int32
	launches atomic.Int64
	resets   atomic.Int64
}

func NewManager(launcher Launcher, opts ManagerOptions, logger *zap.Logger) *Manager {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = DefaultLaunchTimeout
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		launcher:      launcher,
		keepalive:     opts.KeepaliveInterval,
		launchTimeout: opts.LaunchTimeout,
		observer:      opts.Observer,
		now:           opts.Clock,
		logger:        logger,
	}
	m.status.Store(int32(StatusIdle))
	return m
}

// Acquire returns the running browser, launching one if there is none.
// Concurrent first callers block on the mutex and share a single launch.
func (m *Manager) Acquire(ctx context.Context) (Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.current != nil {
		return m.current, nil
	}
	return m.launchLocked(ctx)
}

func (m *Manager) launchLocked(ctx context.Context) (Browser, error) {
	m.status.Store(int32(StatusLaunching))

	launchCtx, cancel := context.WithTimeout(ctx, m.launchTimeout)
	defer cancel()

	start := time.Now()
	b, err := m.launcher.Launch(launchCtx)
	duration := time.Since(start)
	m.observer.BrowserLaunched(duration, err)
	if err != nil {
		m.status.Store(int32(StatusIdle))
		m.logger.Error("Browser launch failed",
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	m.current = b
	m.lastCheck = m.now()
	m.launches.Add(1)
	m.status.Store(int32(StatusReady))

	m.logger.Info("Browser launched",
		zap.String("version", b.Version()),
		zap.Duration("duration", duration),
		zap.Int64("launch_count", m.launches.Load()))
	return b, nil
}

// EnsureAlive probes b when the keepalive interval has elapsed since the last
// successful check. A failed probe resets the browser. A handle that is no
// longer the current browser yields ErrBrowserClosed.
func (m *Manager) EnsureAlive(ctx context.Context, b Browser) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if b == nil || b != m.current {
		return ErrBrowserClosed
	}

	now := m.now()
	if now.Sub(m.lastCheck) < m.keepalive {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := b.Probe(probeCtx); err != nil {
		m.observer.BrowserProbed(false)
		m.logger.Warn("Browser keepalive probe failed, resetting",
			zap.Duration("since_last_check", now.Sub(m.lastCheck)),
			zap.Error(err))
		m.resetLocked("probe_failed")
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	m.observer.BrowserProbed(true)
	m.lastCheck = now
	m.logger.Debug("Browser keepalive probe succeeded")
	return nil
}

// Reset tears down the current browser. Close errors are logged and
// swallowed; calling Reset without a running browser is a no-op.
func (m *Manager) Reset(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(reason)
}

func (m *Manager) resetLocked(reason string) {
	if m.current == nil {
		return
	}

	m.status.Store(int32(StatusResetting))
	if err := m.current.Close(); err != nil {
		m.logger.Debug("Error closing browser during reset", zap.Error(err))
	}
	m.current = nil
	m.lastCheck = time.Time{}
	m.resets.Add(1)
	m.observer.BrowserReset(reason)

	if m.closed {
		m.status.Store(int32(StatusClosed))
	} else {
		m.status.Store(int32(StatusIdle))
	}

	m.logger.Info("Browser reset",
		zap.String("reason", reason),
		zap.Int64("reset_count", m.resets.Load()))
}

// Shutdown closes the browser and makes further Acquire calls fail.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.resetLocked("shutdown")
	m.status.Store(int32(StatusClosed))
}

func (m *Manager) Status() Status {
	return Status(m.status.Load())
}

func (m *Manager) Launches() int64 {
	return m.launches.Load()
}

func (m *Manager) Resets() int64 {
	return m.resets.Load()
}
