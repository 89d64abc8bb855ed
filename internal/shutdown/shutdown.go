// Package shutdown runs the auditor's cleanup steps when the process is
// signalled: stop the worker pool, stop serving metrics, close the store.
package shutdown

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/logger"
)

// Handler manages graceful shutdown.
type Handler struct {
	mu sync.Mutex

	// Callbacks
	callbacks     []Callback
	callbackNames []string

	// State
	isShuttingDown atomic.Bool
	done           chan struct{}
	timeout        time.Duration
	errs           []error

	// Cancelled when shutdown begins
	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal
	log     *logger.Logger
}

// Callback is a function called during shutdown.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration
	Signals []os.Signal
	Logger  *logger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// New creates a handler listening for cfg.Signals.
func New(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		log:     cfg.Logger.WithComponent("shutdown"),
	}

	signal.Notify(h.sigChan, cfg.Signals...)

	return h
}

// Register registers a shutdown callback with a name. Callbacks run in
// reverse registration order.
func (h *Handler) Register(name string, callback Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.callbacks = append(h.callbacks, callback)
	h.callbackNames = append(h.callbackNames, name)
}

// RegisterFunc registers a simple cleanup function.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// Stopper is a component stopped by a blocking call, like worker.Pool.
type Stopper interface {
	Stop() error
}

// RegisterStopper registers s.Stop.
func (h *Handler) RegisterStopper(name string, s Stopper) {
	h.Register(name, func(ctx context.Context) error {
		return s.Stop()
	})
}

// GracefulServer wraps a component that needs graceful shutdown.
type GracefulServer interface {
	Shutdown(ctx context.Context) error
}

// RegisterServer registers a GracefulServer for shutdown.
func (h *Handler) RegisterServer(name string, server GracefulServer) {
	h.Register(name, server.Shutdown)
}

// RegisterCloser registers c.Close, typically the store.
func (h *Handler) RegisterCloser(name string, c io.Closer) {
	h.Register(name, func(ctx context.Context) error {
		return c.Close()
	})
}

// Context returns the shutdown context.
// This context is cancelled when shutdown begins.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// IsShuttingDown returns whether shutdown is in progress.
func (h *Handler) IsShuttingDown() bool {
	return h.isShuttingDown.Load()
}

// Done returns a channel that is closed when shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Errors returns the callback errors of a completed shutdown.
func (h *Handler) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

// Wait blocks until a shutdown signal is received, then shuts down.
func (h *Handler) Wait() {
	select {
	case sig := <-h.sigChan:
		h.log.Infof("Received %s, shutting down", sig)
		h.Shutdown()
	case <-h.ctx.Done():
		// Already shutting down
	}
}

// WaitWithContext waits for a signal or ctx, whichever comes first.
func (h *Handler) WaitWithContext(ctx context.Context) {
	select {
	case sig := <-h.sigChan:
		h.log.Infof("Received %s, shutting down", sig)
		h.Shutdown()
	case <-ctx.Done():
		h.Shutdown()
	case <-h.ctx.Done():
		// Already shutting down
	}
}

// ListenAndShutdown starts listening for signals and handles shutdown.
// Returns a channel that is closed when shutdown is complete.
func (h *Handler) ListenAndShutdown() <-chan struct{} {
	go h.Wait()
	return h.done
}

// Shutdown cancels the handler context and runs every callback, bounded
// by the configured timeout. Only the first call has an effect.
func (h *Handler) Shutdown() {
	if !h.isShuttingDown.CompareAndSwap(false, true) {
		return
	}

	start := time.Now()
	h.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), h.timeout)
	defer shutdownCancel()

	h.mu.Lock()
	callbacks := make([]Callback, len(h.callbacks))
	names := make([]string, len(h.callbackNames))
	copy(callbacks, h.callbacks)
	copy(names, h.callbackNames)
	h.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := h.executeCallback(shutdownCtx, names[i], callbacks[i]); err != nil {
			h.log.WithError(err).Warnf("Shutdown step %s failed", names[i])
			errs = append(errs, err)
		}
	}

	h.mu.Lock()
	h.errs = errs
	h.mu.Unlock()

	h.log.Infof("Shutdown complete in %s (%d errors)", time.Since(start).Round(time.Millisecond), len(errs))
	close(h.done)
}

// executeCallback executes a shutdown callback with timeout handling.
func (h *Handler) executeCallback(ctx context.Context, name string, callback Callback) error {
	done := make(chan error, 1)

	go func() {
		done <- callback(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: name}
	}
}

// Trigger manually triggers shutdown as if the process had been signalled.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
		// Signal already pending
	}
}

// Stop detaches the handler from process signals.
func (h *Handler) Stop() {
	signal.Stop(h.sigChan)
}

// TimeoutError is returned when a callback times out.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}
