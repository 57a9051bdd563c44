package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// maxPendingErrors caps the async failures held for DrainErrors
const maxPendingErrors = 64

// MultiLogger fans every event out to several sinks. A failing sink never
// stops the others from receiving the event.
type MultiLogger struct {
	loggers []Logger
	async   bool
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending []error
	dropped int
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations.
// Logging is synchronous by default so failures reach the caller.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// SetAsync sets whether logging should be asynchronous. Async failures are
// kept for DrainErrors instead of being returned from Log.
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log sanitizes the event once and writes it to every sink
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if len(m.loggers) == 0 {
		return nil
	}

	event.Sanitize()
	if !m.async {
		return m.fanOut(ctx, event)
	}

	// Detach from request cancellation; the event must still be written
	ctx = context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.fanOut(ctx, event); err != nil {
			m.keep(err)
		}
	}()
	return nil
}

func (m *MultiLogger) fanOut(ctx context.Context, event *AuditEvent) error {
	var errs []error
	for i, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("audit sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiLogger) keep(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) >= maxPendingErrors {
		m.dropped++
		return
	}
	m.pending = append(m.pending, err)
}

// Wait blocks until in-flight async writes are done
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// DrainErrors returns and clears the failures of async writes, plus the
// number of failures that did not fit
func (m *MultiLogger) DrainErrors() ([]error, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs, dropped := m.pending, m.dropped
	m.pending, m.dropped = nil, 0
	return errs, dropped
}

// Close waits for pending writes and closes every sink
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var errs []error
	for i, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing audit sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
