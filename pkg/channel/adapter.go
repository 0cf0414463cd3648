package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultReconnectInterval is how long the adapter waits between reconnect
// attempts after the transport drops.
const DefaultReconnectInterval = 10 * time.Second

// ErrClosed is returned by Connect after Close has been called.
var ErrClosed = errors.New("channel: adapter closed")

// attempt is one in-flight connect. Concurrent Connect callers wait on the
// same attempt instead of dialing a second time.
type attempt struct {
	done chan struct{}
	err  error
}

// AdapterConfig holds Adapter settings.
type AdapterConfig struct {
	// ReconnectInterval between attempts; zero means DefaultReconnectInterval.
	ReconnectInterval time.Duration
	// Logger for connection lifecycle events; nil means slog.Default().
	Logger *slog.Logger
}

// Adapter owns a single logical connection to the push transport. Connection
// errors are never fatal: a lost connection is retried on a fixed interval
// until it comes back or Close is called.
type Adapter struct {
	dial     Dialer
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	state   State
	handler Handler
	ch      Channel
	pending *attempt
	timer   *time.Timer
	closed  bool

	wg sync.WaitGroup
}

// NewAdapter creates an Adapter that dials the transport with dial.
func NewAdapter(dial Dialer, cfg AdapterConfig) *Adapter {
	interval := cfg.ReconnectInterval
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{dial: dial, interval: interval, log: log}
}

// OnBatch registers the single batch handler. Must be called before Connect;
// batches arriving with no handler registered are dropped.
func (a *Adapter) OnBatch(h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.handler = h
}

// State returns the adapter's current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

// Connect establishes the connection. At most one attempt is in flight at a
// time: a caller arriving while another connect is pending waits for that
// attempt's outcome instead of starting its own. A failed attempt arms the
// reconnect timer before returning the error.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()

	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}

	if a.state == StateConnected {
		a.mu.Unlock()
		return nil
	}

	if att := a.pending; att != nil {
		a.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-att.done:
			return att.err
		}
	}

	att := &attempt{done: make(chan struct{})}
	a.pending = att
	a.state = StateConnecting
	a.stopTimerLocked()
	a.mu.Unlock()

	ch, err := a.dial(ctx)
	if err == nil {
		// The prior pump must have fully drained before a new one starts,
		// so handler invocations stay strictly sequential.
		a.wg.Wait()
	}

	a.mu.Lock()
	a.pending = nil

	if a.closed {
		a.mu.Unlock()
		if err == nil {
			_ = ch.Close()
		}
		att.err = ErrClosed
		close(att.done)
		return ErrClosed
	}

	if err != nil {
		a.scheduleReconnectLocked()
		if a.timer != nil {
			a.state = StateReconnecting
		} else {
			a.state = StateDisconnected
		}
		a.mu.Unlock()

		att.err = err
		close(att.done)

		return err
	}

	a.ch = ch
	a.state = StateConnected
	a.wg.Add(1)
	go a.pump(ch)
	a.mu.Unlock()

	close(att.done)

	return nil
}

// pump delivers batches to the handler in arrival order until the
// connection dies, then hands control to the reconnect timer.
func (a *Adapter) pump(ch Channel) {
	defer a.wg.Done()

	for {
		select {
		case b, ok := <-ch.Batches():
			if !ok {
				a.onDisconnect(ch, nil)
				return
			}

			a.mu.Lock()
			h := a.handler
			a.mu.Unlock()

			if h != nil {
				h(b)
			}
		case err := <-ch.Disconnects():
			a.onDisconnect(ch, err)
			return
		}
	}
}

// onDisconnect transitions to Reconnecting and arms the reconnect timer,
// unless the adapter has been closed.
func (a *Adapter) onDisconnect(ch Channel, err error) {
	_ = ch.Close()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ch == ch {
		a.ch = nil
	}

	if a.closed {
		return
	}

	a.log.Warn("channel: connection lost", "error", err, "retry_in", a.interval)
	a.state = StateReconnecting
	a.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the reconnect timer if no timer is armed and
// no attempt is in flight. Caller holds a.mu.
func (a *Adapter) scheduleReconnectLocked() {
	if a.closed || a.timer != nil || a.pending != nil {
		return
	}

	a.timer = time.AfterFunc(a.interval, a.retry)
}

// stopTimerLocked cancels a pending reconnect. Caller holds a.mu.
func (a *Adapter) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// retry is the reconnect timer callback.
func (a *Adapter) retry() {
	a.mu.Lock()
	a.timer = nil
	if a.closed || a.state == StateConnected {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if err := a.Connect(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		a.log.Warn("channel: reconnect failed", "error", err, "retry_in", a.interval)
	}
}

// Close cancels any pending reconnect, tears down the active connection,
// and waits for in-flight batch delivery to finish. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()

	if a.closed {
		a.mu.Unlock()
		return nil
	}

	a.closed = true
	a.stopTimerLocked()
	ch := a.ch
	a.ch = nil
	a.state = StateDisconnected
	a.mu.Unlock()

	var err error
	if ch != nil {
		err = ch.Close()
	}

	a.wg.Wait()

	return err
}
