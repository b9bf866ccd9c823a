// Package connection implements the Connection Handler state machine
// (spec.md §4.2): connection lifecycle, exponential backoff with jitter, and
// retriable-vs-protocol-fatal error classification. It owns no consumer
// state directly — callbacks are bounced back to the owning actor's inbox so
// the actor remains the sole writer of its own fields (spec.md §9).
package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/downfa11-org/partition-consumer/internal/wire"
)

// State is one node of the Connection Handler's state machine.
type State int

const (
	Initial State = iota
	Connecting
	Ready
	Closing
	Closed
	Failed
	Terminated
)

func (s State) String() string {
	switch s {
	case Initial:
		return "Initial"
	case Connecting:
		return "Connecting"
	case Ready:
		return "Ready"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	case Failed:
		return "Failed"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ErrAlreadyClosed is returned by CheckIfActive once the handler has
// transitioned to Closed or Failed.
var ErrAlreadyClosed = errors.New("connection: already closed")

// Dialer establishes the transport-level connection. The actual socket
// dial/TLS handshake/broker lookup is assumed provided (spec.md §1
// Non-goals); the handler only needs something that returns a wire.Connection
// or an error.
type Dialer func(ctx context.Context) (wire.Connection, error)

// Handler tracks connection state and drives reconnect attempts. on_opened
// and on_failed fire on whatever goroutine the reconnect attempt completes
// on; callers must bounce them onto their own single-threaded loop rather
// than mutating shared state from inside the callback.
type Handler struct {
	mu    sync.Mutex
	state State
	cnx   wire.Connection

	dial Dialer
	bo   *backoff.ExponentialBackOff

	onOpened func(wire.Connection)
	onFailed func(error)
}

// New builds a Handler in the Initial state.
func New(dial Dialer, onOpened func(wire.Connection), onFailed func(error)) *Handler {
	return &Handler{
		state:    Initial,
		dial:     dial,
		onOpened: onOpened,
		onFailed: onFailed,
		bo:       newBackOff(),
	}
}

func newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 60 * time.Second
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.2
	return bo
}

// State returns the handler's current state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// GrabConnection triggers an async connect attempt if one is not already
// underway.
func (h *Handler) GrabConnection(ctx context.Context) {
	h.mu.Lock()
	if h.state == Closed || h.state == Failed || h.state == Terminated || h.state == Connecting {
		h.mu.Unlock()
		return
	}
	h.state = Connecting
	h.mu.Unlock()

	go h.attemptConnect(ctx)
}

func (h *Handler) attemptConnect(ctx context.Context) {
	cnx, err := h.dial(ctx)
	if err != nil {
		h.ReconnectLater(ctx, err)
		return
	}

	h.mu.Lock()
	h.state = Ready
	h.cnx = cnx
	h.mu.Unlock()

	h.ResetBackoff()
	if h.onOpened != nil {
		h.onOpened(cnx)
	}
}

// ConnectionClosed transitions to Connecting and schedules a reconnect.
func (h *Handler) ConnectionClosed(ctx context.Context, cnx wire.Connection) {
	h.mu.Lock()
	if h.state == Closed || h.state == Failed || h.state == Terminated {
		h.mu.Unlock()
		return
	}
	h.state = Connecting
	h.cnx = nil
	h.mu.Unlock()

	h.ReconnectLater(ctx, fmt.Errorf("connection: closed"))
}

// ReconnectLater schedules a reconnect attempt after the next backoff
// interval elapses.
func (h *Handler) ReconnectLater(ctx context.Context, err error) {
	h.mu.Lock()
	if h.state == Closed || h.state == Failed || h.state == Terminated {
		h.mu.Unlock()
		return
	}
	h.state = Connecting
	wait := h.bo.NextBackOff()
	h.mu.Unlock()

	if wait == backoff.Stop {
		h.markFailed(err)
		return
	}

	go func() {
		select {
		case <-time.After(wait):
			h.mu.Lock()
			retry := h.state == Connecting
			h.mu.Unlock()
			if retry {
				h.attemptConnect(ctx)
			}
		case <-ctx.Done():
			h.markFailed(ctx.Err())
		}
	}()
}

func (h *Handler) markFailed(err error) {
	h.mu.Lock()
	if h.state == Closed || h.state == Terminated {
		h.mu.Unlock()
		return
	}
	h.state = Failed
	h.mu.Unlock()

	if h.onFailed != nil {
		h.onFailed(err)
	}
}

// IsRetriableError distinguishes transport failures (retry) from
// protocol-fatal broker rejections (surface immediately).
func IsRetriableError(err error) bool {
	if err == nil {
		return false
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	// Default to retriable: an unclassified transport error is assumed
	// transient rather than a broker-level protocol rejection.
	return true
}

// ProtocolError wraps a non-retriable broker rejection.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("connection: protocol error during %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// CheckIfActive fails with ErrAlreadyClosed once the handler is Closed or
// Failed.
func (h *Handler) CheckIfActive() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Closed || h.state == Failed {
		return ErrAlreadyClosed
	}
	return nil
}

// ResetBackoff clears accumulated backoff, used after a successful connect.
func (h *Handler) ResetBackoff() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bo.Reset()
}

// Connection returns the current live connection, or nil if not Ready.
func (h *Handler) Connection() wire.Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Ready {
		return nil
	}
	return h.cnx
}

// Close transitions the handler to Closed, preventing further reconnects.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Closed || h.state == Terminated {
		return
	}
	h.state = Closed
	h.cnx = nil
}
