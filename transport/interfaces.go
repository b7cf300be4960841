// Package transport provides raw bidirectional pulse channels.
package transport

import (
	"errors"

	"github.com/prismrt/prism/pulse"
)

// Transport errors
var (
	// ErrClosed is returned when the transport has been closed and no
	// queued pulses remain.
	ErrClosed = errors.New("transport closed")
)

// Endpoint is one side of a bidirectional pulse channel.
//
// Send and Receive may be called from multiple goroutines; individual pulse
// writes are serialized so frames never interleave. Pulses for a single
// exchange id are delivered in send order.
type Endpoint interface {
	// Send delivers one pulse to the peer endpoint. When the peer's
	// queue is full the send blocks until space frees or the transport
	// closes, giving a fast producer backpressure instead of data loss.
	Send(p pulse.Pulse) error

	// Receive returns the next queued pulse without blocking. The second
	// return value is false when no pulse is currently available. After
	// the transport closes, queued pulses are still drained before
	// Receive reports ErrClosed.
	Receive() (pulse.Pulse, bool, error)

	// Close closes the whole transport; the peer observes the closure
	Close() error

	// Done is closed when the transport has been closed by either side
	Done() <-chan struct{}
}
