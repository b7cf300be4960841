package transport

import (
	"sync"

	"github.com/prismrt/prism/pulse"
)

// DefaultQueueSize is the per-direction queue capacity of an in-process
// pair.
const DefaultQueueSize = 256

// inprocEndpoint is one side of an in-process transport pair. The two sides
// share a closed channel, so closing either is visible to both.
type inprocEndpoint struct {
	in  chan pulse.Pulse
	out chan pulse.Pulse

	closed    chan struct{}
	closeOnce *sync.Once
}

// NewPair creates two connected in-process endpoints. Each side's send
// feeds the other's receive through a buffered one-directional queue.
func NewPair() (Endpoint, Endpoint) {
	return NewPairSize(DefaultQueueSize)
}

// NewPairSize creates a connected pair with the given per-direction queue
// capacity.
func NewPairSize(queueSize int) (Endpoint, Endpoint) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	aToB := make(chan pulse.Pulse, queueSize)
	bToA := make(chan pulse.Pulse, queueSize)
	closed := make(chan struct{})
	once := &sync.Once{}

	a := &inprocEndpoint{in: bToA, out: aToB, closed: closed, closeOnce: once}
	b := &inprocEndpoint{in: aToB, out: bToA, closed: closed, closeOnce: once}
	return a, b
}

// Send delivers one pulse to the peer's receive queue. A full queue blocks
// the sender until the peer drains or the transport closes.
func (e *inprocEndpoint) Send(p pulse.Pulse) error {
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}

	select {
	case e.out <- p:
		return nil
	case <-e.closed:
		return ErrClosed
	}
}

// Receive returns the next queued pulse without blocking. Queued pulses
// remain drainable after the transport closes, so a peer always observes an
// extinguish sent just before closure.
func (e *inprocEndpoint) Receive() (pulse.Pulse, bool, error) {
	select {
	case p := <-e.in:
		return p, true, nil
	default:
	}

	select {
	case <-e.closed:
		// Closed, but a pulse may have raced in between the two selects.
		select {
		case p := <-e.in:
			return p, true, nil
		default:
			return pulse.Pulse{}, false, ErrClosed
		}
	default:
		return pulse.Pulse{}, false, nil
	}
}

// Close closes the whole transport pair.
func (e *inprocEndpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
	return nil
}

// Done is closed when either side has closed the transport.
func (e *inprocEndpoint) Done() <-chan struct{} {
	return e.closed
}
