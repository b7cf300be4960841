// Package link provides the caller-facing façade over one transport
// endpoint.
package link

import (
	"encoding/json"
	"sync/atomic"

	"github.com/prismrt/prism/fault"
	"github.com/prismrt/prism/pulse"
	"github.com/prismrt/prism/transport"
)

// linkState is the state shared by all handles duplicated from one link.
type linkState struct {
	ep   transport.Endpoint
	refs int32
}

// Link is one handle over a transport endpoint. Handles may be duplicated
// with Clone and share the underlying transport; the link lives as long as
// its longest surviving handle. Releasing the last handle emits an
// extinguish pulse and closes the transport, announcing teardown to the
// peer.
type Link struct {
	shared   *linkState
	released int32
}

// NewPair creates a connected link pair over a fresh in-process transport.
func NewPair() (*Link, *Link) {
	a, b := transport.NewPair()
	return Wrap(a), Wrap(b)
}

// NewPairSize creates a connected link pair with the given per-direction
// transport queue capacity.
func NewPairSize(queueSize int) (*Link, *Link) {
	a, b := transport.NewPairSize(queueSize)
	return Wrap(a), Wrap(b)
}

// Wrap creates a link handle over an existing transport endpoint.
func Wrap(ep transport.Endpoint) *Link {
	return &Link{shared: &linkState{ep: ep, refs: 1}}
}

// Clone duplicates this handle. Both handles share the same transport; the
// transport stays open until every handle has been closed.
func (l *Link) Clone() *Link {
	atomic.AddInt32(&l.shared.refs, 1)
	return &Link{shared: l.shared}
}

// Close releases this handle. When the last handle is released the link
// emits an extinguish pulse (best effort) and closes the transport. Callers
// should arrange this with defer so teardown fires on every exit path.
func (l *Link) Close() error {
	if !atomic.CompareAndSwapInt32(&l.released, 0, 1) {
		return nil
	}

	if atomic.AddInt32(&l.shared.refs, -1) > 0 {
		return nil
	}

	// Last handle: announce teardown, then close. The send is best
	// effort; the peer may already be gone.
	_ = l.shared.ep.Send(pulse.NewExtinguish())
	return l.shared.ep.Close()
}

// SendPulse sends one raw pulse over this link.
func (l *Link) SendPulse(p pulse.Pulse) error {
	return l.shared.ep.Send(p)
}

// SendWavefront initiates an exchange addressed at the given unit and
// operation.
func (l *Link) SendWavefront(id, target, frequency string, input json.RawMessage) error {
	return l.SendPulse(pulse.NewWavefront(id, target, frequency, input))
}

// EmitPhoton streams one partial result for the given exchange.
func (l *Link) EmitPhoton(id string, data json.RawMessage) error {
	return l.SendPulse(pulse.NewPhoton(id, data))
}

// EmitTrap terminates the given exchange. A nil fault signals success.
func (l *Link) EmitTrap(id string, f *fault.Fault) error {
	return l.SendPulse(pulse.NewTrap(id, f))
}

// SendExtinguish terminates the entire link.
func (l *Link) SendExtinguish() error {
	return l.SendPulse(pulse.NewExtinguish())
}

// Receive returns the next queued pulse without blocking. The second return
// value is false when nothing is queued; callers needing blocking semantics
// poll with a sleep or use Absorb.
func (l *Link) Receive() (pulse.Pulse, bool, error) {
	return l.shared.ep.Receive()
}

// Done is closed when the underlying transport has been closed.
func (l *Link) Done() <-chan struct{} {
	return l.shared.ep.Done()
}
