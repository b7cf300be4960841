// Package bridge relays pulses as JSON frames over WebSocket connections,
// bridging the in-process protocol across a network boundary.
package bridge

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/prismrt/prism/pulse"
	"github.com/prismrt/prism/transport"
)

// wireQueueSize is the receive queue capacity of a wire endpoint.
const wireQueueSize = 256

// wireEndpoint adapts one WebSocket connection to the transport.Endpoint
// contract: one JSON text frame per pulse, frame writes serialized, per-id
// ordering preserved by the underlying stream.
type wireEndpoint struct {
	conn *websocket.Conn

	in     chan pulse.Pulse
	closed chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// newWireEndpoint wraps a connection and starts its reader.
func newWireEndpoint(conn *websocket.Conn) *wireEndpoint {
	e := &wireEndpoint{
		conn:   conn,
		in:     make(chan pulse.Pulse, wireQueueSize),
		closed: make(chan struct{}),
	}
	go e.readLoop()
	return e
}

// readLoop decodes inbound frames until the connection ends.
func (e *wireEndpoint) readLoop() {
	defer e.shutdown()

	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			return
		}

		p, err := pulse.Decode(data)
		if err != nil {
			// A malformed frame poisons the whole stream; treat it
			// as transport failure.
			return
		}

		select {
		case e.in <- p:
		case <-e.closed:
			return
		}
	}
}

// Send writes one pulse as a single text frame.
func (e *wireEndpoint) Send(p pulse.Pulse) error {
	select {
	case <-e.closed:
		return transport.ErrClosed
	default:
	}

	data, err := pulse.Encode(p)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return transport.ErrClosed
	}
	return nil
}

// Receive returns the next decoded pulse without blocking; queued pulses
// drain after the connection ends.
func (e *wireEndpoint) Receive() (pulse.Pulse, bool, error) {
	select {
	case p := <-e.in:
		return p, true, nil
	default:
	}

	select {
	case <-e.closed:
		select {
		case p := <-e.in:
			return p, true, nil
		default:
			return pulse.Pulse{}, false, transport.ErrClosed
		}
	default:
		return pulse.Pulse{}, false, nil
	}
}

// Close sends a protocol-level close frame and tears the connection down.
func (e *wireEndpoint) Close() error {
	e.shutdownWith(func() {
		e.writeMu.Lock()
		e.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		e.writeMu.Unlock()
	})
	return nil
}

// Done is closed once the connection has ended.
func (e *wireEndpoint) Done() <-chan struct{} {
	return e.closed
}

func (e *wireEndpoint) shutdown() {
	e.shutdownWith(nil)
}

func (e *wireEndpoint) shutdownWith(beforeClose func()) {
	e.closeOnce.Do(func() {
		if beforeClose != nil {
			beforeClose()
		}
		close(e.closed)
		e.conn.Close()
	})
}
