package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/prismrt/prism/link"
)

// Client performs exchanges against a bridge server. Each call opens a
// dedicated connection, sends exactly one wavefront, and hands back a link
// to drain photons and the trap from, typically via link.Absorb.
type Client struct {
	url    string
	dialer *websocket.Dialer
}

// NewClient creates a client for the given bridge URL
// (e.g. "ws://host:9111/pulse").
func NewClient(url string) *Client {
	return &Client{
		url:    url,
		dialer: websocket.DefaultDialer,
	}
}

// Open dials the bridge and returns a link over the connection. The caller
// owns the link and must close it.
func (c *Client) Open(ctx context.Context) (*link.Link, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot dial bridge at %s: %w", c.url, err)
	}
	return link.Wrap(newWireEndpoint(conn)), nil
}

// Call opens a connection and initiates one exchange against the given
// unit and operation. It returns the link carrying the response stream and
// the exchange id.
func (c *Client) Call(ctx context.Context, target, frequency string, input json.RawMessage) (*link.Link, string, error) {
	lk, err := c.Open(ctx)
	if err != nil {
		return nil, "", err
	}

	id := uuid.NewString()
	if err := lk.SendWavefront(id, target, frequency, input); err != nil {
		lk.Close()
		return nil, "", fmt.Errorf("cannot send wavefront: %w", err)
	}
	return lk, id, nil
}
