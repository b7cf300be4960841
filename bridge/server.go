package bridge

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/prismrt/prism/fault"
	"github.com/prismrt/prism/link"
	"github.com/prismrt/prism/metrics"
	"github.com/prismrt/prism/multiplexer"
	"github.com/prismrt/prism/pulse"
)

// relayPollInterval is the backoff while waiting for the next downstream
// pulse to relay.
const relayPollInterval = time.Millisecond

// Server exposes capability units over a WebSocket endpoint. A client
// opens a connection, sends exactly one wavefront, reads photons and the
// trap, and then receives a close frame.
type Server struct {
	mux    *multiplexer.Multiplexer
	logger zerolog.Logger

	collector *metrics.Collector
	gatherer  prometheus.Gatherer

	upgrader websocket.Upgrader
	srv      *http.Server
}

// ServerOption configures a server.
type ServerOption func(*Server)

// WithMetrics attaches a collector and the gatherer backing /metrics.
func WithMetrics(c *metrics.Collector, g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.collector = c
		s.gatherer = g
	}
}

// NewServer creates a bridge server listening on addr.
func NewServer(addr string, mux *multiplexer.Multiplexer, logger zerolog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		mux:    mux,
		logger: logger.With().Str("component", "bridge").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the HTTP routes served by the bridge.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/pulse", s.handlePulse)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("bridge server failed")
		}
	}()
	s.logger.Info().Str("addr", s.srv.Addr).Msg("bridge listening")
	return nil
}

// Stop drains and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handlePulse serves one client exchange over a fresh WebSocket.
func (s *Server) handlePulse(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	if s.collector != nil {
		s.collector.BridgeConnections.Inc()
		defer s.collector.BridgeConnections.Dec()
	}

	ep := newWireEndpoint(conn)
	client := link.Wrap(ep)
	defer client.Close()

	wf, ok := s.awaitWavefront(r.Context(), client)
	if !ok {
		return
	}

	status := s.relay(r.Context(), client, wf)
	if s.collector != nil {
		s.collector.BridgeExchanges.WithLabelValues(wf.Target, status).Inc()
	}
}

// awaitWavefront reads the client's initiating pulse. Anything other than
// a wavefront violates the bridge contract.
func (s *Server) awaitWavefront(ctx context.Context, client *link.Link) (pulse.Pulse, bool) {
	for {
		p, ok, err := client.Receive()
		if err != nil {
			return pulse.Pulse{}, false
		}
		if !ok {
			select {
			case <-ctx.Done():
				return pulse.Pulse{}, false
			case <-time.After(relayPollInterval):
			}
			continue
		}

		if p.Kind != pulse.KindWavefront {
			client.EmitTrap(p.ID, fault.Newf(fault.KindInvalidInput,
				"bridge expects a wavefront first, got %s", p.Kind))
			return pulse.Pulse{}, false
		}
		return p, true
	}
}

// relay establishes the target link, forwards the wavefront, and streams
// the response back until the trap. Establishment errors are relayed as an
// error trap preserving the original fault kind and text.
func (s *Server) relay(ctx context.Context, client *link.Link, wf pulse.Pulse) string {
	down, err := s.mux.EstablishLink(wf.Target)
	if err != nil {
		s.logger.Warn().Err(err).Str("target", wf.Target).Msg("establish failed")
		client.EmitTrap(wf.ID, fault.From(err))
		return "error"
	}
	defer down.Close()

	if err := down.SendPulse(wf); err != nil {
		client.EmitTrap(wf.ID, fault.Newf(fault.KindTransport,
			"cannot forward wavefront: %v", err))
		return "error"
	}

	for {
		p, ok, err := down.Receive()
		if err != nil {
			// Downstream died without a trap; the client must treat
			// the exchange as failed.
			client.EmitTrap(wf.ID, fault.New(fault.KindTransport,
				"downstream link closed before trap"))
			return "error"
		}

		if !ok {
			select {
			case <-ctx.Done():
				return "cancelled"
			case <-client.Done():
				// Client went away; releasing our downstream
				// handle extinguishes the target link.
				return "cancelled"
			case <-time.After(relayPollInterval):
			}
			continue
		}

		switch p.Kind {
		case pulse.KindPhoton:
			if err := client.SendPulse(p); err != nil {
				return "cancelled"
			}

		case pulse.KindTrap:
			client.SendPulse(p)
			if p.Err != nil {
				return "error"
			}
			return "ok"

		case pulse.KindExtinguish:
			client.EmitTrap(wf.ID, fault.New(fault.KindTransport,
				"downstream link extinguished before trap"))
			return "error"
		}
	}
}
