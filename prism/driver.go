package prism

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/prismrt/prism/fault"
	"github.com/prismrt/prism/link"
	"github.com/prismrt/prism/metrics"
	"github.com/prismrt/prism/pulse"
	"github.com/prismrt/prism/spectrum"
)

// DefaultPollInterval is the backoff between empty receives in the pump
// loop.
const DefaultPollInterval = time.Millisecond

// Driver owns one loaded capability instance and one link end. It pumps
// inbound pulses from the link to the instance for the life of the link.
//
// The driver does not serialize handling across exchange ids: HandlePulse
// is invoked from the pump goroutine and the unit decides its own
// concurrency policy. Handler errors are logged, never converted into
// traps; units emit their own error traps.
type Driver struct {
	unitID string
	inst   Prism
	lk     *link.Link

	state        int32 // State
	pollInterval time.Duration
	logger       zerolog.Logger
	collector    *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pulsesHandled uint64
}

// DriverOption configures a driver.
type DriverOption func(*Driver)

// WithPollInterval sets the pump loop's empty-receive backoff.
func WithPollInterval(d time.Duration) DriverOption {
	return func(dr *Driver) {
		if d > 0 {
			dr.pollInterval = d
		}
	}
}

// WithCollector attaches a metrics collector to the driver.
func WithCollector(c *metrics.Collector) DriverOption {
	return func(dr *Driver) {
		dr.collector = c
	}
}

// NewDriver creates a driver for a freshly constructed instance. The
// instance starts in the loaded state; call Init and then Start.
func NewDriver(unitID string, inst Prism, lk *link.Link, logger zerolog.Logger, opts ...DriverOption) *Driver {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Driver{
		unitID:       unitID,
		inst:         inst,
		lk:           lk,
		pollInterval: DefaultPollInterval,
		logger:       logger.With().Str("component", "driver").Str("unit", unitID).Logger(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Init initializes the instance with its spectrum. Only from the
// initialized state can pulses be routed.
func (d *Driver) Init(spec *spectrum.Spectrum) error {
	if s := d.State(); s != StateLoaded {
		return fmt.Errorf("driver for %s cannot init from state %s", d.unitID, s)
	}

	if err := d.inst.Init(spec); err != nil {
		return fmt.Errorf("init of unit %s failed: %w", d.unitID, err)
	}

	atomic.StoreInt32(&d.state, int32(StateInitialized))
	return nil
}

// Start begins the pump loop on its own goroutine.
func (d *Driver) Start() error {
	if !atomic.CompareAndSwapInt32(&d.state, int32(StateInitialized), int32(StateRunning)) {
		return fmt.Errorf("driver for %s cannot start from state %s", d.unitID, d.State())
	}

	if d.collector != nil {
		d.collector.DriversActive.Inc()
	}

	d.wg.Add(1)
	go d.pump()
	return nil
}

// Stop shuts the driver down and waits for the pump loop to finish. The
// peer observes the driver's link end closing.
func (d *Driver) Stop() {
	d.cancel()
	d.wg.Wait()
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	return State(atomic.LoadInt32(&d.state))
}

// UnitID returns the capability-unit id this driver serves.
func (d *Driver) UnitID() string {
	return d.unitID
}

// PulsesHandled returns how many pulses were dispatched to the instance.
func (d *Driver) PulsesHandled() uint64 {
	return atomic.LoadUint64(&d.pulsesHandled)
}

// pump is the driver's receive loop. It terminates on extinguish, on
// transport closure, or on shutdown; no pulse is dispatched afterwards.
func (d *Driver) pump() {
	defer d.wg.Done()
	defer d.terminate()

	for {
		p, ok, err := d.lk.Receive()
		if err != nil {
			// Transport failure: log and terminate; the peer sees
			// the link close.
			d.logger.Debug().Err(err).Msg("transport closed, terminating driver")
			return
		}

		if !ok {
			select {
			case <-d.ctx.Done():
				return
			case <-d.lk.Done():
				// Drain anything queued before the closure.
				if p, ok, err := d.lk.Receive(); err == nil && ok {
					if !d.dispatch(p) {
						return
					}
					continue
				}
				return
			case <-time.After(d.pollInterval):
			}
			continue
		}

		if !d.dispatch(p) {
			return
		}
	}
}

// dispatch routes one pulse to the instance. It returns false when the
// driver must terminate.
func (d *Driver) dispatch(p pulse.Pulse) bool {
	if p.Kind == pulse.KindExtinguish {
		d.logger.Debug().Msg("link extinguished")
		return false
	}

	atomic.AddUint64(&d.pulsesHandled, 1)
	if d.collector != nil {
		d.collector.PulsesPumped.WithLabelValues(d.unitID, p.Kind.String()).Inc()
	}

	consumed, err := d.inst.HandlePulse(p.ID, p, d.lk)
	if err != nil {
		// Units are responsible for emitting their own error traps.
		d.logger.Warn().Err(err).
			Str("id", p.ID).
			Str("kind", p.Kind.String()).
			Msg("capability unit returned an error")
		return true
	}
	if !consumed {
		if p.Kind == pulse.KindWavefront {
			// A declined wavefront still owes its exchange a terminal
			// trap; otherwise the caller waits forever.
			f := fault.Newf(fault.KindOperationNotFound,
				"unit %s does not handle frequency %q", d.unitID, p.Frequency)
			if err := d.lk.EmitTrap(p.ID, f); err != nil {
				d.logger.Debug().Err(err).Str("id", p.ID).Msg("cannot trap unhandled wavefront")
			}
			d.logger.Warn().
				Str("id", p.ID).
				Str("frequency", p.Frequency).
				Msg("no handler for wavefront")
			return true
		}
		d.logger.Warn().
			Str("id", p.ID).
			Str("kind", p.Kind.String()).
			Msg("unrecognized pulse")
	}
	return true
}

// terminate moves the driver to its final state and releases its link end.
func (d *Driver) terminate() {
	prev := State(atomic.SwapInt32(&d.state, int32(StateTerminated)))
	if prev == StateTerminated {
		return
	}

	if d.collector != nil {
		d.collector.DriversActive.Dec()
	}

	// Closing the driver's handle announces teardown if the transport is
	// still open; if the peer already extinguished, the send is a no-op.
	_ = d.lk.Close()
}
