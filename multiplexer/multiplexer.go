// Package multiplexer is the registry, loader, and factory cache that
// establishes links to capability units and resolves their declared
// dependencies.
package multiplexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prismrt/prism/fault"
	"github.com/prismrt/prism/link"
	"github.com/prismrt/prism/mapper"
	"github.com/prismrt/prism/metrics"
	"github.com/prismrt/prism/prism"
	"github.com/prismrt/prism/spectrum"
	"github.com/prismrt/prism/transport"
)

// Multiplexer maps capability-unit ids to cached plugin loaders, starts a
// capability driver per established link, and resolves refractions. It is
// scoped to the owning process: created with it, torn down with Shutdown.
//
// The loader cache is read-mostly after first use and safe for concurrent
// EstablishLink calls; once an id resolves to a specific plugin file, later
// lookups never silently switch files.
type Multiplexer struct {
	mu      sync.Mutex
	loaders map[string]Loader
	drivers []*prism.Driver

	root         string
	logger       zerolog.Logger
	baseLogger   zerolog.Logger
	collector    *metrics.Collector
	pollInterval time.Duration
	queueSize    int
	maxDepth     int

	// resolveNative is swapped out in tests
	resolveNative func(root, unitID string) (Loader, error)
}

// DefaultMaxRefractionDepth bounds refraction chains walked during cycle
// checking.
const DefaultMaxRefractionDepth = 16

// Option configures a multiplexer.
type Option func(*Multiplexer)

// WithInstallRoot overrides the install root used for manifest and plugin
// lookups.
func WithInstallRoot(root string) Option {
	return func(m *Multiplexer) {
		m.root = root
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Multiplexer) {
		m.logger = logger
	}
}

// WithCollector attaches a metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(m *Multiplexer) {
		m.collector = c
	}
}

// WithPollInterval sets the pump backoff used by drivers this multiplexer
// starts.
func WithPollInterval(d time.Duration) Option {
	return func(m *Multiplexer) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithQueueSize sets the per-direction transport queue capacity of links
// this multiplexer establishes.
func WithQueueSize(n int) Option {
	return func(m *Multiplexer) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithMaxRefractionDepth bounds the refraction chains accepted by Refract.
func WithMaxRefractionDepth(n int) Option {
	return func(m *Multiplexer) {
		if n > 0 {
			m.maxDepth = n
		}
	}
}

// New creates a multiplexer.
func New(opts ...Option) *Multiplexer {
	m := &Multiplexer{
		loaders:       make(map[string]Loader),
		root:          spectrum.InstallRoot(),
		logger:        zerolog.Nop(),
		pollInterval:  prism.DefaultPollInterval,
		queueSize:     transport.DefaultQueueSize,
		maxDepth:      DefaultMaxRefractionDepth,
		resolveNative: openNativeLoader,
	}
	for _, opt := range opts {
		opt(m)
	}
	// Drivers stamp their own component field on the base logger.
	m.baseLogger = m.logger
	m.logger = m.logger.With().Str("component", "multiplexer").Logger()
	return m
}

// RegisterFactory registers an in-process factory for a unit id, bypassing
// native plugin resolution. Used for built-in units and tests.
func (m *Multiplexer) RegisterFactory(unitID string, factory prism.Factory) error {
	if _, _, err := spectrum.SplitUnitID(unitID); err != nil {
		return fault.From(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.loaders[unitID]; exists {
		return fmt.Errorf("unit %s already has a loader", unitID)
	}
	m.loaders[unitID] = &factoryLoader{unitID: unitID, factory: factory}
	return nil
}

// EstablishLink loads (or reuses a cached loader for) the plugin backing a
// unit id, instantiates and initializes a fresh capability instance, starts
// a driver for it, and returns the caller-facing link end.
//
// Every call yields an independent instance; only the loader is shared.
func (m *Multiplexer) EstablishLink(unitID string) (*link.Link, error) {
	if _, _, err := spectrum.SplitUnitID(unitID); err != nil {
		return nil, fault.From(err)
	}

	loader, err := m.loader(unitID)
	if err != nil {
		return nil, err
	}

	inst, err := loader.New()
	if err != nil {
		return nil, err
	}

	spec, err := spectrum.LoadFrom(m.root, unitID)
	if err != nil {
		return nil, err
	}

	caller, svc := link.NewPairSize(m.queueSize)

	opts := []prism.DriverOption{prism.WithPollInterval(m.pollInterval)}
	if m.collector != nil {
		opts = append(opts, prism.WithCollector(m.collector))
	}
	driver := prism.NewDriver(unitID, inst, svc, m.baseLogger, opts...)

	if err := driver.Init(spec); err != nil {
		caller.Close()
		svc.Close()
		return nil, err
	}
	if err := driver.Start(); err != nil {
		caller.Close()
		svc.Close()
		return nil, err
	}

	m.mu.Lock()
	m.drivers = append(m.drivers, driver)
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.LinksEstablished.WithLabelValues(unitID).Inc()
	}
	m.logger.Debug().Str("unit", unitID).Str("source", loader.Source()).Msg("link established")

	return caller, nil
}

// Refract resolves one declared dependency: it projects the caller's
// payload through the refraction's transpose map, establishes the
// downstream link, sends the initiating wavefront, and returns the link.
// The caller consumes the response, directly or via link.Absorb, and
// applies the reflection map itself if it needs the response re-shaped.
//
// Refraction chains that cycle back to a unit already on the chain are
// rejected before any link is established.
func (m *Multiplexer) Refract(ctx context.Context, ref *spectrum.Refraction, payload json.RawMessage) (*link.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	projected, err := mapper.ApplyTranspose(payload, ref.Transpose)
	if err != nil {
		m.countRefractionError(ref, err)
		return nil, err
	}

	if err := m.checkRefractionCycle(ref.Target); err != nil {
		m.countRefractionError(ref, err)
		return nil, err
	}

	lk, err := m.EstablishLink(ref.Target)
	if err != nil {
		m.countRefractionError(ref, err)
		return nil, err
	}

	id := uuid.NewString()
	if err := lk.SendWavefront(id, ref.Target, ref.Frequency, projected); err != nil {
		lk.Close()
		m.countRefractionError(ref, err)
		return nil, fault.Newf(fault.KindTransport,
			"cannot send wavefront to %s: %v", ref.Target, err)
	}

	if m.collector != nil {
		m.collector.Refractions.WithLabelValues(ref.Name, ref.Target).Inc()
	}
	m.logger.Debug().
		Str("refraction", ref.Name).
		Str("target", ref.Target).
		Str("frequency", ref.Frequency).
		Str("id", id).
		Msg("refracted")

	return lk, nil
}

// Shutdown stops every driver this multiplexer started.
func (m *Multiplexer) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	drivers := m.drivers
	m.drivers = nil
	m.mu.Unlock()

	for _, d := range drivers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		d.Stop()
	}
	return nil
}

// loader returns the cached loader for a unit, resolving and caching it on
// first use (insert-if-absent).
func (m *Multiplexer) loader(unitID string) (Loader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if loader, exists := m.loaders[unitID]; exists {
		return loader, nil
	}

	start := time.Now()
	loader, err := m.resolveNative(m.root, unitID)
	if err != nil {
		return nil, err
	}

	if m.collector != nil {
		m.collector.PluginLoads.WithLabelValues(unitID).Inc()
		m.collector.PluginLoadDuration.Observe(time.Since(start).Seconds())
	}
	m.logger.Info().Str("unit", unitID).Str("source", loader.Source()).Msg("plugin loaded")

	m.loaders[unitID] = loader
	return loader, nil
}

// checkRefractionCycle walks the refraction graph from target using the
// manifests on disk and rejects chains that revisit a unit or exceed the
// configured depth. Units whose manifests are absent are treated as
// leaves; they fail later with their own resolution error.
func (m *Multiplexer) checkRefractionCycle(target string) error {
	visiting := map[string]bool{}
	var walk func(unitID string, chain []string) error

	walk = func(unitID string, chain []string) error {
		if len(chain) >= m.maxDepth {
			return fault.Newf(fault.KindManifestMalformed,
				"refraction chain from %s exceeds depth %d", target, m.maxDepth)
		}
		if visiting[unitID] {
			return fault.Newf(fault.KindManifestMalformed,
				"refraction cycle detected: %v -> %s", chain, unitID)
		}

		spec, err := spectrum.LoadFrom(m.root, unitID)
		if err != nil {
			return nil
		}

		visiting[unitID] = true
		for i := range spec.Refractions {
			if err := walk(spec.Refractions[i].Target, append(chain, unitID)); err != nil {
				return err
			}
		}
		visiting[unitID] = false
		return nil
	}

	return walk(target, nil)
}

func (m *Multiplexer) countRefractionError(ref *spectrum.Refraction, err error) {
	if m.collector == nil {
		return
	}
	m.collector.RefractionErrors.WithLabelValues(ref.Name, string(fault.From(err).Kind)).Inc()
}
