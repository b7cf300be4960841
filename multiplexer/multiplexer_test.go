package multiplexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/prismrt/prism/fault"
	"github.com/prismrt/prism/link"
	"github.com/prismrt/prism/prism"
	"github.com/prismrt/prism/pulse"
	"github.com/prismrt/prism/spectrum"
)

// countingPrism tracks how many instances its factory produced, proving
// instances are never pooled.
type countingPrism struct {
	instance int
}

func (c *countingPrism) Init(spec *spectrum.Spectrum) error { return nil }

func (c *countingPrism) HandlePulse(id string, p pulse.Pulse, lk *link.Link) (bool, error) {
	if p.Kind != pulse.KindWavefront || p.Frequency != "whoami" {
		return false, nil
	}
	lk.EmitPhoton(id, json.RawMessage(fmt.Sprintf(`{"instance":%d}`, c.instance)))
	lk.EmitTrap(id, nil)
	return true, nil
}

// storagePrism remembers values put into it, for refraction tests.
type storagePrism struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
}

func (s *storagePrism) Init(spec *spectrum.Spectrum) error {
	s.values = make(map[string]json.RawMessage)
	return nil
}

func (s *storagePrism) HandlePulse(id string, p pulse.Pulse, lk *link.Link) (bool, error) {
	if p.Kind != pulse.KindWavefront || p.Frequency != "put" {
		return false, nil
	}

	var req struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(p.Input, &req); err != nil {
		lk.EmitTrap(id, fault.Newf(fault.KindInvalidInput, "bad put request: %v", err))
		return true, nil
	}

	s.mu.Lock()
	s.values[req.Key] = req.Value
	s.mu.Unlock()

	lk.EmitPhoton(id, json.RawMessage(fmt.Sprintf(`{"ok":true,"key":%q}`, req.Key)))
	lk.EmitTrap(id, nil)
	return true, nil
}

// writeManifest writes a minimal manifest for a unit under root.
func writeManifest(t *testing.T, root, unitID string, refractions string) {
	t.Helper()

	namespace, name, err := spectrum.SplitUnitID(unitID)
	if err != nil {
		t.Fatalf("Bad unit id: %v", err)
	}

	dir := filepath.Join(root, spectrum.UnitKind, namespace, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create unit dir: %v", err)
	}

	if refractions == "" {
		refractions = "[]"
	}
	manifest := fmt.Sprintf(`{
		"namespace": %q,
		"name": %q,
		"description": "test unit",
		"tags": [],
		"wavelengths": [
			{"frequency": "whoami", "description": "", "input": {}, "output": {}},
			{"frequency": "put", "description": "", "input": {}, "output": {}}
		],
		"refractions": %s
	}`, namespace, name, refractions)

	path := filepath.Join(dir, spectrum.ManifestFile)
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
}

func newTestMux(t *testing.T) (*Multiplexer, string) {
	t.Helper()
	root := t.TempDir()
	m := New(WithInstallRoot(root))
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, root
}

func TestEstablishLink(t *testing.T) {
	m, root := newTestMux(t)
	writeManifest(t, root, "test:count", "")

	instances := 0
	m.RegisterFactory("test:count", func() prism.Prism {
		instances++
		return &countingPrism{instance: instances}
	})

	lk, err := m.EstablishLink("test:count")
	if err != nil {
		t.Fatalf("Failed to establish link: %v", err)
	}
	defer lk.Close()

	lk.SendWavefront("id-1", "test:count", "whoami", nil)
	got, err := link.Absorb[map[string]int](context.Background(), lk)
	if err != nil {
		t.Fatalf("Absorb failed: %v", err)
	}
	if got["instance"] != 1 {
		t.Errorf("Expected instance 1, got %v", got)
	}
}

func TestEstablishLinkFreshInstances(t *testing.T) {
	m, root := newTestMux(t)
	writeManifest(t, root, "test:count", "")

	instances := 0
	m.RegisterFactory("test:count", func() prism.Prism {
		instances++
		return &countingPrism{instance: instances}
	})

	first, err := m.EstablishLink("test:count")
	if err != nil {
		t.Fatalf("Failed to establish first link: %v", err)
	}
	defer first.Close()

	second, err := m.EstablishLink("test:count")
	if err != nil {
		t.Fatalf("Failed to establish second link: %v", err)
	}
	defer second.Close()

	second.SendWavefront("id-1", "test:count", "whoami", nil)
	got, err := link.Absorb[map[string]int](context.Background(), second)
	if err != nil {
		t.Fatalf("Absorb failed: %v", err)
	}
	if got["instance"] != 2 {
		t.Errorf("Expected a second independent instance, got %v", got)
	}
}

func TestLoaderCachedAcrossEstablishes(t *testing.T) {
	m, root := newTestMux(t)
	writeManifest(t, root, "test:native", "")

	resolutions := 0
	m.resolveNative = func(_, unitID string) (Loader, error) {
		resolutions++
		return &factoryLoader{unitID: unitID, factory: func() prism.Prism {
			return &countingPrism{}
		}}, nil
	}

	for i := 0; i < 3; i++ {
		lk, err := m.EstablishLink("test:native")
		if err != nil {
			t.Fatalf("Failed to establish link %d: %v", i, err)
		}
		lk.Close()
	}

	// The second and third calls must not re-touch the loader path.
	if resolutions != 1 {
		t.Errorf("Expected exactly one loader resolution, got %d", resolutions)
	}
}

func TestEstablishLinkInvalidID(t *testing.T) {
	m, _ := newTestMux(t)

	if _, err := m.EstablishLink("not-a-unit-id"); err == nil {
		t.Fatal("Expected error for invalid unit id")
	}
}

func TestEstablishLinkPluginNotFound(t *testing.T) {
	m, root := newTestMux(t)
	writeManifest(t, root, "test:ghost", "")

	_, err := m.EstablishLink("test:ghost")
	if !fault.IsKind(err, fault.KindPluginNotFound) {
		t.Errorf("Expected plugin-not-found fault, got %v", err)
	}
}

func TestEstablishLinkManifestNotFound(t *testing.T) {
	m, _ := newTestMux(t)
	m.RegisterFactory("test:lost", func() prism.Prism { return &countingPrism{} })

	_, err := m.EstablishLink("test:lost")
	if !fault.IsKind(err, fault.KindManifestNotFound) {
		t.Errorf("Expected manifest-not-found fault, got %v", err)
	}
}

func TestConcurrentEstablish(t *testing.T) {
	m, root := newTestMux(t)
	writeManifest(t, root, "test:count", "")
	m.RegisterFactory("test:count", func() prism.Prism { return &countingPrism{} })

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lk, err := m.EstablishLink("test:count")
			if err != nil {
				errs <- err
				return
			}
			lk.Close()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent establish failed: %v", err)
	}
}

func TestRefract(t *testing.T) {
	m, root := newTestMux(t)
	writeManifest(t, root, "test:storage", "")
	m.RegisterFactory("test:storage", func() prism.Prism { return &storagePrism{} })

	ref := &spectrum.Refraction{
		Name:      "store",
		Target:    "test:storage",
		Frequency: "put",
		Transpose: map[string]string{
			"key":   "name",
			"value": "payload",
		},
		Reflection: map[string]string{"stored": "ok"},
	}

	payload := json.RawMessage(`{"name": "alpha", "payload": {"size": 3}}`)
	lk, err := m.Refract(context.Background(), ref, payload)
	if err != nil {
		t.Fatalf("Refract failed: %v", err)
	}
	defer lk.Close()

	type putResult struct {
		OK  bool   `json:"ok"`
		Key string `json:"key"`
	}
	got, err := link.Absorb[putResult](context.Background(), lk)
	if err != nil {
		t.Fatalf("Absorb failed: %v", err)
	}
	if !got.OK || got.Key != "alpha" {
		t.Errorf("Transposed payload did not reach the target: %+v", got)
	}
}

func TestRefractMissingRequiredPath(t *testing.T) {
	m, root := newTestMux(t)
	writeManifest(t, root, "test:storage", "")
	m.RegisterFactory("test:storage", func() prism.Prism { return &storagePrism{} })

	ref := &spectrum.Refraction{
		Name:      "store",
		Target:    "test:storage",
		Frequency: "put",
		Transpose: map[string]string{"key": "absent.path"},
	}

	_, err := m.Refract(context.Background(), ref, json.RawMessage(`{}`))
	if !fault.IsKind(err, fault.KindPropertyMapping) {
		t.Errorf("Expected property-mapping fault, got %v", err)
	}
}

func TestRefractUnresolvableTarget(t *testing.T) {
	m, _ := newTestMux(t)

	ref := &spectrum.Refraction{
		Name:      "store",
		Target:    "test:nowhere",
		Frequency: "put",
		Transpose: map[string]string{},
	}

	// The error must surface before any wavefront is sent.
	_, err := m.Refract(context.Background(), ref, json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("Expected error for unresolvable target")
	}
	if !fault.IsKind(err, fault.KindPluginNotFound) && !fault.IsKind(err, fault.KindManifestNotFound) {
		t.Errorf("Expected a resolution fault, got %v", err)
	}
}

func TestRefractCycleRejected(t *testing.T) {
	m, root := newTestMux(t)

	// a refracts to b, b refracts back to a.
	writeManifest(t, root, "test:a",
		`[{"name": "next", "target": "test:b", "frequency": "whoami", "transpose": {}, "reflection": {}}]`)
	writeManifest(t, root, "test:b",
		`[{"name": "back", "target": "test:a", "frequency": "whoami", "transpose": {}, "reflection": {}}]`)
	m.RegisterFactory("test:a", func() prism.Prism { return &countingPrism{} })
	m.RegisterFactory("test:b", func() prism.Prism { return &countingPrism{} })

	ref := &spectrum.Refraction{
		Name:      "next",
		Target:    "test:b",
		Frequency: "whoami",
		Transpose: map[string]string{},
	}

	_, err := m.Refract(context.Background(), ref, json.RawMessage(`{}`))
	if !fault.IsKind(err, fault.KindManifestMalformed) {
		t.Errorf("Expected cycle to be rejected as malformed manifests, got %v", err)
	}
}

func TestRefractDepthBounded(t *testing.T) {
	root := t.TempDir()

	// A straight three-unit chain, no cycle.
	writeManifest(t, root, "test:a",
		`[{"name": "next", "target": "test:b", "frequency": "whoami", "transpose": {}, "reflection": {}}]`)
	writeManifest(t, root, "test:b",
		`[{"name": "next", "target": "test:c", "frequency": "whoami", "transpose": {}, "reflection": {}}]`)
	writeManifest(t, root, "test:c", "")

	m := New(WithInstallRoot(root), WithMaxRefractionDepth(2))
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	m.RegisterFactory("test:a", func() prism.Prism { return &countingPrism{} })

	ref := &spectrum.Refraction{
		Name:      "next",
		Target:    "test:a",
		Frequency: "whoami",
		Transpose: map[string]string{},
	}

	_, err := m.Refract(context.Background(), ref, json.RawMessage(`{}`))
	if !fault.IsKind(err, fault.KindManifestMalformed) {
		t.Errorf("Expected depth bound to reject the chain, got %v", err)
	}

	// The same chain passes under the default bound.
	deep := New(WithInstallRoot(root))
	t.Cleanup(func() { deep.Shutdown(context.Background()) })
	deep.RegisterFactory("test:a", func() prism.Prism { return &countingPrism{} })

	lk, err := deep.Refract(context.Background(), ref, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Chain within the default bound should refract: %v", err)
	}
	lk.Close()
}

func TestEstablishLinkQueueSize(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "test:count", "")

	m := New(WithInstallRoot(root), WithQueueSize(4))
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	m.RegisterFactory("test:count", func() prism.Prism { return &countingPrism{instance: 1} })

	if m.queueSize != 4 {
		t.Fatalf("Expected queue size 4, got %d", m.queueSize)
	}

	lk, err := m.EstablishLink("test:count")
	if err != nil {
		t.Fatalf("Failed to establish link: %v", err)
	}
	defer lk.Close()

	lk.SendWavefront("id-1", "test:count", "whoami", nil)
	if _, err := link.Absorb[map[string]int](context.Background(), lk); err != nil {
		t.Fatalf("Exchange over a sized link failed: %v", err)
	}
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDriverLogsSingleComponentField(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "test:count", "")

	sink := &syncBuffer{}
	m := New(WithInstallRoot(root), WithLogger(zerolog.New(sink)))
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	m.RegisterFactory("test:count", func() prism.Prism { return &countingPrism{} })

	lk, err := m.EstablishLink("test:count")
	if err != nil {
		t.Fatalf("Failed to establish link: %v", err)
	}
	defer lk.Close()

	// An unhandled frequency makes the driver log and trap.
	lk.SendWavefront("id-1", "test:count", "nope", nil)
	if _, err := link.Absorb[json.RawMessage](context.Background(), lk); err == nil {
		t.Fatal("Expected the unhandled wavefront to trap")
	}

	deadline := time.After(2 * time.Second)
	for !strings.Contains(sink.String(), `"component":"driver"`) {
		select {
		case <-deadline:
			t.Fatal("Driver log line never appeared")
		case <-time.After(5 * time.Millisecond):
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(sink.String()), "\n") {
		if strings.Count(line, `"component"`) > 1 {
			t.Errorf("Log line carries duplicate component fields: %s", line)
		}
	}
}

func TestRegisterFactoryDuplicate(t *testing.T) {
	m, _ := newTestMux(t)

	if err := m.RegisterFactory("test:dup", func() prism.Prism { return &countingPrism{} }); err != nil {
		t.Fatalf("First registration failed: %v", err)
	}
	if err := m.RegisterFactory("test:dup", func() prism.Prism { return &countingPrism{} }); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestFindPluginFileOrder(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, spectrum.UnitKind, "test", "multi")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	// With both .dylib and .so present, .so wins: extensions are tried
	// in a fixed order.
	os.WriteFile(filepath.Join(dir, "module.dylib"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "module.so"), []byte("x"), 0o644)

	path, err := findPluginFile(root, "test:multi")
	if err != nil {
		t.Fatalf("Failed to find plugin: %v", err)
	}
	if filepath.Ext(path) != ".so" {
		t.Errorf("Expected .so to win, got %s", path)
	}
}

func TestFindPluginFileMissing(t *testing.T) {
	_, err := findPluginFile(t.TempDir(), "test:none")
	if !fault.IsKind(err, fault.KindPluginNotFound) {
		t.Errorf("Expected plugin-not-found fault, got %v", err)
	}
}
