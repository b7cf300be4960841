package multiplexer

import (
	"os"
	"path/filepath"
	"plugin"

	"github.com/prismrt/prism/fault"
	"github.com/prismrt/prism/prism"
	"github.com/prismrt/prism/spectrum"
)

// pluginFileName is the plugin base name within each unit directory.
const pluginFileName = "module"

// pluginExtensions are the platform extensions tried, in order. Resolution
// is deterministic: the first existing candidate wins and stays bound to
// the unit id for the multiplexer's lifetime.
var pluginExtensions = []string{".so", ".dylib", ".dll"}

// Loader produces fresh capability instances for one unit id. Loaders are
// cached after first resolution; instances never are.
type Loader interface {
	// New constructs a fresh instance
	New() (prism.Prism, error)

	// Source describes where the loader came from, for logging
	Source() string
}

// factoryLoader wraps an in-process factory, used for built-in units and
// tests.
type factoryLoader struct {
	unitID  string
	factory prism.Factory
}

func (l *factoryLoader) New() (prism.Prism, error) {
	inst := l.factory()
	if inst == nil {
		return nil, fault.Newf(fault.KindExecution, "factory for unit %s returned nil", l.unitID)
	}
	return inst, nil
}

func (l *factoryLoader) Source() string {
	return "factory:" + l.unitID
}

// nativeLoader constructs instances from a dynamically loaded plugin's
// exported factory.
type nativeLoader struct {
	path    string
	factory prism.Factory
}

func (l *nativeLoader) New() (prism.Prism, error) {
	inst := l.factory()
	if inst == nil {
		return nil, fault.Newf(fault.KindExecution, "plugin %s factory returned nil", l.path)
	}
	return inst, nil
}

func (l *nativeLoader) Source() string {
	return l.path
}

// findPluginFile resolves the plugin path for a unit, trying the platform
// extensions in their fixed order.
func findPluginFile(root, unitID string) (string, error) {
	dir, err := spectrum.UnitDir(root, unitID)
	if err != nil {
		return "", err
	}

	for _, ext := range pluginExtensions {
		candidate := filepath.Join(dir, pluginFileName+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fault.Newf(fault.KindPluginNotFound,
		"no plugin for unit %s under %s", unitID, dir)
}

// openNativeLoader loads the plugin file for a unit and validates its
// factory export. The absence of the file or of the symbol is a recoverable
// error, never a process abort.
func openNativeLoader(root, unitID string) (Loader, error) {
	path, err := findPluginFile(root, unitID)
	if err != nil {
		return nil, err
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fault.Newf(fault.KindPluginNotFound,
			"cannot load plugin %s: %v", path, err)
	}

	sym, err := p.Lookup(prism.FactorySymbol)
	if err != nil {
		return nil, fault.Newf(fault.KindSymbolMissing,
			"plugin %s does not export %s", path, prism.FactorySymbol)
	}

	factory, ok := sym.(func() prism.Prism)
	if !ok {
		return nil, fault.Newf(fault.KindSymbolMissing,
			"plugin %s exports %s with the wrong signature", path, prism.FactorySymbol)
	}

	return &nativeLoader{path: path, factory: factory}, nil
}
