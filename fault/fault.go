// Package fault defines the shared error taxonomy for the prism runtime.
//
// Errors raised before an exchange begins (manifest and plugin resolution)
// are returned synchronously to the caller. Errors raised after an exchange
// has begun travel as the error payload of a trap pulse, which is why Fault
// is a plain serializable value rather than an opaque error chain.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a fault. Kinds are stable wire-level identifiers: they
// survive JSON serialization through traps and the network bridge.
type Kind string

const (
	// KindManifestNotFound means a capability unit's spectrum.json is absent.
	KindManifestNotFound Kind = "manifest_not_found"

	// KindManifestMalformed means a spectrum.json exists but cannot be used.
	KindManifestMalformed Kind = "manifest_malformed"

	// KindPluginNotFound means no plugin file exists for a unit id.
	KindPluginNotFound Kind = "plugin_not_found"

	// KindSymbolMissing means a plugin file lacks the expected factory export.
	KindSymbolMissing Kind = "symbol_missing"

	// KindOperationNotFound means an unknown wavelength or refraction name.
	KindOperationNotFound Kind = "operation_not_found"

	// KindInvalidInput means a payload failed schema or mapping expectations.
	KindInvalidInput Kind = "invalid_input"

	// KindPropertyMapping means a required source path was missing during
	// transpose or reflection.
	KindPropertyMapping Kind = "property_mapping"

	// KindExecution means a capability-unit-internal failure.
	KindExecution Kind = "execution"

	// KindTransport means a link or transport I/O failure.
	KindTransport Kind = "transport"
)

// Fault is a classified error that can cross the wire inside a trap pulse.
type Fault struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// New creates a fault with the given kind and message.
func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

// Newf creates a fault with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// From converts an arbitrary error into a fault. A *Fault anywhere in the
// chain is returned as-is so the original kind is preserved; anything else
// becomes an execution fault carrying the error text.
func From(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: KindExecution, Message: err.Error()}
}

// IsKind reports whether err carries a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}
