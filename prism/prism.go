// Package prism defines the capability contract and the per-link driver
// that pumps pulses into a loaded capability instance.
package prism

import (
	"fmt"

	"github.com/prismrt/prism/link"
	"github.com/prismrt/prism/pulse"
	"github.com/prismrt/prism/spectrum"
)

// Prism is the interface every capability unit implements. The vocabulary
// is deliberately small so alternative languages can implement the same
// boundary.
//
// Units inspect wavefronts matching operations they define; for a matched
// operation they must eventually emit exactly one terminal trap for that
// id, optionally preceded by photons. Errors a unit cannot handle become an
// error trap on the exchange's id, never a dropped message.
type Prism interface {
	// Init is called exactly once, with the unit's spectrum, before any
	// pulse is routed
	Init(spec *spectrum.Spectrum) error

	// HandlePulse is called for each inbound pulse. The bool reports
	// whether this unit consumed the pulse; false lets the driver treat
	// it as unrecognized. The link is the unit's end of the exchange,
	// used to emit photons and traps.
	HandlePulse(id string, p pulse.Pulse, lk *link.Link) (bool, error)
}

// Factory constructs a fresh capability instance. Every plugin exports one
// zero-argument factory under the FactorySymbol name.
type Factory func() Prism

// FactorySymbol is the exported symbol a native plugin must provide.
const FactorySymbol = "NewPrism"

// State represents the lifecycle state of a driver-owned instance.
type State uint8

const (
	// StateLoaded means the instance was constructed from its factory
	StateLoaded State = iota

	// StateInitialized means Init succeeded; pulses may now be routed
	StateInitialized

	// StateRunning means the driver's pump loop is active
	StateRunning

	// StateTerminated means no further pulses will be dispatched
	StateTerminated
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}
