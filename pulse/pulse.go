// Package pulse defines the message data model exchanged over links.
package pulse

import (
	"encoding/json"
	"fmt"

	"github.com/prismrt/prism/fault"
)

// Kind defines the kind of pulse.
type Kind uint8

const (
	// KindWavefront initiates one correlated exchange
	KindWavefront Kind = iota + 1

	// KindPhoton carries one streamed partial result for an exchange
	KindPhoton

	// KindTrap terminates one exchange, with or without an error
	KindTrap

	// KindExtinguish terminates the entire link, not a single exchange
	KindExtinguish
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindWavefront:
		return "wavefront"
	case KindPhoton:
		return "photon"
	case KindTrap:
		return "trap"
	case KindExtinguish:
		return "extinguish"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Pulse represents one protocol message.
//
// Every wavefront's ID is unique per logical call; each ID produces exactly
// one terminal trap, optionally preceded by photons bearing the same ID.
// An extinguish carries no ID and must not be followed by further traffic.
type Pulse struct {
	// Kind indicates the message category
	Kind Kind

	// ID correlates all pulses of one exchange; empty for extinguish
	ID string

	// Target is the capability-unit id ("namespace:name") a wavefront
	// addresses
	Target string

	// Frequency is the operation name a wavefront invokes
	Frequency string

	// Input is the wavefront payload
	Input json.RawMessage

	// Data is one photon payload
	Data json.RawMessage

	// Err is the trap error; nil on a success trap
	Err *fault.Fault
}

// NewWavefront creates a pulse that initiates an exchange.
func NewWavefront(id, target, frequency string, input json.RawMessage) Pulse {
	return Pulse{
		Kind:      KindWavefront,
		ID:        id,
		Target:    target,
		Frequency: frequency,
		Input:     input,
	}
}

// NewPhoton creates a pulse carrying one partial result for an exchange.
func NewPhoton(id string, data json.RawMessage) Pulse {
	return Pulse{Kind: KindPhoton, ID: id, Data: data}
}

// NewTrap creates the terminal pulse for an exchange. A nil fault signals
// success.
func NewTrap(id string, f *fault.Fault) Pulse {
	return Pulse{Kind: KindTrap, ID: id, Err: f}
}

// NewExtinguish creates the link-level termination pulse.
func NewExtinguish() Pulse {
	return Pulse{Kind: KindExtinguish}
}

// IsTerminal reports whether this pulse ends its exchange.
func (p Pulse) IsTerminal() bool {
	return p.Kind == KindTrap
}

// Clone creates a deep copy of the pulse.
func (p Pulse) Clone() Pulse {
	clone := p
	if p.Input != nil {
		clone.Input = make(json.RawMessage, len(p.Input))
		copy(clone.Input, p.Input)
	}
	if p.Data != nil {
		clone.Data = make(json.RawMessage, len(p.Data))
		copy(clone.Data, p.Data)
	}
	if p.Err != nil {
		f := *p.Err
		clone.Err = &f
	}
	return clone
}
