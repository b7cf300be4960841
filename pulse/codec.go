package pulse

import (
	"encoding/json"
	"fmt"

	"github.com/prismrt/prism/fault"
)

// wirePulse is the JSON frame layout used by the network bridge. One pulse
// serializes to exactly one frame.
type wirePulse struct {
	Kind      string          `json:"kind"`
	ID        string          `json:"id,omitempty"`
	Target    string          `json:"target,omitempty"`
	Frequency string          `json:"frequency,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *fault.Fault    `json:"error,omitempty"`
}

// Encode serializes a pulse to one JSON wire frame.
func Encode(p Pulse) ([]byte, error) {
	if p.Kind < KindWavefront || p.Kind > KindExtinguish {
		return nil, fmt.Errorf("cannot encode pulse of kind %s", p.Kind)
	}

	frame := wirePulse{
		Kind:      p.Kind.String(),
		ID:        p.ID,
		Target:    p.Target,
		Frequency: p.Frequency,
		Input:     p.Input,
		Data:      p.Data,
		Error:     p.Err,
	}
	return json.Marshal(frame)
}

// Decode deserializes one JSON wire frame into a pulse.
func Decode(data []byte) (Pulse, error) {
	var frame wirePulse
	if err := json.Unmarshal(data, &frame); err != nil {
		return Pulse{}, fmt.Errorf("malformed pulse frame: %w", err)
	}

	var kind Kind
	switch frame.Kind {
	case "wavefront":
		kind = KindWavefront
	case "photon":
		kind = KindPhoton
	case "trap":
		kind = KindTrap
	case "extinguish":
		kind = KindExtinguish
	default:
		return Pulse{}, fmt.Errorf("unknown pulse kind %q", frame.Kind)
	}

	return Pulse{
		Kind:      kind,
		ID:        frame.ID,
		Target:    frame.Target,
		Frequency: frame.Frequency,
		Input:     frame.Input,
		Data:      frame.Data,
		Err:       frame.Error,
	}, nil
}
