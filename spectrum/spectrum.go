// Package spectrum loads and represents per-capability-unit manifests.
package spectrum

import (
	"fmt"
	"strings"

	"github.com/prismrt/prism/fault"
)

// Wavelength describes one named operation a capability unit exposes.
type Wavelength struct {
	// Frequency is the operation name
	Frequency string `json:"frequency"`

	// Description is a human-readable description
	Description string `json:"description"`

	// Input is the operation's input schema
	Input map[string]interface{} `json:"input"`

	// Output is the operation's output schema
	Output map[string]interface{} `json:"output"`

	// Display is an optional rendering hint for front ends
	Display string `json:"display,omitempty"`
}

// Refraction describes one declared dependency on another unit's operation,
// with its field-mapping rules. Both maps are destination-path to
// source-path pairs; a source path suffixed with '?' marks an optional
// field.
type Refraction struct {
	// Name is the dependency's local name within this unit
	Name string `json:"name"`

	// Target is the depended-on unit id ("namespace:name")
	Target string `json:"target"`

	// Frequency is the operation invoked on the target
	Frequency string `json:"frequency"`

	// Transpose maps the caller's payload into the target's input
	Transpose map[string]string `json:"transpose"`

	// Reflection maps the target's output back into the caller's schema
	Reflection map[string]string `json:"reflection"`
}

// Spectrum is the immutable descriptor loaded from a unit's manifest.
type Spectrum struct {
	Namespace   string       `json:"namespace"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Tags        []string     `json:"tags"`
	Wavelengths []Wavelength `json:"wavelengths"`
	Refractions []Refraction `json:"refractions"`
}

// ID returns the unit identity, "namespace:name".
func (s *Spectrum) ID() string {
	return s.Namespace + ":" + s.Name
}

// FindWavelength looks up an operation by name.
func (s *Spectrum) FindWavelength(frequency string) (*Wavelength, error) {
	for i := range s.Wavelengths {
		if s.Wavelengths[i].Frequency == frequency {
			return &s.Wavelengths[i], nil
		}
	}
	return nil, fault.Newf(fault.KindOperationNotFound,
		"unit %s has no wavelength %q", s.ID(), frequency)
}

// FindRefraction looks up a declared dependency by its local name.
func (s *Spectrum) FindRefraction(name string) (*Refraction, error) {
	for i := range s.Refractions {
		if s.Refractions[i].Name == name {
			return &s.Refractions[i], nil
		}
	}
	return nil, fault.Newf(fault.KindOperationNotFound,
		"unit %s has no refraction %q", s.ID(), name)
}

// validate checks that a loaded manifest is complete enough to use.
func (s *Spectrum) validate() error {
	if s.Namespace == "" || s.Name == "" {
		return fault.New(fault.KindManifestMalformed, "manifest is missing namespace or name")
	}
	for i, wl := range s.Wavelengths {
		if wl.Frequency == "" {
			return fault.Newf(fault.KindManifestMalformed,
				"unit %s: wavelength %d has no frequency", s.ID(), i)
		}
	}
	for i, ref := range s.Refractions {
		if ref.Name == "" || ref.Target == "" || ref.Frequency == "" {
			return fault.Newf(fault.KindManifestMalformed,
				"unit %s: refraction %d is missing name, target, or frequency", s.ID(), i)
		}
		if _, _, err := SplitUnitID(ref.Target); err != nil {
			return fault.Newf(fault.KindManifestMalformed,
				"unit %s: refraction %q has invalid target %q", s.ID(), ref.Name, ref.Target)
		}
	}
	return nil
}

// SplitUnitID splits a "namespace:name" unit id into its parts.
func SplitUnitID(unitID string) (namespace, name string, err error) {
	parts := strings.SplitN(unitID, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid capability-unit id %q (want namespace:name)", unitID)
	}
	return parts[0], parts[1], nil
}
