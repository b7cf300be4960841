package pulse

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/prismrt/prism/fault"
)

func TestCodecRoundTrip(t *testing.T) {
	pulses := []Pulse{
		NewWavefront("w-1", "cloud:storage", "put", json.RawMessage(`{"key":"a","value":5}`)),
		NewPhoton("w-1", json.RawMessage(`{"ok":true}`)),
		NewTrap("w-1", nil),
		NewTrap("w-1", fault.New(fault.KindExecution, "disk full")),
		NewExtinguish(),
	}

	for _, original := range pulses {
		data, err := Encode(original)
		if err != nil {
			t.Fatalf("Failed to encode %s pulse: %v", original.Kind, err)
		}

		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("Failed to decode %s pulse: %v", original.Kind, err)
		}

		if !reflect.DeepEqual(decoded, original) {
			t.Errorf("Round trip mismatch for %s:\n  sent %+v\n  got  %+v",
				original.Kind, original, decoded)
		}
	}
}

func TestCodecIdempotent(t *testing.T) {
	// Encoding a decoded frame must reproduce the same bytes, so the
	// network bridge can relay frames transparently.
	p := NewPhoton("w-2", json.RawMessage(`{"chunk":1}`))

	first, err := Encode(p)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	decoded, err := Decode(first)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	second, err := Encode(decoded)
	if err != nil {
		t.Fatalf("Failed to re-encode: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("Re-encoded frame differs:\n  %s\n  %s", first, second)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"meteor","id":"x"}`))
	if err == nil {
		t.Fatal("Expected error for unknown pulse kind")
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	if err == nil {
		t.Fatal("Expected error for malformed frame")
	}
}

func TestEncodeInvalidKind(t *testing.T) {
	_, err := Encode(Pulse{Kind: Kind(99)})
	if err == nil {
		t.Fatal("Expected error for invalid pulse kind")
	}
}
