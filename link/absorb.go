package link

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prismrt/prism/fault"
	"github.com/prismrt/prism/pulse"
	"github.com/prismrt/prism/transport"
)

// ErrNoData is returned by Absorb when a success trap arrives before any
// photon.
var ErrNoData = fault.New(fault.KindExecution, "no data received")

// absorbPollInterval is the backoff between empty receives while waiting
// for the next pulse.
const absorbPollInterval = time.Millisecond

// Absorb drains one response stream from the link: it buffers photon
// payloads until the trap arrives, then merges them into the caller's
// expected type.
//
// An error trap yields that fault. A success trap yields ErrNoData for zero
// photons, the single payload for one, or a JSON array of all payloads for
// more. Timeouts are the caller's responsibility via ctx.
func Absorb[T any](ctx context.Context, l *Link) (T, error) {
	var zero T
	var photons []json.RawMessage

	for {
		p, ok, err := l.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return zero, fault.New(fault.KindTransport, "link closed before trap")
			}
			return zero, fault.From(err)
		}

		if !ok {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(absorbPollInterval):
			}
			continue
		}

		switch p.Kind {
		case pulse.KindPhoton:
			photons = append(photons, p.Data)

		case pulse.KindTrap:
			if p.Err != nil {
				return zero, p.Err
			}
			return mergePhotons[T](photons)

		case pulse.KindExtinguish:
			return zero, fault.New(fault.KindTransport, "link extinguished before trap")

		default:
			// Wavefronts are not part of a response stream; skip.
		}
	}
}

// mergePhotons merges zero, one, or many photon payloads into T.
func mergePhotons[T any](photons []json.RawMessage) (T, error) {
	var zero T

	switch len(photons) {
	case 0:
		return zero, ErrNoData

	case 1:
		var value T
		if err := json.Unmarshal(photons[0], &value); err != nil {
			return zero, fault.Newf(fault.KindInvalidInput, "cannot decode response: %v", err)
		}
		return value, nil

	default:
		merged, err := json.Marshal(photons)
		if err != nil {
			return zero, fault.Newf(fault.KindInvalidInput, "cannot merge response: %v", err)
		}
		var value T
		if err := json.Unmarshal(merged, &value); err != nil {
			return zero, fault.Newf(fault.KindInvalidInput, "cannot decode response: %v", err)
		}
		return value, nil
	}
}
