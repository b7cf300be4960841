package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prismrt/prism/pulse"
)

func TestPairSendReceive(t *testing.T) {
	a, b := NewPair()

	sent := pulse.NewWavefront("id-1", "test:echo", "echo", json.RawMessage(`{"v":1}`))
	if err := a.Send(sent); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	got, ok, err := b.Receive()
	if err != nil {
		t.Fatalf("Failed to receive: %v", err)
	}
	if !ok {
		t.Fatal("Expected a queued pulse")
	}
	if got.ID != "id-1" || got.Kind != pulse.KindWavefront {
		t.Errorf("Received wrong pulse: %+v", got)
	}
}

func TestReceiveEmpty(t *testing.T) {
	a, _ := NewPair()

	_, ok, err := a.Receive()
	if err != nil {
		t.Fatalf("Empty receive should not error: %v", err)
	}
	if ok {
		t.Error("Expected no pulse on a fresh pair")
	}
}

func TestOrderingPreserved(t *testing.T) {
	a, b := NewPair()

	for i := 0; i < 10; i++ {
		data := json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i))
		if err := a.Send(pulse.NewPhoton("id-1", data)); err != nil {
			t.Fatalf("Failed to send photon %d: %v", i, err)
		}
	}

	for i := 0; i < 10; i++ {
		p, ok, err := b.Receive()
		if err != nil || !ok {
			t.Fatalf("Expected photon %d, got ok=%v err=%v", i, ok, err)
		}
		expected := fmt.Sprintf(`{"seq":%d}`, i)
		if string(p.Data) != expected {
			t.Errorf("Out of order delivery: expected %s, got %s", expected, p.Data)
		}
	}
}

func TestCloseVisibleToPeer(t *testing.T) {
	a, b := NewPair()

	if err := a.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	select {
	case <-b.Done():
	default:
		t.Fatal("Peer should observe transport closure")
	}

	if err := b.Send(pulse.NewExtinguish()); err != ErrClosed {
		t.Errorf("Expected ErrClosed on send after close, got %v", err)
	}
	if _, _, err := b.Receive(); err != ErrClosed {
		t.Errorf("Expected ErrClosed on empty receive after close, got %v", err)
	}
}

func TestDrainAfterClose(t *testing.T) {
	a, b := NewPair()

	// An extinguish sent just before closing must still reach the peer.
	if err := a.Send(pulse.NewExtinguish()); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	a.Close()

	p, ok, err := b.Receive()
	if err != nil || !ok {
		t.Fatalf("Queued pulse should drain after close: ok=%v err=%v", ok, err)
	}
	if p.Kind != pulse.KindExtinguish {
		t.Errorf("Expected extinguish, got %s", p.Kind)
	}

	if _, _, err := b.Receive(); err != ErrClosed {
		t.Errorf("Expected ErrClosed once drained, got %v", err)
	}
}

func TestSendBlocksUntilDrained(t *testing.T) {
	a, b := NewPairSize(1)

	if err := a.Send(pulse.NewPhoton("id-1", nil)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// The queue is full; the next send must block until the peer drains
	// rather than drop the pulse.
	unblocked := make(chan error, 1)
	go func() {
		unblocked <- a.Send(pulse.NewPhoton("id-2", nil))
	}()

	select {
	case err := <-unblocked:
		t.Fatalf("Send on a full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, ok, err := b.Receive(); err != nil || !ok {
		t.Fatalf("Expected first photon: ok=%v err=%v", ok, err)
	}

	select {
	case err := <-unblocked:
		if err != nil {
			t.Fatalf("Blocked send should succeed once drained: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after the peer drained")
	}

	p, ok, err := b.Receive()
	if err != nil || !ok {
		t.Fatalf("Expected second photon: ok=%v err=%v", ok, err)
	}
	if p.ID != "id-2" {
		t.Errorf("Expected id-2, got %s", p.ID)
	}
}

func TestSendUnblocksOnClose(t *testing.T) {
	a, _ := NewPairSize(1)

	if err := a.Send(pulse.NewPhoton("id-1", nil)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- a.Send(pulse.NewPhoton("id-2", nil))
	}()

	time.Sleep(50 * time.Millisecond)
	a.Close()

	select {
	case err := <-unblocked:
		if err != ErrClosed {
			t.Errorf("Expected ErrClosed from blocked send, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock on close")
	}
}

func TestConcurrentSends(t *testing.T) {
	a, b := NewPairSize(1024)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("id-%d", g)
				if err := a.Send(pulse.NewPhoton(id, nil)); err != nil {
					t.Errorf("Send failed: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	count := 0
	for {
		_, ok, err := b.Receive()
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 800 {
		t.Errorf("Expected 800 pulses, got %d", count)
	}
}
