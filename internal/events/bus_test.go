package events

import "testing"

// TestBusSince verifies incremental event reads by sequence.
func TestBusSince(t *testing.T) {
	bus := NewBus(3)
	bus.Publish(Event{Type: TypeModelsStatus})
	bus.Publish(Event{Type: TypeModelsDownloadProgress})
	bus.Publish(Event{Type: TypeModelsDownloadDone})

	got := bus.Since(1)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %+v", got)
	}
	if got[1].Type != TypeModelsDownloadDone {
		t.Fatalf("type = %q", got[1].Type)
	}
}

// TestBusCapsHistory verifies buffer limit trimming behavior.
func TestBusCapsHistory(t *testing.T) {
	bus := NewBus(2)
	bus.Publish(Event{Type: TypeDictationPartial})
	bus.Publish(Event{Type: TypeDictationFinal})
	bus.Publish(Event{Type: TypeDictationDone})

	got := bus.Since(0)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Type != TypeDictationFinal || got[1].Type != TypeDictationDone {
		t.Fatalf("unexpected events: %+v", got)
	}
}

// TestBusPayloadPreserved checks payload passthrough on publish.
func TestBusPayloadPreserved(t *testing.T) {
	bus := NewBus(10)
	published := bus.Publish(Event{
		Type:    TypeDictationError,
		Payload: map[string]any{"dictationId": "d1", "code": "invalid_state"},
	})

	if published.Payload["code"] != "invalid_state" {
		t.Fatalf("payload = %+v", published.Payload)
	}
	if published.Timestamp.IsZero() {
		t.Fatal("expected assigned timestamp")
	}
}
