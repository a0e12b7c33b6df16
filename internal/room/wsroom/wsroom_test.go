package wsroom

import (
	"encoding/json"
	"testing"

	"github.com/kaizen403/vivavoce/internal/room"
)

func TestParseDataMessage(t *testing.T) {
	raw := json.RawMessage(`{"type":"ppt_uploaded","data":{"fileUrl":"https://files.example/deck.pptx","fileName":"deck.pptx"}}`)
	msg, ok := parseDataMessage(raw)
	if !ok {
		t.Fatal("parseDataMessage returned ok=false")
	}
	if !msg.IsUpload() {
		t.Error("expected upload message")
	}
	if msg.Data.FileURL != "https://files.example/deck.pptx" || msg.Data.FileName != "deck.pptx" {
		t.Errorf("payload = %+v", msg.Data)
	}
}

func TestParseDataMessage_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"invalid json", "{nope"},
		{"missing type", `{"data":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := parseDataMessage(json.RawMessage(tt.raw)); ok {
				t.Error("expected rejection")
			}
		})
	}
}

func TestHandleText_Routing(t *testing.T) {
	r := &Room{
		data:   make(chan room.DataMessage, 4),
		events: make(chan room.Event, 4),
		done:   make(chan struct{}),
	}

	r.handleText([]byte(`{"kind":"data","data":{"type":"file_upload","data":{"fileUrl":"u","fileName":"f"}}}`))
	select {
	case msg := <-r.data:
		if msg.Type != room.MsgFileUpload {
			t.Errorf("type = %q", msg.Type)
		}
	default:
		t.Fatal("data message not delivered")
	}

	r.handleText([]byte(`{"kind":"participant","participant":"cand-1","joined":true}`))
	select {
	case ev := <-r.events:
		if ev.Type != room.ParticipantJoined || ev.ParticipantID != "cand-1" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("join event not delivered")
	}

	r.handleText([]byte(`{"kind":"bye","reason":"room ended"}`))
	select {
	case ev := <-r.events:
		if ev.Type != room.Disconnected || ev.Reason != "room ended" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("bye event not delivered")
	}

	// Unknown kinds and malformed envelopes are dropped silently.
	r.handleText([]byte(`{"kind":"telemetry"}`))
	r.handleText([]byte(`{nope`))
	select {
	case ev := <-r.events:
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestDial_EmptyURL(t *testing.T) {
	if _, err := Dial(t.Context(), ""); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
