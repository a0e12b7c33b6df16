// Package wsroom implements room.Room over the media bridge's WebSocket
// protocol: binary messages carry 16 kHz mono PCM in both directions, text
// messages carry JSON envelopes for data-channel payloads and participant
// events.
package wsroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/kaizen403/vivavoce/internal/room"
	"github.com/kaizen403/vivavoce/pkg/types"
)

const defaultSampleRate = 16000

// envelope is the JSON wrapper on text messages from the bridge.
type envelope struct {
	// Kind is "data" for client data-channel messages, "participant" for
	// join/leave, "bye" for disconnection.
	Kind string `json:"kind"`

	// Data carries the client payload when Kind is "data".
	Data json.RawMessage `json:"data,omitempty"`

	// Participant and Joined describe membership changes.
	Participant string `json:"participant,omitempty"`
	Joined      bool   `json:"joined,omitempty"`

	// Reason is set on "bye".
	Reason string `json:"reason,omitempty"`
}

// Room is a room.Room bound to one media-bridge WebSocket connection.
type Room struct {
	conn *websocket.Conn

	audio  chan types.AudioFrame
	data   chan room.DataMessage
	events chan room.Event

	sampleRate int

	once   sync.Once
	done   chan struct{}
	readWG sync.WaitGroup
}

// Compile-time check that *Room satisfies room.Room.
var _ room.Room = (*Room)(nil)

// Option configures a Room during Dial.
type Option func(*Room)

// WithSampleRate sets the PCM sample rate stamped on inbound frames.
// Default 16000.
func WithSampleRate(rate int) Option {
	return func(r *Room) { r.sampleRate = rate }
}

// Dial connects to the media bridge at wsURL and starts the read loop.
func Dial(ctx context.Context, wsURL string, opts ...Option) (*Room, error) {
	if wsURL == "" {
		return nil, errors.New("wsroom: wsURL must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("wsroom: dial: %w", err)
	}
	// Audio frames arrive continuously; lift the default read cap.
	conn.SetReadLimit(1 << 20)

	r := &Room{
		conn:       conn,
		audio:      make(chan types.AudioFrame, 256),
		data:       make(chan room.DataMessage, 16),
		events:     make(chan room.Event, 16),
		sampleRate: defaultSampleRate,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}

	r.readWG.Add(1)
	go r.readLoop(ctx)
	return r, nil
}

// AudioInput implements room.Room.
func (r *Room) AudioInput() <-chan types.AudioFrame { return r.audio }

// WriteAudio implements room.Room.
func (r *Room) WriteAudio(ctx context.Context, chunk []byte) error {
	select {
	case <-r.done:
		return errors.New("wsroom: room is closed")
	default:
	}
	if err := r.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		return fmt.Errorf("wsroom: write audio: %w", err)
	}
	return nil
}

// DataMessages implements room.Room.
func (r *Room) DataMessages() <-chan room.DataMessage { return r.data }

// Events implements room.Room.
func (r *Room) Events() <-chan room.Event { return r.events }

// Close implements room.Room.
func (r *Room) Close() error {
	r.once.Do(func() {
		close(r.done)
		r.conn.Close(websocket.StatusNormalClosure, "session ended")
		r.readWG.Wait()
		close(r.audio)
		close(r.data)
		close(r.events)
	})
	return nil
}

// readLoop demultiplexes bridge messages into the audio, data, and event
// channels until the connection ends.
func (r *Room) readLoop(ctx context.Context) {
	defer r.readWG.Done()

	start := time.Now()
	for {
		typ, payload, err := r.conn.Read(ctx)
		if err != nil {
			r.deliverEvent(room.Event{Type: room.Disconnected, Reason: closeReason(err)})
			return
		}

		switch typ {
		case websocket.MessageBinary:
			frame := types.AudioFrame{
				Data:       payload,
				SampleRate: r.sampleRate,
				Channels:   1,
				Timestamp:  time.Since(start),
			}
			select {
			case r.audio <- frame:
			case <-r.done:
				return
			default:
				// Drop the frame rather than stall the bridge when the
				// consumer falls behind.
			}

		case websocket.MessageText:
			r.handleText(payload)
		}
	}
}

// handleText routes one JSON envelope.
func (r *Room) handleText(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}

	switch env.Kind {
	case "data":
		msg, ok := parseDataMessage(env.Data)
		if !ok {
			return
		}
		select {
		case r.data <- msg:
		case <-r.done:
		}

	case "participant":
		ev := room.Event{Type: room.ParticipantLeft, ParticipantID: env.Participant}
		if env.Joined {
			ev.Type = room.ParticipantJoined
		}
		r.deliverEvent(ev)

	case "bye":
		r.deliverEvent(room.Event{Type: room.Disconnected, Reason: env.Reason})
	}
}

// deliverEvent forwards ev unless the room is closed.
func (r *Room) deliverEvent(ev room.Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// parseDataMessage decodes a client data-channel payload.
func parseDataMessage(raw json.RawMessage) (room.DataMessage, bool) {
	if len(raw) == 0 {
		return room.DataMessage{}, false
	}
	var msg room.DataMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return room.DataMessage{}, false
	}
	if msg.Type == "" {
		return room.DataMessage{}, false
	}
	return msg, true
}

// closeReason extracts a human-readable reason from a read error.
func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) && ce.Reason != "" {
		return ce.Reason
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "connection closed"
}
