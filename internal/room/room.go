// Package room defines the named interface to the media-server room the
// orchestrator binds to: candidate audio in, reviewer audio out, the client
// data channel, and participant lifecycle events.
//
// The media server itself is an external collaborator; this package only
// carries its contract and the metadata/data-message wire formats. The mock
// subpackage provides a scriptable implementation for tests.
package room

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaizen403/vivavoce/pkg/types"
)

// AgentTypeProjectReview is the metadata agentType this orchestrator serves.
const AgentTypeProjectReview = "project-review"

// Metadata is the job payload the agent runner passes when spawning an
// orchestrator. Unknown fields are ignored.
type Metadata struct {
	AgentType          string `json:"agentType"`
	SessionID          string `json:"sessionId"`
	RoomName           string `json:"roomName"`
	CandidateName      string `json:"candidateName"`
	ProjectTitle       string `json:"projectTitle"`
	ProjectDescription string `json:"projectDescription"`
	PPTURL             string `json:"pptUrl"`
	PPTContent         string `json:"pptContent"`
}

// ParseMetadata decodes the room metadata JSON. It fails on malformed JSON or
// a missing session id; extra fields are ignored.
func ParseMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("room: parse metadata: %w", err)
	}
	if m.SessionID == "" {
		return Metadata{}, fmt.Errorf("room: metadata missing sessionId")
	}
	return m, nil
}

// Data-channel message types recognised by the orchestrator.
const (
	// MsgPPTUploaded notifies that the candidate uploaded their presentation.
	MsgPPTUploaded = "ppt_uploaded"

	// MsgFileUpload is an alias some clients send for the same notification.
	MsgFileUpload = "file_upload"
)

// DataMessage is one out-of-band message received on the room data channel.
type DataMessage struct {
	Type string          `json:"type"`
	Data DataMessageBody `json:"data"`
}

// DataMessageBody is the payload of upload notifications.
type DataMessageBody struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
}

// IsUpload reports whether the message is an upload notification.
func (m DataMessage) IsUpload() bool {
	return m.Type == MsgPPTUploaded || m.Type == MsgFileUpload
}

// EventType enumerates room lifecycle events.
type EventType int

const (
	// ParticipantJoined indicates a participant entered the room.
	ParticipantJoined EventType = iota

	// ParticipantLeft indicates a participant left the room.
	ParticipantLeft

	// Disconnected indicates the room connection ended.
	Disconnected
)

// Event is one room lifecycle notification.
type Event struct {
	Type EventType

	// ParticipantID is set for join/leave events.
	ParticipantID string

	// Reason is set for disconnection events.
	Reason string
}

// Room is the abstraction over one live media-server room.
//
// Implementations must be safe for concurrent use. All channels are closed
// when the room ends.
type Room interface {
	// AudioInput returns the candidate's audio frames. The channel is closed
	// when the room disconnects.
	AudioInput() <-chan types.AudioFrame

	// WriteAudio plays a chunk of reviewer PCM audio into the room.
	WriteAudio(ctx context.Context, chunk []byte) error

	// DataMessages returns the client data-channel stream.
	DataMessages() <-chan DataMessage

	// Events returns the room lifecycle event stream.
	Events() <-chan Event

	// Close detaches from the room and releases resources. Safe to call more
	// than once.
	Close() error
}
