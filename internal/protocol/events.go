package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants exchanged with the panel.
type MessageType string

const (
	TypeClientControl     MessageType = "client_control"
	TypeTurnAdded         MessageType = "turn_added"
	TypeTurnUpdated       MessageType = "turn_updated"
	TypeTranscriptCleared MessageType = "transcript_cleared"
	TypeRecordingLevel    MessageType = "recording_level"
	TypeStateChanged      MessageType = "state_changed"
	TypeNotice            MessageType = "notice"
	TypeErrorEvent        MessageType = "error_event"
)

// Client control actions.
const (
	ActionStartRecording = "start_recording"
	ActionStopRecording  = "stop_recording"
	ActionClear          = "clear_transcript"
	ActionSetLanguage    = "set_language"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl is the only inbound message: the panel drives the
// conversation controller with it.
type ClientControl struct {
	Type     MessageType `json:"type"`
	Action   string      `json:"action"`
	Language string      `json:"language,omitempty"`
}

// TurnPayload mirrors one transcript turn for the panel. Audio travels as a
// data URI so the browser's media element can play it directly.
type TurnPayload struct {
	ID        string `json:"id"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	AudioURI  string `json:"audio_uri,omitempty"`
	CreatedAt string `json:"created_at"`
	Language  string `json:"language,omitempty"`
}

type TurnAdded struct {
	Type MessageType `json:"type"`
	Turn TurnPayload `json:"turn"`
}

type TurnUpdated struct {
	Type MessageType `json:"type"`
	Turn TurnPayload `json:"turn"`
}

type TranscriptCleared struct {
	Type MessageType `json:"type"`
}

// RecordingLevel republishes the capture unit's loudness estimate. Emitted
// at metering cadence; stale values are droppable.
type RecordingLevel struct {
	Type           MessageType `json:"type"`
	Level          float64     `json:"level"`
	ElapsedSeconds int         `json:"elapsed_seconds"`
}

type StateChanged struct {
	Type  MessageType `json:"type"`
	State string      `json:"state"`
}

// Notice is a transient user-facing notification (the toast channel).
type Notice struct {
	Type   MessageType `json:"type"`
	Level  string      `json:"level"`
	Title  string      `json:"title"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound panel message.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionStartRecording, ActionStopRecording, ActionClear:
		case ActionSetLanguage:
			if msg.Language == "" {
				return nil, errors.New("set_language requires a language code")
			}
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
