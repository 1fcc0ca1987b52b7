package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Control envelopes are JSON text frames; capture audio travels as raw
// binary frames and never passes through these types.

// clientMessage is an outbound control envelope.
type clientMessage struct {
	// Type is one of session_start, mute, unmute, interrupt, ping.
	Type string `json:"type"`

	SessionID      string `json:"session_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	SampleRate     int    `json:"sample_rate,omitempty"`
	Channels       int    `json:"channels,omitempty"`
	FrameSamples   int    `json:"frame_samples,omitempty"`
}

// serverMessage is an inbound envelope. Which fields are meaningful depends
// on Type.
type serverMessage struct {
	// Type is one of connected, session_started, audio_received,
	// partial_transcript, final_transcript, audio_chunk, status, error, pong.
	Type string `json:"type"`

	SessionID  string  `json:"session_id,omitempty"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Seq        uint64  `json:"seq,omitempty"`
	Audio      string  `json:"audio,omitempty"` // base64 payload for audio_chunk
	Status     string  `json:"status,omitempty"`
	Code       string  `json:"code,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// serverMessageSchema constrains inbound envelopes when strict protocol
// checking is on. Unknown extra fields are allowed; a missing or unknown
// type, or a mistyped known field, is a violation.
const serverMessageSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "enum": [
        "connected",
        "session_started",
        "audio_received",
        "partial_transcript",
        "final_transcript",
        "audio_chunk",
        "status",
        "error",
        "pong"
      ]
    },
    "session_id": {"type": "string"},
    "text": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "seq": {"type": "integer", "minimum": 0},
    "audio": {"type": "string"},
    "status": {"type": "string"},
    "code": {"type": "string"},
    "message": {"type": "string"}
  }
}`

var compiledSchema = jsonschema.MustCompileString("server_message.json", serverMessageSchema)

// parseServerMessage decodes one inbound envelope, optionally enforcing the
// protocol schema first.
func parseServerMessage(raw []byte, strict bool) (serverMessage, error) {
	if strict {
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return serverMessage{}, fmt.Errorf("streaming: malformed envelope: %w", err)
		}
		if err := compiledSchema.Validate(generic); err != nil {
			return serverMessage{}, fmt.Errorf("streaming: envelope failed schema: %w", err)
		}
	}
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return serverMessage{}, fmt.Errorf("streaming: malformed envelope: %w", err)
	}
	if msg.Type == "" {
		return serverMessage{}, fmt.Errorf("streaming: envelope missing type")
	}
	return msg, nil
}
