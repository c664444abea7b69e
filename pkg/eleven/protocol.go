package eleven

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message types exchanged with the conversational-AI websocket.
const (
	TypeInitMetadata   = "conversation_initiation_metadata"
	TypeAudio          = "audio"
	TypeInterruption   = "interruption"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeUserTranscript = "user_transcript"
	TypeAgentResponse  = "agent_response"
	TypeInitClientData = "conversation_initiation_client_data"
	TypeInstruction    = "instruction"
)

// Speaker roles attached to transcript events.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Event is the decoded union of inbound AI-leg messages.
type Event struct {
	Type string

	// conversation_initiation_metadata
	ConversationID string
	AudioFormat    string

	// audio (either payload shape normalizes into AudioB64)
	AudioB64 string
	EventID  int64

	// transcript
	Role string
	Text string
}

type initMetadataEvent struct {
	ConversationID string `json:"conversation_id"`
	AudioFormat    string `json:"agent_output_audio_format"`
}

type audioEvent struct {
	AudioB64 string `json:"audio_base_64"`
	EventID  int64  `json:"event_id"`
}

type audioChunk struct {
	Chunk string `json:"chunk"`
}

type pingEvent struct {
	EventID int64 `json:"event_id"`
}

type userTranscriptEvent struct {
	Text string `json:"user_transcript"`
}

type agentResponseEvent struct {
	Text string `json:"agent_response"`
}

type inboundEnvelope struct {
	Type string `json:"type"`

	InitMetadata   *initMetadataEvent   `json:"conversation_initiation_metadata_event,omitempty"`
	AudioEvent     *audioEvent          `json:"audio_event,omitempty"`
	Audio          *audioChunk          `json:"audio,omitempty"`
	PingEvent      *pingEvent           `json:"ping_event,omitempty"`
	UserTranscript *userTranscriptEvent `json:"user_transcription_event,omitempty"`
	AgentResponse  *agentResponseEvent  `json:"agent_response_event,omitempty"`
}

// Decode parses one inbound AI-leg message. Unknown types decode into an
// Event carrying only Type so the relay can skip them.
func Decode(data []byte) (Event, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("invalid ai message: %w", err)
	}
	ev := Event{Type: env.Type}
	switch env.Type {
	case TypeInitMetadata:
		if env.InitMetadata != nil {
			ev.ConversationID = env.InitMetadata.ConversationID
			ev.AudioFormat = env.InitMetadata.AudioFormat
		}
	case TypeAudio:
		// Two payload shapes exist in the wild; normalize both.
		switch {
		case env.AudioEvent != nil && env.AudioEvent.AudioB64 != "":
			ev.AudioB64 = env.AudioEvent.AudioB64
			ev.EventID = env.AudioEvent.EventID
		case env.Audio != nil && env.Audio.Chunk != "":
			ev.AudioB64 = env.Audio.Chunk
		}
	case TypePing:
		if env.PingEvent == nil {
			return Event{}, fmt.Errorf("ping message missing ping_event")
		}
		ev.EventID = env.PingEvent.EventID
	case TypeUserTranscript:
		ev.Role = RoleUser
		if env.UserTranscript != nil {
			ev.Text = strings.TrimSpace(env.UserTranscript.Text)
		}
	case TypeAgentResponse:
		ev.Role = RoleAgent
		if env.AgentResponse != nil {
			ev.Text = strings.TrimSpace(env.AgentResponse.Text)
		}
	case TypeInterruption:
	case "":
		return Event{}, fmt.Errorf("ai message missing type")
	}
	return ev, nil
}

// InitConfig carries the one-shot session configuration sent after connect.
type InitConfig struct {
	Prompt       string
	FirstMessage string
}

type promptOverride struct {
	Prompt string `json:"prompt"`
}

type agentOverride struct {
	Prompt       *promptOverride `json:"prompt,omitempty"`
	FirstMessage string          `json:"first_message,omitempty"`
}

type configOverride struct {
	Agent agentOverride `json:"agent"`
}

type initClientData struct {
	Type     string         `json:"type"`
	Override configOverride `json:"conversation_config_override"`
}

// EncodeInit builds the initial configuration message, sent once per session.
func EncodeInit(cfg InitConfig) ([]byte, error) {
	msg := initClientData{Type: TypeInitClientData}
	if cfg.Prompt != "" {
		msg.Override.Agent.Prompt = &promptOverride{Prompt: cfg.Prompt}
	}
	msg.Override.Agent.FirstMessage = cfg.FirstMessage
	return json.Marshal(msg)
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
}

// EncodePong echoes a ping's event id.
func EncodePong(eventID int64) ([]byte, error) {
	return json.Marshal(pongMessage{Type: TypePong, EventID: eventID})
}

type userAudioMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

func encodeUserAudio(payloadB64 string) ([]byte, error) {
	if payloadB64 == "" {
		return nil, fmt.Errorf("audio payload is required")
	}
	return json.Marshal(userAudioMessage{UserAudioChunk: payloadB64})
}

type instructionMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// EncodeInstruction builds a free-text directive for the live agent.
func EncodeInstruction(text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("instruction text is required")
	}
	return json.Marshal(instructionMessage{Type: TypeInstruction, Text: text})
}
