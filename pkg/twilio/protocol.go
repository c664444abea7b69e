package twilio

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Media Streams frame envelope events.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// MediaFormat describes the negotiated stream audio shape.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StreamStart carries the identifiers and caller data delivered with the
// first frame of a media stream.
type StreamStart struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type StreamStop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

// StreamConnected is the protocol banner sent once after the websocket opens.
type StreamConnected struct {
	Protocol string `json:"protocol"`
	Version  string `json:"version"`
}

// InboundFrame is the decoded union of frames Twilio sends over a stream.
type InboundFrame struct {
	Event     string
	StreamSid string
	Connected *StreamConnected
	Start     *StreamStart
	Media     *MediaPayload
	Stop      *StreamStop
	Mark      *MarkPayload
}

type inboundEnvelope struct {
	Event          string           `json:"event"`
	SequenceNumber string           `json:"sequenceNumber,omitempty"`
	StreamSid      string           `json:"streamSid,omitempty"`
	Protocol       string           `json:"protocol,omitempty"`
	Version        string           `json:"version,omitempty"`
	Start          *StreamStart     `json:"start,omitempty"`
	Media          *MediaPayload    `json:"media,omitempty"`
	Stop           *StreamStop      `json:"stop,omitempty"`
	Mark           *MarkPayload     `json:"mark,omitempty"`
}

// DecodeInbound parses one inbound media-stream frame.
func DecodeInbound(data []byte) (InboundFrame, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return InboundFrame{}, badFrame("invalid json frame", "")
	}
	frame := InboundFrame{Event: env.Event, StreamSid: env.StreamSid}
	switch env.Event {
	case EventConnected:
		frame.Connected = &StreamConnected{Protocol: env.Protocol, Version: env.Version}
	case EventStart:
		if env.Start == nil {
			return InboundFrame{}, badFrame("start frame missing start payload", "start")
		}
		if strings.TrimSpace(env.Start.CallSid) == "" {
			return InboundFrame{}, badFrame("start frame missing call sid", "start.callSid")
		}
		frame.Start = env.Start
	case EventMedia:
		if env.Media == nil || env.Media.Payload == "" {
			return InboundFrame{}, badFrame("media frame missing payload", "media.payload")
		}
		frame.Media = env.Media
	case EventStop:
		frame.Stop = env.Stop
	case EventMark:
		frame.Mark = env.Mark
	case "":
		return InboundFrame{}, badFrame("frame missing event", "event")
	default:
		// Unknown vendor chatter is tolerated; callers skip unrecognized events.
	}
	return frame, nil
}

type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     MediaPayload `json:"media"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      MarkPayload `json:"mark"`
}

// EncodeMedia builds an outbound media frame carrying base64 audio to play.
func EncodeMedia(streamSid, payloadB64 string) ([]byte, error) {
	return json.Marshal(outboundMedia{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     MediaPayload{Payload: payloadB64},
	})
}

// EncodeClear builds the control frame that flushes buffered playback audio.
func EncodeClear(streamSid string) ([]byte, error) {
	return json.Marshal(outboundClear{Event: EventClear, StreamSid: streamSid})
}

// EncodeMark builds an outbound mark frame used to track playback progress.
func EncodeMark(streamSid, name string) ([]byte, error) {
	return json.Marshal(outboundMark{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      MarkPayload{Name: name},
	})
}
