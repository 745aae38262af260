package core

import (
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/dkeye/callstream/internal/domain"
)

type Event string

const (
	EventStart   Event = "start"
	EventMedia   Event = "media"
	EventStop    Event = "stop"
	EventUnknown Event = "unknown"
)

func (e Event) String() string { return string(e) }

// MediaPayload carries base64 encoded audio.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// StartPayload is the nested start object carriers put on start events.
type StartPayload struct {
	StreamSID  domain.StreamID  `json:"stream_sid,omitempty"`
	AccountSID domain.AccountID `json:"account_sid,omitempty"`
	CallSID    domain.CallID    `json:"call_sid,omitempty"`
}

// Frame is one message on the streaming connection.
type Frame struct {
	Event          Event            `json:"event"`
	StreamSID      domain.StreamID  `json:"stream_sid,omitempty"`
	AccountSID     domain.AccountID `json:"account_sid,omitempty"`
	CallSID        domain.CallID    `json:"call_sid,omitempty"`
	SequenceNumber string           `json:"sequence_number,omitempty"`
	Start          *StartPayload    `json:"start,omitempty"`
	Media          *MediaPayload    `json:"media,omitempty"`

	// RawEvent keeps the tag as received when Event is EventUnknown.
	RawEvent string `json:"-"`
}

// Decode parses one inbound message. Unknown event tags are not an error;
// they come back as EventUnknown.
func Decode(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &DecodeError{Err: err}
	}

	switch f.Event {
	case EventStart, EventMedia, EventStop:
	default:
		f.RawEvent = string(f.Event)
		f.Event = EventUnknown
	}

	// flat fields win over the nested start object
	if s := f.Start; s != nil {
		if f.StreamSID == "" {
			f.StreamSID = s.StreamSID
		}
		if f.AccountSID == "" {
			f.AccountSID = s.AccountSID
		}
		if f.CallSID == "" {
			f.CallSID = s.CallSID
		}
	}
	return &f, nil
}

// Encode serializes a frame for the wire.
func Encode(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("encode frame: nil frame")
	}
	return json.Marshal(f)
}

// NewMediaFrame builds an outbound media frame for one audio chunk.
func NewMediaFrame(streamID domain.StreamID, seq uint64, chunk []byte) *Frame {
	return &Frame{
		Event:          EventMedia,
		StreamSID:      streamID,
		SequenceNumber: fmt.Sprintf("%d", seq),
		Media:          &MediaPayload{Payload: base64.StdEncoding.EncodeToString(chunk)},
	}
}

// Audio returns the decoded media payload.
func (f *Frame) Audio() ([]byte, error) {
	if f.Media == nil {
		return nil, fmt.Errorf("media frame without payload")
	}
	b, err := base64.StdEncoding.DecodeString(f.Media.Payload)
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("media payload: %w", err)}
	}
	return b, nil
}

// Tag is the event tag as received, for logging.
func (f *Frame) Tag() string {
	if f.Event == EventUnknown && f.RawEvent != "" {
		return f.RawEvent
	}
	return string(f.Event)
}
