// Package protocol implements the framed request/response/event wire codec.
//
// Three frame variants are discriminated by the top-level "type" tag:
// "req", "res", and "event". Parsing is strict: unknown top-level keys,
// empty required strings, non-object params, and negative sequence numbers
// are all rejected.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type tags on the wire.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// FallbackRequestID is echoed in error responses when the incoming message
// is so malformed that no client-supplied id can be recovered.
const FallbackRequestID = "invalid"

// ErrInvalidFrame indicates a message that does not decode to any frame variant.
var ErrInvalidFrame = errors.New("invalid gateway frame")

// ErrorShape is the structured error carried by failed responses.
type ErrorShape struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	Retryable    *bool  `json:"retryable,omitempty"`
	RetryAfterMs *int64 `json:"retryAfterMs,omitempty"`
}

// RequestFrame is a client-initiated method call.
type RequestFrame struct {
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// ResponseFrame correlates to a request by id. Exactly one response is
// emitted per request; ok selects between payload and error.
type ResponseFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload any         `json:"payload,omitempty"`
	Error   *ErrorShape `json:"error,omitempty"`
}

// EventFrame is server-initiated and not correlated to a request id at the
// frame level; handlers that need correlation put a requestId in the payload.
type EventFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	Seq     *int64 `json:"seq,omitempty"`
}

// Frame is the closed union of the three wire variants.
type Frame interface {
	frameType() string
}

func (f *RequestFrame) frameType() string  { return TypeRequest }
func (f *ResponseFrame) frameType() string { return TypeResponse }
func (f *EventFrame) frameType() string    { return TypeEvent }

// ParseFrame decodes a raw message into one of the three frame variants.
// The returned error wraps ErrInvalidFrame for any validation failure.
func ParseFrame(data []byte) (Frame, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrInvalidFrame, err)
	}

	switch tag.Type {
	case TypeRequest:
		var frame RequestFrame
		if err := strictUnmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		if frame.ID == "" {
			return nil, fmt.Errorf("%w: request id must be non-empty", ErrInvalidFrame)
		}
		if frame.Method == "" {
			return nil, fmt.Errorf("%w: request method must be non-empty", ErrInvalidFrame)
		}
		if frame.Params == nil {
			frame.Params = map[string]any{}
		}
		return &frame, nil

	case TypeResponse:
		var frame ResponseFrame
		if err := strictUnmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		if frame.ID == "" {
			return nil, fmt.Errorf("%w: response id must be non-empty", ErrInvalidFrame)
		}
		if frame.Error != nil {
			if frame.Error.Code == "" || frame.Error.Message == "" {
				return nil, fmt.Errorf("%w: error code and message must be non-empty", ErrInvalidFrame)
			}
			if frame.Error.RetryAfterMs != nil && *frame.Error.RetryAfterMs < 0 {
				return nil, fmt.Errorf("%w: retryAfterMs must not be negative", ErrInvalidFrame)
			}
		}
		return &frame, nil

	case TypeEvent:
		var frame EventFrame
		if err := strictUnmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		if frame.Event == "" {
			return nil, fmt.Errorf("%w: event name must be non-empty", ErrInvalidFrame)
		}
		if frame.Seq != nil && *frame.Seq < 0 {
			return nil, fmt.Errorf("%w: seq must not be negative", ErrInvalidFrame)
		}
		return &frame, nil

	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", ErrInvalidFrame, tag.Type)
	}
}

// ExtractRequestID best-effort recovers the client-supplied id from a raw
// message so error responses can echo it. Returns FallbackRequestID when the
// message is not a JSON object or carries no usable id.
func ExtractRequestID(data []byte) string {
	var probe struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return FallbackRequestID
	}
	switch id := probe.ID.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return fmt.Sprintf("%v", id)
	}
	return FallbackRequestID
}

// NewOKResponse builds a successful response frame.
func NewOKResponse(requestID string, payload any) *ResponseFrame {
	return &ResponseFrame{
		Type:    TypeResponse,
		ID:      requestID,
		OK:      true,
		Payload: payload,
	}
}

// NewErrorResponse builds a failed response frame. details may be nil.
func NewErrorResponse(requestID, code, message string, details any) *ResponseFrame {
	return &ResponseFrame{
		Type: TypeResponse,
		ID:   requestID,
		OK:   false,
		Error: &ErrorShape{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// NewEvent builds an event frame.
func NewEvent(event string, payload any) *EventFrame {
	return &EventFrame{
		Type:    TypeEvent,
		Event:   event,
		Payload: payload,
	}
}

// strictUnmarshal decodes JSON rejecting unknown fields and trailing data.
func strictUnmarshal(data []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return err
	}
	// A frame is exactly one JSON value.
	if dec.More() {
		return errors.New("trailing data after frame")
	}
	return nil
}
