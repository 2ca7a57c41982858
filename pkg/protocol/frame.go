package protocol

import "encoding/json"

// ProtocolVersion is bumped whenever the wire frame shape or method set
// changes in a way clients need to detect.
const ProtocolVersion = 1

// Frame type discriminators (the "type" field of every WS message).
const (
	FrameTypeRequest  = "request"
	FrameTypeResponse = "response"
	FrameTypeEvent    = "event"
)

// RequestFrame is a client → server RPC call.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorFrame carries a structured RPC failure.
type ErrorFrame struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ResponseFrame is a server → client reply to exactly one RequestFrame, ID.
type ResponseFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload interface{} `json:"payload,omitempty"`
	Error   *ErrorFrame `json:"error,omitempty"`
}

// NewResponse builds a successful ResponseFrame for request id.
func NewResponse(id string, payload interface{}) *ResponseFrame {
	return &ResponseFrame{Type: FrameTypeResponse, ID: id, OK: true, Payload: payload}
}

// NewErrorResponse builds a failed ResponseFrame for request id.
func NewErrorResponse(id string, err error) *ResponseFrame {
	return &ResponseFrame{Type: FrameTypeResponse, ID: id, OK: false, Error: &ErrorFrame{Message: err.Error()}}
}

// EventFrame is a server → client push, unsolicited by any single request.
type EventFrame struct {
	Type    string      `json:"type"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent builds an EventFrame ready to send to a client.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: name, Payload: payload}
}

// frameTypeProbe is used only to sniff the "type" field off a raw frame
// without fully decoding it into one of the concrete frame structs.
type frameTypeProbe struct {
	Type string `json:"type"`
}

// ParseFrameType reads just the "type" discriminator from a raw WS message.
func ParseFrameType(raw []byte) (string, error) {
	var p frameTypeProbe
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", err
	}
	return p.Type, nil
}
