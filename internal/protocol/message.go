package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind names one event of the client/server protocol.
type Kind string

// Server to client.
const (
	KindScreenInfo      Kind = "screen_info"
	KindSegment         Kind = "segment"
	KindFrame           Kind = "frame"
	KindReadInputEvents Kind = "read_input_events"
	KindError           Kind = "error"
)

// Client to server.
const (
	KindSelectScreen Kind = "select_screen"
	KindInputCredit  Kind = "input_credit"
	KindInputEvents  Kind = "input_events"
	KindRequestFrame Kind = "request_frame"
)

// MaxMessageSize is the maximum decompressed size of one message (16MB).
const MaxMessageSize = 16 * 1024 * 1024

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindScreenInfo, KindSegment, KindFrame, KindReadInputEvents, KindError,
		KindSelectScreen, KindInputCredit, KindInputEvents, KindRequestFrame:
		return true
	}
	return false
}

// FromClient reports whether k is sent by clients.
func (k Kind) FromClient() bool {
	switch k {
	case KindSelectScreen, KindInputCredit, KindInputEvents, KindRequestFrame:
		return true
	}
	return false
}

// Outbound is the wire form of an event before compression.
type Outbound struct {
	Kind Kind  `json:"kind"`
	Args []any `json:"args"`
}

// Message is a decoded event. Args stay raw until the handler knows their
// types.
type Message struct {
	Kind Kind              `json:"kind"`
	Args []json.RawMessage `json:"args"`
}

// Arg unmarshals argument i into v.
func (m Message) Arg(i int, v any) error {
	if i < 0 || i >= len(m.Args) {
		return fmt.Errorf("%w: %s needs argument %d, got %d", ErrMissingArg, m.Kind, i, len(m.Args))
	}
	if err := json.Unmarshal(m.Args[i], v); err != nil {
		return fmt.Errorf("protocol: %s argument %d: %w", m.Kind, i, err)
	}
	return nil
}

// ScreenInfo describes the screen a client is bound to.
type ScreenInfo struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Strategy string `json:"strategy"`
}

// Segment is one changed tile, in screen coordinates.
type Segment struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Data   []byte `json:"data"`
}

// Frame is a full screen image sent on request.
type Frame struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Data   []byte `json:"data"`
}

// ErrorInfo is the argument of an error event.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by ErrorInfo.
const (
	CodeBadRequest    = "bad_request"
	CodeNoScreen      = "no_screen"
	CodeUnsupported   = "unsupported"
	CodeCaptureFailed = "capture_failed"
)
