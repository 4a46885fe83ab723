package server

import "errors"

// ErrTransportClosed is returned by transports after Close.
var ErrTransportClosed = errors.New("transport closed")

// Transport carries compressed protocol messages for one client. Each
// message is one frame; framing is the transport's business. WriteMessage
// is only called from the client's writer goroutine and ReadMessage only
// from its reader goroutine.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
	Kind() string
}
