package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrUnauthorized means the server rejected the credential at handshake.
	ErrUnauthorized = errors.New("realtime: credential rejected")
	// ErrNotConnected is returned by Emit when there is no live connection.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrReconnectExhausted is the terminal error once every automatic
	// reconnection attempt failed.
	ErrReconnectExhausted = errors.New("realtime: reconnection attempts exhausted")
)

// Conn is the live transport. It mirrors the subset of *websocket.Conn the
// manager needs.
type Conn interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// Dialer opens a transport carrying the credential in its handshake.
type Dialer interface {
	Dial(ctx context.Context, url string, credential string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket and sends the credential as a
// bearer token.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string, credential string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}
