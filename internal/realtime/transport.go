package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/net/websocket"

	"tableside/internal/domain"
)

// Conn is one live connection to the notification endpoint.
type Conn interface {
	Send(v any) error
	Receive() (domain.Message, error)
	Close() error
}

// Transport opens connections. The production transport dials a websocket;
// tests substitute a fake.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSTransport dials the order service's websocket endpoint.
type WSTransport struct {
	url    string
	origin string
}

func NewWSTransport(url, origin string) *WSTransport {
	return &WSTransport{url: url, origin: origin}
}

func (t *WSTransport) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := websocket.NewConfig(t.url, t.origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	ws, err := websocket.DialConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", t.url, err)
	}
	return &wsConn{
		ws:  ws,
		enc: json.NewEncoder(ws),
		dec: json.NewDecoder(ws),
	}, nil
}

type wsConn struct {
	ws  *websocket.Conn
	enc *json.Encoder
	dec *json.Decoder
}

func (c *wsConn) Send(v any) error {
	return c.enc.Encode(v)
}

func (c *wsConn) Receive() (domain.Message, error) {
	var msg domain.Message
	if err := c.dec.Decode(&msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
