/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package signaling

import (
	"context"

	ws "nhooyr.io/websocket"
)

// StatusCode is a websocket close code (RFC 6455 section 7.4).
type StatusCode int

const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusPolicyViolation StatusCode = 1008
	StatusInternalError   StatusCode = 1011
)

// Conn is the duplex message channel a signaling session runs over.
// Read blocks until a text frame arrives, ctx ends or the peer goes away.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code StatusCode, reason string) error
}

// WebSocketConn adapts a nhooyr websocket to Conn.
type WebSocketConn struct {
	conn *ws.Conn
}

// NewWebSocketConn wraps an accepted websocket.
func NewWebSocketConn(conn *ws.Conn) *WebSocketConn {
	return &WebSocketConn{conn: conn}
}

// Read implements Conn. Binary frames are returned as-is.
func (c *WebSocketConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// Write implements Conn.
func (c *WebSocketConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, ws.MessageText, data)
}

// Close implements Conn.
func (c *WebSocketConn) Close(code StatusCode, reason string) error {
	return c.conn.Close(ws.StatusCode(code), reason)
}
