package websocket

import (
	"context"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 * 1024
)

// Conn is the part of *gorilla/websocket.Conn the pumps use.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one live connection. Its ID is the connection handle stored in
// the presence registry.
type Client struct {
	ID   string
	Send chan []byte

	channels map[string]struct{} // guarded by Hub.mu
	conn     Conn
	limiter  *rate.Limiter

	// Session state, read and written only by the client's read pump.
	identityID   int64
	role         string
	verifiedID   int64
	verifiedRole string
}

// NewClient builds a client with a buffered send queue. limiter may be nil.
func NewClient(id string, conn Conn, sendBuffer int, limiter *rate.Limiter) *Client {
	return &Client{
		ID:       id,
		Send:     make(chan []byte, sendBuffer),
		channels: make(map[string]struct{}),
		conn:     conn,
		limiter:  limiter,
	}
}

// Identity returns the authenticated account id and role, or zero values.
func (c *Client) Identity() (int64, string) {
	return c.identityID, c.role
}

func (c *Client) Authenticated() bool {
	return c.identityID > 0
}

// bindVerified pins the identity proven during the HTTP upgrade; later
// authenticate events must match it.
func (c *Client) bindVerified(id int64, role string) {
	c.verifiedID = id
	c.verifiedRole = role
}

func (c *Client) readPump(ctx context.Context, g *Gateway) {
	defer func() {
		g.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				g.logger.Debug().Err(err).Str("conn_id", c.ID).Msg("connection closed unexpectedly")
			}
			return
		}
		g.Dispatch(ctx, c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gorillawebsocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
