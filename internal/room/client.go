package room

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const sendQueueSize = 256

// Client is one websocket connection with a verified identity attached.
type Client struct {
	ID     string
	UserID int64

	conn *websocket.Conn
	send chan []byte
	once sync.Once
	log  zerolog.Logger
}

// NewClient wraps an upgraded connection. conn may be nil in tests that only
// exercise the queue.
func NewClient(conn *websocket.Conn, userID int64, log zerolog.Logger) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		log:    log,
	}
}

// ReadPump reads messages off the socket and hands each one to handle. It
// returns when the peer disconnects. disconnect runs exactly once afterwards.
func (c *Client) ReadPump(handle func(raw []byte), disconnect func()) {
	defer disconnect()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Str("conn_id", c.ID).Msg("client disconnected")
			}
			return
		}
		handle(raw)
	}
}

// WritePump drains the send queue onto the socket until the queue closes.
func (c *Client) WritePump() {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.log.Debug().Err(err).Str("conn_id", c.ID).Msg("write to client failed")
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Outbox exposes the send queue for tests.
func (c *Client) Outbox() <-chan []byte {
	return c.send
}

func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		// Slow consumer; drop the message rather than block the room.
		c.log.Warn().Str("conn_id", c.ID).Msg("send queue full, dropping message")
	}
}

func (c *Client) closeSend() {
	c.once.Do(func() { close(c.send) })
}
