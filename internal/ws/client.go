package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxMessageSize = 64 * 1024

// ClientConfig bounds one websocket connection.
type ClientConfig struct {
	WriteWait time.Duration
	PongWait  time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	return c
}

// controlMessage is what subscribers send us: explicit topic joins and
// leaves, plus application-level pings.
type controlMessage struct {
	Action string `json:"action"` // join | leave | ping
	Topic  string `json:"topic,omitempty"`
}

// Client bridges one websocket connection to a hub subscriber. The read
// pump turns inbound join/leave frames into hub calls; the write pump
// drains the subscriber's outbound channel onto the wire.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	sub     *Subscriber
	control chan Message
	cfg     ClientConfig
	logger  *zap.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, cfg ClientConfig, logger *zap.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		sub:     NewSubscriber(hub.buffer),
		control: make(chan Message, 8),
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Start registers the subscriber and spawns the pumps.
func (c *Client) Start() {
	c.hub.Register(c.sub)
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c.sub)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Error("failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		var msg controlMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected websocket close", zap.Error(err))
			}
			return
		}

		switch msg.Action {
		case "join":
			if !ValidTopic(msg.Topic) {
				c.reply(Message{Type: MessageTypeError, Topic: msg.Topic, Data: "unknown topic"})
				continue
			}
			c.hub.Subscribe(c.sub, msg.Topic)
		case "leave":
			c.hub.Unsubscribe(c.sub, msg.Topic)
		case "ping":
			c.reply(Message{Type: MessageTypePong})
		default:
			c.reply(Message{Type: MessageTypeError, Data: "unknown action"})
		}
	}
}

// reply queues a direct response to this connection, bypassing topics.
func (c *Client) reply(msg Message) {
	select {
	case c.control <- msg:
	default:
	}
}

func (c *Client) writePump() {
	pingPeriod := c.cfg.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.Out():
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
			if !ok {
				// Hub dropped us or is shutting down.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("failed to write message", zap.Error(err))
				return
			}

		case msg := <-c.control:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
