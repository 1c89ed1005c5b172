package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"focushive/presence-service/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Cross-origin browsers are allowed; identity comes from the JWT
		return true
	},
}

// Client is a single websocket connection owned by an authenticated user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	logger *utils.Logger
	userID string
	send   chan []byte
}

// clientCommand is what clients send upstream: subscription management only.
type clientCommand struct {
	Action      string `json:"action"` // subscribe, unsubscribe
	Destination string `json:"destination"`
}

// ServeWS upgrades the request and registers the client with the hub.
func ServeWS(hub *Hub, logger *utils.Logger, w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade websocket", "user_id", userID, "error", err)
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		logger: logger,
		userID: userID,
		send:   make(chan []byte, 64),
	}

	hub.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.logger.Debug("Ignoring malformed client command", "user_id", c.userID, "error", err)
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.hub.subscribe(c, cmd.Destination)
		case "unsubscribe":
			c.hub.unsubscribe(c, cmd.Destination)
		}
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
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
