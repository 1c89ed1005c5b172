package ws

import (
	"encoding/json"
	"strings"
	"sync"

	"focushive/presence-service/models"
	"focushive/presence-service/utils"
)

// Frame is the envelope delivered to websocket clients: the destination the
// client subscribed to plus the broadcast payload.
type Frame struct {
	Destination string      `json:"destination"`
	Payload     interface{} `json:"payload"`
}

// Hub tracks connected clients and their destination subscriptions and fans
// broadcasts out to them. Delivery is fire-and-forget: a client whose send
// buffer is full misses the message.
type Hub struct {
	logger *utils.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	topics  map[string]map[*Client]bool
}

func NewHub(logger *utils.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*Client]bool),
		topics:  make(map[string]map[*Client]bool),
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	// Every client listens on its own private queue
	h.subscribe(client, models.UserQueue(client.userID))
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)

	for topic, subscribers := range h.topics {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}

	close(client.send)
}

func (h *Hub) subscribe(client *Client, destination string) {
	// A client may only subscribe to its own private queue
	if strings.HasPrefix(destination, "user:") && destination != models.UserQueue(client.userID) {
		h.logger.Warn("Rejected subscription to foreign user queue", "user_id", client.userID, "destination", destination)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return
	}
	if h.topics[destination] == nil {
		h.topics[destination] = make(map[*Client]bool)
	}
	h.topics[destination][client] = true
}

func (h *Hub) unsubscribe(client *Client, destination string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subscribers, ok := h.topics[destination]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.topics, destination)
		}
	}
}

// Publish sends payload to every subscriber of destination.
func (h *Hub) Publish(destination string, payload interface{}) {
	data, err := json.Marshal(Frame{Destination: destination, Payload: payload})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", "destination", destination, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.topics[destination] {
		select {
		case client.send <- data:
		default:
			// Slow client, drop the message
		}
	}
}

// PublishToUser sends payload to the user's private queue.
func (h *Hub) PublishToUser(userID string, payload interface{}) {
	h.Publish(models.UserQueue(userID), payload)
}
