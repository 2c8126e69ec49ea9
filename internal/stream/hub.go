package stream

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Hub fans live breadcrumbs out to dashboard clients watching a
// driver. Broadcasts also go through Redis so a multi-instance
// deployment reaches clients connected elsewhere.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	DriverID string
	Send     chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(driverID string) *Client {
	client := &Client{
		DriverID: driverID,
		Send:     make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[driverID] == nil {
		h.clients[driverID] = map[*Client]struct{}{}
	}
	h.clients[driverID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if driverClients, ok := h.clients[client.DriverID]; ok {
		delete(driverClients, client)
		if len(driverClients) == 0 {
			delete(h.clients, client.DriverID)
		}
	}
	close(client.Send)
}

// Broadcast delivers a payload to every client watching the driver.
// With Redis attached the payload travels through pub/sub so other
// instances see it too; the subscriber loop handles local delivery.
// A client that cannot keep up is skipped, never blocked on.
func (h *Hub) Broadcast(driverID string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(driverID), payload).Err()
		if err == nil {
			return
		}
		log.Printf("redis publish error: %v", err)
	}

	h.deliver(driverID, payload)
}

func (h *Hub) deliver(driverID string, payload []byte) {
	h.mu.RLock()
	clients := h.clients[driverID]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "tracking:*:breadcrumbs")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		h.deliver(driverIDFromChannel(msg.Channel), []byte(msg.Payload))
	}
}

func redisChannel(driverID string) string {
	return "tracking:" + driverID + ":breadcrumbs"
}

func driverIDFromChannel(ch string) string {
	// tracking:{driver}:breadcrumbs
	const prefix = "tracking:"
	const suffix = ":breadcrumbs"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
