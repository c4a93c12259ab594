package gobtcmini

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	hubSendBuffer   = 64
	hubWriteTimeout = 10 * time.Second
	hubPongTimeout  = 60 * time.Second
	hubPingInterval = 54 * time.Second
)

var hubLogger = NewLogger("hub")

// HubMessage is pushed to every connected UI client.
type HubMessage struct {
	Type    string           `json:"type"`
	Address string           `json:"address,omitempty"`
	Entry   *WatchlistEntry  `json:"entry,omitempty"`
	Message string           `json:"message,omitempty"`
	Kind    NotificationKind `json:"kind,omitempty"`
	Price   *PriceData       `json:"price,omitempty"`
	Fees    *FeeData         `json:"fees,omitempty"`
}

// Hub fans watchlist changes, feed updates and notifications out to
// websocket clients. It implements Notifier.
type Hub struct {
	upgrader websocket.Upgrader
	logger   Logger

	mu      sync.Mutex
	clients map[string]*hubClient
	closed  bool
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  hubLogger,
		clients: make(map[string]*hubClient),
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade failed remote=%s error=%v", r.RemoteAddr, err)
		return
	}

	client := &hubClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, hubSendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client.id] = client
	h.mu.Unlock()
	h.logger.Printf("client connected id=%s remote=%s", client.id, r.RemoteAddr)

	go h.writePump(client)
	go h.readPump(client)
}

// Publish sends msg to every client. Clients whose buffer is full are dropped.
func (h *Hub) Publish(msg HubMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("encode hub message type=%s error=%v", msg.Type, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		select {
		case client.send <- payload:
		default:
			h.logger.Printf("dropping slow client id=%s", id)
			delete(h.clients, id)
			client.close()
		}
	}
}

// Notify implements Notifier.
func (h *Hub) Notify(message string, kind NotificationKind) {
	h.Publish(HubMessage{Type: "notification", Message: message, Kind: kind})
}

// WatchlistChanged forwards engine change events.
func (h *Hub) WatchlistChanged(event ChangeEvent) {
	h.Publish(HubMessage{Type: string(event.Type), Address: event.Address, Entry: event.Entry})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, client := range h.clients {
		delete(h.clients, id)
		client.close()
	}
}

func (h *Hub) unregister(client *hubClient) {
	h.mu.Lock()
	if current, ok := h.clients[client.id]; ok && current == client {
		delete(h.clients, client.id)
	}
	h.mu.Unlock()
	client.close()
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

func (h *Hub) writePump(client *hubClient) {
	ticker := time.NewTicker(hubPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Printf("write failed id=%s error=%v", client.id, err)
				h.unregister(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(client)
				return
			}
		}
	}
}

// readPump only watches for disconnects; clients do not send commands.
func (h *Hub) readPump(client *hubClient) {
	defer h.unregister(client)

	client.conn.SetReadLimit(4096)
	client.conn.SetReadDeadline(time.Now().Add(hubPongTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(hubPongTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Printf("client closed unexpectedly id=%s error=%v", client.id, err)
			}
			return
		}
	}
}
