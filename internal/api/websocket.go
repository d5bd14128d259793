package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meridian-router.dev/meridian/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		host := r.Host
		if after, ok := strings.CutPrefix(origin, "http://"); ok {
			return after == host
		}
		if after, ok := strings.CutPrefix(origin, "https://"); ok {
			return after == host
		}
		return false
	},
}

// WSMessage is a topic-tagged message sent to clients.
type WSMessage struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

type wsClient struct {
	conn   *websocket.Conn
	topics map[string]bool
	send   chan []byte
}

// WSManager fans out topic-based messages to connected websocket clients.
// Clients always receive the status topic; anything else requires an
// explicit subscribe message.
type WSManager struct {
	logger     *logging.Logger
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
	loopOnce   sync.Once
	done       chan struct{}
}

func NewWSManager(logger *logging.Logger) *WSManager {
	m := &WSManager{
		logger:     logger,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *WSManager) run() {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			m.clients[client] = true
			m.mu.Unlock()
		case client := <-m.unregister:
			m.mu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
				client.conn.Close()
			}
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}

// Publish sends a message to every client subscribed to the topic. A client
// whose send buffer is full misses the message rather than blocking the rest.
func (m *WSManager) Publish(topic string, data any) {
	payload, err := json.Marshal(WSMessage{Topic: topic, Data: data})
	if err != nil {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for client := range m.clients {
		if topic == "status" || client.topics[topic] {
			select {
			case client.send <- payload:
			default:
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (m *WSManager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CloseAll disconnects every client and stops the manager.
func (m *WSManager) CloseAll() {
	close(m.done)
	m.mu.Lock()
	defer m.mu.Unlock()
	for client := range m.clients {
		close(client.send)
		client.conn.Close()
		delete(m.clients, client)
	}
}

// startStatusLoop begins the periodic status broadcast. It is started lazily
// on the first websocket connection and runs until CloseAll.
func (m *WSManager) startStatusLoop(fetch func() any) {
	m.loopOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if m.ClientCount() > 0 {
						m.Publish("status", fetch())
					}
				case <-m.done:
					return
				}
			}
		}()
	})
}

func (c *wsClient) readPump(m *WSManager) {
	defer func() {
		select {
		case m.unregister <- c:
		case <-m.done:
		}
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Action string   `json:"action"`
			Topics []string `json:"topics"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			for _, topic := range msg.Topics {
				c.topics[topic] = true
			}
		case "unsubscribe":
			for _, topic := range msg.Topics {
				delete(c.topics, topic)
			}
		}
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// handleStatusWS upgrades the connection and streams periodic status updates.
// Authentication happens in the middleware before the upgrade.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		topics: make(map[string]bool),
		send:   make(chan []byte, 256),
	}
	select {
	case s.ws.register <- client:
	case <-s.ws.done:
		conn.Close()
		return
	}

	s.ws.startStatusLoop(s.statusSnapshot)

	go client.writePump()
	go client.readPump(s.ws)

	// Immediate snapshot so new clients do not wait for the next tick.
	if payload, err := json.Marshal(WSMessage{Topic: "status", Data: s.statusSnapshot()}); err == nil {
		select {
		case client.send <- payload:
		default:
		}
	}
}
