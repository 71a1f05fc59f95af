package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const feedWriteTimeout = 5 * time.Second

// FeedConn is the part of *websocket.Conn the hub writes to
type FeedConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type feedClient struct {
	mu   sync.Mutex
	conn FeedConn
}

// FeedHub manages operator WebSocket connections receiving live event notices
type FeedHub struct {
	mu          sync.RWMutex
	connections map[string]*feedClient
}

// NewFeedHub creates a new feed hub
func NewFeedHub() *FeedHub {
	return &FeedHub{
		connections: make(map[string]*feedClient),
	}
}

// Register registers a connection under id, replacing an existing one
func (h *FeedHub) Register(id string, conn FeedConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.connections[id]; ok {
		existing.conn.Close()
	}
	h.connections[id] = &feedClient{conn: conn}

	log.Info().Str("conn_id", id).Msg("Feed connection registered")
}

// Unregister removes and closes a connection
func (h *FeedHub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.connections[id]; ok {
		client.conn.Close()
		delete(h.connections, id)
		log.Info().Str("conn_id", id).Msg("Feed connection unregistered")
	}
}

// Count returns the number of live connections
func (h *FeedHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Broadcast sends notice to every connection, dropping the ones that fail
func (h *FeedHub) Broadcast(notice EventNotice) {
	data, err := json.Marshal(notice)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal feed notice")
		return
	}

	h.mu.RLock()
	targets := make(map[string]*feedClient, len(h.connections))
	for id, client := range h.connections {
		targets[id] = client
	}
	h.mu.RUnlock()

	for id, client := range targets {
		if err := client.send(data); err != nil {
			log.Warn().Err(err).Str("conn_id", id).Msg("Dropping feed connection")
			h.Unregister(id)
		}
	}
}

// send serialises writes; gorilla connections allow one concurrent writer
func (c *feedClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
