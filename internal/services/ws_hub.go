package services

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Progress stages of storybook generation
const (
	StageStory         = "story"
	StageIllustrations = "illustrations"
	StageNarration     = "narration"
	StageCompleted     = "completed"
	StageFailed        = "failed"
)

// StorybookProgress is the payload of storybook_progress messages
type StorybookProgress struct {
	Month       string `json:"month"`
	Stage       string `json:"stage"`
	Page        int    `json:"page,omitempty"`
	TotalPages  int    `json:"totalPages,omitempty"`
	StorybookID string `json:"storybookId,omitempty"`
	// Message explains a failed stage to the user
	Message string `json:"message,omitempty"`
}

// ProgressPublisher delivers generation progress to a user
type ProgressPublisher interface {
	PublishProgress(userID string, progress StorybookProgress)
}

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages WebSocket connections, one per user
type WSHub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[string]*wsClient)}
}

// Register registers a new WebSocket connection for a user
func (h *WSHub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Close existing connection if any
	if existing, ok := h.clients[userID]; ok {
		existing.conn.Close()
	}
	h.clients[userID] = &wsClient{conn: conn}

	log.Info().Str("user_id", userID).Msg("WebSocket connection registered")
}

// Unregister removes the connection of a user if it is still conn
func (h *WSHub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[userID]; ok && c.conn == conn {
		c.conn.Close()
		delete(h.clients, userID)
		log.Info().Str("user_id", userID).Msg("WebSocket connection unregistered")
	}
}

// SendToUser sends a message to a specific user
func (h *WSHub) SendToUser(userID string, message WSMessage) error {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("user %s is not connected", userID)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := client.write(data); err != nil {
		h.Unregister(userID, client.conn)
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// IsOnline checks if a user is connected
func (h *WSHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// PublishProgress sends a storybook_progress message. Offline users are skipped.
func (h *WSHub) PublishProgress(userID string, progress StorybookProgress) {
	if !h.IsOnline(userID) {
		return
	}
	msg := WSMessage{Type: "storybook_progress", Data: progress}
	if err := h.SendToUser(userID, msg); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("stage", progress.Stage).Msg("Failed to publish progress")
	}
}
