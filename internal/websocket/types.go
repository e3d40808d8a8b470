package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeAnonymization reports a completed anonymize or batch call
	EventTypeAnonymization EventType = "anonymization"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypeConfigUpdated reports a new runtime configuration version
	EventTypeConfigUpdated EventType = "config_updated"
	// EventTypeMappingsReset reports deleted mappings
	EventTypeMappingsReset EventType = "mappings_reset"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients. Events carry counts,
// entity types and ids; they never carry text or substitutes.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	RequestID string    `json:"request_id,omitempty"`
}

// AnonymizationEvent summarizes one anonymization call
type AnonymizationEvent struct {
	Operation          string         `json:"operation"`
	Texts              int            `json:"texts"`
	InputLength        int64          `json:"input_length"`
	EntityTypes        map[string]int `json:"entity_types"`
	EntitiesDetected   int            `json:"entities_detected"`
	EntitiesAnonymized int            `json:"entities_anonymized"`
	NewMappings        int            `json:"new_mappings_created"`
	ExistingMappings   int            `json:"existing_mappings_used"`
	SynthesisFailures  int            `json:"synthesis_failures"`
	ProcessingMS       int64          `json:"processing_ms"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string  `json:"request_id"`
	Method       string  `json:"method"`
	Path         string  `json:"path"`
	StatusCode   int     `json:"status_code"`
	ClientIP     string  `json:"client_ip"`
	UserAgent    string  `json:"user_agent,omitempty"`
	DurationMS   float64 `json:"duration_ms"`
	ResponseSize int64   `json:"response_size"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string  `json:"status"`
	Uptime           string  `json:"uptime"`
	TotalMappings    int64   `json:"total_mappings"`
	ConfigVersion    int64   `json:"config_version"`
	ConnectedClients int     `json:"connected_clients"`
	Goroutines       int     `json:"goroutines"`
	MemoryAllocMB    float64 `json:"memory_alloc_mb"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ConfigUpdatedEvent announces a runtime configuration change
type ConfigUpdatedEvent struct {
	Version             int64    `json:"version"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	Language            string   `json:"language"`
	Locale              string   `json:"locale"`
	EnabledEntityTypes  []string `json:"enabled_entity_types"`
}

// MappingsResetEvent announces deleted mappings
type MappingsResetEvent struct {
	Scope     string `json:"scope"` // "all", "single"
	Deleted   int64  `json:"deleted"`
	MappingID int64  `json:"mapping_id,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscriptionRequest restricts the event types a client receives
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	IP          string
	UserAgent   string
	ConnectedAt time.Time

	conn *websocket.Conn
	send chan Event

	mu           sync.Mutex
	closed       bool
	subscription map[EventType]bool
	lastPing     time.Time
}

func newClient(id string, conn *websocket.Conn, ip, userAgent string) *Client {
	now := time.Now()
	return &Client{
		ID:          id,
		IP:          ip,
		UserAgent:   userAgent,
		ConnectedAt: now,
		conn:        conn,
		send:        make(chan Event, sendBufferSize),
		lastPing:    now,
	}
}

// trySend queues e without blocking. It reports false when the client is
// closed or its buffer is full.
func (c *Client) trySend(e Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- e:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) subscribe(events []EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(events) == 0 {
		c.subscription = nil
		return
	}
	c.subscription = make(map[EventType]bool, len(events))
	for _, e := range events {
		c.subscription[e] = true
	}
}

func (c *Client) wants(t EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscription == nil || c.subscription[t]
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}
