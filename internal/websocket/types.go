package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeAnalysis is sent after every completed analysis
	EventTypeAnalysis EventType = "analysis_completed"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	RequestID string    `json:"request_id,omitempty"`
}

// AnalysisEvent summarizes one analysis. It carries counts and scores only.
type AnalysisEvent struct {
	SessionID          string            `json:"session_id,omitempty"`
	RiskScore          int               `json:"risk_score"`
	RiskLevel          privacy.RiskLevel `json:"risk_level"`
	FindingCount       int               `json:"finding_count"`
	DistinctCategories int               `json:"distinct_categories"`
	CategoryCounts     map[string]int    `json:"category_counts"`
	Sources            []string          `json:"sources"`
	Cached             bool              `json:"cached"`
	ProcessingMS       float64           `json:"processing_ms"`
}

// NewAnalysisEvent builds the broadcast summary of a.
func NewAnalysisEvent(requestID, sessionID string, sources []string, a *privacy.Analysis, cached bool, elapsed time.Duration) Event {
	counts := make(map[string]int)
	for c, n := range a.CategoryCounts() {
		counts[string(c)] = n
	}

	return Event{
		Type:      EventTypeAnalysis,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: AnalysisEvent{
			SessionID:          sessionID,
			RiskScore:          a.RiskScore,
			RiskLevel:          a.RiskLevel,
			FindingCount:       len(a.Findings),
			DistinctCategories: a.DistinctCategories,
			CategoryCounts:     counts,
			Sources:            sources,
			Cached:             cached,
			ProcessingMS:       float64(elapsed.Microseconds()) / 1000,
		},
	}
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalAnalyses    int64  `json:"total_analyses"`
	TotalFindings    int64  `json:"total_findings"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string        `json:"type"`
	Data *Subscription `json:"data,omitempty"`
}

// Subscription narrows the events a client receives.
type Subscription struct {
	Events       []EventType       `json:"events"`
	MinRiskLevel privacy.RiskLevel `json:"min_risk_level,omitempty"`
	Categories   []string          `json:"categories,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string

	mu           sync.Mutex
	closed       bool
	subscription *Subscription
	lastPong     time.Time
}

// enqueue hands ev to the writer without blocking. It reports false when the
// client is closed or its buffer is full.
func (c *Client) enqueue(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- ev:
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
		close(c.Send)
	}
}

func (c *Client) setSubscription(s *Subscription) {
	c.mu.Lock()
	c.subscription = s
	c.mu.Unlock()
}

func (c *Client) getSubscription() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscription
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}
