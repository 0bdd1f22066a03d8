package pubsub

import (
	"context"
	"encoding/json"
)

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "workspace_status", "designer_attributes")
	Type    string          `json:"type"`    // Event type (e.g., "loading", "analyzing", "RegisterDesignerAttributes")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// Topics published by the analyzer host
const (
	TopicWorkspaceStatus    = "workspace_status"
	TopicDesignerAttributes = "designer_attributes"
)

// WorkspaceStatus represents workspace analysis state
type WorkspaceStatus struct {
	State   string `json:"state"`   // loading, analyzing, ready, error
	Message string `json:"message"` // Human-readable status message
	Step    int    `json:"step"`    // Current step number (1-based)
	Total   int    `json:"total"`   // Total number of steps
}

// RemoteCall is the payload of an event on the designer_attributes topic:
// one method invocation with its positional arguments
type RemoteCall struct {
	Method string        `json:"method"`
	Args   []interface{} `json:"args"`
}
