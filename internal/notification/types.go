package notification

import (
	"context"
	"time"
)

// Type classifies a notification.
type Type string

const (
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
)

// Notification is one message pushed to the configured services.
type Notification struct {
	Type      Type
	Title     string
	Message   string
	Timestamp time.Time
}

// New creates a notification stamped with the current time.
func New(t Type, title, message string) *Notification {
	return &Notification{Type: t, Title: title, Message: message, Timestamp: time.Now()}
}

// Provider delivers notifications.
type Provider interface {
	GetName() string
	IsEnabled() bool
	SupportsType(t Type) bool
	ValidateConfig() error
	Send(ctx context.Context, n *Notification) error
}
