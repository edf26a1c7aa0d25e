package domain

import (
	"context"
	"fmt"
	"time"
)

type DeliveryKind string

const (
	// DeliveryBlocked means the recipient can no longer be reached (bot blocked, kicked).
	DeliveryBlocked DeliveryKind = "blocked"
	// DeliveryRejected is any other error reported by the platform API.
	DeliveryRejected DeliveryKind = "rejected"
	// DeliveryTransport means the platform could not be contacted.
	DeliveryTransport DeliveryKind = "transport"
	DeliveryUnknown   DeliveryKind = "unknown"
)

// DeliveryError is returned by channels when a reply cannot be sent.
type DeliveryError struct {
	Kind    DeliveryKind
	Code    int // platform error code, 0 if none
	Message string
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("delivery %s (%d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("delivery %s: %s", e.Kind, e.Message)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// DeliveryFailure is an audit record of a reply that could not be delivered.
type DeliveryFailure struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chat_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryRecorder persists delivery failures.
type DeliveryRecorder interface {
	RecordDeliveryFailure(ctx context.Context, f DeliveryFailure) error
}
