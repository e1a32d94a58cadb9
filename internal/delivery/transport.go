package delivery

import (
	"context"

	"notification-pipeline/internal/models"
)

// Message is one rendered notification addressed to a resolved contact.
type Message struct {
	NotificationID string
	Trigger        string
	Channel        models.Channel
	Priority       models.Priority
	To             string
	Subject        string
	Body           string
}

// Receipt describes an accepted send. It is stored as provider metadata on
// the delivery log entry.
type Receipt struct {
	Provider  string
	MessageID string
}

func (r Receipt) Metadata() map[string]interface{} {
	meta := map[string]interface{}{"provider": r.Provider}
	if r.MessageID != "" {
		meta["message_id"] = r.MessageID
	}
	return meta
}

// Transport sends a message over one channel.
type Transport interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg Message) (Receipt, error)

func (f TransportFunc) Send(ctx context.Context, msg Message) (Receipt, error) {
	return f(ctx, msg)
}
