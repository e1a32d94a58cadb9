// internal/models/notification.go
package models

import "time"

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities for claiming; lower ranks are claimed first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// TemplateData is the nested key-value tree a template is rendered against.
type TemplateData map[string]interface{}

type NotificationRequest struct {
	ID                string       `json:"id"`
	Trigger           string       `json:"trigger"`
	Channel           Channel      `json:"channel"`
	RecipientUsername string       `json:"recipientUsername"`
	TemplateData      TemplateData `json:"templateData"`
	Priority          Priority     `json:"priority"`
	Status            Status       `json:"status"`
	Attempts          int          `json:"attempts"`
	ScheduledFor      time.Time    `json:"scheduledFor"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
	LastError         *string      `json:"lastError,omitempty"`
	OpenCount         int          `json:"openCount"`
}

type Template struct {
	ID        int64     `json:"id"`
	Trigger   string    `json:"trigger"`
	Channel   Channel   `json:"channel"`
	Subject   *string   `json:"subject,omitempty"`
	Body      string    `json:"body"`
	Category  string    `json:"category"`
	Priority  Priority  `json:"priority"`
	Enabled   bool      `json:"enabled"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (t *Template) SubjectText() string {
	if t.Subject == nil {
		return ""
	}
	return *t.Subject
}

// DeliveryLogEntry is written once per terminal transition.
type DeliveryLogEntry struct {
	ID                int64                  `json:"id"`
	NotificationID    string                 `json:"notificationId"`
	Trigger           string                 `json:"trigger"`
	Channel           Channel                `json:"channel"`
	RecipientUsername string                 `json:"recipientUsername"`
	Status            Status                 `json:"status"`
	Attempts          int                    `json:"attempts"`
	Error             *string                `json:"error,omitempty"`
	ProviderMetadata  map[string]interface{} `json:"providerMetadata,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
}
