package models

import "time"

type TrackingEventType string

const (
	TrackingOpen  TrackingEventType = "open"
	TrackingClick TrackingEventType = "click"
)

type TrackingEvent struct {
	ID             int64             `json:"id"`
	NotificationID string            `json:"notificationId"`
	EventType      TrackingEventType `json:"eventType"`
	ClientIP       string            `json:"clientIp"`
	UserAgent      string            `json:"userAgent"`
	LinkType       *string           `json:"linkType,omitempty"`
	DestinationURL *string           `json:"destinationUrl,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}
