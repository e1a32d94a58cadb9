// Package dispatcher turns domain events into queued notification requests.
package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/common/metrics"
	"notification-pipeline/internal/models"
	"notification-pipeline/internal/templates"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, req *models.NotificationRequest) (string, error)
	CancelPending(ctx context.Context, recipient, trigger, actor string) (int64, error)
}

type UserDirectory interface {
	Get(ctx context.Context, username string) (*models.User, error)
}

// Revealer decrypts a stored PII value, passing plaintext through.
type Revealer interface {
	Reveal(value string) (string, error)
}

type Limiter interface {
	Allow(ctx context.Context, username, trigger string, priority models.Priority) bool
}

type Dispatcher struct {
	queue     Enqueuer
	templates templates.Finder
	users     UserDirectory
	pii       Revealer
	limiter   Limiter
	links     LinkBuilder
	handlers  map[string]Handler
	now       func() time.Time
	logger    logger.Logger
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string, string, models.Priority) bool { return true }

type plaintext struct{}

func (plaintext) Reveal(value string) (string, error) { return value, nil }

// New builds a dispatcher. A nil limiter allows everything and a nil pii
// revealer passes values through.
func New(queue Enqueuer, finder templates.Finder, users UserDirectory, pii Revealer, limiter Limiter, links LinkBuilder, log logger.Logger) *Dispatcher {
	if limiter == nil {
		limiter = allowAll{}
	}
	if pii == nil {
		pii = plaintext{}
	}
	return &Dispatcher{
		queue:     queue,
		templates: finder,
		users:     users,
		pii:       pii,
		limiter:   limiter,
		links:     links,
		handlers:  defaultHandlers(),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.ForComponent(log, "dispatcher"),
	}
}

// Register adds or replaces the handler for an event type.
func (d *Dispatcher) Register(eventType string, h Handler) {
	d.handlers[eventType] = h
}

func (d *Dispatcher) EventTypes() []string {
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	return types
}

// Dispatch enqueues the notifications caused by an event. Only malformed
// events are reported; enqueue and lookup failures are logged and never
// reach the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType, actor, target string, metadata map[string]interface{}) error {
	return d.DispatchEvent(ctx, models.Event{
		Type:     eventType,
		Actor:    actor,
		Target:   target,
		Metadata: metadata,
	})
}

func (d *Dispatcher) DispatchEvent(ctx context.Context, ev models.Event) error {
	handler, ok := d.handlers[ev.Type]
	if !ok {
		return errors.NewInvalidEventError("unknown event type " + ev.Type)
	}
	if ev.Target == "" {
		return errors.NewInvalidEventError("target is required")
	}

	plan := handler(ev)
	log := d.logger.WithFields(map[string]interface{}{
		"eventType": ev.Type,
		"actor":     ev.Actor,
		"target":    ev.Target,
	})

	for _, c := range plan.Cancellations {
		n, err := d.queue.CancelPending(ctx, c.Recipient, c.Trigger, c.Actor)
		if err != nil {
			log.Error("Failed to cancel pending notifications", map[string]interface{}{
				"trigger": c.Trigger,
				"error":   err.Error(),
			})
			continue
		}
		if n > 0 {
			log.Info("Cancelled pending notifications", map[string]interface{}{
				"trigger":   c.Trigger,
				"recipient": c.Recipient,
				"count":     n,
			})
		}
	}

	for _, target := range plan.Targets {
		d.notify(ctx, log, target, ev.Metadata)
	}
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, log logger.Logger, target Target, metadata map[string]interface{}) {
	log = log.WithFields(map[string]interface{}{
		"trigger":   target.Trigger,
		"recipient": target.Recipient,
	})

	recipient, err := d.users.Get(ctx, target.Recipient)
	if err != nil {
		log.Warn("Recipient lookup failed, dropping notification", map[string]interface{}{"error": err.Error()})
		for _, ch := range target.Channels {
			metrics.NotificationsDropped.WithLabelValues(string(ch), "recipient_unknown").Inc()
		}
		return
	}

	type route struct {
		channel models.Channel
		tmpl    *models.Template
	}
	var routes []route
	for _, channel := range target.Channels {
		tmpl, err := d.templates.Find(ctx, target.Trigger, channel)
		if err != nil {
			if errors.Is(err, errors.ErrCodeTemplateNotFound) {
				log.Info("No enabled template, event is unroutable", map[string]interface{}{"channel": string(channel)})
				metrics.NotificationsDropped.WithLabelValues(string(channel), "unroutable").Inc()
			} else {
				log.Error("Template lookup failed", map[string]interface{}{
					"channel": string(channel),
					"error":   err.Error(),
				})
				metrics.NotificationsDropped.WithLabelValues(string(channel), "lookup_failed").Inc()
			}
			continue
		}
		routes = append(routes, route{channel: channel, tmpl: tmpl})
	}
	if len(routes) == 0 {
		return
	}

	// the limiter sees the most urgent priority any channel will be queued with
	limitPriority := target.Priority
	if limitPriority == "" {
		limitPriority = routes[0].tmpl.Priority
		for _, r := range routes[1:] {
			if r.tmpl.Priority.Rank() < limitPriority.Rank() {
				limitPriority = r.tmpl.Priority
			}
		}
	}
	if !d.limiter.Allow(ctx, target.Recipient, target.Trigger, limitPriority) {
		log.Info("Notification rate limited", map[string]interface{}{
			"code": string(errors.ErrCodeRateLimited),
		})
		for _, r := range routes {
			metrics.NotificationsDropped.WithLabelValues(string(r.channel), "rate_limited").Inc()
		}
		return
	}

	now := d.now()
	var actor map[string]interface{}
	if target.Actor != "" {
		actor = actorTree(d.resolveActor(ctx, log, target.Actor), target.Actor, now)
	}
	recipientData := recipientTree(recipient, target.Recipient)

	for _, r := range routes {
		channel := r.channel
		priority := target.Priority
		if priority == "" {
			priority = r.tmpl.Priority
		}

		id := uuid.NewString()
		req := &models.NotificationRequest{
			ID:                id,
			Trigger:           target.Trigger,
			Channel:           channel,
			RecipientUsername: target.Recipient,
			TemplateData:      BuildTemplateData(recipientData, actor, d.links.App(id, target.Actor), metadata),
			Priority:          priority,
			ScheduledFor:      now,
		}
		if _, err := d.queue.Enqueue(ctx, req); err != nil {
			log.Error("Failed to enqueue notification", map[string]interface{}{
				"channel": string(channel),
				"error":   err.Error(),
			})
			continue
		}

		metrics.NotificationsEnqueued.WithLabelValues(string(channel), target.Trigger).Inc()
		log.Debug("Notification enqueued", map[string]interface{}{
			"notificationId": id,
			"channel":        string(channel),
			"priority":       string(priority),
		})
	}
}

// resolveActor loads the actor and reveals the PII fields rendered into
// templates. Failures leave the field out instead of aborting.
func (d *Dispatcher) resolveActor(ctx context.Context, log logger.Logger, username string) *models.User {
	u, err := d.users.Get(ctx, username)
	if err != nil {
		log.Warn("Actor lookup failed", map[string]interface{}{
			"actor": username,
			"error": err.Error(),
		})
		return nil
	}
	actor := *u
	location, err := d.pii.Reveal(actor.Location)
	if err != nil {
		log.Warn("Failed to decrypt PII field", map[string]interface{}{
			"field": "location",
			"actor": username,
			"code":  string(errors.ErrCodeDecryptFailed),
		})
		location = ""
	}
	actor.Location = location
	return &actor
}

// CreateNotification enqueues a request directly, bypassing the handler table.
// Priority defaults to the template's, or medium when no template is enabled;
// requests without a template fail at delivery time.
func (d *Dispatcher) CreateNotification(ctx context.Context, trigger string, channel models.Channel, recipient string, data models.TemplateData, priority models.Priority, scheduledFor time.Time) (string, error) {
	if priority == "" {
		if tmpl, err := d.templates.Find(ctx, trigger, channel); err == nil {
			priority = tmpl.Priority
		}
	}
	req := &models.NotificationRequest{
		Trigger:           trigger,
		Channel:           channel,
		RecipientUsername: recipient,
		TemplateData:      data,
		Priority:          priority,
		ScheduledFor:      scheduledFor,
	}
	id, err := d.queue.Enqueue(ctx, req)
	if err != nil {
		return "", err
	}
	metrics.NotificationsEnqueued.WithLabelValues(string(channel), trigger).Inc()
	return id, nil
}
