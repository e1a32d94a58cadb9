package dispatcher

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/common/validation"
	"notification-pipeline/internal/models"
)

// EventSchema builds the JSON schema bus payloads are validated against.
func EventSchema(eventTypes []string) string {
	types := append([]string(nil), eventTypes...)
	sort.Strings(types)

	schema := map[string]interface{}{
		"type":     "object",
		"required": []string{"event_type", "target"},
		"properties": map[string]interface{}{
			"event_type":  map[string]interface{}{"type": "string", "enum": types},
			"actor":       map[string]interface{}{"type": "string"},
			"target":      map[string]interface{}{"type": "string", "minLength": 1},
			"metadata":    map[string]interface{}{"type": "object"},
			"occurred_at": map[string]interface{}{"type": "string"},
		},
	}
	data, _ := json.Marshal(schema)
	return string(data)
}

// Publisher sends domain events to the bus as JSON on <prefix><event_type>.
type Publisher struct {
	redis  *redis.Client
	prefix string
	schema *validation.Schema
}

func NewPublisher(rdb *redis.Client, prefix string, eventTypes []string) *Publisher {
	return &Publisher{
		redis:  rdb,
		prefix: prefix,
		schema: validation.MustCompile(EventSchema(eventTypes)),
	}
}

func (p *Publisher) Publish(ctx context.Context, ev models.Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	res, err := p.schema.ValidateGo(ev)
	if err != nil {
		return errors.NewInvalidEventError(err.Error())
	}
	if !res.Valid {
		return errors.NewInvalidEventError(strings.Join(res.GetErrorMessages(), "; "))
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return errors.NewInvalidEventError(err.Error())
	}
	return p.redis.Publish(ctx, p.prefix+ev.Type, data).Err()
}

type EventDispatcher interface {
	DispatchEvent(ctx context.Context, ev models.Event) error
}

// Subscriber feeds events published on the bus into the dispatcher.
type Subscriber struct {
	redis      *redis.Client
	prefix     string
	dispatcher EventDispatcher
	schema     *validation.Schema
	logger     logger.Logger
}

func NewSubscriber(rdb *redis.Client, prefix string, eventTypes []string, d EventDispatcher, log logger.Logger) *Subscriber {
	return &Subscriber{
		redis:      rdb,
		prefix:     prefix,
		dispatcher: d,
		schema:     validation.MustCompile(EventSchema(eventTypes)),
		logger:     logger.ForComponent(log, "event-subscriber"),
	}
}

// Run blocks until ctx is cancelled or the subscription closes.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.redis.PSubscribe(ctx, s.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	s.logger.Info("Subscribed to domain events", map[string]interface{}{"pattern": s.prefix + "*"})

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.Handle(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

// Handle validates and dispatches one bus message. Bad payloads are dropped.
func (s *Subscriber) Handle(ctx context.Context, channel string, payload []byte) {
	log := s.logger.WithFields(map[string]interface{}{"channel": channel})

	res, err := s.schema.ValidateBytes(payload)
	if err != nil {
		log.Warn("Dropping malformed event payload", map[string]interface{}{"error": err.Error()})
		return
	}
	if !res.Valid {
		log.Warn("Dropping invalid event", map[string]interface{}{"errors": res.GetErrorMessages()})
		return
	}

	var ev models.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn("Dropping undecodable event", map[string]interface{}{"error": err.Error()})
		return
	}
	if want := strings.TrimPrefix(channel, s.prefix); want != ev.Type {
		log.Warn("Event type does not match channel", map[string]interface{}{"eventType": ev.Type})
		return
	}

	if err := s.dispatcher.DispatchEvent(ctx, ev); err != nil {
		log.Error("Failed to dispatch event", map[string]interface{}{"error": err.Error()})
	}
}
