// Package delivery runs the per-channel workers that drain the notification
// queue, plus the reaper and janitor that keep it healthy.
package delivery

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/common/metrics"
	"notification-pipeline/internal/common/observability"
	"notification-pipeline/internal/models"
	"notification-pipeline/internal/queue"
	"notification-pipeline/internal/renderer"
	"notification-pipeline/internal/templates"
)

// Queue is the part of the notification queue a delivery worker drives.
type Queue interface {
	FailUnroutable(ctx context.Context, channel models.Channel) ([]*models.DeliveryLogEntry, error)
	ClaimBatch(ctx context.Context, channel models.Channel, limit int, respectQuietHours bool) ([]*models.NotificationRequest, error)
	Touch(ctx context.Context, id string) (bool, error)
	MarkSent(ctx context.Context, id string, providerMetadata map[string]interface{}) (*models.DeliveryLogEntry, error)
	MarkFailed(ctx context.Context, id string, cause error, outcome queue.Outcome) (queue.State, *models.DeliveryLogEntry, error)
}

// Auditor receives every delivery log entry the worker produces.
type Auditor interface {
	Index(ctx context.Context, entry *models.DeliveryLogEntry)
}

type noAudit struct{}

func (noAudit) Index(context.Context, *models.DeliveryLogEntry) {}

// Config is the per-worker context passed to every tick.
type Config struct {
	Name              string
	Channel           models.Channel
	Interval          time.Duration
	BatchSize         int
	RespectQuietHours bool
	SendTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = string(c.Channel) + "-delivery"
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// TickResult counts what one tick did.
type TickResult struct {
	Claimed    int
	Sent       int
	Retried    int
	Failed     int
	Unroutable int
}

type Worker struct {
	cfg       Config
	queue     Queue
	templates templates.Finder
	contacts  *ContactResolver
	transport Transport
	audit     Auditor
	obs       *observability.Observability
	logger    logger.Logger
}

type Dependencies struct {
	Queue     Queue
	Templates templates.Finder
	Contacts  *ContactResolver
	Transport Transport
	Audit     Auditor
	Obs       *observability.Observability
	Logger    logger.Logger
}

func NewWorker(cfg Config, deps Dependencies) *Worker {
	cfg = cfg.withDefaults()
	audit := deps.Audit
	if audit == nil {
		audit = noAudit{}
	}
	return &Worker{
		cfg:       cfg,
		queue:     deps.Queue,
		templates: deps.Templates,
		contacts:  deps.Contacts,
		transport: deps.Transport,
		audit:     audit,
		obs:       deps.Obs,
		logger: logger.ForComponent(deps.Logger, "delivery-worker").WithFields(map[string]interface{}{
			"worker":  cfg.Name,
			"channel": string(cfg.Channel),
		}),
	}
}

func (w *Worker) Name() string            { return w.cfg.Name }
func (w *Worker) Interval() time.Duration { return w.cfg.Interval }

// Tick fails unroutable requests, claims one batch and delivers it. Item
// failures are recorded on the item and never abort the batch; only a failed
// claim is returned.
func (w *Worker) Tick(ctx context.Context) (TickResult, error) {
	ctx, span := w.obs.StartSpan(ctx, "delivery.tick",
		attribute.String("worker", w.cfg.Name),
		attribute.String("channel", string(w.cfg.Channel)))
	defer span.End()

	var res TickResult

	unroutable, err := w.queue.FailUnroutable(ctx, w.cfg.Channel)
	if err != nil {
		w.logger.Error("Failed to fail unroutable requests", map[string]interface{}{"error": err.Error()})
	}
	for _, entry := range unroutable {
		metrics.NotificationsFailed.WithLabelValues(string(w.cfg.Channel), string(errors.ErrCodeTemplateNotFound), "true").Inc()
		w.audit.Index(ctx, entry)
	}
	res.Unroutable = len(unroutable)
	if res.Unroutable > 0 {
		w.logger.Info("Failed requests without an enabled template", map[string]interface{}{"count": res.Unroutable})
	}

	batch, err := w.queue.ClaimBatch(ctx, w.cfg.Channel, w.cfg.BatchSize, w.cfg.RespectQuietHours)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return res, err
	}
	res.Claimed = len(batch)
	metrics.QueueClaimed.WithLabelValues(string(w.cfg.Channel)).Set(float64(len(batch)))
	w.obs.RecordTick(ctx, w.cfg.Name, len(batch))

	for _, req := range batch {
		if ctx.Err() != nil {
			// unprocessed items stay in processing until the reaper requeues them
			break
		}
		switch w.process(ctx, req) {
		case models.StatusSent:
			res.Sent++
		case models.StatusPending:
			res.Retried++
		case models.StatusFailed:
			res.Failed++
		}
	}

	if res.Claimed > 0 {
		w.logger.Info("Tick completed", map[string]interface{}{
			"claimed": res.Claimed,
			"sent":    res.Sent,
			"retried": res.Retried,
			"failed":  res.Failed,
		})
	}
	return res, nil
}

// process delivers one claimed request and records the outcome. It returns
// the request's resulting status, or "" when the outcome could not be stored.
func (w *Worker) process(ctx context.Context, req *models.NotificationRequest) models.Status {
	ctx, span := w.obs.StartSpan(ctx, "delivery.send",
		attribute.String("notification.id", req.ID),
		attribute.String("notification.trigger", req.Trigger))
	defer span.End()

	log := w.logger.WithFields(map[string]interface{}{
		"notificationId": req.ID,
		"trigger":        req.Trigger,
	})

	// the claim is refreshed per item; a long batch must not outlive the reaper
	owned, err := w.queue.Touch(ctx, req.ID)
	if err != nil {
		log.Error("Failed to refresh claim", map[string]interface{}{"error": err.Error()})
		return ""
	}
	if !owned {
		log.Warn("Claim lost before delivery, skipping", nil)
		return ""
	}

	receipt, err := w.deliver(ctx, req)
	if err == nil {
		entry, markErr := w.queue.MarkSent(ctx, req.ID, receipt.Metadata())
		if markErr != nil {
			log.Error("Failed to mark notification sent", map[string]interface{}{"error": markErr.Error()})
			return ""
		}
		metrics.NotificationsSent.WithLabelValues(string(w.cfg.Channel)).Inc()
		w.audit.Index(ctx, entry)
		return models.StatusSent
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, string(errors.CodeOf(err)))

	outcome := queue.OutcomeRetryableFailure
	if !errors.IsRetryable(err) {
		outcome = queue.OutcomePermanentFailure
	}
	state, entry, markErr := w.queue.MarkFailed(ctx, req.ID, err, outcome)
	if markErr != nil {
		log.Error("Failed to record delivery failure", map[string]interface{}{
			"error": markErr.Error(),
			"cause": err.Error(),
		})
		return ""
	}

	terminal := state.Status.Terminal()
	metrics.NotificationsFailed.WithLabelValues(string(w.cfg.Channel), string(errors.CodeOf(err)), boolLabel(terminal)).Inc()
	errors.NewErrorHandler(log.WithFields(map[string]interface{}{"terminal": terminal})).
		HandleDeliveryError(req.ID, state.Attempts, err)
	if entry != nil {
		w.audit.Index(ctx, entry)
	}
	return state.Status
}

func (w *Worker) deliver(ctx context.Context, req *models.NotificationRequest) (Receipt, error) {
	tmpl, err := w.templates.Find(ctx, req.Trigger, req.Channel)
	if err != nil {
		return Receipt{}, err
	}
	if !tmpl.Enabled {
		return Receipt{}, errors.NewTemplateNotFoundError(req.Trigger, string(req.Channel))
	}

	to, err := w.contacts.Resolve(ctx, req.RecipientUsername, req.Channel)
	if err != nil {
		return Receipt{}, err
	}

	msg := Message{
		NotificationID: req.ID,
		Trigger:        req.Trigger,
		Channel:        req.Channel,
		Priority:       req.Priority,
		To:             to,
		Subject:        renderer.Render(tmpl.SubjectText(), req.TemplateData),
		Body:           renderer.Render(tmpl.Body, req.TemplateData),
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := w.transport.Send(sendCtx, msg)
	elapsed := time.Since(start)
	metrics.DeliveryDuration.WithLabelValues(string(w.cfg.Channel)).Observe(elapsed.Seconds())

	status := "sent"
	if err != nil {
		status = "failed"
		if stderrors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			err = errors.NewTransportTimeoutError(string(w.cfg.Channel), err)
		}
	}
	w.obs.RecordDelivery(ctx, string(w.cfg.Channel), status, elapsed)
	return receipt, errors.ClassifyTransportError(string(w.cfg.Channel), err)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
