package delivery

import (
	"context"
	"time"

	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/common/metrics"
	"notification-pipeline/internal/queue"
)

type StaleReaper interface {
	ReapStale(ctx context.Context, staleAfter time.Duration) ([]string, error)
}

// Reaper returns requests stranded in processing by a crashed tick to pending.
type Reaper struct {
	queue      StaleReaper
	staleAfter time.Duration
	interval   time.Duration
	logger     logger.Logger
}

func NewReaper(q StaleReaper, staleAfter, interval time.Duration, log logger.Logger) *Reaper {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		queue:      q,
		staleAfter: staleAfter,
		interval:   interval,
		logger:     logger.ForComponent(log, "reaper"),
	}
}

func (r *Reaper) Name() string            { return "reaper" }
func (r *Reaper) Interval() time.Duration { return r.interval }

func (r *Reaper) Run(ctx context.Context) error {
	ids, err := r.queue.ReapStale(ctx, r.staleAfter)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		metrics.QueueRequeued.Add(float64(len(ids)))
		r.logger.Info("Requeued stale claims", map[string]interface{}{
			"count": len(ids),
			"ids":   ids,
		})
	}
	return nil
}

type QueuePurger interface {
	Purge(ctx context.Context, queueRetention, logRetention time.Duration) (queue.PurgeResult, error)
}

type EventPurger interface {
	PurgeEvents(ctx context.Context, retention time.Duration) (int64, error)
}

type Retention struct {
	Queue    time.Duration
	Log      time.Duration
	Tracking time.Duration
}

func DefaultRetention() Retention {
	return Retention{
		Queue:    30 * 24 * time.Hour,
		Log:      90 * 24 * time.Hour,
		Tracking: 90 * 24 * time.Hour,
	}
}

// Janitor deletes terminal requests, old delivery log entries and old
// tracking events.
type Janitor struct {
	queue     QueuePurger
	events    EventPurger
	retention Retention
	interval  time.Duration
	logger    logger.Logger
}

func NewJanitor(q QueuePurger, events EventPurger, retention Retention, interval time.Duration, log logger.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		queue:     q,
		events:    events,
		retention: retention,
		interval:  interval,
		logger:    logger.ForComponent(log, "janitor"),
	}
}

func (j *Janitor) Name() string            { return "janitor" }
func (j *Janitor) Interval() time.Duration { return j.interval }

func (j *Janitor) Run(ctx context.Context) error {
	res, err := j.queue.Purge(ctx, j.retention.Queue, j.retention.Log)
	if err != nil {
		return err
	}

	var events int64
	if j.events != nil {
		events, err = j.events.PurgeEvents(ctx, j.retention.Tracking)
		if err != nil {
			return err
		}
	}

	if res.Requests > 0 || res.LogEntries > 0 || events > 0 {
		j.logger.Info("Purged expired records", map[string]interface{}{
			"requests":       res.Requests,
			"logEntries":     res.LogEntries,
			"trackingEvents": events,
		})
	}
	return nil
}
