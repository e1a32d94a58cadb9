package delivery

import (
	"context"
	"sync"
	"time"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/models"
	"notification-pipeline/internal/queue"
)

// memQueue is an in-memory queue that follows the same state machine as the
// Postgres implementation.
type memQueue struct {
	mu       sync.Mutex
	policy   queue.Policy
	clock    time.Time
	items    map[string]*models.NotificationRequest
	order    []string
	logs     []*models.DeliveryLogEntry
	claimed  map[string]bool
	routable func(trigger string, channel models.Channel) bool
	nextLog  int64
}

func newMemQueue(now time.Time) *memQueue {
	return &memQueue{
		policy:   queue.DefaultPolicy(),
		clock:    now,
		items:    map[string]*models.NotificationRequest{},
		claimed:  map[string]bool{},
		routable: func(string, models.Channel) bool { return true },
	}
}

func (q *memQueue) advance(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clock = q.clock.Add(d)
}

func (q *memQueue) add(req *models.NotificationRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req.Status = models.StatusPending
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	req.CreatedAt = q.clock
	req.UpdatedAt = q.clock
	if req.ScheduledFor.IsZero() {
		req.ScheduledFor = q.clock
	}
	q.items[req.ID] = req
	q.order = append(q.order, req.ID)
}

func (q *memQueue) get(id string) models.NotificationRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.items[id]
}

func (q *memQueue) logsWithStatus(status models.Status) []*models.DeliveryLogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*models.DeliveryLogEntry
	for _, e := range q.logs {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func (q *memQueue) appendLog(req *models.NotificationRequest, meta map[string]interface{}) *models.DeliveryLogEntry {
	q.nextLog++
	e := &models.DeliveryLogEntry{
		ID:                q.nextLog,
		NotificationID:    req.ID,
		Trigger:           req.Trigger,
		Channel:           req.Channel,
		RecipientUsername: req.RecipientUsername,
		Status:            req.Status,
		Attempts:          req.Attempts,
		Error:             req.LastError,
		ProviderMetadata:  meta,
		CreatedAt:         q.clock,
	}
	q.logs = append(q.logs, e)
	return e
}

func (q *memQueue) FailUnroutable(_ context.Context, channel models.Channel) ([]*models.DeliveryLogEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var entries []*models.DeliveryLogEntry
	for _, id := range q.order {
		req := q.items[id]
		if req.Channel != channel || req.Status != models.StatusPending || req.ScheduledFor.After(q.clock) {
			continue
		}
		if q.routable(req.Trigger, req.Channel) {
			continue
		}
		msg := "template missing"
		req.Status = models.StatusFailed
		req.Attempts++
		req.LastError = &msg
		req.UpdatedAt = q.clock
		entries = append(entries, q.appendLog(req, nil))
	}
	return entries, nil
}

func (q *memQueue) ClaimBatch(_ context.Context, channel models.Channel, limit int, _ bool) ([]*models.NotificationRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var batch []*models.NotificationRequest
	for _, id := range q.order {
		req := q.items[id]
		if req.Channel != channel || req.Status != models.StatusPending || req.ScheduledFor.After(q.clock) {
			continue
		}
		batch = append(batch, req)
	}
	queue.SortByPriority(batch)
	if len(batch) > limit {
		batch = batch[:limit]
	}

	out := make([]*models.NotificationRequest, 0, len(batch))
	for _, req := range batch {
		req.Status = models.StatusProcessing
		req.UpdatedAt = q.clock
		q.claimed[req.ID] = true
		c := *req
		out = append(out, &c)
	}
	return out, nil
}

func (q *memQueue) Touch(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.items[id]
	if !ok || req.Status != models.StatusProcessing {
		return false, nil
	}
	req.UpdatedAt = q.clock
	return true, nil
}

func (q *memQueue) MarkSent(_ context.Context, id string, meta map[string]interface{}) (*models.DeliveryLogEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.items[id]
	if !ok || req.Status != models.StatusProcessing {
		return nil, queue.ErrNotClaimed
	}
	req.Status = models.StatusSent
	req.UpdatedAt = q.clock
	return q.appendLog(req, meta), nil
}

func (q *memQueue) MarkFailed(_ context.Context, id string, cause error, outcome queue.Outcome) (queue.State, *models.DeliveryLogEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.items[id]
	if !ok {
		return queue.State{}, nil, errors.NewNotFoundError("notification", id)
	}
	cur := queue.State{Status: req.Status, Attempts: req.Attempts, ScheduledFor: req.ScheduledFor}
	if req.Status != models.StatusProcessing {
		return cur, nil, queue.ErrNotClaimed
	}
	next := q.policy.NextState(cur, outcome, q.clock)
	msg := cause.Error()
	req.Status, req.Attempts, req.ScheduledFor = next.Status, next.Attempts, next.ScheduledFor
	req.LastError = &msg
	req.UpdatedAt = q.clock

	var entry *models.DeliveryLogEntry
	if next.Status == models.StatusFailed {
		entry = q.appendLog(req, nil)
	}
	return next, entry, nil
}

func (q *memQueue) ReapStale(_ context.Context, staleAfter time.Duration) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	for _, id := range q.order {
		req := q.items[id]
		if req.Status == models.StatusProcessing && req.UpdatedAt.Before(q.clock.Add(-staleAfter)) {
			req.Status = models.StatusPending
			req.UpdatedAt = q.clock
			ids = append(ids, id)
		}
	}
	return ids, nil
}
