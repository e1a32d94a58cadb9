package dispatcher

import (
	"context"
	stderrors "errors"
	"sync"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/models"
)

type fakeQueue struct {
	mu        sync.Mutex
	enqueued  []*models.NotificationRequest
	cancelled []Cancellation
	failOn    models.Channel
}

func (q *fakeQueue) Enqueue(_ context.Context, req *models.NotificationRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if req.Channel == q.failOn {
		return "", errors.NewDatabaseQueryFailedError("enqueue", stderrors.New("insert failed"))
	}
	if req.ID == "" {
		req.ID = "generated"
	}
	q.enqueued = append(q.enqueued, req)
	return req.ID, nil
}

func (q *fakeQueue) CancelPending(_ context.Context, recipient, trigger, actor string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, Cancellation{Recipient: recipient, Trigger: trigger, Actor: actor})
	return 1, nil
}

type fakeFinder map[string]*models.Template

func (f fakeFinder) Find(_ context.Context, trigger string, channel models.Channel) (*models.Template, error) {
	if t, ok := f[trigger+"/"+string(channel)]; ok {
		return t, nil
	}
	return nil, errors.NewTemplateNotFoundError(trigger, string(channel))
}

type fakeUsers map[string]*models.User

func (f fakeUsers) Get(_ context.Context, username string) (*models.User, error) {
	if u, ok := f[username]; ok {
		return u, nil
	}
	return nil, errors.NewNotFoundError("user", username)
}

type fakeRevealer struct{}

func (fakeRevealer) Reveal(value string) (string, error) {
	if value == "gAAAAAbroken" {
		return "", stderrors.New("invalid token")
	}
	if value == "gAAAAAaustin" {
		return "Austin", nil
	}
	return value, nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, string, models.Priority) bool { return false }

// criticalOnly admits only critical notifications and records what it saw.
type criticalOnly struct {
	seen []models.Priority
}

func (c *criticalOnly) Allow(_ context.Context, _, _ string, priority models.Priority) bool {
	c.seen = append(c.seen, priority)
	return priority == models.PriorityCritical
}
