package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/models"
	"notification-pipeline/internal/pii"
	"notification-pipeline/internal/queue"
)

var (
	testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	testKey = base64.URLEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
)

type finderFunc func(trigger string, channel models.Channel) (*models.Template, error)

func (f finderFunc) Find(_ context.Context, trigger string, channel models.Channel) (*models.Template, error) {
	return f(trigger, channel)
}

func staticTemplate(body string) finderFunc {
	return func(trigger string, channel models.Channel) (*models.Template, error) {
		return &models.Template{Trigger: trigger, Channel: channel, Body: body, Enabled: true, Priority: models.PriorityMedium}, nil
	}
}

type users map[string]*models.User

func (u users) Get(_ context.Context, username string) (*models.User, error) {
	if user, ok := u[username]; ok {
		return user, nil
	}
	return nil, errors.NewNotFoundError("user", username)
}

type recordingTransport struct {
	mu       sync.Mutex
	sent     []Message
	failures int
	err      error
}

func (r *recordingTransport) Send(_ context.Context, msg Message) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return Receipt{}, r.err
	}
	r.sent = append(r.sent, msg)
	return Receipt{Provider: "test", MessageID: "m-" + msg.NotificationID}, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []*models.DeliveryLogEntry
}

func (a *recordingAudit) Index(_ context.Context, e *models.DeliveryLogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func encrypted(t *testing.T, plaintext string) string {
	t.Helper()
	token, err := pii.Encrypt(testKey, []byte(plaintext), bytes.Repeat([]byte{3}, 16), testNow)
	require.NoError(t, err)
	return token
}

type harness struct {
	queue     *memQueue
	transport *recordingTransport
	audit     *recordingAudit
	worker    *Worker
}

func newHarness(t *testing.T, finder finderFunc, directory users) *harness {
	t.Helper()
	dec, err := pii.NewDecryptor([]string{testKey})
	require.NoError(t, err)

	h := &harness{
		queue:     newMemQueue(testNow),
		transport: &recordingTransport{err: stderrors.New("connection reset by peer")},
		audit:     &recordingAudit{},
	}
	h.worker = NewWorker(Config{Channel: models.ChannelEmail, BatchSize: 10}, Dependencies{
		Queue:     h.queue,
		Templates: finder,
		Contacts:  NewContactResolver(directory, dec),
		Transport: h.transport,
		Audit:     h.audit,
		Logger:    logger.NewTestLogger(t),
	})
	return h
}

func defaultUsers(t *testing.T) users {
	return users{
		"alice": {Username: "alice", FirstName: "Alice", Email: encrypted(t, "alice@example.com")},
		"bob":   {Username: "bob", FirstName: "Bob", Email: "bob@example.com"},
	}
}

func favorited(id, recipient string) *models.NotificationRequest {
	return &models.NotificationRequest{
		ID:                id,
		Trigger:           "favorited",
		Channel:           models.ChannelEmail,
		RecipientUsername: recipient,
		TemplateData: models.TemplateData{
			"recipient": map[string]interface{}{"firstName": "Alice"},
			"actor":     map[string]interface{}{"firstName": "Bob"},
		},
	}
}

func TestWorker_HappyPath(t *testing.T) {
	h := newHarness(t, staticTemplate("Hi {recipient.firstName}, {actor.firstName} favorited you!"), defaultUsers(t))
	h.queue.add(favorited("n-1", "alice"))

	res, err := h.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Claimed: 1, Sent: 1}, res)

	req := h.queue.get("n-1")
	assert.Equal(t, models.StatusSent, req.Status)
	assert.Equal(t, 0, req.Attempts)

	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, "Hi Alice, Bob favorited you!", h.transport.sent[0].Body)
	assert.Equal(t, "alice@example.com", h.transport.sent[0].To)

	sent := h.queue.logsWithStatus(models.StatusSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "test", sent[0].ProviderMetadata["provider"])
	assert.Equal(t, sent, h.audit.entries)
}

func TestWorker_MissingTemplateFailsWithoutClaim(t *testing.T) {
	h := newHarness(t, staticTemplate("x"), defaultUsers(t))
	h.queue.routable = func(trigger string, _ models.Channel) bool { return trigger != "favorited" }
	h.queue.add(favorited("n-1", "alice"))

	res, err := h.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unroutable)
	assert.Equal(t, 0, res.Claimed)

	req := h.queue.get("n-1")
	assert.Equal(t, models.StatusFailed, req.Status)
	assert.Equal(t, 1, req.Attempts)
	require.NotNil(t, req.LastError)
	assert.Equal(t, "template missing", *req.LastError)
	assert.False(t, h.queue.claimed["n-1"], "never entered processing")
	assert.Len(t, h.audit.entries, 1)
	assert.Empty(t, h.transport.sent)
}

func TestWorker_TemplateDisabledAfterClaimIsPermanent(t *testing.T) {
	finder := finderFunc(func(trigger string, channel models.Channel) (*models.Template, error) {
		return &models.Template{Trigger: trigger, Channel: channel, Body: "x", Enabled: false}, nil
	})
	h := newHarness(t, finder, defaultUsers(t))
	h.queue.add(favorited("n-1", "alice"))

	res, err := h.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	req := h.queue.get("n-1")
	assert.Equal(t, models.StatusFailed, req.Status)
	assert.Equal(t, 1, req.Attempts)
	assert.Contains(t, *req.LastError, "template missing")
}

func TestWorker_TransportFlakiness(t *testing.T) {
	h := newHarness(t, staticTemplate("hello"), defaultUsers(t))
	h.transport.failures = 2
	h.queue.add(favorited("n-1", "alice"))

	ctx := context.Background()
	res, err := h.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	first := h.queue.get("n-1")
	assert.Equal(t, models.StatusPending, first.Status)
	assert.Equal(t, testNow.Add(5*time.Minute), first.ScheduledFor)

	// not due yet
	res, err = h.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed)

	h.queue.advance(5 * time.Minute)
	_, err = h.worker.Tick(ctx)
	require.NoError(t, err)
	second := h.queue.get("n-1")
	assert.Equal(t, 2, second.Attempts)
	assert.True(t, second.ScheduledFor.After(first.ScheduledFor))

	h.queue.advance(15 * time.Minute)
	res, err = h.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	final := h.queue.get("n-1")
	assert.Equal(t, models.StatusSent, final.Status)
	assert.Equal(t, 2, final.Attempts)
	assert.Len(t, h.queue.logsWithStatus(models.StatusSent), 1)
	assert.Empty(t, h.queue.logsWithStatus(models.StatusFailed))
}

func TestWorker_RetriesExhausted(t *testing.T) {
	h := newHarness(t, staticTemplate("hello"), defaultUsers(t))
	h.transport.failures = 10
	h.queue.add(favorited("n-1", "alice"))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.worker.Tick(ctx)
		require.NoError(t, err)
		h.queue.advance(time.Hour)
	}

	req := h.queue.get("n-1")
	assert.Equal(t, models.StatusFailed, req.Status)
	assert.Equal(t, 3, req.Attempts)
	failed := h.queue.logsWithStatus(models.StatusFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, *failed[0].Error, "connection reset by peer")
}

func TestWorker_ContactFailuresAreRetryable(t *testing.T) {
	directory := defaultUsers(t)
	directory["carol"] = &models.User{Username: "carol", Email: pii.Prefix + "corrupted"}
	directory["dave"] = &models.User{Username: "dave"}

	h := newHarness(t, staticTemplate("hello"), directory)
	h.queue.add(favorited("n-decrypt", "carol"))
	h.queue.add(favorited("n-empty", "dave"))
	h.queue.add(favorited("n-unknown", "ghost"))
	h.queue.add(favorited("n-ok", "bob"))

	res, err := h.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Claimed: 4, Sent: 1, Retried: 3}, res)

	assert.Contains(t, *h.queue.get("n-decrypt").LastError, string(errors.ErrCodeDecryptFailed))
	assert.Contains(t, *h.queue.get("n-empty").LastError, string(errors.ErrCodeContactUnavailable))
	assert.Contains(t, *h.queue.get("n-unknown").LastError, string(errors.ErrCodeContactUnavailable))
	assert.NotContains(t, *h.queue.get("n-decrypt").LastError, "corrupted")
	assert.Equal(t, models.StatusSent, h.queue.get("n-ok").Status)
}

func TestWorker_TransportTimeout(t *testing.T) {
	h := newHarness(t, staticTemplate("hello"), defaultUsers(t))
	h.worker.transport = TransportFunc(func(ctx context.Context, _ Message) (Receipt, error) {
		<-ctx.Done()
		return Receipt{}, ctx.Err()
	})
	h.worker.cfg.SendTimeout = 20 * time.Millisecond
	h.queue.add(favorited("n-1", "alice"))

	_, err := h.worker.Tick(context.Background())
	require.NoError(t, err)

	req := h.queue.get("n-1")
	assert.Equal(t, models.StatusPending, req.Status)
	assert.True(t, strings.Contains(*req.LastError, string(errors.ErrCodeTransportTimeout)))
}

func TestWorker_PriorityOrder(t *testing.T) {
	h := newHarness(t, staticTemplate("{actor.firstName}"), defaultUsers(t))
	for i, p := range []models.Priority{models.PriorityLow, models.PriorityCritical, models.PriorityMedium, models.PriorityHigh} {
		req := favorited(string(rune('a'+i)), "bob")
		req.Priority = p
		h.queue.add(req)
	}

	_, err := h.worker.Tick(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, m := range h.transport.sent {
		ids = append(ids, m.NotificationID)
	}
	assert.Equal(t, []string{"b", "d", "c", "a"}, ids)
}

func TestReaper_RequeuesStaleClaims(t *testing.T) {
	h := newHarness(t, staticTemplate("hello"), defaultUsers(t))
	h.queue.add(favorited("n-1", "alice"))

	// a tick that crashed after claiming
	_, err := h.queue.ClaimBatch(context.Background(), models.ChannelEmail, 10, true)
	require.NoError(t, err)

	reaper := NewReaper(h.queue, 10*time.Minute, time.Minute, logger.NewTestLogger(t))
	h.queue.advance(5 * time.Minute)
	require.NoError(t, reaper.Run(context.Background()))
	assert.Equal(t, models.StatusProcessing, h.queue.get("n-1").Status)

	h.queue.advance(6 * time.Minute)
	require.NoError(t, reaper.Run(context.Background()))
	assert.Equal(t, models.StatusPending, h.queue.get("n-1").Status)

	res, err := h.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestWorker_LongBatchKeepsClaims(t *testing.T) {
	h := newHarness(t, staticTemplate("hello"), defaultUsers(t))
	for _, id := range []string{"n-1", "n-2", "n-3"} {
		h.queue.add(favorited(id, "bob"))
	}

	// every send takes six minutes while a reaper with a ten minute
	// threshold runs alongside
	var sent []string
	h.worker.transport = TransportFunc(func(ctx context.Context, msg Message) (Receipt, error) {
		h.queue.advance(6 * time.Minute)
		_, err := h.queue.ReapStale(ctx, 10*time.Minute)
		require.NoError(t, err)
		sent = append(sent, msg.NotificationID)
		return Receipt{Provider: "test"}, nil
	})

	res, err := h.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Claimed: 3, Sent: 2}, res)
	assert.Equal(t, models.StatusSent, h.queue.get("n-2").Status)
	assert.Equal(t, models.StatusPending, h.queue.get("n-3").Status)

	res, err = h.worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	assert.Equal(t, []string{"n-1", "n-2", "n-3"}, sent)
	assert.Len(t, h.queue.logsWithStatus(models.StatusSent), 3)
}

func TestMemQueue_ConcurrentClaimsAreExclusive(t *testing.T) {
	q := newMemQueue(testNow)
	for i := 0; i < 50; i++ {
		q.add(favorited(fmt.Sprintf("n-%02d", i), "bob"))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := q.ClaimBatch(context.Background(), models.ChannelEmail, 7, true)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, req := range batch {
					seen[req.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

type fakePurger struct {
	queueRetention, logRetention, eventRetention time.Duration
	err                                          error
}

func (f *fakePurger) Purge(_ context.Context, q, l time.Duration) (queue.PurgeResult, error) {
	f.queueRetention, f.logRetention = q, l
	return queue.PurgeResult{Requests: 2, LogEntries: 5}, f.err
}

func (f *fakePurger) PurgeEvents(_ context.Context, retention time.Duration) (int64, error) {
	f.eventRetention = retention
	return 7, nil
}

func TestJanitor_Run(t *testing.T) {
	p := &fakePurger{}
	j := NewJanitor(p, p, DefaultRetention(), 0, logger.NewTestLogger(t))

	require.NoError(t, j.Run(context.Background()))
	assert.Equal(t, 30*24*time.Hour, p.queueRetention)
	assert.Equal(t, 90*24*time.Hour, p.logRetention)
	assert.Equal(t, 90*24*time.Hour, p.eventRetention)
	assert.Equal(t, time.Hour, j.Interval())

	p.err = errors.NewDatabaseQueryFailedError("purge queue", stderrors.New("down"))
	assert.Error(t, j.Run(context.Background()))
}
