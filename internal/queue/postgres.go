// Package queue is the Postgres-backed notification queue.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"notification-pipeline/internal/common/database"
	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/models"
)

// ErrNotClaimed is returned when an outcome is recorded for a request that is
// no longer in processing, e.g. because the reaper requeued it.
var ErrNotClaimed = stderrors.New("notification is not in processing")

// quiet hours are filtered after the row lock, so a claim reads pages of
// limit*scanFactor rows until the batch is full or the due rows run out
const defaultScanFactor = 4

const requestColumns = `q.id, q.trigger, q.channel, q.recipient_username, q.template_data, q.priority,
       q.status, q.attempts, q.scheduled_for, q.created_at, q.updated_at, q.last_error, q.open_count`

const priorityOrder = `CASE q.priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END`

const (
	insertRequestSQL = `
INSERT INTO notification_queue
    (id, trigger, channel, recipient_username, template_data, priority, status, attempts, scheduled_for, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, $7, $8, $8)`

	claimSelectSQL = `
SELECT ` + requestColumns + `,
       p.quiet_enabled, p.quiet_start, p.quiet_end, p.timezone, p.quiet_exceptions
FROM notification_queue q
LEFT JOIN notification_preferences p ON p.username = q.recipient_username
WHERE q.channel = $1 AND q.status = 'pending' AND q.scheduled_for <= $2
ORDER BY ` + priorityOrder + `, q.created_at ASC
LIMIT $3 OFFSET $4
FOR UPDATE OF q SKIP LOCKED`

	claimUpdateSQL = `
UPDATE notification_queue SET status = 'processing', updated_at = $1
WHERE id = ANY($2) AND status = 'pending'`

	failUnroutableSQL = `
WITH unroutable AS (
    UPDATE notification_queue q
       SET status = 'failed', attempts = q.attempts + 1, last_error = $3, updated_at = $2
     WHERE q.channel = $1 AND q.status = 'pending' AND q.scheduled_for <= $2
       AND NOT EXISTS (
           SELECT 1 FROM notification_templates t
            WHERE t.trigger = q.trigger AND t.channel = q.channel AND t.enabled)
    RETURNING q.id, q.trigger, q.channel, q.recipient_username, q.attempts
)
INSERT INTO delivery_log (notification_id, trigger, channel, recipient_username, status, attempts, error, created_at)
SELECT id, trigger, channel, recipient_username, 'failed', attempts, $3, $2 FROM unroutable
RETURNING id, notification_id, trigger, recipient_username, attempts`

	markSentSQL = `
UPDATE notification_queue SET status = 'sent', last_error = NULL, updated_at = $2
WHERE id = $1 AND status = 'processing'
RETURNING trigger, channel, recipient_username, attempts`

	touchSQL = `
UPDATE notification_queue SET updated_at = $2
WHERE id = $1 AND status = 'processing'`

	lockRequestSQL = `
SELECT trigger, channel, recipient_username, status, attempts, scheduled_for
FROM notification_queue WHERE id = $1 FOR UPDATE`

	markFailedSQL = `
UPDATE notification_queue
SET status = $2, attempts = $3, scheduled_for = $4, last_error = $5, updated_at = $6
WHERE id = $1`

	insertLogSQL = `
INSERT INTO delivery_log
    (notification_id, trigger, channel, recipient_username, status, attempts, error, provider_metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`

	reapSQL = `
UPDATE notification_queue SET status = 'pending', updated_at = $1
WHERE status = 'processing' AND updated_at < $2
RETURNING id`

	purgeQueueSQL = `DELETE FROM notification_queue WHERE status IN ('sent', 'failed') AND updated_at < $1`
	purgeLogSQL   = `DELETE FROM delivery_log WHERE created_at < $1`

	cancelPendingSQL = `
DELETE FROM notification_queue
WHERE recipient_username = $1 AND trigger = $2 AND status = 'pending'
  AND template_data->'actor'->>'username' = $3`

	getRequestSQL = `SELECT ` + requestColumns + ` FROM notification_queue q WHERE q.id = $1`

	pendingByChannelSQL = `
SELECT ` + requestColumns + `
FROM notification_queue q
WHERE q.channel = $1 AND q.status = 'pending'
ORDER BY ` + priorityOrder + `, q.created_at ASC
LIMIT $2`
)

type Queue struct {
	db         *sql.DB
	policy     Policy
	now        func() time.Time
	scanFactor int
}

func New(db *sql.DB, policy Policy) *Queue {
	return &Queue{
		db:         db,
		policy:     policy,
		now:        func() time.Time { return time.Now().UTC() },
		scanFactor: defaultScanFactor,
	}
}

// WithClock replaces the queue's clock. Used by tests and the reaper.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

func (q *Queue) Policy() Policy {
	return q.policy
}

// Enqueue inserts req as pending and returns its id. Missing ids are generated,
// a zero ScheduledFor means now, and a missing priority means medium.
func (q *Queue) Enqueue(ctx context.Context, req *models.NotificationRequest) (string, error) {
	if req.Trigger == "" || req.RecipientUsername == "" || !req.Channel.Valid() {
		return "", errors.NewTemplateDataInvalidError("trigger, recipient and a valid channel are required")
	}

	now := q.now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.ScheduledFor.IsZero() {
		req.ScheduledFor = now
	}
	if !req.Priority.Valid() {
		req.Priority = models.PriorityMedium
	}
	if req.TemplateData == nil {
		req.TemplateData = models.TemplateData{}
	}

	payload, err := json.Marshal(req.TemplateData)
	if err != nil {
		return "", errors.NewTemplateDataInvalidError(err.Error())
	}

	_, err = q.db.ExecContext(ctx, insertRequestSQL,
		req.ID, req.Trigger, string(req.Channel), req.RecipientUsername, payload,
		string(req.Priority), req.ScheduledFor, now)
	if err != nil {
		return "", errors.NewDatabaseQueryFailedError("enqueue", err)
	}

	req.Status = models.StatusPending
	req.Attempts = 0
	req.CreatedAt = now
	req.UpdatedAt = now
	return req.ID, nil
}

// ClaimBatch moves up to limit due pending requests of channel to processing
// in one transaction. Rows are locked with SKIP LOCKED, so overlapping claims
// never return the same id. Requests suppressed by quiet hours stay pending.
func (q *Queue) ClaimBatch(ctx context.Context, channel models.Channel, limit int, respectQuietHours bool) ([]*models.NotificationRequest, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := q.now()
	fetch := limit
	if respectQuietHours {
		fetch = limit * q.scanFactor
	}

	var claimed []*models.NotificationRequest
	err := database.WithTx(ctx, q.db, func(tx *sql.Tx) error {
		// rows locked by this transaction are not skipped, so offsets stay stable
		for offset := 0; len(claimed) < limit; offset += fetch {
			page, scanned, err := claimPage(ctx, tx, channel, now, fetch, offset, respectQuietHours)
			if err != nil {
				return err
			}
			for _, req := range page {
				if len(claimed) < limit {
					claimed = append(claimed, req)
				}
			}
			if scanned < fetch {
				break
			}
		}

		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, len(claimed))
		for i, req := range claimed {
			ids[i] = req.ID
		}
		if _, err := tx.ExecContext(ctx, claimUpdateSQL, now, pq.Array(ids)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("claim batch", err)
	}

	for _, req := range claimed {
		req.Status = models.StatusProcessing
		req.UpdatedAt = now
	}
	SortByPriority(claimed)
	return claimed, nil
}

// claimPage locks one page of due rows and returns the ones not suppressed by
// quiet hours, plus how many rows the page held.
func claimPage(ctx context.Context, tx *sql.Tx, channel models.Channel, now time.Time, size, offset int, respectQuietHours bool) ([]*models.NotificationRequest, int, error) {
	rows, err := tx.QueryContext(ctx, claimSelectSQL, string(channel), now, size, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		page    []*models.NotificationRequest
		scanned int
	)
	for rows.Next() {
		req, prefs, err := scanClaimRow(rows)
		if err != nil {
			return nil, 0, err
		}
		scanned++
		if respectQuietHours && Suppressed(prefs, req.Trigger, req.Priority, now) {
			continue
		}
		page = append(page, req)
	}
	return page, scanned, rows.Err()
}

// SortByPriority orders requests critical first, then by creation time.
func SortByPriority(reqs []*models.NotificationRequest) {
	sort.SliceStable(reqs, func(i, j int) bool {
		ri, rj := reqs[i].Priority.Rank(), reqs[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

// Touch refreshes the claim on a processing request so the reaper leaves it
// alone while it is being delivered. It reports false when the request is no
// longer in processing.
func (q *Queue) Touch(ctx context.Context, id string) (bool, error) {
	r, err := q.db.ExecContext(ctx, touchSQL, id, q.now())
	if err != nil {
		return false, errors.NewDatabaseQueryFailedError("touch", err)
	}
	n, _ := r.RowsAffected()
	return n > 0, nil
}

// FailUnroutable fails every due pending request of channel that has no
// enabled template, without claiming it, and logs each terminal transition.
func (q *Queue) FailUnroutable(ctx context.Context, channel models.Channel) ([]*models.DeliveryLogEntry, error) {
	now := q.now()
	reason := errors.NewTemplateNotFoundError("", string(channel)).Message

	rows, err := q.db.QueryContext(ctx, failUnroutableSQL, string(channel), now, reason)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("fail unroutable", err)
	}
	defer rows.Close()

	var entries []*models.DeliveryLogEntry
	for rows.Next() {
		entry := &models.DeliveryLogEntry{
			Channel:   channel,
			Status:    models.StatusFailed,
			Error:     &reason,
			CreatedAt: now,
		}
		if err := rows.Scan(&entry.ID, &entry.NotificationID, &entry.Trigger, &entry.RecipientUsername, &entry.Attempts); err != nil {
			return nil, errors.NewDatabaseQueryFailedError("fail unroutable", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseQueryFailedError("fail unroutable", err)
	}
	return entries, nil
}

// MarkSent completes a claimed request and appends its delivery log entry.
// It returns ErrNotClaimed, and writes no log, when the request is not processing.
func (q *Queue) MarkSent(ctx context.Context, id string, providerMetadata map[string]interface{}) (*models.DeliveryLogEntry, error) {
	now := q.now()
	meta, err := encodeMetadata(providerMetadata)
	if err != nil {
		return nil, err
	}

	var entry *models.DeliveryLogEntry
	err = database.WithTx(ctx, q.db, func(tx *sql.Tx) error {
		e := &models.DeliveryLogEntry{
			NotificationID:   id,
			Status:           models.StatusSent,
			ProviderMetadata: providerMetadata,
			CreatedAt:        now,
		}
		var channel string
		err := tx.QueryRowContext(ctx, markSentSQL, id, now).
			Scan(&e.Trigger, &channel, &e.RecipientUsername, &e.Attempts)
		if err != nil {
			return err
		}
		e.Channel = models.Channel(channel)

		if err := insertLog(ctx, tx, e, meta); err != nil {
			return err
		}
		entry = e
		return nil
	})
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotClaimed
	}
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("mark sent", err)
	}
	return entry, nil
}

// MarkFailed records a failed attempt through the state machine. The log entry
// is non-nil only when the request reached failed.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error, outcome Outcome) (State, *models.DeliveryLogEntry, error) {
	now := q.now()
	var (
		next  State
		entry *models.DeliveryLogEntry
	)

	var lastError *string
	if cause != nil {
		msg := cause.Error()
		lastError = &msg
	}

	err := database.WithTx(ctx, q.db, func(tx *sql.Tx) error {
		var (
			trigger, channel, recipient, status string
			cur                                 State
		)
		err := tx.QueryRowContext(ctx, lockRequestSQL, id).
			Scan(&trigger, &channel, &recipient, &status, &cur.Attempts, &cur.ScheduledFor)
		if err != nil {
			return err
		}
		cur.Status = models.Status(status)
		if cur.Status != models.StatusProcessing {
			next = cur
			return ErrNotClaimed
		}

		next = q.policy.NextState(cur, outcome, now)
		if _, err := tx.ExecContext(ctx, markFailedSQL,
			id, string(next.Status), next.Attempts, next.ScheduledFor, lastError, now); err != nil {
			return err
		}

		if next.Status != models.StatusFailed {
			return nil
		}
		e := &models.DeliveryLogEntry{
			NotificationID:    id,
			Trigger:           trigger,
			Channel:           models.Channel(channel),
			RecipientUsername: recipient,
			Status:            models.StatusFailed,
			Attempts:          next.Attempts,
			Error:             lastError,
			CreatedAt:         now,
		}
		if err := insertLog(ctx, tx, e, nil); err != nil {
			return err
		}
		entry = e
		return nil
	})
	switch {
	case stderrors.Is(err, ErrNotClaimed):
		return next, nil, ErrNotClaimed
	case stderrors.Is(err, sql.ErrNoRows):
		return State{}, nil, errors.NewNotFoundError("notification", id)
	case err != nil:
		return State{}, nil, errors.NewDatabaseQueryFailedError("mark failed", err)
	}
	return next, entry, nil
}

func insertLog(ctx context.Context, tx *sql.Tx, e *models.DeliveryLogEntry, meta []byte) error {
	var metaArg interface{}
	if meta != nil {
		metaArg = meta
	}
	return tx.QueryRowContext(ctx, insertLogSQL,
		e.NotificationID, e.Trigger, string(e.Channel), e.RecipientUsername,
		string(e.Status), e.Attempts, e.Error, metaArg, e.CreatedAt,
	).Scan(&e.ID)
}

func encodeMetadata(meta map[string]interface{}) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.NewTemplateDataInvalidError("provider metadata: " + err.Error())
	}
	return b, nil
}

// ReapStale returns processing requests untouched for longer than staleAfter to pending.
func (q *Queue) ReapStale(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	now := q.now()
	rows, err := q.db.QueryContext(ctx, reapSQL, now, now.Add(-staleAfter))
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("reap stale", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewDatabaseQueryFailedError("reap stale", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseQueryFailedError("reap stale", err)
	}
	return ids, nil
}

type PurgeResult struct {
	Requests   int64
	LogEntries int64
}

// Purge deletes terminal requests older than queueRetention and delivery log
// entries older than logRetention.
func (q *Queue) Purge(ctx context.Context, queueRetention, logRetention time.Duration) (PurgeResult, error) {
	now := q.now()
	var res PurgeResult

	r, err := q.db.ExecContext(ctx, purgeQueueSQL, now.Add(-queueRetention))
	if err != nil {
		return res, errors.NewDatabaseQueryFailedError("purge queue", err)
	}
	res.Requests, _ = r.RowsAffected()

	r, err = q.db.ExecContext(ctx, purgeLogSQL, now.Add(-logRetention))
	if err != nil {
		return res, errors.NewDatabaseQueryFailedError("purge delivery log", err)
	}
	res.LogEntries, _ = r.RowsAffected()
	return res, nil
}

// CancelPending deletes pending requests of trigger for recipient that were caused by actor.
func (q *Queue) CancelPending(ctx context.Context, recipient, trigger, actor string) (int64, error) {
	r, err := q.db.ExecContext(ctx, cancelPendingSQL, recipient, trigger, actor)
	if err != nil {
		return 0, errors.NewDatabaseQueryFailedError("cancel pending", err)
	}
	n, _ := r.RowsAffected()
	return n, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*models.NotificationRequest, error) {
	req, err := scanRequest(q.db.QueryRowContext(ctx, getRequestSQL, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("notification", id)
	}
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("get notification", err)
	}
	return req, nil
}

// PendingByChannel lists pending requests in claim order without claiming them.
func (q *Queue) PendingByChannel(ctx context.Context, channel models.Channel, limit int) ([]*models.NotificationRequest, error) {
	rows, err := q.db.QueryContext(ctx, pendingByChannelSQL, string(channel), limit)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("pending by channel", err)
	}
	defer rows.Close()

	var out []*models.NotificationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.NewDatabaseQueryFailedError("pending by channel", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseQueryFailedError("pending by channel", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func requestDest(req *models.NotificationRequest, payload *[]byte, channel, priority, status *string, lastError *sql.NullString) []interface{} {
	return []interface{}{
		&req.ID, &req.Trigger, channel, &req.RecipientUsername, payload, priority,
		status, &req.Attempts, &req.ScheduledFor, &req.CreatedAt, &req.UpdatedAt, lastError, &req.OpenCount,
	}
}

func finishRequest(req *models.NotificationRequest, payload []byte, channel, priority, status string, lastError sql.NullString) error {
	req.Channel = models.Channel(channel)
	req.Priority = models.Priority(priority)
	req.Status = models.Status(status)
	if lastError.Valid {
		req.LastError = &lastError.String
	}
	req.TemplateData = models.TemplateData{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req.TemplateData); err != nil {
			return err
		}
	}
	return nil
}

func scanRequest(row rowScanner) (*models.NotificationRequest, error) {
	var (
		req                       models.NotificationRequest
		payload                   []byte
		channel, priority, status string
		lastError                 sql.NullString
	)
	if err := row.Scan(requestDest(&req, &payload, &channel, &priority, &status, &lastError)...); err != nil {
		return nil, err
	}
	if err := finishRequest(&req, payload, channel, priority, status, lastError); err != nil {
		return nil, err
	}
	return &req, nil
}

func scanClaimRow(row rowScanner) (*models.NotificationRequest, *models.Preferences, error) {
	var (
		req                       models.NotificationRequest
		payload                   []byte
		channel, priority, status string
		lastError                 sql.NullString
		quietEnabled              sql.NullBool
		quietStart, quietEnd, tz  sql.NullString
		exceptions                pq.StringArray
	)
	dest := append(requestDest(&req, &payload, &channel, &priority, &status, &lastError),
		&quietEnabled, &quietStart, &quietEnd, &tz, &exceptions)
	if err := row.Scan(dest...); err != nil {
		return nil, nil, err
	}
	if err := finishRequest(&req, payload, channel, priority, status, lastError); err != nil {
		return nil, nil, err
	}

	if !quietEnabled.Valid {
		return &req, nil, nil
	}
	prefs := &models.Preferences{
		Username:        req.RecipientUsername,
		QuietEnabled:    quietEnabled.Bool,
		QuietStart:      quietStart.String,
		QuietEnd:        quietEnd.String,
		Timezone:        tz.String,
		QuietExceptions: []string(exceptions),
	}
	return &req, prefs, nil
}
