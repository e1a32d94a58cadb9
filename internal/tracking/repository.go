package tracking

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"notification-pipeline/internal/common/database"
	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/models"
)

const (
	bumpOpenCountSQL = `UPDATE notification_queue SET open_count = open_count + 1 WHERE id = $1`

	insertOpenSQL = `
INSERT INTO tracking_events (notification_id, event_type, client_ip, user_agent, created_at)
SELECT $1, 'open', $2, $3, $4
WHERE NOT EXISTS (
    SELECT 1 FROM tracking_events
     WHERE notification_id = $1 AND event_type = 'open' AND client_ip = $2 AND user_agent = $3)`

	insertClickSQL = `
INSERT INTO tracking_events (notification_id, event_type, client_ip, user_agent, link_type, destination_url, created_at)
VALUES ($1, 'click', $2, $3, $4, $5, $6)`

	notificationStatusSQL = `SELECT status, open_count FROM notification_queue WHERE id = $1`

	eventsForNotificationSQL = `
SELECT event_type, link_type, destination_url, created_at
FROM tracking_events WHERE notification_id = $1
ORDER BY created_at ASC`

	summarySQL = `
SELECT
    (SELECT COUNT(*) FROM delivery_log WHERE channel = 'email' AND status = 'sent' AND created_at >= $1),
    (SELECT COUNT(*) FROM tracking_events WHERE event_type = 'open' AND created_at >= $1),
    (SELECT COUNT(*) FROM tracking_events WHERE event_type = 'click' AND created_at >= $1),
    (SELECT COUNT(DISTINCT notification_id) FROM tracking_events WHERE event_type = 'open' AND created_at >= $1)`

	purgeEventsSQL = `DELETE FROM tracking_events WHERE created_at < $1`
)

// Repository stores tracking events in Postgres.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// RecordOpen counts a pixel hit on the notification and stores an open event
// unless one from the same client already exists. It reports whether an event
// was stored.
func (r *Repository) RecordOpen(ctx context.Context, notificationID, clientIP, userAgent string) (bool, error) {
	var inserted int64
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, bumpOpenCountSQL, notificationID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, insertOpenSQL, notificationID, clientIP, userAgent, r.now())
		if err != nil {
			return err
		}
		inserted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return false, errors.NewDatabaseQueryFailedError("record open", err)
	}
	return inserted > 0, nil
}

func (r *Repository) RecordClick(ctx context.Context, notificationID, clientIP, userAgent, linkType, destination string) error {
	_, err := r.db.ExecContext(ctx, insertClickSQL, notificationID, clientIP, userAgent, linkType, destination, r.now())
	if err != nil {
		return errors.NewDatabaseQueryFailedError("record click", err)
	}
	return nil
}

func (r *Repository) Analytics(ctx context.Context, notificationID string) (*Analytics, error) {
	var status string
	a := &Analytics{TrackingID: notificationID, Clicks: []Click{}}

	err := r.db.QueryRowContext(ctx, notificationStatusSQL, notificationID).Scan(&status, &a.OpenCount)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("notification", notificationID)
	}
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("analytics", err)
	}

	rows, err := r.db.QueryContext(ctx, eventsForNotificationSQL, notificationID)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("analytics", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			eventType         string
			linkType, destURL sql.NullString
			at                time.Time
		)
		if err := rows.Scan(&eventType, &linkType, &destURL, &at); err != nil {
			return nil, errors.NewDatabaseQueryFailedError("analytics", err)
		}
		switch models.TrackingEventType(eventType) {
		case models.TrackingOpen:
			a.UniqueOpens++
			if a.FirstOpened == nil {
				t := at
				a.FirstOpened = &t
			}
		case models.TrackingClick:
			a.Clicks = append(a.Clicks, Click{LinkType: linkType.String, URL: destURL.String, Timestamp: at})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseQueryFailedError("analytics", err)
	}

	a.finish(models.Status(status) == models.StatusSent)
	return a, nil
}

func (r *Repository) Summary(ctx context.Context, days int) (*Summary, error) {
	days = ClampDays(days)
	since := r.now().AddDate(0, 0, -days)

	s := &Summary{PeriodDays: days}
	err := r.db.QueryRowContext(ctx, summarySQL, since).
		Scan(&s.TotalEmailsSent, &s.TotalOpens, &s.TotalClicks, &s.UniqueEmailsOpened)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("summary", err)
	}
	s.finish()
	return s, nil
}

// PurgeEvents deletes tracking events older than retention.
func (r *Repository) PurgeEvents(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, purgeEventsSQL, r.now().Add(-retention))
	if err != nil {
		return 0, errors.NewDatabaseQueryFailedError("purge tracking events", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
