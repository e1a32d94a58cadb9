// Package templates reads notification templates from Postgres through a Redis cache.
package templates

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/models"
)

const templateColumns = `id, trigger, channel, subject, body, category, priority, enabled, version, updated_at`

const (
	findEnabledSQL = `SELECT ` + templateColumns + `
FROM notification_templates WHERE trigger = $1 AND channel = $2 AND enabled`

	listSQL = `SELECT ` + templateColumns + ` FROM notification_templates ORDER BY trigger, channel`

	upsertSQL = `
INSERT INTO notification_templates (trigger, channel, subject, body, category, priority, enabled, version, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
ON CONFLICT (trigger, channel) DO UPDATE SET
    subject = EXCLUDED.subject,
    body = EXCLUDED.body,
    category = EXCLUDED.category,
    priority = EXCLUDED.priority,
    enabled = EXCLUDED.enabled,
    version = notification_templates.version + 1,
    updated_at = EXCLUDED.updated_at
RETURNING id, version`
)

// Finder resolves the enabled template for (trigger, channel).
type Finder interface {
	Find(ctx context.Context, trigger string, channel models.Channel) (*models.Template, error)
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Find returns the enabled template, or a TEMPLATE_NOT_FOUND error when none exists.
func (s *Store) Find(ctx context.Context, trigger string, channel models.Channel) (*models.Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, findEnabledSQL, trigger, string(channel)))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewTemplateNotFoundError(trigger, string(channel))
	}
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("find template", err)
	}
	return t, nil
}

func (s *Store) List(ctx context.Context) ([]*models.Template, error) {
	rows, err := s.db.QueryContext(ctx, listSQL)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("list templates", err)
	}
	defer rows.Close()

	var out []*models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.NewDatabaseQueryFailedError("list templates", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseQueryFailedError("list templates", err)
	}
	return out, nil
}

// Upsert writes t keyed by (trigger, channel), bumping the version of an existing row.
func (s *Store) Upsert(ctx context.Context, t *models.Template) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, upsertSQL,
		t.Trigger, string(t.Channel), t.Subject, t.Body, t.Category, string(t.Priority), t.Enabled, now,
	).Scan(&t.ID, &t.Version)
	if err != nil {
		return errors.NewDatabaseQueryFailedError("upsert template", err)
	}
	t.UpdatedAt = now
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row rowScanner) (*models.Template, error) {
	var (
		t                 models.Template
		channel, priority string
		subject           sql.NullString
	)
	err := row.Scan(&t.ID, &t.Trigger, &channel, &subject, &t.Body, &t.Category, &priority, &t.Enabled, &t.Version, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Channel = models.Channel(channel)
	t.Priority = models.Priority(priority)
	if subject.Valid {
		t.Subject = &subject.String
	}
	return &t, nil
}
