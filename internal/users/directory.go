// Package users reads recipient records and notification preferences.
package users

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/lib/pq"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/models"
)

const (
	getUserSQL = `
SELECT username, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(email, ''), COALESCE(phone, ''),
       COALESCE(location, ''), COALESCE(occupation, ''), COALESCE(birth_month, 0), COALESCE(birth_year, 0),
       COALESCE(device_token, ''), COALESCE(status, '')
FROM users WHERE username = $1`

	getPreferencesSQL = `
SELECT username, quiet_enabled, quiet_start, quiet_end, COALESCE(timezone, ''), quiet_exceptions
FROM notification_preferences WHERE username = $1`
)

type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// Get returns the stored user. PII fields are returned as stored, possibly encrypted.
func (d *Directory) Get(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := d.db.QueryRowContext(ctx, getUserSQL, username).Scan(
		&u.Username, &u.FirstName, &u.LastName, &u.Email, &u.Phone,
		&u.Location, &u.Occupation, &u.BirthMonth, &u.BirthYear,
		&u.DeviceToken, &u.Status,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("user", username)
	}
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("get user", err)
	}
	return &u, nil
}

// Preferences returns nil without error when the user has no preferences row.
func (d *Directory) Preferences(ctx context.Context, username string) (*models.Preferences, error) {
	var (
		p          models.Preferences
		exceptions pq.StringArray
	)
	err := d.db.QueryRowContext(ctx, getPreferencesSQL, username).Scan(
		&p.Username, &p.QuietEnabled, &p.QuietStart, &p.QuietEnd, &p.Timezone, &exceptions,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("get preferences", err)
	}
	p.QuietExceptions = []string(exceptions)
	return &p, nil
}
