package delivery

import (
	"context"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/models"
)

type UserDirectory interface {
	Get(ctx context.Context, username string) (*models.User, error)
}

// Revealer decrypts a stored PII value, passing plaintext through.
type Revealer interface {
	Reveal(value string) (string, error)
}

// ContactResolver looks up the address a channel delivers to. The value is
// read at send time, so contact changes after enqueue are honoured.
type ContactResolver struct {
	users UserDirectory
	pii   Revealer
}

func NewContactResolver(users UserDirectory, pii Revealer) *ContactResolver {
	return &ContactResolver{users: users, pii: pii}
}

func contactField(channel models.Channel) string {
	switch channel {
	case models.ChannelEmail:
		return "email"
	case models.ChannelSMS:
		return "phone"
	default:
		return "device_token"
	}
}

func (r *ContactResolver) Resolve(ctx context.Context, username string, channel models.Channel) (string, error) {
	u, err := r.users.Get(ctx, username)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			return "", errors.NewContactUnavailableError(username, contactField(channel))
		}
		return "", err
	}

	var stored string
	switch channel {
	case models.ChannelEmail:
		stored = u.Email
	case models.ChannelSMS:
		stored = u.Phone
	case models.ChannelPush:
		stored = u.DeviceToken
	}
	if stored == "" {
		return "", errors.NewContactUnavailableError(username, contactField(channel))
	}

	value, err := r.pii.Reveal(stored)
	if err != nil {
		return "", errors.NewDecryptFailedError(contactField(channel), err)
	}
	if value == "" {
		return "", errors.NewContactUnavailableError(username, contactField(channel))
	}
	return value, nil
}
