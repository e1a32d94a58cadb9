package dispatcher

import (
	"notification-pipeline/internal/models"
)

// Event types accepted by the dispatcher.
const (
	EventFavoriteAdded    = "favorite_added"
	EventFavoriteRemoved  = "favorite_removed"
	EventShortlistAdded   = "shortlist_added"
	EventShortlistRemoved = "shortlist_removed"
	EventUserExcluded     = "user_excluded"
	EventProfileViewed    = "profile_viewed"
	EventMessageSent      = "message_sent"
	EventUnreadMessages   = "unread_messages"
	EventPIIRequested     = "pii_requested"
	EventPIIGranted       = "pii_granted"
	EventPIIRejected      = "pii_rejected"
	EventUserSuspended    = "user_suspended"
	EventUserBanned       = "user_banned"
	EventSuspiciousLogin  = "suspicious_login"
	EventOTPRequested     = "otp_requested"
	EventStatusChanged    = "status_changed"
)

// Target is one recipient of one trigger. Actor is the user whose details
// fill the actor sub-tree; it is empty for account events.
type Target struct {
	Recipient string
	Actor     string
	Trigger   string
	Channels  []models.Channel
	// Priority overrides the template priority when set.
	Priority models.Priority
}

// Cancellation removes still-pending requests of Trigger sent to Recipient because of Actor.
type Cancellation struct {
	Recipient string
	Trigger   string
	Actor     string
}

type Plan struct {
	Targets       []Target
	Cancellations []Cancellation
}

// Handler maps an event to the notifications it causes. Handlers are pure.
type Handler func(ev models.Event) Plan

var (
	emailOnly   = []models.Channel{models.ChannelEmail}
	pushOnly    = []models.Channel{models.ChannelPush}
	emailPush   = []models.Channel{models.ChannelEmail, models.ChannelPush}
	emailSMS    = []models.Channel{models.ChannelEmail, models.ChannelSMS}
	smsPush     = []models.Channel{models.ChannelSMS, models.ChannelPush}
	allChannels = []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelPush}
	otpChannels = []models.Channel{models.ChannelSMS, models.ChannelEmail}
)

func notifyTarget(trigger string, priority models.Priority, channels []models.Channel) Handler {
	return func(ev models.Event) Plan {
		return Plan{Targets: []Target{{
			Recipient: ev.Target,
			Actor:     ev.Actor,
			Trigger:   trigger,
			Channels:  channels,
			Priority:  priority,
		}}}
	}
}

func notifyAccount(trigger string, priority models.Priority, channels []models.Channel) Handler {
	return func(ev models.Event) Plan {
		return Plan{Targets: []Target{{
			Recipient: ev.Target,
			Trigger:   trigger,
			Channels:  channels,
			Priority:  priority,
		}}}
	}
}

func cancelPending(trigger string) Handler {
	return func(ev models.Event) Plan {
		if ev.Actor == "" {
			return Plan{}
		}
		return Plan{Cancellations: []Cancellation{{Recipient: ev.Target, Trigger: trigger, Actor: ev.Actor}}}
	}
}

func silent(models.Event) Plan { return Plan{} }

func favoriteAdded(ev models.Event) Plan {
	if mutual, _ := ev.Metadata["mutual"].(bool); mutual && ev.Actor != "" {
		return Plan{Targets: []Target{
			{Recipient: ev.Target, Actor: ev.Actor, Trigger: "mutual_favorite", Channels: allChannels, Priority: models.PriorityHigh},
			{Recipient: ev.Actor, Actor: ev.Target, Trigger: "mutual_favorite", Channels: allChannels, Priority: models.PriorityHigh},
		}}
	}
	return notifyTarget("favorited", "", emailPush)(ev)
}

type transitionRule struct {
	trigger  string
	priority models.Priority
	disabled bool
}

// exact old->new rules are consulted before *->new rules
var statusTransitions = map[string]transitionRule{
	"pending_admin_approval->active":     {trigger: "status_approved", priority: models.PriorityHigh},
	"pending_email_verification->active": {trigger: "status_approved", priority: models.PriorityHigh},
	"suspended->active":                  {trigger: "status_reactivated", priority: models.PriorityHigh},
	"paused->active":                     {trigger: "status_reactivated", priority: models.PriorityHigh},
	"deactivated->active":                {trigger: "status_reactivated", priority: models.PriorityMedium},
	"active->deactivated":                {disabled: true},
	"*->suspended":                       {trigger: "status_suspended", priority: models.PriorityHigh},
	"*->banned":                          {trigger: "status_banned", priority: models.PriorityCritical},
	"*->paused":                          {trigger: "status_paused", priority: models.PriorityMedium},
}

func statusChanged(ev models.Event) Plan {
	oldStatus, _ := ev.Metadata["old_status"].(string)
	newStatus, _ := ev.Metadata["new_status"].(string)
	if newStatus == "" {
		return Plan{}
	}

	rule, ok := statusTransitions[oldStatus+"->"+newStatus]
	if !ok {
		rule, ok = statusTransitions["*->"+newStatus]
	}
	if !ok || rule.disabled {
		return Plan{}
	}
	return notifyAccount(rule.trigger, rule.priority, emailOnly)(ev)
}

func defaultHandlers() map[string]Handler {
	return map[string]Handler{
		EventFavoriteAdded:    favoriteAdded,
		EventFavoriteRemoved:  cancelPending("favorited"),
		EventShortlistAdded:   notifyTarget("shortlist_added", "", emailOnly),
		EventShortlistRemoved: cancelPending("shortlist_added"),
		EventUserExcluded:     silent,
		EventProfileViewed:    notifyTarget("profile_view", "", pushOnly),
		EventMessageSent:      notifyTarget("new_message", models.PriorityHigh, smsPush),
		EventUnreadMessages:   notifyTarget("unread_messages", "", emailOnly),
		EventPIIRequested:     notifyTarget("pii_request", models.PriorityHigh, emailSMS),
		EventPIIGranted:       notifyTarget("pii_granted", models.PriorityHigh, emailPush),
		EventPIIRejected:      notifyTarget("pii_rejected", "", emailOnly),
		EventUserSuspended:    notifyAccount("account_suspended", models.PriorityCritical, emailSMS),
		EventUserBanned:       notifyAccount("account_banned", models.PriorityCritical, emailSMS),
		EventSuspiciousLogin:  notifyAccount("suspicious_login", models.PriorityCritical, emailSMS),
		EventOTPRequested:     notifyAccount("otp_code", models.PriorityCritical, otpChannels),
		EventStatusChanged:    statusChanged,
	}
}
