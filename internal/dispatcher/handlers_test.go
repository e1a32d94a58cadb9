package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"notification-pipeline/internal/models"
)

func TestStatusChangedTransitions(t *testing.T) {
	tests := []struct {
		old, new     string
		wantTrigger  string
		wantPriority models.Priority
	}{
		{old: "pending_admin_approval", new: "active", wantTrigger: "status_approved", wantPriority: models.PriorityHigh},
		{old: "pending_email_verification", new: "active", wantTrigger: "status_approved", wantPriority: models.PriorityHigh},
		{old: "suspended", new: "active", wantTrigger: "status_reactivated", wantPriority: models.PriorityHigh},
		{old: "deactivated", new: "active", wantTrigger: "status_reactivated", wantPriority: models.PriorityMedium},
		{old: "active", new: "suspended", wantTrigger: "status_suspended", wantPriority: models.PriorityHigh},
		{old: "paused", new: "banned", wantTrigger: "status_banned", wantPriority: models.PriorityCritical},
		{old: "active", new: "paused", wantTrigger: "status_paused", wantPriority: models.PriorityMedium},
		{old: "active", new: "deactivated"},
		{old: "banned", new: "deleted"},
		{old: "active", new: ""},
	}

	for _, tt := range tests {
		t.Run(tt.old+"->"+tt.new, func(t *testing.T) {
			plan := statusChanged(models.Event{
				Type:     EventStatusChanged,
				Target:   "alice",
				Metadata: map[string]interface{}{"old_status": tt.old, "new_status": tt.new},
			})
			if tt.wantTrigger == "" {
				assert.Empty(t, plan.Targets)
				return
			}
			if assert.Len(t, plan.Targets, 1) {
				assert.Equal(t, tt.wantTrigger, plan.Targets[0].Trigger)
				assert.Equal(t, tt.wantPriority, plan.Targets[0].Priority)
				assert.Empty(t, plan.Targets[0].Actor)
			}
		})
	}
}

func TestHandlerTable(t *testing.T) {
	handlers := defaultHandlers()
	ev := models.Event{Actor: "bob", Target: "alice"}

	tests := []struct {
		eventType string
		trigger   string
		channels  []models.Channel
		priority  models.Priority
	}{
		{EventShortlistAdded, "shortlist_added", emailOnly, ""},
		{EventProfileViewed, "profile_view", pushOnly, ""},
		{EventMessageSent, "new_message", smsPush, models.PriorityHigh},
		{EventPIIRequested, "pii_request", emailSMS, models.PriorityHigh},
		{EventPIIGranted, "pii_granted", emailPush, models.PriorityHigh},
		{EventUserBanned, "account_banned", emailSMS, models.PriorityCritical},
		{EventOTPRequested, "otp_code", otpChannels, models.PriorityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			plan := handlers[tt.eventType](ev)
			if assert.Len(t, plan.Targets, 1) {
				assert.Equal(t, tt.trigger, plan.Targets[0].Trigger)
				assert.Equal(t, tt.channels, plan.Targets[0].Channels)
				assert.Equal(t, tt.priority, plan.Targets[0].Priority)
			}
		})
	}

	assert.Empty(t, handlers[EventUserExcluded](ev).Targets)
	assert.Equal(t, []Cancellation{{Recipient: "alice", Trigger: "shortlist_added", Actor: "bob"}},
		handlers[EventShortlistRemoved](ev).Cancellations)
}
