package dispatcher

import (
	"time"

	"notification-pipeline/internal/models"
)

// Age is computed from birth month and year; nil when the year is unknown.
func Age(birthMonth, birthYear int, now time.Time) *int {
	if birthYear <= 0 {
		return nil
	}
	age := now.Year() - birthYear
	if birthMonth > 0 && int(now.Month()) < birthMonth {
		age--
	}
	return &age
}

func recipientTree(u *models.User, username string) map[string]interface{} {
	tree := map[string]interface{}{"username": username}
	if u != nil && u.FirstName != "" {
		tree["firstName"] = u.FirstName
	}
	return tree
}

// actorTree expects a user whose PII fields are already revealed. Unknown
// values are left out so their placeholders stay visible in rendered output.
func actorTree(u *models.User, username string, now time.Time) map[string]interface{} {
	tree := map[string]interface{}{"username": username}
	if u == nil {
		return tree
	}
	put := func(key, value string) {
		if value != "" {
			tree[key] = value
		}
	}
	put("firstName", u.FirstName)
	put("lastName", u.LastName)
	put("location", u.Location)
	put("occupation", u.Occupation)
	if age := Age(u.BirthMonth, u.BirthYear, now); age != nil {
		tree["age"] = *age
	}
	return tree
}

// BuildTemplateData assembles the tree a request is rendered against.
// actor may be nil for account events.
func BuildTemplateData(recipient map[string]interface{}, actor map[string]interface{}, app map[string]interface{}, metadata map[string]interface{}) models.TemplateData {
	data := models.TemplateData{
		"recipient": recipient,
		"app":       app,
	}
	if actor != nil {
		data["actor"] = actor
		// older templates address the actor as match
		data["match"] = actor
	}
	if len(metadata) > 0 {
		data["event"] = metadata
	}
	return data
}
