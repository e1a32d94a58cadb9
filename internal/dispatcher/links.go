package dispatcher

import (
	"fmt"
	"net/url"
	"strings"
)

// LinkBuilder produces the per-notification tracked URLs of the app sub-tree.
type LinkBuilder struct {
	appURL      string
	trackingURL string
}

func NewLinkBuilder(appURL, trackingURL string) LinkBuilder {
	if trackingURL == "" {
		trackingURL = appURL
	}
	return LinkBuilder{
		appURL:      strings.TrimRight(appURL, "/"),
		trackingURL: strings.TrimRight(trackingURL, "/"),
	}
}

func (b LinkBuilder) PixelURL(notificationID string) string {
	return fmt.Sprintf("%s/api/email-tracking/pixel/%s", b.trackingURL, url.PathEscape(notificationID))
}

func (b LinkBuilder) ClickURL(notificationID, destination, linkType string) string {
	return fmt.Sprintf("%s/api/email-tracking/click/%s?url=%s&link_type=%s",
		b.trackingURL, url.PathEscape(notificationID), url.QueryEscape(destination), url.QueryEscape(linkType))
}

// App returns the app sub-tree for one notification. Every tracked URL carries
// the notification id, so engagement is attributable to a single send.
func (b LinkBuilder) App(notificationID, actorUsername string) map[string]interface{} {
	profile := b.appURL + "/dashboard"
	chat := b.appURL + "/messages"
	if actorUsername != "" {
		profile = b.appURL + "/profile/" + url.PathEscape(actorUsername)
		chat = b.appURL + "/messages?user=" + url.QueryEscape(actorUsername)
	}
	settings := b.appURL + "/preferences"

	return map[string]interface{}{
		"appUrl":                 b.appURL,
		"trackingPixelUrl":       b.PixelURL(notificationID),
		"profileUrl_tracked":     b.ClickURL(notificationID, profile, "profile"),
		"chatUrl_tracked":        b.ClickURL(notificationID, chat, "chat"),
		"settingsUrl_tracked":    b.ClickURL(notificationID, settings, "settings"),
		"preferencesUrl_tracked": b.ClickURL(notificationID, settings, "preferences"),
		"unsubscribeUrl_tracked": b.ClickURL(notificationID, b.appURL+"/unsubscribe", "unsubscribe"),
	}
}
