package tracking

import (
	"math"
	"time"
)

type Click struct {
	LinkType  string    `json:"link_type"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// Analytics is the engagement report of one notification.
type Analytics struct {
	TrackingID     string     `json:"tracking_id"`
	Opened         bool       `json:"opened"`
	OpenCount      int        `json:"open_count"`
	UniqueOpens    int        `json:"unique_opens"`
	FirstOpened    *time.Time `json:"first_opened"`
	ClickCount     int        `json:"click_count"`
	Clicks         []Click    `json:"clicks"`
	EngagementRate float64    `json:"engagement_rate"`
}

// Summary aggregates email engagement over a period.
type Summary struct {
	PeriodDays         int     `json:"period_days"`
	TotalEmailsSent    int64   `json:"total_emails_sent"`
	TotalOpens         int64   `json:"total_opens"`
	TotalClicks        int64   `json:"total_clicks"`
	UniqueEmailsOpened int64   `json:"unique_emails_opened"`
	OpenRate           float64 `json:"open_rate"`
	ClickThroughRate   float64 `json:"click_through_rate"`
	EngagementRate     float64 `json:"engagement_rate"`
}

// percent returns num/den as a percentage rounded to two decimals, or 0 when
// den is zero.
func percent(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(num/den*10000) / 100
}

func (a *Analytics) finish(sent bool) {
	a.Opened = a.OpenCount > 0 || a.UniqueOpens > 0
	a.ClickCount = len(a.Clicks)
	var den float64
	if sent {
		den = 1
	}
	a.EngagementRate = percent(float64(a.UniqueOpens+a.ClickCount), den)
}

func (s *Summary) finish() {
	sent := float64(s.TotalEmailsSent)
	s.OpenRate = percent(float64(s.UniqueEmailsOpened), sent)
	s.ClickThroughRate = percent(float64(s.TotalClicks), float64(s.UniqueEmailsOpened))
	s.EngagementRate = percent(float64(s.TotalOpens+s.TotalClicks), sent)
}

// ClampDays bounds the summary period to 1..365 days.
func ClampDays(days int) int {
	switch {
	case days < 1:
		return 1
	case days > 365:
		return 365
	}
	return days
}
