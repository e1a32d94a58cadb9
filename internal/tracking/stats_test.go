package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, percent(5, 0))
	assert.Equal(t, 33.33, percent(1, 3))
	assert.Equal(t, 66.67, percent(2, 3))
	assert.Equal(t, 100.0, percent(4, 4))
}

func TestAnalyticsFinish(t *testing.T) {
	a := &Analytics{OpenCount: 4, UniqueOpens: 2, Clicks: []Click{{}, {}}}
	a.finish(false)
	assert.True(t, a.Opened)
	assert.Equal(t, 2, a.ClickCount)
	assert.Equal(t, 0.0, a.EngagementRate, "unsent notification has no denominator")

	a.finish(true)
	assert.Equal(t, 400.0, a.EngagementRate)

	empty := &Analytics{}
	empty.finish(true)
	assert.False(t, empty.Opened)
	assert.Equal(t, 0.0, empty.EngagementRate)
}

func TestSummaryFinish_ZeroDenominators(t *testing.T) {
	s := &Summary{TotalClicks: 3}
	s.finish()
	assert.Equal(t, 0.0, s.OpenRate)
	assert.Equal(t, 0.0, s.ClickThroughRate)
	assert.Equal(t, 0.0, s.EngagementRate)
}

func TestClampDays(t *testing.T) {
	assert.Equal(t, 1, ClampDays(-4))
	assert.Equal(t, 30, ClampDays(30))
	assert.Equal(t, 365, ClampDays(9999))
}

func TestAllowList(t *testing.T) {
	allow := NewAllowList(" Example.com ", ".links.example.org", "")

	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/a", true},
		{"http://app.example.com", true},
		{"https://EXAMPLE.com:8443/x", true},
		{"https://deep.links.example.org/", true},
		{"https://example.org/", false},
		{"https://badexample.com/", false},
		{"ftp://example.com/", false},
		{"//example.com/", false},
		{"https://example.com.evil.net/", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, allow.Allowed(tt.url))
		})
	}

	assert.Equal(t, []string{"app.example.com", "track.example.com"},
		HostsFromURLs("https://app.example.com/", "https://track.example.com:8080", ""))
}
