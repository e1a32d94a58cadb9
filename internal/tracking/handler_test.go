package tracking

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/common/logger"
)

const (
	testID  = "5f1d7c3e-8a2b-4c6d-9e0f-1a2b3c4d5e6f"
	otherID = "0b6e2a44-91c3-4f7e-8d15-3c2a9b7e6f10"
)

type fakeStore struct {
	opens     map[string]bool
	openHits  int
	clicks    []string
	failWrite bool
	analytics map[string]*Analytics
	reads     int
	days      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{opens: map[string]bool{}, analytics: map[string]*Analytics{}}
}

func (f *fakeStore) RecordOpen(_ context.Context, id, ip, ua string) (bool, error) {
	if f.failWrite {
		return false, stderrors.New("db down")
	}
	f.openHits++
	key := id + "|" + ip + "|" + ua
	if f.opens[key] {
		return false, nil
	}
	f.opens[key] = true
	return true, nil
}

func (f *fakeStore) RecordClick(_ context.Context, id, _, _, linkType, dest string) error {
	if f.failWrite {
		return stderrors.New("db down")
	}
	f.clicks = append(f.clicks, id+"|"+linkType+"|"+dest)
	return nil
}

func (f *fakeStore) Analytics(_ context.Context, id string) (*Analytics, error) {
	f.reads++
	if a, ok := f.analytics[id]; ok {
		return a, nil
	}
	return nil, errors.NewNotFoundError("notification", id)
}

func (f *fakeStore) Summary(_ context.Context, days int) (*Summary, error) {
	f.days = days
	s := &Summary{PeriodDays: days, TotalEmailsSent: 4, TotalOpens: 2, TotalClicks: 1, UniqueEmailsOpened: 2}
	s.finish()
	return s, nil
}

func newRouter(t *testing.T, store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(store, NewAllowList("example.com"), logger.NewTestLogger(t)).Register(r)
	return r
}

func get(r http.Handler, target string, ua string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPixel(t *testing.T) {
	store := newFakeStore()
	r := newRouter(t, store)

	for i := 0; i < 2; i++ {
		w := get(r, "/api/email-tracking/pixel/"+testID, "Mail/1.0")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))
		assert.Equal(t, "no-cache", w.Header().Get("Pragma"))
		assert.Equal(t, "0", w.Header().Get("Expires"))
		assert.Equal(t, Pixel, w.Body.Bytes())
	}
	assert.Equal(t, 2, store.openHits, "raw hits are counted")
	assert.Len(t, store.opens, 1, "one unique open")
}

func TestPixel_AlwaysServesImage(t *testing.T) {
	store := newFakeStore()
	store.failWrite = true
	r := newRouter(t, store)

	w := get(r, "/api/email-tracking/pixel/"+otherID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.Body.Bytes(), 67)
}

func TestClick(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantClick  string
	}{
		{
			name:       "allowed subdomain",
			query:      "?url=" + url.QueryEscape("https://app.example.com/profile/bob") + "&link_type=profile",
			wantStatus: http.StatusFound,
			wantClick:  testID + "|profile|https://app.example.com/profile/bob",
		},
		{
			name:       "default link type",
			query:      "?url=" + url.QueryEscape("https://example.com/"),
			wantStatus: http.StatusFound,
			wantClick:  testID + "|generic|https://example.com/",
		},
		{name: "missing url", query: "", wantStatus: http.StatusBadRequest},
		{name: "foreign host", query: "?url=" + url.QueryEscape("https://evil.com/?example.com"), wantStatus: http.StatusBadRequest},
		{name: "suffix trick", query: "?url=" + url.QueryEscape("https://notexample.com/"), wantStatus: http.StatusBadRequest},
		{name: "javascript scheme", query: "?url=" + url.QueryEscape("javascript:alert(1)"), wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			w := get(newRouter(t, store), "/api/email-tracking/click/"+testID+tt.query, "")

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantClick == "" {
				assert.Empty(t, store.clicks)
				return
			}
			assert.Equal(t, []string{tt.wantClick}, store.clicks)
			assert.NotEmpty(t, w.Header().Get("Location"))
		})
	}
}

func TestClick_RedirectsWhenRecordingFails(t *testing.T) {
	store := newFakeStore()
	store.failWrite = true
	w := get(newRouter(t, store), "/api/email-tracking/click/"+testID+"?url="+url.QueryEscape("https://example.com/a"), "")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/a", w.Header().Get("Location"))
}

func TestAnalyticsEndpoint(t *testing.T) {
	store := newFakeStore()
	opened := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := &Analytics{TrackingID: testID, OpenCount: 3, UniqueOpens: 1, FirstOpened: &opened,
		Clicks: []Click{{LinkType: "profile", URL: "https://example.com", Timestamp: opened}}}
	a.finish(true)
	store.analytics[testID] = a
	r := newRouter(t, store)

	w := get(r, "/api/email-tracking/analytics/"+testID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["opened"])
	assert.Equal(t, float64(3), body["open_count"])
	assert.Equal(t, float64(1), body["click_count"])
	assert.Equal(t, float64(200), body["engagement_rate"])
	assert.Equal(t, "2026-03-10T12:00:00Z", body["first_opened"])

	w = get(r, "/api/email-tracking/analytics/"+otherID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMalformedTrackingIDs(t *testing.T) {
	store := newFakeStore()
	r := newRouter(t, store)

	w := get(r, "/api/email-tracking/analytics/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, store.reads, "never reaches the database")

	w = get(r, "/api/email-tracking/pixel/not-a-uuid", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Pixel, w.Body.Bytes())
	assert.Zero(t, store.openHits)

	w = get(r, "/api/email-tracking/click/not-a-uuid?url="+url.QueryEscape("https://example.com/a"), "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Empty(t, store.clicks)
}

func TestSummaryEndpoint(t *testing.T) {
	store := newFakeStore()
	r := newRouter(t, store)

	w := get(r, "/api/email-tracking/stats/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, store.days)

	var s Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, 50.0, s.OpenRate)
	assert.Equal(t, 50.0, s.ClickThroughRate)
	assert.Equal(t, 75.0, s.EngagementRate)

	get(r, "/api/email-tracking/stats/summary?days=1000", "")
	assert.Equal(t, 365, store.days)

	w = get(r, "/api/email-tracking/stats/summary?days=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
