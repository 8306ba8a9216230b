package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New("client-id", "client-secret", "http://localhost/callback",
		WithHTTPClient(srv.Client()),
		WithBaseURLs(srv.URL, srv.URL+"/auth", srv.URL+"/token"))
	return c, srv
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsNotFound(&APIError{StatusCode: 404}))
	assert.False(t, IsNotFound(&APIError{StatusCode: 500}))
	assert.False(t, IsNotFound(errors.New("dial tcp: timeout")))

	assert.True(t, IsAuthError(&APIError{StatusCode: 401}))
	assert.True(t, IsAuthError(&APIError{StatusCode: 403}))
	assert.True(t, IsAuthError(&APIError{StatusCode: 400, Body: `{"error":"invalid_grant"}`}))
	assert.False(t, IsAuthError(&APIError{StatusCode: 400, Body: `{"error":"invalid_request"}`}))
	assert.False(t, IsAuthError(errors.New("dial tcp: timeout")))

	assert.True(t, IsRetryable(&APIError{StatusCode: 429}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 500}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 503}))
	assert.False(t, IsRetryable(&APIError{StatusCode: 404}))
	assert.False(t, IsRetryable(&APIError{StatusCode: 400}))
	// Transport failures never reach the provider; always worth a retry.
	assert.True(t, IsRetryable(errors.New("dial tcp: connection refused")))
}

func TestAuthCodeURL(t *testing.T) {
	c := New("my-client", "secret", "http://localhost/cb")
	raw := c.AuthCodeURL("org:user", []string{ScopeCalendar})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "my-client", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, ScopeCalendar, q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "org:user", q.Get("state"))
}

func TestExchangeCode(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3600,
			"scope":         ScopeCalendar + " " + ScopeCalendarReadOnly,
		})
	})

	tok, err := c.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken)
	assert.Len(t, tok.Scopes, 2)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 10*time.Second)
}

func TestRefreshTokenInvalidGrant(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := c.RefreshToken(context.Background(), "dead-token")
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestCreateEvent_TimedPayload(t *testing.T) {
	var got wireEvent
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(wireEvent{ID: "created-1"})
	})

	start := time.Date(2026, time.June, 15, 14, 0, 0, 0, time.UTC)
	id, err := c.CreateEvent(context.Background(), "token-1", "primary", EventPayload{
		Summary: "Install",
		Start:   start,
		End:     start.Add(90 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "created-1", id)
	assert.Equal(t, "Install", got.Summary)
	assert.Equal(t, "2026-06-15T14:00:00Z", got.Start.DateTime)
	assert.Equal(t, "2026-06-15T15:30:00Z", got.End.DateTime)
	assert.Equal(t, "UTC", got.Start.TimeZone)
	assert.Empty(t, got.Start.Date)
}

func TestShapePayload_AllDay(t *testing.T) {
	start := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)

	// A proper one-day range keeps the exclusive end as-is.
	w := shapePayload(EventPayload{AllDay: true, Start: start, End: start.AddDate(0, 0, 1)})
	assert.Equal(t, "2026-06-15", w.Start.Date)
	assert.Equal(t, "2026-06-16", w.End.Date)
	assert.Empty(t, w.Start.DateTime)

	// Start and end collapsing to the same date advance the end one day, the
	// provider rejects zero-length all-day ranges.
	w = shapePayload(EventPayload{AllDay: true, Start: start, End: start})
	assert.Equal(t, "2026-06-15", w.Start.Date)
	assert.Equal(t, "2026-06-16", w.End.Date)
}

func TestDeleteEvent_EscapesIDs(t *testing.T) {
	var path string
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.DeleteEvent(context.Background(), "tok", "user@example.com", "evt/1")
	require.NoError(t, err)
	assert.Equal(t, "/calendars/user@example.com/events/evt%2F1", path)
}

func TestListEvents_PaginationAndFiltering(t *testing.T) {
	page := 0
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "startTime", q.Get("orderBy"))

		page++
		if page == 1 {
			assert.Empty(t, q.Get("pageToken"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"items": []wireEvent{
					{ID: "e1", Summary: "Busy",
						Start: wireDateTime{DateTime: "2026-06-15T09:00:00Z"},
						End:   wireDateTime{DateTime: "2026-06-15T10:00:00Z"}},
					{ID: "e2", Summary: "Cancelled", Status: "cancelled",
						Start: wireDateTime{DateTime: "2026-06-15T11:00:00Z"},
						End:   wireDateTime{DateTime: "2026-06-15T12:00:00Z"}},
				},
				"nextPageToken": "page-2",
			})
			return
		}
		assert.Equal(t, "page-2", q.Get("pageToken"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []wireEvent{
				{ID: "e3", Summary: "Free", Transparency: "transparent",
					Start: wireDateTime{DateTime: "2026-06-16T09:00:00Z"},
					End:   wireDateTime{DateTime: "2026-06-16T10:00:00Z"}},
				{ID: "e4", Summary: "Vacation",
					Start: wireDateTime{Date: "2026-06-20"},
					End:   wireDateTime{Date: "2026-06-22"}},
			},
		})
	})

	from := time.Date(2026, time.June, 14, 0, 0, 0, 0, time.UTC)
	events, err := c.ListEvents(context.Background(), "tok", "primary", from, from.AddDate(0, 0, 30))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, 2, page)

	assert.Equal(t, "e1", events[0].ID)
	assert.True(t, events[0].Busy)
	assert.False(t, events[0].AllDay)
	assert.Equal(t, time.Date(2026, time.June, 15, 9, 0, 0, 0, time.UTC), events[0].Start)

	// Cancelled events are dropped during the page walk.
	for _, e := range events {
		assert.NotEqual(t, "e2", e.ID)
	}

	assert.Equal(t, "e3", events[1].ID)
	assert.False(t, events[1].Busy)

	assert.Equal(t, "e4", events[2].ID)
	assert.True(t, events[2].AllDay)
	assert.True(t, events[2].Busy)
	assert.Equal(t, time.Date(2026, time.June, 20, 0, 0, 0, 0, time.UTC), events[2].Start)
}

func TestAPIErrorSurface(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limited"))
	})

	_, err := c.ListCalendars(context.Background(), "tok")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.True(t, IsRetryable(err))
}
