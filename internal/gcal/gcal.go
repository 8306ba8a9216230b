// Package gcal wraps the Google Calendar REST surface: OAuth code exchange,
// token refresh, calendar listing and event CRUD. Payload shaping (all-day vs
// timed, exclusive end dates) is isolated here so the rest of the engine only
// deals with UTC instants and an allDay flag.
package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAPIBase  = "https://www.googleapis.com/calendar/v3"
	defaultAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL = "https://oauth2.googleapis.com/token"

	// RefreshSkew is how far ahead of expiry tokens are refreshed.
	RefreshSkew = 60 * time.Second

	// ScopeCalendar grants read/write access; required for outbound sync.
	ScopeCalendar = "https://www.googleapis.com/auth/calendar"
	// ScopeCalendarReadOnly suffices for inbound pulls.
	ScopeCalendarReadOnly = "https://www.googleapis.com/auth/calendar.readonly"
)

// Token is a credential set returned by the provider's token endpoint.
// RefreshToken is empty on refresh responses.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// APIError is a non-2xx provider response. The status code drives the
// retryable vs permanent classification in the sync queue.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google calendar api: status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsAuthError reports whether err indicates revoked or insufficient
// credentials (no retry without human reconnection).
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden ||
		(apiErr.StatusCode == http.StatusBadRequest && strings.Contains(apiErr.Body, "invalid_grant"))
}

// IsRetryable classifies transient failures: rate limiting, server errors,
// and anything that is not a provider response at all (transport failures).
func IsRetryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

// Calendar is one entry of the user's calendar list.
type Calendar struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Primary bool   `json:"primary"`
}

// RemoteEvent is a provider event normalized to UTC instants.
type RemoteEvent struct {
	ID      string
	Summary string
	Start   time.Time
	End     time.Time
	AllDay  bool
	Busy    bool
	Status  string
}

// EventPayload is the outbound shape of an internal event.
type EventPayload struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// Client talks to the provider over HTTP with a bearer access token.
type Client struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	redirectURI  string
	apiBase      string
	authURL      string
	tokenURL     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport, used by tests against httptest
// servers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURLs points the client at alternate API/auth/token endpoints.
func WithBaseURLs(apiBase, authURL, tokenURL string) Option {
	return func(c *Client) {
		c.apiBase = apiBase
		c.authURL = authURL
		c.tokenURL = tokenURL
	}
}

func New(clientID, clientSecret, redirectURI string, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		apiBase:      defaultAPIBase,
		authURL:      defaultAuthURL,
		tokenURL:     defaultTokenURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthCodeURL builds the provider authorize URL for the consent redirect.
func (c *Client) AuthCodeURL(state string, scopes []string) string {
	v := url.Values{}
	v.Set("client_id", c.clientID)
	v.Set("redirect_uri", c.redirectURI)
	v.Set("response_type", "code")
	v.Set("scope", strings.Join(scopes, " "))
	v.Set("access_type", "offline")
	v.Set("prompt", "consent")
	v.Set("state", state)
	return c.authURL + "?" + v.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (c *Client) postToken(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, err
	}
	t := &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	if tr.Scope != "" {
		t.Scopes = strings.Fields(tr.Scope)
	}
	return t, nil
}

// ExchangeCode trades an authorize code for a token set.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("redirect_uri", c.redirectURI)
	form.Set("grant_type", "authorization_code")
	return c.postToken(ctx, form)
}

// RefreshToken obtains a fresh access token. An invalid_grant response means
// the refresh token itself is dead and the account must be reconnected.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{}
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "refresh_token")
	return c.postToken(ctx, form)
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

// ListCalendars fetches the account's calendar list.
func (c *Client) ListCalendars(ctx context.Context, accessToken string) ([]Calendar, error) {
	var result struct {
		Items []Calendar `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/me/calendarList", accessToken, nil, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// wireDateTime is the provider's date-or-dateTime union.
type wireDateTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type wireEvent struct {
	ID           string       `json:"id,omitempty"`
	Summary      string       `json:"summary,omitempty"`
	Description  string       `json:"description,omitempty"`
	Start        wireDateTime `json:"start"`
	End          wireDateTime `json:"end"`
	Status       string       `json:"status,omitempty"`
	Transparency string       `json:"transparency,omitempty"`
}

const allDayLayout = "2006-01-02"

// shapePayload renders an EventPayload in the provider's wire shape. All-day
// events use date fields with an exclusive end date, advanced by one day when
// start and end collapse to the same date.
func shapePayload(p EventPayload) wireEvent {
	w := wireEvent{Summary: p.Summary, Description: p.Description}
	if p.AllDay {
		start := p.Start.UTC()
		end := p.End.UTC()
		startDate := start.Format(allDayLayout)
		endDate := end.Format(allDayLayout)
		if endDate == startDate {
			endDate = end.AddDate(0, 0, 1).Format(allDayLayout)
		}
		w.Start = wireDateTime{Date: startDate}
		w.End = wireDateTime{Date: endDate}
		return w
	}
	w.Start = wireDateTime{DateTime: p.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"}
	w.End = wireDateTime{DateTime: p.End.UTC().Format(time.RFC3339), TimeZone: "UTC"}
	return w
}

func parseWireTime(w wireDateTime) (t time.Time, allDay bool, err error) {
	if w.DateTime != "" {
		t, err = time.Parse(time.RFC3339, w.DateTime)
		return t.UTC(), false, err
	}
	t, err = time.Parse(allDayLayout, w.Date)
	return t.UTC(), true, err
}

func fromWire(w wireEvent) (RemoteEvent, error) {
	start, allDay, err := parseWireTime(w.Start)
	if err != nil {
		return RemoteEvent{}, fmt.Errorf("event %s: bad start: %w", w.ID, err)
	}
	end, _, err := parseWireTime(w.End)
	if err != nil {
		return RemoteEvent{}, fmt.Errorf("event %s: bad end: %w", w.ID, err)
	}
	return RemoteEvent{
		ID:      w.ID,
		Summary: w.Summary,
		Start:   start,
		End:     end,
		AllDay:  allDay,
		Busy:    w.Transparency != "transparent",
		Status:  w.Status,
	}, nil
}

// CreateEvent creates a remote event and returns its provider id.
func (c *Client) CreateEvent(ctx context.Context, accessToken, calendarID string, p EventPayload) (string, error) {
	var created wireEvent
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(calendarID))
	if err := c.do(ctx, http.MethodPost, path, accessToken, shapePayload(p), &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// UpdateEvent replaces a remote event. A 404 means the stored remote id is
// gone; callers fall back to create.
func (c *Client) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, p EventPayload) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	return c.do(ctx, http.MethodPut, path, accessToken, shapePayload(p), nil)
}

// DeleteEvent removes a remote event. Callers treat 404 as success.
func (c *Client) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	return c.do(ctx, http.MethodDelete, path, accessToken, nil, nil)
}

// ListEvents fetches single (recurrence-expanded) events in [from, to),
// following pagination.
func (c *Client) ListEvents(ctx context.Context, accessToken, calendarID string, from, to time.Time) ([]RemoteEvent, error) {
	var out []RemoteEvent
	pageToken := ""
	for {
		v := url.Values{}
		v.Set("timeMin", from.UTC().Format(time.RFC3339))
		v.Set("timeMax", to.UTC().Format(time.RFC3339))
		v.Set("singleEvents", "true")
		v.Set("orderBy", "startTime")
		v.Set("maxResults", "250")
		if pageToken != "" {
			v.Set("pageToken", pageToken)
		}
		path := fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(calendarID), v.Encode())

		var page struct {
			Items         []wireEvent `json:"items"`
			NextPageToken string      `json:"nextPageToken"`
		}
		if err := c.do(ctx, http.MethodGet, path, accessToken, nil, &page); err != nil {
			return nil, err
		}
		for _, w := range page.Items {
			if w.Status == "cancelled" {
				continue
			}
			ev, err := fromWire(w)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}
