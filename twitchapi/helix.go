// Package twitchapi contains minimal helpers to interact with Twitch Helix
// APIs for stream lookup, user resolution, and EventSub subscription
// management, using an app access token.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const defaultBaseURL = "https://api.twitch.tv/helix"

// Sentinel errors for subscription management. Callers treat both as benign
// in reconciliation.
var (
	// ErrConflict means the subscription already exists upstream.
	ErrConflict = errors.New("eventsub subscription already exists")
	// ErrNotFound means the subscription is already gone.
	ErrNotFound = errors.New("eventsub subscription not found")
)

// Client provides the Helix methods the bot needs.
type Client struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string // defaults to the Helix API; overridable for tests

	// Webhook transport used when creating subscriptions.
	CallbackURL   string
	WebhookSecret string
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	tok, err := c.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", c.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// Stream is one live stream as reported by Helix.
type Stream struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	UserLogin    string `json:"user_login"`
	UserName     string `json:"user_name"`
	GameID       string `json:"game_id"`
	GameName     string `json:"game_name"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	ViewerCount  int64  `json:"viewer_count"`
	StartedAt    string `json:"started_at"`
	ThumbnailURL string `json:"thumbnail_url"`
	IsMature     bool   `json:"is_mature"`
}

// GetStreamByBroadcaster returns the broadcaster's current live stream, or
// nil if they are not live.
func (c *Client) GetStreamByBroadcaster(ctx context.Context, userID string) (*Stream, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/streams", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("user_id", userID)
	q.Set("first", "1")
	req.URL.RawQuery = q.Encode()
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get streams: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// User is a Twitch user as reported by Helix.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// GetUsers resolves login names to users, chunking requests at the Helix
// limit of 100 logins per call.
func (c *Client) GetUsers(ctx context.Context, logins []string) ([]User, error) {
	users := make([]User, 0, len(logins))
	for start := 0; start < len(logins); start += 100 {
		end := min(start+100, len(logins))
		req, err := c.newRequest(ctx, http.MethodGet, "/users", nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		for _, login := range logins[start:end] {
			q.Add("login", login)
		}
		req.URL.RawQuery = q.Encode()
		resp, err := c.http().Do(req)
		if err != nil {
			return nil, err
		}
		var body struct {
			Data []User `json:"data"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		closeBody(resp)
		if err != nil {
			return nil, err
		}
		users = append(users, body.Data...)
	}
	return users, nil
}

// TeamMemberLogins returns the login names of the configured Twitch team, or
// nil when team is empty.
func (c *Client) TeamMemberLogins(ctx context.Context, team string) ([]string, error) {
	if team == "" {
		return nil, nil
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/teams", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("name", team)
	req.URL.RawQuery = q.Encode()
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	var body struct {
		Data []struct {
			Users []struct {
				UserLogin string `json:"user_login"`
			} `json:"users"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	logins := make([]string, 0, len(body.Data[0].Users))
	for _, u := range body.Data[0].Users {
		logins = append(logins, u.UserLogin)
	}
	return logins, nil
}

// EventSubSubscription is one active subscription as reported by Helix.
type EventSubSubscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	CreatedAt string            `json:"created_at"`
	Cost      int64             `json:"cost"`
}

// ListEventSubSubscriptions fetches one page (up to 100 records) of active
// subscriptions. An empty returned cursor signals the end of the list.
func (c *Client) ListEventSubSubscriptions(ctx context.Context, after string) ([]EventSubSubscription, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/eventsub/subscriptions", nil)
	if err != nil {
		return nil, "", err
	}
	q := req.URL.Query()
	q.Set("first", "100")
	if after != "" {
		q.Set("after", after)
	}
	req.URL.RawQuery = q.Encode()
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, "", err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("list eventsub subscriptions: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Data       []EventSubSubscription `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", err
	}
	return body.Data, body.Pagination.Cursor, nil
}

// CreateEventSubSubscription subscribes to eventType for the broadcaster,
// using the client's webhook transport. Returns ErrConflict if the
// subscription already exists.
func (c *Client) CreateEventSubSubscription(ctx context.Context, eventType, conditionKey, broadcasterID string) error {
	payload := map[string]any{
		"type":    eventType,
		"version": "1",
		"condition": map[string]string{
			conditionKey: broadcasterID,
		},
		"transport": map[string]string{
			"method":   "webhook",
			"callback": c.CallbackURL,
			"secret":   c.WebhookSecret,
		},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/eventsub/subscriptions", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK:
		return nil
	case http.StatusConflict:
		return ErrConflict
	default:
		return fmt.Errorf("create eventsub subscription %s/%s: unexpected status %d", eventType, broadcasterID, resp.StatusCode)
	}
}

// DeleteEventSubSubscription removes a subscription by id. Returns
// ErrNotFound if it is already gone.
func (c *Client) DeleteEventSubSubscription(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/eventsub/subscriptions", nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("id", id)
	req.URL.RawQuery = q.Encode()
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("delete eventsub subscription %s: unexpected status %d", id, resp.StatusCode)
	}
}
