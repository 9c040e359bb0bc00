// Package mastodonapi posts stream announcements to a Mastodon instance and
// reads back account data the bot needs: its own tagged statuses for
// duplicate suppression and the instance's admin account list for Twitch
// profile-link discovery.
package mastodonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattn/go-mastodon"

	"github.com/GoldenShrimpGuild/shrampybot/telemetry"
)

// Client wraps a single authenticated Mastodon account. The admin endpoints
// require a token with admin:read:accounts scope.
type Client struct {
	Mast       *mastodon.Client
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New builds a client for the given instance. baseURL is the instance root,
// e.g. "https://example.social".
func New(baseURL, token string) *Client {
	return &Client{
		Mast: mastodon.NewClient(&mastodon.Config{
			Server:      baseURL,
			AccessToken: token,
		}),
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Me returns the account the token authenticates as.
func (c *Client) Me(ctx context.Context) (*mastodon.Account, error) {
	acct, err := c.Mast.GetAccountCurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("mastodon verify credentials: %w", err)
	}
	return acct, nil
}

// PostInput describes one announcement status.
type PostInput struct {
	Text        string
	Visibility  string
	Sensitive   bool
	SpoilerText string
	Media       []byte
	MediaDesc   string
}

// Post publishes a status. Media upload is best-effort: if the attachment
// fails the status still goes out without it.
func (c *Client) Post(ctx context.Context, in PostInput) (*mastodon.Status, error) {
	var mediaIDs []mastodon.ID
	if len(in.Media) > 0 {
		attachment, err := c.Mast.UploadMediaFromMedia(ctx, &mastodon.Media{
			File:        bytes.NewReader(in.Media),
			Description: in.MediaDesc,
		})
		if err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("could not upload media attachment", slog.Any("err", err))
		} else {
			mediaIDs = append(mediaIDs, attachment.ID)
		}
	}

	status, err := c.Mast.PostStatus(ctx, &mastodon.Toot{
		Status:      in.Text,
		Visibility:  in.Visibility,
		Sensitive:   in.Sensitive,
		SpoilerText: in.SpoilerText,
		MediaIDs:    mediaIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("mastodon post status: %w", err)
	}
	return status, nil
}

// TaggedStatus is the slice of a status the duplicate check needs.
type TaggedStatus struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusesTaggedBy lists statuses by the given account carrying the given
// hashtag (without the leading '#'). Only the first page is fetched; the
// check only needs to know whether any exist.
func (c *Client) StatusesTaggedBy(ctx context.Context, accountID, tag string) ([]TaggedStatus, error) {
	query := url.Values{}
	query.Set("tagged", tag)
	endpoint := fmt.Sprintf("%s/api/v1/accounts/%s/statuses?%s", c.BaseURL, url.PathEscape(accountID), query.Encode())

	var statuses []TaggedStatus
	if err := c.getJSON(ctx, endpoint, &statuses); err != nil {
		return nil, fmt.Errorf("mastodon tagged statuses: %w", err)
	}
	return statuses, nil
}

// AdminAccount is the subset of GET /api/v1/admin/accounts the bot reads.
type AdminAccount struct {
	ID      string `json:"id"`
	Account struct {
		Acct   string `json:"acct"`
		Bot    bool   `json:"bot"`
		Fields []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"fields"`
	} `json:"account"`
}

const adminAccountsPageSize = 200

// AdminAccounts returns every local account on the instance, paginating by
// max_id. Bot accounts are skipped.
func (c *Client) AdminAccounts(ctx context.Context) ([]AdminAccount, error) {
	var accounts []AdminAccount
	maxID := ""
	for {
		query := url.Values{}
		query.Set("limit", fmt.Sprint(adminAccountsPageSize))
		if maxID != "" {
			query.Set("max_id", maxID)
		}
		endpoint := fmt.Sprintf("%s/api/v1/admin/accounts?%s", c.BaseURL, query.Encode())

		var page []AdminAccount
		if err := c.getJSON(ctx, endpoint, &page); err != nil {
			return nil, fmt.Errorf("mastodon admin accounts: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, acct := range page {
			if acct.Account.Bot {
				continue
			}
			accounts = append(accounts, acct)
		}
		maxID = page[len(page)-1].ID
		if len(page) < adminAccountsPageSize {
			break
		}
	}
	return accounts, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
