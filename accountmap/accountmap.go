// Package accountmap maintains the mapping between Mastodon accounts and
// Twitch logins. The map is discovered from Twitch profile links on the
// instance's accounts, merged with operator-supplied cross-instance entries,
// and persisted as a JSON object in S3-compatible storage.
package accountmap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/GoldenShrimpGuild/shrampybot/mastodonapi"
)

const documentKey = "v3/mastodon_to_twitch"

// Document maps a Mastodon acct (e.g. "streamer" or "streamer@other.social")
// to its Twitch login, lowercased.
type Document map[string]string

// ByLogin inverts the document: Twitch login to Mastodon acct. When two
// accts claim the same login the lexically smaller acct wins, so the result
// is deterministic.
func (d Document) ByLogin() map[string]string {
	inverse := make(map[string]string, len(d))
	for acct, login := range d {
		if prev, ok := inverse[login]; ok && prev <= acct {
			continue
		}
		inverse[login] = acct
	}
	return inverse
}

// Logins returns the set of mapped Twitch logins.
func (d Document) Logins() []string {
	logins := make([]string, 0, len(d))
	seen := make(map[string]bool, len(d))
	for _, login := range d {
		if seen[login] {
			continue
		}
		seen[login] = true
		logins = append(logins, login)
	}
	return logins
}

// Merge overlays the entries of other onto a copy of d. Entries in other win.
func (d Document) Merge(other Document) Document {
	merged := make(Document, len(d)+len(other))
	for acct, login := range d {
		merged[acct] = login
	}
	for acct, login := range other {
		merged[acct] = strings.ToLower(login)
	}
	return merged
}

var twitchLinkPattern = regexp.MustCompile(`(?:https?://)?(?:www\.)?twitch\.tv/([A-Za-z0-9_-]+)/?`)

// DiscoverTwitchLogins scans account profile fields for Twitch channel links.
// The first matching field per account wins.
func DiscoverTwitchLogins(accounts []mastodonapi.AdminAccount) Document {
	doc := make(Document)
	for _, acct := range accounts {
		for _, field := range acct.Account.Fields {
			match := twitchLinkPattern.FindStringSubmatch(field.Value)
			if len(match) == 2 {
				doc[acct.Account.Acct] = strings.ToLower(match[1])
				break
			}
		}
	}
	return doc
}

// ObjectAPI is the slice of the S3 client the store uses.
type ObjectAPI interface {
	GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// Store persists the account map document in a bucket.
type Store struct {
	Objects ObjectAPI
	Bucket  string
}

// NewStore dials S3-compatible storage with static credentials. endpointURL
// selects the provider (DigitalOcean Spaces, MinIO, AWS itself).
func NewStore(accessKeyID, secretAccessKey, endpointURL, bucket string) (*Store, error) {
	cfg := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(accessKeyID, secretAccessKey, ""),
		Endpoint:         aws.String(endpointURL),
		Region:           aws.String("us-east-1"),
		S3ForcePathStyle: aws.Bool(false),
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 session: %w", err)
	}
	return &Store{Objects: s3.New(sess), Bucket: bucket}, nil
}

// Load fetches the stored document. A missing object is an empty map, not
// an error, so first runs bootstrap cleanly.
func (s *Store) Load(ctx context.Context) (Document, error) {
	out, err := s.Objects.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(documentKey),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return Document{}, nil
		}
		return nil, fmt.Errorf("load account map: %w", err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read account map: %w", err)
	}
	doc := Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode account map: %w", err)
	}
	return doc, nil
}

// Save writes the document back.
func (s *Store) Save(ctx context.Context, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode account map: %w", err)
	}
	_, err = s.Objects.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(documentKey),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("save account map: %w", err)
	}
	return nil
}

// AccountLister yields the instance accounts discovery scans.
type AccountLister interface {
	AdminAccounts(ctx context.Context) ([]mastodonapi.AdminAccount, error)
}

// Provider serves the merged account map and refreshes it from the instance.
type Provider struct {
	Store     *Store
	Accounts  AccountLister
	Overrides Document
}

// Refresh rediscovers Twitch logins from instance profiles, overlays the
// operator overrides, persists the result, and returns it.
func (p *Provider) Refresh(ctx context.Context) (Document, error) {
	accounts, err := p.Accounts.AdminAccounts(ctx)
	if err != nil {
		return nil, err
	}
	doc := DiscoverTwitchLogins(accounts).Merge(p.Overrides)
	if err := p.Store.Save(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// MappedAccounts loads the persisted map with overrides applied. It does not
// hit the Mastodon admin API.
func (p *Provider) MappedAccounts(ctx context.Context) (Document, error) {
	doc, err := p.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Merge(p.Overrides), nil
}
