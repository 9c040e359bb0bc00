package twitchapi

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// defaultTokenURL is Twitch's OAuth client-credentials endpoint.
const defaultTokenURL = "https://id.twitch.tv/oauth2/token"

// TokenSource fetches and caches a Twitch app access (client credentials)
// token via oauth2. The underlying source refreshes automatically when the
// token expires.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string       // defaults to Twitch's endpoint; overridable for tests
	HTTPClient   *http.Client // optional

	mu sync.Mutex
	ts oauth2.TokenSource
}

// Get returns a valid (fresh or cached) app access token.
func (s *TokenSource) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.ts == nil {
		tokenURL := s.TokenURL
		if tokenURL == "" {
			tokenURL = defaultTokenURL
		}
		cc := &clientcredentials.Config{
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			TokenURL:     tokenURL,
			// Twitch wants credentials in the POST body, not basic auth.
			AuthStyle: oauth2.AuthStyleInParams,
		}
		tsCtx := context.Background()
		if s.HTTPClient != nil {
			tsCtx = context.WithValue(tsCtx, oauth2.HTTPClient, s.HTTPClient)
		}
		s.ts = cc.TokenSource(tsCtx)
	}
	ts := s.ts
	s.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
