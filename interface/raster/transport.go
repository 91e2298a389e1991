package raster

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// WithToken authenticates every request with a fixed bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.httpClient = authClient(oauth2.NewClient(context.Background(),
			oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})))
	}
}

// WithClientCredentials authenticates with the OAuth2 client-credentials
// flow, refreshing the access token as it expires.
func WithClientCredentials(clientID, clientSecret, tokenURL string, scopes ...string) Option {
	return func(c *Client) {
		cfg := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		}
		c.httpClient = authClient(cfg.Client(context.Background()))
	}
}

func authClient(hc *http.Client) *http.Client {
	if hc.Timeout == time.Duration(0) {
		hc.Timeout = Timeout
	}
	return hc
}
