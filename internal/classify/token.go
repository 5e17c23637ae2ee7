package classify

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/httpclient"
	"github.com/tphakala/carnet-go/internal/logger"
)

// TokenSource exchanges an API key and secret for an access token using
// the client credentials grant. The service expects the credentials as
// form parameters rather than basic auth.
type TokenSource struct {
	config  clientcredentials.Config
	http    *httpclient.Client
	timeout time.Duration
}

// NewTokenSource creates a token source. A nil hc uses a default client.
func NewTokenSource(tokenURL, apiKey, secretKey string, timeout time.Duration, hc *httpclient.Client) *TokenSource {
	if tokenURL == "" {
		tokenURL = conf.DefaultBaiduTokenURL
	}
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeout
	}
	if hc == nil {
		hc = httpclient.New(&httpclient.Config{DefaultTimeout: timeout})
	}
	return &TokenSource{
		config: clientcredentials.Config{
			ClientID:     apiKey,
			ClientSecret: secretKey,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		http:    hc,
		timeout: timeout,
	}
}

// TokenSourceFromSettings builds a token source from the baidu section.
func TokenSourceFromSettings(s *conf.BaiduSettings, hc *httpclient.Client) *TokenSource {
	return NewTokenSource(s.TokenURL, s.APIKey, s.SecretKey, s.Timeout, hc)
}

// Token performs the exchange and returns the access token with its expiry.
func (s *TokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.http.HTTPClient())

	tok, err := s.config.Token(ctx)
	if err != nil {
		return nil, errors.New(err).
			Component("classify").
			Category(errors.CategoryNetwork).
			Context("operation", "token_exchange").
			Context("token_url", s.config.TokenURL).
			Build()
	}

	GetLogger().Info("access token obtained",
		logger.Time("expiry", tok.Expiry),
		logger.String("token_url", s.config.TokenURL))
	return tok, nil
}
