// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package kafka

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/IBM/sarama"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// oauthTokenProvider implements sarama.AccessTokenProvider using the
// client credentials flow.
type oauthTokenProvider struct {
	tokenSource oauth2.TokenSource
}

// newOAuthTokenProvider returns a token provider using OAuth credentials.
func newOAuthTokenProvider(ctx context.Context, tlsConfig *tls.Config, clientID, clientSecret, tokenURL string) sarama.AccessTokenProvider {
	httpClient := &http.Client{Transport: &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,
	}}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return &oauthTokenProvider{
		tokenSource: cfg.TokenSource(ctx),
	}
}

// Token returns a new *sarama.AccessToken or an error.
func (p *oauthTokenProvider) Token() (*sarama.AccessToken, error) {
	token, err := p.tokenSource.Token()
	if err != nil {
		return nil, err
	}
	return &sarama.AccessToken{Token: token.AccessToken}, nil
}
