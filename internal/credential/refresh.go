package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/bureaulab/bureau/pkg/models"
)

// refreshEndpoints maps the two supported OAuth families to their token
// endpoints.
var refreshEndpoints = map[models.Provider]string{
	models.ProviderAnthropic: "https://console.anthropic.com/v1/oauth/token",
	models.ProviderOpenAI:    "https://auth.openai.com/oauth/token",
}

// tokenResponse is the OAuth token endpoint response shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Refresh exchanges the account's refresh token for a new access token and
// persists the rotated credentials. Transient failures are retried with
// exponential backoff.
func (p *Pool) Refresh(ctx context.Context, acct *models.OAuthAccount) error {
	endpoint, ok := refreshEndpoints[acct.Provider]
	if !ok {
		return fmt.Errorf("provider %s does not support token refresh", acct.Provider)
	}

	refreshToken, err := p.cipher.Decrypt(acct.RefreshToken)
	if err != nil {
		return fmt.Errorf("decrypt refresh token: %w", err)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	var tok tokenResponse
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
			strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := p.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("token endpoint returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("token endpoint returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&tok)
	})
	if err != nil {
		return fmt.Errorf("refresh token for account %s: %w", acct.ID, err)
	}

	access, err := p.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	acct.AccessToken = access
	if tok.RefreshToken != "" {
		rotated, err := p.cipher.Encrypt(tok.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		acct.RefreshToken = rotated
	}
	if tok.ExpiresIn > 0 {
		exp := p.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
		acct.ExpiresAt = &exp
	}

	if err := p.store.UpdateOAuthAccount(acct); err != nil {
		return fmt.Errorf("persist refreshed tokens: %w", err)
	}
	return nil
}

// SetHTTPClient replaces the pool's HTTP client (for testing).
func (p *Pool) SetHTTPClient(c *http.Client) {
	p.client = c
}
