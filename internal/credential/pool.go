// Package credential manages OAuth accounts for hosted providers: priority
// ordering, rotation, failure bookkeeping, and token refresh.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bureaulab/bureau/pkg/models"
)

// ErrNoAccounts indicates no usable account exists for a provider.
var ErrNoAccounts = errors.New("no usable oauth accounts for provider")

// Store is the narrow repository slice the pool consumes.
type Store interface {
	// ListOAuthAccounts returns all accounts for a provider.
	ListOAuthAccounts(provider models.Provider) ([]*models.OAuthAccount, error)
	// UpdateOAuthAccount persists bookkeeping changes to an account.
	UpdateOAuthAccount(acct *models.OAuthAccount) error
}

// Cipher decrypts token ciphertext. Encryption at rest happens outside this
// core; the default passthrough is used when the external layer stores
// plaintext (development mode).
type Cipher interface {
	Decrypt(ciphertext string) (string, error)
	Encrypt(plaintext string) (string, error)
}

// PassthroughCipher returns tokens unchanged.
type PassthroughCipher struct{}

// Decrypt returns the ciphertext unchanged.
func (PassthroughCipher) Decrypt(s string) (string, error) { return s, nil }

// Encrypt returns the plaintext unchanged.
func (PassthroughCipher) Encrypt(s string) (string, error) { return s, nil }

// Pool hands out accounts in priority order with a per-provider rotation
// cursor. The cursor is the only globally shared rotation state and is
// advanced synchronously with the candidate selection, never after the call.
type Pool struct {
	store  Store
	cipher Cipher
	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	cursors map[models.Provider]int
}

// NewPool creates a credential Pool.
func NewPool(store Store, cipher Cipher) *Pool {
	if cipher == nil {
		cipher = PassthroughCipher{}
	}
	return &Pool{
		store:   store,
		cipher:  cipher,
		client:  &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
		cursors: make(map[models.Provider]int),
	}
}

// Candidates returns the usable accounts for a provider in attempt order.
// Accounts are sorted by priority, rotated by the provider's cursor, and the
// cursor advances one step. When pinnedID names an account, it is moved to
// the front without disturbing the global cursor.
func (p *Pool) Candidates(provider models.Provider, pinnedID string) ([]*models.OAuthAccount, error) {
	accounts, err := p.store.ListOAuthAccounts(provider)
	if err != nil {
		return nil, fmt.Errorf("list oauth accounts: %w", err)
	}

	usable := accounts[:0]
	for _, a := range accounts {
		if a.Usable() {
			usable = append(usable, a)
		}
	}
	if len(usable) == 0 {
		return nil, ErrNoAccounts
	}

	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Priority < usable[j].Priority
	})

	p.mu.Lock()
	cursor := p.cursors[provider] % len(usable)
	if pinnedID == "" {
		p.cursors[provider] = cursor + 1
	}
	p.mu.Unlock()

	ordered := make([]*models.OAuthAccount, 0, len(usable))
	if pinnedID != "" {
		for _, a := range usable {
			if a.ID == pinnedID {
				ordered = append(ordered, a)
				break
			}
		}
		for _, a := range usable {
			if a.ID != pinnedID {
				ordered = append(ordered, a)
			}
		}
		return ordered, nil
	}

	for i := 0; i < len(usable); i++ {
		ordered = append(ordered, usable[(cursor+i)%len(usable)])
	}
	return ordered, nil
}

// RecordSuccess resets the account's failure count and stamps the success.
func (p *Pool) RecordSuccess(acct *models.OAuthAccount) {
	now := p.now()
	acct.FailureCount = 0
	acct.LastError = ""
	acct.LastSuccessAt = &now
	_ = p.store.UpdateOAuthAccount(acct)
}

// RecordFailure increments the failure count and records the error message.
func (p *Pool) RecordFailure(acct *models.OAuthAccount, callErr error) {
	acct.FailureCount++
	if callErr != nil {
		acct.LastError = callErr.Error()
	}
	_ = p.store.UpdateOAuthAccount(acct)
}

// AccessToken decrypts the account's current access token, refreshing it
// first when it is expired or about to expire.
func (p *Pool) AccessToken(ctx context.Context, acct *models.OAuthAccount) (string, error) {
	if p.needsRefresh(acct) {
		if err := p.Refresh(ctx, acct); err != nil {
			return "", err
		}
	}
	return p.cipher.Decrypt(acct.AccessToken)
}

// refreshSkew refreshes tokens this long before their recorded expiry.
const refreshSkew = 2 * time.Minute

func (p *Pool) needsRefresh(acct *models.OAuthAccount) bool {
	if acct.RefreshToken == "" || acct.ExpiresAt == nil {
		return false
	}
	return p.now().After(acct.ExpiresAt.Add(-refreshSkew))
}
