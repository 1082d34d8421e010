package models

import "time"

// OAuthAccountStatus represents whether an account may be used for calls.
type OAuthAccountStatus string

const (
	// OAuthAccountActive indicates the account is usable.
	OAuthAccountActive OAuthAccountStatus = "active"
	// OAuthAccountDisabled indicates the account was disabled externally.
	OAuthAccountDisabled OAuthAccountStatus = "disabled"
)

// OAuthAccount is a credential record for a hosted provider.
// Tokens are stored as ciphertext; encryption happens outside this core.
type OAuthAccount struct {
	// ID is the unique identifier for this account.
	ID string `json:"id"`
	// Provider is the hosted provider family this account authenticates.
	Provider Provider `json:"provider"`
	// AccessToken is the encrypted access token.
	AccessToken string `json:"access_token"`
	// RefreshToken is the encrypted refresh token.
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresAt is when the access token expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// Priority orders accounts within a provider; lower runs first.
	Priority int `json:"priority"`
	// Status indicates whether the account may be used.
	Status OAuthAccountStatus `json:"status"`
	// FailureCount is the number of consecutive failed attempts.
	FailureCount int `json:"failure_count"`
	// LastError is the message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`
	// LastSuccessAt is when the account last completed a call.
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	// Model overrides the provider's default model for this account.
	Model string `json:"model,omitempty"`
}

// Usable returns true if the account may be attempted.
func (a *OAuthAccount) Usable() bool {
	return a.Status == OAuthAccountActive
}
