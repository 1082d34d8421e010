package store

import (
	"database/sql"
	"fmt"

	"github.com/bureaulab/bureau/pkg/models"
)

const oauthColumns = `id, provider, access_token, refresh_token, expires_at,
	priority, status, failure_count, last_error, last_success_at, model`

func scanOAuthAccount(row interface{ Scan(...any) error }) (*models.OAuthAccount, error) {
	var (
		a                        models.OAuthAccount
		refresh, lastErr, model  sql.NullString
		expiresAt, lastSuccessAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Provider, &a.AccessToken, &refresh, &expiresAt,
		&a.Priority, &a.Status, &a.FailureCount, &lastErr, &lastSuccessAt, &model)
	if err != nil {
		return nil, err
	}
	a.RefreshToken = refresh.String
	a.LastError = lastErr.String
	a.Model = model.String
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	if lastSuccessAt.Valid {
		t := lastSuccessAt.Time
		a.LastSuccessAt = &t
	}
	return &a, nil
}

// CreateOAuthAccount inserts a new credential record.
func (db *DB) CreateOAuthAccount(a *models.OAuthAccount) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO oauth_accounts (`+oauthColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Provider, a.AccessToken, nullStr(a.RefreshToken), nullTime(a.ExpiresAt),
		a.Priority, a.Status, a.FailureCount, nullStr(a.LastError),
		nullTime(a.LastSuccessAt), nullStr(a.Model))
	if err != nil {
		return fmt.Errorf("create oauth account: %w", err)
	}
	return nil
}

// ListOAuthAccounts returns all accounts for a provider ordered by priority.
func (db *DB) ListOAuthAccounts(provider models.Provider) ([]*models.OAuthAccount, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(
		`SELECT `+oauthColumns+` FROM oauth_accounts WHERE provider = ? ORDER BY priority, id`,
		provider)
	if err != nil {
		return nil, fmt.Errorf("list oauth accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.OAuthAccount
	for rows.Next() {
		a, err := scanOAuthAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan oauth account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateOAuthAccount persists all mutable account fields.
func (db *DB) UpdateOAuthAccount(a *models.OAuthAccount) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(`
		UPDATE oauth_accounts SET access_token = ?, refresh_token = ?, expires_at = ?,
			priority = ?, status = ?, failure_count = ?, last_error = ?,
			last_success_at = ?, model = ?
		WHERE id = ?`,
		a.AccessToken, nullStr(a.RefreshToken), nullTime(a.ExpiresAt),
		a.Priority, a.Status, a.FailureCount, nullStr(a.LastError),
		nullTime(a.LastSuccessAt), nullStr(a.Model), a.ID)
	if err != nil {
		return fmt.Errorf("update oauth account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
