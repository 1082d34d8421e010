package credential

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bureaulab/bureau/pkg/models"
)

// fakeStore holds accounts in memory.
type fakeStore struct {
	accounts []*models.OAuthAccount
	updates  int
}

func (f *fakeStore) ListOAuthAccounts(provider models.Provider) ([]*models.OAuthAccount, error) {
	var out []*models.OAuthAccount
	for _, a := range f.accounts {
		if a.Provider == provider {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateOAuthAccount(*models.OAuthAccount) error {
	f.updates++
	return nil
}

func acct(id string, priority int) *models.OAuthAccount {
	return &models.OAuthAccount{
		ID:       id,
		Provider: models.ProviderAnthropic,
		Priority: priority,
		Status:   models.OAuthAccountActive,
	}
}

func TestCandidatesPriorityOrder(t *testing.T) {
	store := &fakeStore{accounts: []*models.OAuthAccount{acct("b", 2), acct("a", 1), acct("c", 3)}}
	p := NewPool(store, nil)

	got, err := p.Candidates(models.ProviderAnthropic, "")
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Errorf("order = %s,%s,%s; want a,b,c", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestCandidatesCursorRotates(t *testing.T) {
	store := &fakeStore{accounts: []*models.OAuthAccount{acct("a", 1), acct("b", 2)}}
	p := NewPool(store, nil)

	first, _ := p.Candidates(models.ProviderAnthropic, "")
	second, _ := p.Candidates(models.ProviderAnthropic, "")
	third, _ := p.Candidates(models.ProviderAnthropic, "")

	if first[0].ID != "a" || second[0].ID != "b" || third[0].ID != "a" {
		t.Errorf("cursor heads = %s,%s,%s; want a,b,a", first[0].ID, second[0].ID, third[0].ID)
	}
}

func TestCandidatesPinnedDoesNotAdvanceCursor(t *testing.T) {
	store := &fakeStore{accounts: []*models.OAuthAccount{acct("a", 1), acct("b", 2)}}
	p := NewPool(store, nil)

	pinned, _ := p.Candidates(models.ProviderAnthropic, "b")
	if pinned[0].ID != "b" {
		t.Errorf("pinned head = %s, want b", pinned[0].ID)
	}

	// The pinned call must not have moved the cursor.
	next, _ := p.Candidates(models.ProviderAnthropic, "")
	if next[0].ID != "a" {
		t.Errorf("head after pinned call = %s, want a", next[0].ID)
	}
}

func TestCandidatesSkipsDisabled(t *testing.T) {
	disabled := acct("d", 1)
	disabled.Status = models.OAuthAccountDisabled
	store := &fakeStore{accounts: []*models.OAuthAccount{disabled, acct("a", 2)}}
	p := NewPool(store, nil)

	got, err := p.Candidates(models.ProviderAnthropic, "")
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("candidates = %v, want only a", got)
	}
}

func TestCandidatesNoAccounts(t *testing.T) {
	p := NewPool(&fakeStore{}, nil)
	if _, err := p.Candidates(models.ProviderAnthropic, ""); !errors.Is(err, ErrNoAccounts) {
		t.Errorf("err = %v, want ErrNoAccounts", err)
	}
}

func TestRecordFailureAndSuccess(t *testing.T) {
	store := &fakeStore{}
	p := NewPool(store, nil)
	a := acct("a", 1)

	p.RecordFailure(a, errors.New("rate limited"))
	if a.FailureCount != 1 || a.LastError != "rate limited" {
		t.Errorf("after failure: count=%d err=%q", a.FailureCount, a.LastError)
	}

	p.RecordSuccess(a)
	if a.FailureCount != 0 || a.LastError != "" || a.LastSuccessAt == nil {
		t.Errorf("after success: %+v", a)
	}
	if store.updates != 2 {
		t.Errorf("store updates = %d, want 2", store.updates)
	}
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	store := &fakeStore{}
	p := NewPool(store, nil)
	p.SetHTTPClient(srv.Client())
	// Point the anthropic family at the test server.
	old := refreshEndpoints[models.ProviderAnthropic]
	refreshEndpoints[models.ProviderAnthropic] = srv.URL
	defer func() { refreshEndpoints[models.ProviderAnthropic] = old }()

	a := acct("a", 1)
	a.RefreshToken = "old-refresh"

	if err := p.Refresh(context.Background(), a); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if a.AccessToken != "new-access" || a.RefreshToken != "new-refresh" {
		t.Errorf("tokens = %q / %q", a.AccessToken, a.RefreshToken)
	}
	if a.ExpiresAt == nil || time.Until(*a.ExpiresAt) < 50*time.Minute {
		t.Errorf("expiry not recorded: %v", a.ExpiresAt)
	}
	if store.updates != 1 {
		t.Errorf("store updates = %d, want 1", store.updates)
	}
}

func TestNeedsRefresh(t *testing.T) {
	p := NewPool(&fakeStore{}, nil)
	now := time.Now()
	p.now = func() time.Time { return now }

	fresh := acct("a", 1)
	fresh.RefreshToken = "r"
	in1h := now.Add(time.Hour)
	fresh.ExpiresAt = &in1h
	if p.needsRefresh(fresh) {
		t.Error("token expiring in 1h should not need refresh")
	}

	soon := now.Add(30 * time.Second)
	fresh.ExpiresAt = &soon
	if !p.needsRefresh(fresh) {
		t.Error("token expiring in 30s should need refresh")
	}

	// Accounts without refresh material never refresh.
	bare := acct("b", 1)
	if p.needsRefresh(bare) {
		t.Error("account without refresh token should not need refresh")
	}
}
