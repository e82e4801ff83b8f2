package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/berker-z/otto/internal/config"
	"github.com/berker-z/otto/internal/reconcile"
	"github.com/berker-z/otto/internal/store"
)

type fakeTokenProvider struct {
	token string
	err   error
}

func (f *fakeTokenProvider) FetchAccessToken(ctx context.Context, accountID string) (string, *time.Time, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.token, nil, nil
}

func newTestOrchestrator(t *testing.T, tokens *fakeTokenProvider) *Orchestrator {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "otto.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, tokens, 2, 2)
}

func TestAccountSyncRecordsTokenFetchFailure(t *testing.T) {
	o := newTestOrchestrator(t, &fakeTokenProvider{err: errors.New("token service down")})
	account := config.Account{ID: "acct-1", Settings: config.Settings{Folders: []string{"INBOX"}}}

	result := o.AccountSync(context.Background(), account, false)

	if result.FolderErrors["*"] == nil {
		t.Fatal("expected a recorded token fetch error")
	}
	if result.FoldersSynced != 0 {
		t.Errorf("expected no folders synced when token fetch fails, got %d", result.FoldersSynced)
	}
}

func TestSyncAllContinuesPastFailingAccount(t *testing.T) {
	o := newTestOrchestrator(t, &fakeTokenProvider{err: errors.New("always fails")})
	accounts := []config.Account{
		{ID: "acct-1", Settings: config.Settings{Folders: []string{"INBOX"}}},
		{ID: "acct-2", Settings: config.Settings{Folders: []string{"INBOX"}}},
	}

	results := o.SyncAll(context.Background(), accounts, false)

	if len(results) != 2 {
		t.Fatalf("expected a result per account, got %d", len(results))
	}
	for i, r := range results {
		if r.AccountID != accounts[i].ID {
			t.Errorf("result %d: expected account %s, got %s", i, accounts[i].ID, r.AccountID)
		}
		if r.FolderErrors["*"] == nil {
			t.Errorf("result %d: expected token error recorded", i)
		}
	}
}

func TestAccountWideLiveSetUnionsAcrossFolders(t *testing.T) {
	results := map[string]namedResult{
		"INBOX":          {folder: "INBOX", Result: &reconcile.Result{LiveGmMsgIDs: []string{"a", "b"}, FullScan: true}},
		"[Gmail]/Sent":    {folder: "[Gmail]/Sent", Result: &reconcile.Result{LiveGmMsgIDs: []string{"b", "c"}, FullScan: false}},
	}

	keep := accountWideLiveSet(results)
	seen := make(map[string]bool)
	for _, id := range keep {
		seen[id] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Errorf("expected %q in the union, got %v", want, keep)
		}
	}
}
