package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/berker-z/otto/internal/config"
)

// loadAccountsFromEnv builds the account list from environment
// variables. This is the thinnest possible stand-in for the account
// configuration spec.md §1 treats as an external collaborator:
//
//	OTTO_ACCOUNTS      comma-separated list of account emails
//	OTTO_FOLDERS       comma-separated folder list shared by every
//	                   account (default: INBOX,[Gmail]/All Mail)
//	OTTO_CUTOFF_DAYS   oldest INTERNALDATE to sync, in days (default: 0 = no cutoff)
func loadAccountsFromEnv() ([]config.Account, error) {
	raw := strings.TrimSpace(os.Getenv("OTTO_ACCOUNTS"))
	if raw == "" {
		return nil, nil
	}

	folders := []string{"INBOX", "[Gmail]/All Mail"}
	if f := strings.TrimSpace(os.Getenv("OTTO_FOLDERS")); f != "" {
		folders = splitAndTrim(f)
	}

	var cutoff time.Time
	if d := strings.TrimSpace(os.Getenv("OTTO_CUTOFF_DAYS")); d != "" {
		days, err := strconv.Atoi(d)
		if err != nil {
			return nil, fmt.Errorf("OTTO_CUTOFF_DAYS: %w", err)
		}
		if days > 0 {
			cutoff = time.Now().AddDate(0, 0, -days)
		}
	}

	var accounts []config.Account
	for _, email := range splitAndTrim(raw) {
		accounts = append(accounts, config.Account{
			ID:       email,
			Provider: config.ProviderGmailImap,
			Settings: config.Settings{
				Folders: folders,
				Cutoff:  cutoff,
			},
		})
	}
	return accounts, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envTokenProvider satisfies ottoerr.TokenProvider by reading a
// pre-obtained access token from OTTO_TOKEN_<account>, where <account>
// is the account's email with every non-alphanumeric character turned
// into an underscore. Refreshing or obtaining that token in the first
// place is outside the sync core (spec.md §1's OAuth Non-goal) — the
// operator (or the real onboarding flow this stands in for) is
// responsible for keeping it current.
type envTokenProvider struct{}

func newEnvTokenProvider() *envTokenProvider { return &envTokenProvider{} }

func (envTokenProvider) FetchAccessToken(_ context.Context, accountID string) (string, *time.Time, error) {
	key := "OTTO_TOKEN_" + envSafe(accountID)
	token := os.Getenv(key)
	if token == "" {
		return "", nil, fmt.Errorf("no access token set in %s", key)
	}
	return token, nil, nil
}

func envSafe(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
