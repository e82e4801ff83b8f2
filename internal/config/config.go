// Package config holds the typed settings the sync core consumes.
// Loading these from a file or flags is an external collaborator
// (spec.md §1); this package only defines the shape.
package config

import "time"

// Provider is a tagged variant of mailbox backend. Only GmailImap
// exists today; modeled as a sum type (not a registry) per the
// design note in spec.md §9, so adding a provider later is a new
// const plus a new switch arm, not a plugin interface.
type Provider string

const (
	ProviderGmailImap Provider = "GmailImap"
)

// Settings holds the per-account sync policy.
type Settings struct {
	// Folders is the list of IMAP folder paths to sync, e.g.
	// "INBOX", "[Gmail]/All Mail", "[Gmail]/Sent Mail".
	Folders []string

	// Cutoff is the oldest INTERNALDATE the sync core will ever fetch
	// or retain (spec.md §4.4 "Cutoff policy").
	Cutoff time.Time

	// PollInterval hints how often the orchestrator should be invoked
	// for this account. The scheduling loop itself lives outside the
	// sync core.
	PollInterval time.Duration

	// PrefetchHint is an advisory batch-size multiplier a future
	// prefetch strategy could use; the reconciler does not currently
	// read it beyond recording it.
	PrefetchHint int
}

// Account identifies one mailbox to mirror. ID is the email address,
// which is stable and unique per spec.md §3.
type Account struct {
	ID       string
	Provider Provider
	Settings Settings
}
