// Package orchestrator drives one full sync pass: iterate accounts,
// fetch each account's access token once, reconcile every configured
// folder, then run the account-wide purge and legacy-dedupe cleanup
// (spec.md §4.5).
package orchestrator

import (
	"context"
	"fmt"

	"github.com/berker-z/otto/internal/config"
	"github.com/berker-z/otto/internal/imap"
	"github.com/berker-z/otto/internal/logging"
	"github.com/berker-z/otto/internal/ottoerr"
	"github.com/berker-z/otto/internal/reconcile"
	"github.com/berker-z/otto/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// folderConcurrency bounds how many folders of one account are
// reconciled at once. It is capped by the same AccountLimiter the
// reconciler uses for its IMAP sessions, so this only needs to be high
// enough to keep that limiter saturated.
const folderConcurrency = 4

// Orchestrator runs AccountSync for each configured account in turn.
// Accounts are processed sequentially — only folders within one
// account run concurrently — so one account's failure never blocks or
// races against another's (spec.md §6's per-account error isolation).
type Orchestrator struct {
	db     *store.DB
	engine *reconcile.Engine
	tokens ottoerr.TokenProvider
	log    zerolog.Logger
}

// New builds an Orchestrator. sessionLimit bounds concurrent IMAP sessions
// per account (spec.md §5); parseConcurrency bounds the reconciler's
// CPU parse pool.
func New(db *store.DB, tokens ottoerr.TokenProvider, sessionLimit int64, parseConcurrency int64) *Orchestrator {
	limiter := imap.NewAccountLimiter(sessionLimit)
	return &Orchestrator{
		db:     db,
		engine: reconcile.NewEngine(db, limiter, parseConcurrency),
		tokens: tokens,
		log:    logging.WithComponent("orchestrator"),
	}
}

// AccountResult summarizes one account's sync pass for the caller
// (spec.md §6's observability requirements).
type AccountResult struct {
	AccountID       string
	FoldersSynced   int
	FolderErrors    map[string]error
	NewMessages     int
	UpdatedMessages int
}

// SyncAll runs AccountSync for every account in order, continuing past
// a failed account so one broken mailbox never blocks the rest
// (spec.md §6).
func (o *Orchestrator) SyncAll(ctx context.Context, accounts []config.Account, force bool) []AccountResult {
	results := make([]AccountResult, 0, len(accounts))
	for _, account := range accounts {
		result := o.AccountSync(ctx, account, force)
		results = append(results, result)
	}
	return results
}

// AccountSync implements spec.md §4.5's four-step algorithm for one
// account:
//  1. fetch an access token once, shared by every folder this pass
//  2. reconcile each configured folder (bounded concurrency)
//  3. compute the account-wide live gm_msgid set and purge anything a
//     full-scanned folder no longer reports anywhere in the account
//  4. dedupe legacy rows sharing a raw_hash
func (o *Orchestrator) AccountSync(ctx context.Context, account config.Account, force bool) AccountResult {
	result := AccountResult{AccountID: account.ID, FolderErrors: map[string]error{}}
	log := o.log.With().Str("account", account.ID).Logger()

	token, _, err := o.tokens.FetchAccessToken(ctx, account.ID)
	if err != nil {
		result.FolderErrors["*"] = ottoerr.Auth("fetch access token", err)
		log.Error().Err(err).Msg("failed to fetch access token, skipping account")
		return result
	}

	folderResults, folderErrs := o.reconcileFolders(ctx, token, account, force)
	for folder, err := range folderErrs {
		result.FolderErrors[folder] = err
		log.Error().Err(err).Str("folder", folder).Msg("folder reconcile failed")
	}

	for _, r := range folderResults {
		result.NewMessages += r.Result.NewCount
		result.UpdatedMessages += r.Result.UpdateCount
	}
	keep := accountWideLiveSet(folderResults)

	for folder, r := range folderResults {
		if !r.Result.FullScan {
			continue
		}
		if err := o.db.PurgeMissing(account.ID, folder, keep); err != nil {
			result.FolderErrors[folder] = ottoerr.Store(fmt.Sprintf("purge missing in %s", folder), err)
			log.Error().Err(err).Str("folder", folder).Msg("purge missing failed")
			continue
		}
	}
	result.FoldersSynced = len(folderResults)

	if err := o.db.DedupeLegacy(account.ID); err != nil {
		result.FolderErrors["*dedupe*"] = ottoerr.Store("dedupe legacy", err)
		log.Error().Err(err).Msg("dedupe legacy failed")
	}

	return result
}

// accountWideLiveSet unions every folder's confirmed-live gm_msgids
// into one account-wide set — the "keep" list PurgeMissing needs to
// answer spec.md §4.4's deferred cross-folder question: is this
// gm_msgid really gone, or did it just move to a folder that also
// reconciled this pass?
func accountWideLiveSet(folderResults map[string]namedResult) []string {
	seen := make(map[string]bool)
	for _, r := range folderResults {
		for _, id := range r.Result.LiveGmMsgIDs {
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// namedResult pairs a folder name with its reconcile result, since
// reconcileFolders runs folders concurrently and must hand the caller
// back an association, not just a slice in arrival order.
type namedResult struct {
	folder string
	Result *reconcile.Result
}

// reconcileFolders runs ReconcileFolder for every folder in account,
// bounded to folderConcurrency at a time. A folder's own error never
// aborts its siblings (spec.md §6).
func (o *Orchestrator) reconcileFolders(ctx context.Context, token string, account config.Account, force bool) (map[string]namedResult, map[string]error) {
	results := make(map[string]namedResult, len(account.Settings.Folders))
	errs := make(map[string]error)

	// A plain errgroup.Group (no WithContext) bounds concurrency via
	// SetLimit without linking a shared cancellation context — one
	// folder's failure must never cancel its siblings' in-flight
	// sessions, so every g.Go func always returns nil and reports its
	// real error through the outcomes channel instead.
	var g errgroup.Group
	g.SetLimit(folderConcurrency)

	type outcome struct {
		folder string
		result *reconcile.Result
		err    error
	}
	outcomes := make(chan outcome, len(account.Settings.Folders))

	for _, folder := range account.Settings.Folders {
		folder := folder
		g.Go(func() error {
			r, err := o.engine.ReconcileFolder(ctx, token, account, folder, force)
			outcomes <- outcome{folder: folder, result: r, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)

	for res := range outcomes {
		if res.err != nil {
			errs[res.folder] = res.err
			continue
		}
		results[res.folder] = namedResult{folder: res.folder, Result: res.result}
	}
	return results, errs
}
