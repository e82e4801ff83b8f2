// Package reconcile implements the Folder Reconciler: the state
// machine that, given a folder's last known state and a fresh
// CONDSTORE SELECT, decides the minimal set of IMAP operations needed
// to bring the local store back in sync (spec.md §4.4).
package reconcile

import (
	"context"
	"fmt"
	"time"

	gmimap "github.com/emersion/go-imap/v2"
	"github.com/berker-z/otto/internal/config"
	"github.com/berker-z/otto/internal/imap"
	"github.com/berker-z/otto/internal/logging"
	"github.com/berker-z/otto/internal/ottoerr"
	"github.com/berker-z/otto/internal/store"
	"github.com/rs/zerolog"
)

// fullScanInterval forces a full UID SEARCH/reconcile periodically
// even when nothing else triggers one, catching anything CONDSTORE
// and EXISTS-count bookkeeping alone might miss (spec.md §4.4's
// periodic full scan transition).
const fullScanInterval = 7 * 24 * time.Hour

// Engine runs ReconcileFolder for one (account, folder) pair at a
// time. It holds no per-folder state itself; everything it needs
// comes from the store and from the fresh SELECT.
type Engine struct {
	db               *store.DB
	limiter          *imap.AccountLimiter
	parseConcurrency int64
	log              zerolog.Logger
}

// NewEngine builds a reconciler. limiter bounds concurrent IMAP
// sessions per account (spec.md §5); parseConcurrency bounds the CPU
// pool used to sanitize fetched bodies. A parseConcurrency of 0 uses
// defaultParseConcurrency.
func NewEngine(db *store.DB, limiter *imap.AccountLimiter, parseConcurrency int64) *Engine {
	if parseConcurrency <= 0 {
		parseConcurrency = defaultParseConcurrency()
	}
	return &Engine{
		db:               db,
		limiter:          limiter,
		parseConcurrency: parseConcurrency,
		log:              logging.WithComponent("reconcile"),
	}
}

// Result summarizes one folder step for the orchestrator, which needs
// the live gm_msgid set to run purge_missing afterward (spec.md §4.5).
type Result struct {
	LiveGmMsgIDs []string
	NewCount     int
	UpdateCount  int

	// FullScan reports whether LiveGmMsgIDs reflects a fresh UID SEARCH
	// of the whole folder (true) rather than just CONDSTORE's changed
	// set (false). The orchestrator only trusts a folder's purge
	// candidates once it has a full-scan result for it — and even then
	// only deletes a message once its gm_msgid is confirmed absent from
	// every folder's live set in the same sync pass, per spec.md §4.4's
	// deferred cross-folder check.
	FullScan bool
}

// ReconcileFolder opens a fresh session for folder, classifies which
// of the five spec.md §4.4 transitions applies, executes the
// corresponding IMAP work, and commits the result atomically.
//
// A Network-kind failure (dead transport, TLS failure, timeout) is
// retried once with a brand-new session; if the retry also fails the
// folder is skipped for this run and its stored state is left
// untouched, per spec.md §7.
func (e *Engine) ReconcileFolder(ctx context.Context, accessToken string, account config.Account, folder string, force bool) (*Result, error) {
	prior, err := e.db.LoadFolderState(account.ID, folder)
	if err != nil {
		return nil, ottoerr.Store(fmt.Sprintf("load folder state %s/%s", account.ID, folder), err)
	}
	if prior == nil {
		prior = &store.FolderState{AccountID: account.ID, Folder: folder}
	}

	cfg := imap.DefaultSessionConfig(account.ID, accessToken)

	result, err := e.runFolderStep(ctx, cfg, account, folder, prior, force)
	if err != nil && isRetryableNetworkError(err) {
		e.log.Warn().Str("account", account.ID).Str("folder", folder).Err(err).
			Msg("network error, retrying once with a fresh session")
		result, err = e.runFolderStep(ctx, cfg, account, folder, prior, force)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// runFolderStep acquires one fresh session permit, dials a brand-new
// TLS session (spec.md §5 forbids reuse across attempts as much as
// across folders), and runs the transition logic against it.
func (e *Engine) runFolderStep(ctx context.Context, cfg imap.SessionConfig, account config.Account, folder string, prior *store.FolderState, force bool) (*Result, error) {
	var result *Result
	err := e.limiter.WithSession(ctx, account.ID, cfg, func(session *imap.Session) error {
		status, err := session.SelectCondStore(ctx, folder)
		if err != nil {
			return err
		}

		r, err := e.reconcileSelected(ctx, session, account, folder, prior, status, force)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// isRetryableNetworkError reports whether err represents the transport
// failure spec.md §7 says deserves one retry with a fresh connection:
// either explicitly tagged KindNetwork (e.g. a failed Dial) or
// recognizable as a dead socket even where it surfaced wrapped in a
// different Kind.
func isRetryableNetworkError(err error) bool {
	if e, ok := ottoerr.As(err); ok && e.Kind == ottoerr.KindNetwork {
		return true
	}
	return ottoerr.IsConnectionError(err)
}

// reconcileSelected picks and executes the transition once the folder
// is already SELECTed, per the table in spec.md §4.4:
//
//	V₀=None              -> initial seed (full fetch)
//	V≠V₀                 -> folder rebuilt (wipe, full fetch)
//	M=M₀∧E=E₀∧¬force     -> no-op
//	V=V₀∧M>M₀            -> incremental (search modseq, split new/updated)
//	V=V₀∧E<E₀            -> expunge suspected -> full scan
//	time since last full scan exceeds fullScanInterval -> full scan
func (e *Engine) reconcileSelected(ctx context.Context, session *imap.Session, account config.Account, folder string, prior *store.FolderState, status *imap.FolderStatus, force bool) (*Result, error) {
	accountID := account.ID

	switch {
	case prior.UIDValidity == nil:
		e.log.Info().Str("account", accountID).Str("folder", folder).Msg("initial seed")
		return e.fullScan(ctx, session, account, folder, status, prior, true)

	case *prior.UIDValidity != status.UIDValidity:
		e.log.Warn().Str("account", accountID).Str("folder", folder).
			Uint32("old_uidvalidity", *prior.UIDValidity).Uint32("new_uidvalidity", status.UIDValidity).
			Msg("uidvalidity changed, rebuilding folder")
		if err := e.db.RebuildFolder(accountID, folder, status.UIDValidity); err != nil {
			return nil, ottoerr.Store("rebuild folder", err)
		}
		return e.fullScan(ctx, session, account, folder, status, prior, true)

	case !force && status.HighestModSeq == prior.HighestModSeq && status.ExistsCount == prior.ExistsCount:
		e.log.Debug().Str("account", accountID).Str("folder", folder).Msg("no-op, nothing changed")
		return e.noOp(accountID, folder)

	case status.ExistsCount < prior.ExistsCount:
		e.log.Info().Str("account", accountID).Str("folder", folder).
			Uint32("old_exists", prior.ExistsCount).Uint32("new_exists", status.ExistsCount).
			Msg("exists count dropped, expunge suspected, running full scan")
		return e.fullScan(ctx, session, account, folder, status, prior, false)

	case time.Since(prior.LastFullScanTS) > fullScanInterval:
		e.log.Info().Str("account", accountID).Str("folder", folder).Msg("periodic full scan due")
		return e.fullScan(ctx, session, account, folder, status, prior, false)

	default:
		e.log.Debug().Str("account", accountID).Str("folder", folder).
			Uint64("old_modseq", prior.HighestModSeq).Uint64("new_modseq", status.HighestModSeq).
			Msg("incremental sync")
		return e.incremental(ctx, session, account, folder, prior, status)
	}
}

// noOp returns the folder's current live set, read from the store,
// without writing to the database — spec.md S1's no-op row is explicit that
// commit_folder_batch is not called and zero rows change, so nothing
// here may write a fresh last_sync_ts or any other state.
func (e *Engine) noOp(accountID, folder string) (*Result, error) {
	locs, err := e.db.LoadMessageLocations(accountID, folder)
	if err != nil {
		return nil, ottoerr.Store("load message locations", err)
	}
	live := make([]string, 0, len(locs))
	for _, l := range locs {
		live = append(live, l.GmMsgID)
	}

	batch := store.FolderBatch{AccountID: accountID, Folder: folder}
	if !batch.IsEmpty() {
		if err := e.db.CommitFolderBatch(batch); err != nil {
			return nil, ottoerr.Store("commit no-op batch", err)
		}
	}
	return &Result{LiveGmMsgIDs: live}, nil
}

// incremental handles the common case: CONDSTORE told us exactly which
// UIDs changed MODSEQ since the last sync. Each changed UID is either
// new (not in our local set) or an update to flags/labels/folder on a
// message we already have.
func (e *Engine) incremental(ctx context.Context, session *imap.Session, account config.Account, folder string, prior *store.FolderState, status *imap.FolderStatus) (*Result, error) {
	accountID := account.ID

	changed, err := session.SearchModSeqSince(ctx, prior.HighestModSeq, account.Settings.Cutoff)
	if err != nil {
		return nil, err
	}

	locs, err := e.db.LoadMessageLocations(accountID, folder)
	if err != nil {
		return nil, ottoerr.Store("load message locations", err)
	}
	known := make(map[gmimap.UID]bool, len(locs))
	for _, l := range locs {
		known[gmimap.UID(l.UID)] = true
	}

	newUIDs, updatedUIDs := partitionKnown(changed, known)

	parsed, err := e.fetchAndParseNew(ctx, session, newUIDs)
	if err != nil {
		return nil, err
	}
	newMsgs, movesFromNew, err := e.classifyNew(accountID, folder, parsed)
	if err != nil {
		return nil, err
	}

	updates, err := e.fetchUpdates(ctx, session, updatedUIDs, folder)
	if err != nil {
		return nil, err
	}
	updates = append(updates, movesFromNew...)

	locsAfter, err := e.db.LoadMessageLocations(accountID, folder)
	if err != nil {
		return nil, ottoerr.Store("load message locations", err)
	}
	live := liveGmMsgIDs(locsAfter, newMsgs)

	batch := store.FolderBatch{
		AccountID:   accountID,
		Folder:      folder,
		New:         newMsgs,
		Updates:     updates,
		FolderState: folderStateFrom(accountID, folder, status, prior, false),
	}
	if err := e.db.CommitFolderBatch(batch); err != nil {
		return nil, ottoerr.Store("commit incremental batch", err)
	}

	return &Result{LiveGmMsgIDs: live, NewCount: len(newMsgs), UpdateCount: len(updates)}, nil
}

// fullScan re-derives the folder's entire message set from a fresh UID
// SEARCH, used for the initial seed, a UIDVALIDITY rebuild, an
// expunge-suspected recovery, and the periodic full scan. isInitial
// only affects logging; the commit logic is identical in all four
// cases.
func (e *Engine) fullScan(ctx context.Context, session *imap.Session, account config.Account, folder string, status *imap.FolderStatus, prior *store.FolderState, isInitial bool) (*Result, error) {
	accountID := account.ID

	allUIDs, err := session.SearchAllUIDs(ctx, account.Settings.Cutoff)
	if err != nil {
		return nil, err
	}

	locs, err := e.db.LoadMessageLocations(accountID, folder)
	if err != nil {
		return nil, ottoerr.Store("load message locations", err)
	}
	known := make(map[gmimap.UID]bool, len(locs))
	for _, l := range locs {
		known[gmimap.UID(l.UID)] = true
	}

	newUIDs, updatedUIDs := partitionKnown(allUIDs, known)

	parsed, err := e.fetchAndParseNew(ctx, session, newUIDs)
	if err != nil {
		return nil, err
	}
	newMsgs, movesFromNew, err := e.classifyNew(accountID, folder, parsed)
	if err != nil {
		return nil, err
	}

	updates, err := e.fetchUpdates(ctx, session, updatedUIDs, folder)
	if err != nil {
		return nil, err
	}
	updates = append(updates, movesFromNew...)

	// missingHere are messages this folder used to have but the fresh
	// UID SEARCH no longer reports. They are NOT deleted in this
	// folder's own commit: spec.md §4.4 defers the purge decision until
	// every folder in the account has reported its live set, since a
	// message missing here may simply have moved to a folder this
	// orchestrator pass hasn't reconciled yet.
	seen := make(map[gmimap.UID]bool, len(allUIDs))
	for _, u := range allUIDs {
		seen[u] = true
	}
	var missingHere int
	liveSet := make(map[string]bool, len(locs)+len(newMsgs))
	for _, l := range locs {
		if seen[gmimap.UID(l.UID)] {
			liveSet[l.GmMsgID] = true
		} else {
			missingHere++
		}
	}
	for _, m := range newMsgs {
		liveSet[m.Metadata.GmMsgID] = true
	}
	live := make([]string, 0, len(liveSet))
	for id := range liveSet {
		live = append(live, id)
	}

	fs := folderStateFrom(accountID, folder, status, prior, true)
	batch := store.FolderBatch{
		AccountID:   accountID,
		Folder:      folder,
		New:         newMsgs,
		Updates:     updates,
		FolderState: fs,
	}
	if err := e.db.CommitFolderBatch(batch); err != nil {
		return nil, ottoerr.Store("commit full scan batch", err)
	}

	e.log.Info().Str("account", accountID).Str("folder", folder).Bool("initial", isInitial).
		Int("new", len(newMsgs)).Int("updated", len(updates)).Int("missing_here", missingHere).
		Msg("full scan committed")

	return &Result{LiveGmMsgIDs: live, NewCount: len(newMsgs), UpdateCount: len(updates), FullScan: true}, nil
}

func folderStateFrom(accountID, folder string, status *imap.FolderStatus, prior *store.FolderState, isFullScan bool) store.FolderState {
	uidValidity := status.UIDValidity
	now := time.Now()
	fs := store.FolderState{
		AccountID:      accountID,
		Folder:         folder,
		UIDValidity:    &uidValidity,
		HighestUID:     status.UIDNext - 1,
		HighestModSeq:  status.HighestModSeq,
		ExistsCount:    status.ExistsCount,
		LastSyncTS:     now,
		LastFullScanTS: prior.LastFullScanTS,
	}
	if isFullScan {
		fs.LastFullScanTS = now
	}
	return fs
}

// liveGmMsgIDs merges the gm_msgids on disk for the folder (read just
// before the incremental commit) with the new ones that commit
// inserts; used by the
// orchestrator's account-wide purge_missing step (spec.md §4.5).
func liveGmMsgIDs(locsAfter []store.MessageLocation, newMsgs []store.NewMessage) []string {
	out := make([]string, 0, len(locsAfter)+len(newMsgs))
	for _, l := range locsAfter {
		out = append(out, l.GmMsgID)
	}
	for _, m := range newMsgs {
		out = append(out, m.Metadata.GmMsgID)
	}
	return out
}
