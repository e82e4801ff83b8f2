// Command otto runs one sync pass over a set of Gmail accounts,
// mirroring each into the local embedded store (spec.md §6).
//
// Account configuration and access-token delivery are external
// collaborators per spec.md §1/§6 (no OAuth flow, no onboarding UI is
// part of the sync core) — loadAccountsFromEnv and envTokenProvider
// in bootstrap.go are the thinnest possible stand-ins so the
// binary runs standalone, not a reference implementation of either
// concern.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/berker-z/otto/internal/logging"
	"github.com/berker-z/otto/internal/orchestrator"
	"github.com/berker-z/otto/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("otto", flag.ContinueOnError)
	noSync := fs.Bool("no-sync", false, "skip sync, serve from the local cache only")
	addAccount := fs.Bool("add-account", false, "run onboarding before syncing")
	force := fs.Bool("force", false, "bypass the MODSEQ no-op fast path for every folder")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logging.Init(os.Getenv("OTTO_DEBUG") != "")
	log := logging.WithComponent("main")

	if *addAccount {
		// Onboarding (OAuth consent, account persistence) is a Non-goal
		// of the sync core itself; this binary only points at where
		// account configuration is expected to live.
		fmt.Fprintln(os.Stderr, "add-account: onboarding is handled outside the sync core; "+
			"set OTTO_ACCOUNTS and OTTO_FOLDERS and rerun without --add-account")
		return 0
	}

	dbPath, err := defaultDBPath()
	if err != nil {
		log.Error().Err(err).Msg("could not resolve store path")
		return 1
	}
	db, err := store.Open(dbPath)
	if err != nil {
		log.Error().Err(err).Str("path", dbPath).Msg("failed to open store")
		return 1
	}
	defer db.Close()

	if *noSync {
		log.Info().Str("path", dbPath).Msg("no-sync: serving from cache only")
		return 0
	}

	accounts, err := loadAccountsFromEnv()
	if err != nil {
		log.Error().Err(err).Msg("failed to load accounts")
		return 1
	}
	if len(accounts) == 0 {
		log.Warn().Msg("no accounts configured, nothing to sync")
		return 0
	}
	// Folder state and message rows reference the accounts table, so
	// every configured account is upserted before syncing.
	for _, a := range accounts {
		if err := db.SaveAccount(a); err != nil {
			log.Error().Err(err).Str("account", a.ID).Msg("failed to save account")
			return 1
		}
	}

	tokens := newEnvTokenProvider()
	orch := orchestrator.New(db, tokens, defaultSessionLimit, int64(runtime.NumCPU()))

	results := orch.SyncAll(context.Background(), accounts, *force)

	failed := 0
	for _, r := range results {
		if len(r.FolderErrors) > 0 {
			failed++
			for folder, ferr := range r.FolderErrors {
				log.Warn().Str("account", r.AccountID).Str("folder", folder).Err(ferr).Msg("folder sync failed")
			}
			continue
		}
		log.Info().Str("account", r.AccountID).Int("folders", r.FoldersSynced).
			Int("new", r.NewMessages).Int("updated", r.UpdatedMessages).Msg("account synced")
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "otto: %d of %d accounts finished with errors\n", failed, len(results))
		return 1
	}
	return 0
}

// defaultSessionLimit bounds concurrent IMAP sessions per account
// (spec.md §5).
const defaultSessionLimit = 3

// defaultDBPath resolves spec.md §6's platform-appropriate store
// location: $HOME/otto/otto.db on Unix, %USERPROFILE%\otto\otto.db on
// Windows.
func defaultDBPath() (string, error) {
	var home string
	var err error
	if runtime.GOOS == "windows" {
		home = os.Getenv("USERPROFILE")
		if home == "" {
			return "", fmt.Errorf("USERPROFILE is not set")
		}
	} else {
		home, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
	}
	dir := filepath.Join(home, "otto")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create otto directory: %w", err)
	}
	return filepath.Join(dir, "otto.db"), nil
}
