package imap

import (
	"context"
	"sync"

	"github.com/berker-z/otto/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// AccountLimiter bounds how many concurrent IMAP sessions one account
// may hold open at once. Unlike the reuse-pool pattern Otto's teacher
// codebase uses, Dial always opens a brand-new TLS connection per
// folder (spec.md §5) — the limiter exists purely to cap concurrency,
// never to hand back a live connection.
type AccountLimiter struct {
	mu    sync.Mutex
	sems  map[string]*semaphore.Weighted
	limit int64
	log   zerolog.Logger
}

// NewAccountLimiter creates a limiter allowing up to limit concurrent
// folder sessions per account.
func NewAccountLimiter(limit int64) *AccountLimiter {
	return &AccountLimiter{
		sems:  make(map[string]*semaphore.Weighted),
		limit: limit,
		log:   logging.WithComponent("imap-pool"),
	}
}

func (l *AccountLimiter) semFor(accountID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[accountID]
	if !ok {
		sem = semaphore.NewWeighted(l.limit)
		l.sems[accountID] = sem
	}
	return sem
}

// Acquire blocks until a permit for accountID is available or ctx is
// cancelled. The caller must call the returned release func exactly
// once, regardless of what it does with the permit.
func (l *AccountLimiter) Acquire(ctx context.Context, accountID string) (release func(), err error) {
	sem := l.semFor(accountID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	l.log.Debug().Str("account", accountID).Msg("acquired folder session permit")
	return func() {
		sem.Release(1)
		l.log.Debug().Str("account", accountID).Msg("released folder session permit")
	}, nil
}

// WithSession acquires a permit, dials a fresh session, runs fn, and
// always closes the session and releases the permit afterward —
// the one entry point the reconciler/orchestrator should use so a
// folder step never forgets to release either resource.
func (l *AccountLimiter) WithSession(ctx context.Context, accountID string, cfg SessionConfig, fn func(*Session) error) error {
	release, err := l.Acquire(ctx, accountID)
	if err != nil {
		return err
	}
	defer release()

	session, err := Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	return fn(session)
}
