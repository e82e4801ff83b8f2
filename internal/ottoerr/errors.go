// Package ottoerr defines the sync core's error taxonomy and the thin
// external-collaborator contracts the core depends on.
package ottoerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an error for the orchestrator's propagation policy.
// See spec.md §7.
type Kind int

const (
	// KindUnknown is never produced by this package; it is the zero
	// value so an unwrapped error doesn't accidentally match a kind.
	KindUnknown Kind = iota
	KindAuth
	KindNetwork
	KindProtocol
	KindParse
	KindStore
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "Auth"
	case KindNetwork:
		return "Network"
	case KindProtocol:
		return "Protocol"
	case KindParse:
		return "Parse"
	case KindStore:
		return "Store"
	case KindConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

// Error wraps a cause with a Kind and human-readable operation context,
// e.g. "UID FETCH batch 3 of 7 in INBOX".
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a new kinded error with context.
func New(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Cause: cause}
}

// Auth, Network, Protocol, Parse, Store, and Config are convenience
// constructors mirroring the taxonomy in spec.md §7.
func Auth(context string, cause error) *Error     { return New(KindAuth, context, cause) }
func Network(context string, cause error) *Error  { return New(KindNetwork, context, cause) }
func Protocol(context string, cause error) *Error { return New(KindProtocol, context, cause) }
func Parse(context string, cause error) *Error    { return New(KindParse, context, cause) }
func Store(context string, cause error) *Error    { return New(KindStore, context, cause) }
func Config(context string, cause error) *Error   { return New(KindConfig, context, cause) }

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsConnectionError reports whether err indicates a dead or broken
// transport, warranting a discard-and-reconnect rather than a retry on
// the same socket. Go's net and TLS packages don't expose a single
// sentinel for this, so — like the teacher's internal/imap package —
// this matches on the handful of well-known substrings.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	for _, needle := range []string{
		"use of closed network connection",
		"connection reset",
		"broken pipe",
		"EOF",
		"i/o timeout",
		"connection refused",
		"no such host",
		"network is unreachable",
	} {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

// TokenProvider is the external access-token collaborator described in
// spec.md §6. The sync core never refreshes or stores tokens itself.
type TokenProvider interface {
	FetchAccessToken(ctx context.Context, accountID string) (token string, expiresAt *time.Time, err error)
}
