// Package imap wraps emersion/go-imap/v2 with the narrow slice of
// IMAP Otto needs: CONDSTORE-aware SELECT, UID SEARCH/FETCH, and
// Gmail's X-GM-EXT-1 identifiers, authenticated with XOAUTH2 only
// (spec.md §4.3).
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/berker-z/otto/internal/logging"
	"github.com/berker-z/otto/internal/ottoerr"
	"github.com/rs/zerolog"
)

// deadlineConn sets read/write deadlines on every call, so a stalled
// TLS peer can't hang a sync step forever.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// SessionConfig describes one fresh connection (spec.md §5: a new TLS
// session per folder, never reused across folders).
type SessionConfig struct {
	Host           string
	Port           int
	Username       string
	AccessToken    string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultSessionConfig returns Gmail's well-known IMAP endpoint with
// timeouts generous enough for large body fetches.
func DefaultSessionConfig(username, accessToken string) SessionConfig {
	return SessionConfig{
		Host:           "imap.gmail.com",
		Port:           993,
		Username:       username,
		AccessToken:    accessToken,
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    3 * time.Minute,
		WriteTimeout:   30 * time.Second,
	}
}

// Session is a single logged-in, folder-scoped IMAP connection.
type Session struct {
	cfg    SessionConfig
	client *imapclient.Client
	caps   imap.CapSet
	log    zerolog.Logger
}

// Dial opens a fresh TLS connection and authenticates with XOAUTH2.
// The caller is responsible for calling Close when the folder step is
// done (spec.md §5).
func Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	log := logging.WithComponent("imap")
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: cfg.Host})
	if err != nil {
		return nil, ottoerr.Network(fmt.Sprintf("dial %s", addr), err)
	}

	conn := &deadlineConn{Conn: rawConn, readTimeout: cfg.ReadTimeout, writeTimeout: cfg.WriteTimeout}
	client := imapclient.New(conn, &imapclient.Options{})

	if err := client.WaitGreeting(); err != nil {
		client.Close()
		return nil, ottoerr.Network("wait for server greeting", err)
	}

	s := &Session{cfg: cfg, client: client, caps: client.Caps(), log: log}

	saslClient := NewXOAuth2Client(cfg.Username, cfg.AccessToken)
	if err := client.Authenticate(saslClient); err != nil {
		client.Close()
		return nil, ottoerr.Auth(fmt.Sprintf("xoauth2 login for %s", cfg.Username), err)
	}
	s.caps = client.Caps()

	if !s.caps.Has(imap.CapCondStore) {
		client.Close()
		return nil, ottoerr.Protocol("server capabilities", fmt.Errorf("server does not advertise CONDSTORE"))
	}

	log.Debug().Str("host", cfg.Host).Str("user", cfg.Username).Msg("imap session established")
	return s, nil
}

// Close logs out and releases the underlying connection.
func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Logout().Wait(); err != nil {
		s.log.Debug().Err(err).Msg("logout failed, closing anyway")
	}
	return s.client.Close()
}

// FolderStatus is the result of a CONDSTORE-enabled SELECT.
type FolderStatus struct {
	UIDValidity   uint32
	UIDNext       uint32
	ExistsCount   uint32
	HighestModSeq uint64
}

// SelectCondStore selects folder with CONDSTORE enabled, returning the
// state the reconciler diffs against its last known state (spec.md
// §4.4).
func (s *Session) SelectCondStore(ctx context.Context, folder string) (*FolderStatus, error) {
	type result struct {
		data *imap.SelectData
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := s.client.Select(folder, &imap.SelectOptions{CondStore: true}).Wait()
		ch <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, ottoerr.Protocol(fmt.Sprintf("select %s", folder), r.err)
		}
		return &FolderStatus{
			UIDValidity:   r.data.UIDValidity,
			UIDNext:       uint32(r.data.UIDNext),
			ExistsCount:   r.data.NumMessages,
			HighestModSeq: r.data.HighestModSeq,
		}, nil
	}
}

// SearchAllUIDs returns every UID in the currently selected folder
// with INTERNALDATE on or after cutoff (the zero Time disables the
// filter). Used for the initial seed and full-scan reconciler steps
// (spec.md §4.4).
func (s *Session) SearchAllUIDs(ctx context.Context, cutoff time.Time) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{}
	if !cutoff.IsZero() {
		criteria.Since = cutoff
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, ottoerr.Protocol("uid search", err)
	}
	return data.AllUIDs(), nil
}

// SearchModSeqSince returns the UIDs of messages whose MODSEQ exceeds
// modSeq and whose INTERNALDATE is on or after cutoff (the zero Time
// disables that term) — the incremental reconciler step (spec.md
// §4.4's "V=V₀∧M>M₀" transition, e.g. "UID SEARCH SINCE 2024-12-01
// MODSEQ 501").
func (s *Session) SearchModSeqSince(ctx context.Context, modSeq uint64, cutoff time.Time) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{
		ModSeq: &imap.SearchCriteriaModSeq{ModSeq: modSeq + 1},
	}
	if !cutoff.IsZero() {
		criteria.Since = cutoff
	}
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, ottoerr.Protocol("uid search modseq", err)
	}
	return data.AllUIDs(), nil
}

// MessageSummary is a single UID FETCH's worth of metadata plus, for
// new messages, the raw RFC 822 body (spec.md §4.3).
type MessageSummary struct {
	UID          imap.UID
	GmMsgID      string
	GmThreadID   string
	Flags        []string
	Labels       []string
	InternalDate time.Time
	Size         uint32
	Envelope     *imap.Envelope
	Raw          []byte // nil unless fetched with FetchFull
}

// FetchMetadata fetches flags, labels, envelope, and size for uids —
// everything needed to detect updates without downloading bodies
// (spec.md §4.4's incremental step).
func (s *Session) FetchMetadata(ctx context.Context, uids imap.UIDSet) ([]MessageSummary, error) {
	return s.fetch(ctx, uids, &imap.FetchOptions{
		UID:           true,
		Flags:         true,
		Envelope:      true,
		InternalDate:  true,
		RFC822Size:    true,
		GMailMsgID:    true,
		GMailThreadID: true,
		GMailLabels:   true,
	})
}

// FetchFull fetches metadata plus the full raw RFC 822 body, for
// brand-new messages that still need parsing (spec.md §4.3).
func (s *Session) FetchFull(ctx context.Context, uids imap.UIDSet) ([]MessageSummary, error) {
	return s.fetch(ctx, uids, &imap.FetchOptions{
		UID:           true,
		Flags:         true,
		Envelope:      true,
		InternalDate:  true,
		RFC822Size:    true,
		GMailMsgID:    true,
		GMailThreadID: true,
		GMailLabels:   true,
		BodySection:   []*imap.FetchItemBodySection{{}},
	})
}

func (s *Session) fetch(ctx context.Context, uids imap.UIDSet, options *imap.FetchOptions) ([]MessageSummary, error) {
	cmd := s.client.Fetch(uids, options)
	defer cmd.Close()

	var out []MessageSummary
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}

		var summary MessageSummary
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch item := item.(type) {
			case imapclient.FetchItemDataUID:
				summary.UID = item.UID
			case imapclient.FetchItemDataFlags:
				summary.Flags = flagsToStrings(item.Flags)
			case imapclient.FetchItemDataEnvelope:
				summary.Envelope = item.Envelope
			case imapclient.FetchItemDataInternalDate:
				summary.InternalDate = item.Time
			case imapclient.FetchItemDataRFC822Size:
				summary.Size = uint32(item.Size)
			case imapclient.FetchItemDataGMailMsgID:
				summary.GmMsgID = fmt.Sprintf("%d", item.MsgID)
			case imapclient.FetchItemDataGMailThreadID:
				summary.GmThreadID = fmt.Sprintf("%d", item.ThreadID)
			case imapclient.FetchItemDataGMailLabels:
				summary.Labels = item.Labels
			case imapclient.FetchItemDataBodySection:
				raw, err := readAllLimited(item.Literal, maxMessageSize)
				if err != nil {
					return nil, ottoerr.Parse("read body section", err)
				}
				summary.Raw = raw
			}
		}
		out = append(out, summary)
	}

	if err := cmd.Close(); err != nil {
		return nil, ottoerr.Protocol("uid fetch", err)
	}
	return out, nil
}

// maxMessageSize bounds a single message body read so one oversized
// attachment-heavy message can't blow out process memory during a
// folder sync (spec.md §5).
const maxMessageSize = 64 << 20 // 64 MiB

// readAllLimited reads r fully but errors out if it exceeds limit,
// protecting against a misbehaving or malicious server claiming an
// unbounded literal size.
func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: limit + 1}
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("message body exceeds %d bytes", limit)
	}
	return b, nil
}

func flagsToStrings(flags []imap.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}
