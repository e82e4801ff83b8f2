package reconcile

import (
	"context"
	"fmt"
	"runtime"

	gmimap "github.com/emersion/go-imap/v2"
	"github.com/berker-z/otto/internal/imap"
	"github.com/berker-z/otto/internal/ottoerr"
	"github.com/berker-z/otto/internal/sanitize"
	"github.com/berker-z/otto/internal/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// newBatchSize and updateBatchSize are the per-UID-FETCH batch caps
// spec.md §4.4 names for the new-message and metadata-refresh
// pipelines respectively.
const (
	newBatchSize    = 50
	updateBatchSize = 200
)

// parsedMessage pairs one fetched summary with its sanitized body,
// produced by the bounded CPU parse pool.
type parsedMessage struct {
	summary imap.MessageSummary
	body    sanitize.SanitizedBody
}

// fetchAndParseNew fetches full bodies for uids in bounded batches and
// sanitizes each one on a CPU-bounded worker pool (spec.md §4.4's
// fetch pipeline, step 3: "hand the batch to a CPU pool for parallel
// parse+sanitize").
func (e *Engine) fetchAndParseNew(ctx context.Context, session *imap.Session, uids []gmimap.UID) ([]parsedMessage, error) {
	var all []parsedMessage

	for _, batch := range batchUIDs(uids, newBatchSize) {
		summaries, err := session.FetchFull(ctx, toUIDSet(batch))
		if err != nil {
			return nil, err
		}

		parsed, err := parseBatch(ctx, summaries, e.parseConcurrency)
		if err != nil {
			return nil, err
		}
		all = append(all, parsed...)
	}
	return all, nil
}

// parseBatch runs sanitize.Sanitize for every summary concurrently,
// bounded to parseConcurrency workers (spec.md §5: CPU-bound parsing
// must not serialize behind network I/O but also must not spawn
// unbounded goroutines for a large batch).
func parseBatch(ctx context.Context, summaries []imap.MessageSummary, parseConcurrency int64) ([]parsedMessage, error) {
	if len(summaries) == 0 {
		return nil, nil
	}

	sem := semaphore.NewWeighted(parseConcurrency)
	g, gctx := errgroup.WithContext(ctx)
	out := make([]parsedMessage, len(summaries))

	for i, summary := range summaries {
		i, summary := i, summary
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			out[i] = parsedMessage{summary: summary, body: sanitize.Sanitize(summary.Raw)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, ottoerr.Parse("parse batch", err)
	}
	return out, nil
}

// fetchUpdates fetches metadata without bodies (FetchMetadata) for
// messages already known locally, in batches of updateBatchSize, and
// turns each into a flags/labels/location update keyed by gm_msgid
// (spec.md §4.4's metadata-refresh path).
func (e *Engine) fetchUpdates(ctx context.Context, session *imap.Session, uids []gmimap.UID, folder string) ([]store.MetadataUpdate, error) {
	var updates []store.MetadataUpdate

	for _, batch := range batchUIDs(uids, updateBatchSize) {
		summaries, err := session.FetchMetadata(ctx, toUIDSet(batch))
		if err != nil {
			return nil, err
		}
		for _, s := range summaries {
			if s.GmMsgID == "" {
				continue
			}
			updates = append(updates, store.MetadataUpdate{
				GmMsgID: s.GmMsgID,
				Folder:  folder,
				UID:     uint32(s.UID),
				Flags:   s.Flags,
				Labels:  s.Labels,
			})
		}
	}
	return updates, nil
}

// classifyNew turns each parsed new message into either a brand-new
// row or, if its gm_msgid already has a row elsewhere in the account,
// a location update — Gmail's label-as-move semantics under this
// single-location data model (spec.md §4.4).
func (e *Engine) classifyNew(accountID, folder string, parsed []parsedMessage) (newMsgs []store.NewMessage, moves []store.MetadataUpdate, err error) {
	for _, p := range parsed {
		if p.summary.GmMsgID == "" {
			// Server didn't return X-GM-MSGID (non-Gmail edge case);
			// without a stable id this message can never be matched
			// across folders or deduped, so it is skipped rather than
			// stored under an unstable key.
			e.log.Warn().Uint32("uid", uint32(p.summary.UID)).Msg("message missing gm_msgid, skipping")
			continue
		}

		existing, _, lookupErr := e.db.FindLocationByGmMsgID(accountID, p.summary.GmMsgID)
		if lookupErr != nil {
			return nil, nil, fmt.Errorf("lookup gm_msgid %s: %w", p.summary.GmMsgID, lookupErr)
		}
		if existing != nil {
			moves = append(moves, store.MetadataUpdate{
				GmMsgID: p.summary.GmMsgID,
				Folder:  folder,
				UID:     uint32(p.summary.UID),
				Flags:   p.summary.Flags,
				Labels:  p.summary.Labels,
			})
			continue
		}

		newMsgs = append(newMsgs, newMessageFrom(accountID, folder, p))
	}
	return newMsgs, moves, nil
}

func newMessageFrom(accountID, folder string, p parsedMessage) store.NewMessage {
	var threadID string
	if p.summary.GmThreadID != "" {
		threadID = p.summary.GmThreadID
	}

	var from, to, cc, bcc []store.Address
	var subject string
	if p.summary.Envelope != nil {
		subject = p.summary.Envelope.Subject
		from = addressesFrom(p.summary.Envelope.From)
		to = addressesFrom(p.summary.Envelope.To)
		cc = addressesFrom(p.summary.Envelope.Cc)
		bcc = addressesFrom(p.summary.Envelope.Bcc)
	}

	attachments := make([]store.AttachmentDescriptor, 0, len(p.body.Attachments))
	for _, a := range p.body.Attachments {
		attachments = append(attachments, store.AttachmentDescriptor{
			Filename:    a.Filename,
			Size:        a.Size,
			ContentType: a.ContentType,
			ContentID:   a.ContentID,
		})
	}

	return store.NewMessage{
		Metadata: store.MessageMetadata{
			GmMsgID:        p.summary.GmMsgID,
			AccountID:      accountID,
			Folder:         folder,
			UID:            uint32(p.summary.UID),
			ThreadID:       threadID,
			InternalDate:   p.summary.InternalDate,
			Subject:        subject,
			From:           from,
			To:             to,
			Cc:             cc,
			Bcc:            bcc,
			Flags:          p.summary.Flags,
			Labels:         p.summary.Labels,
			HasAttachments: p.body.HasAttachments,
			SizeBytes:      int(p.summary.Size),
			RawHash:        p.body.ContentHash,
		},
		Body: store.MessageBody{
			GmMsgID:       p.summary.GmMsgID,
			Raw:           p.summary.Raw,
			SanitizedText: p.body.PlainText,
			MimeSummary:   p.body.MimeSummary,
			Attachments:   attachments,
		},
	}
}

func addressesFrom(envAddrs []gmimap.Address) []store.Address {
	out := make([]store.Address, 0, len(envAddrs))
	for _, a := range envAddrs {
		out = append(out, store.Address{
			Name:  a.Name,
			Email: fmt.Sprintf("%s@%s", a.Mailbox, a.Host),
		})
	}
	return out
}

// parseConcurrency defaults to the number of logical CPUs, matching
// how much parallel parsing a single folder sync step can usefully
// run without starving the rest of the process (spec.md §5).
func defaultParseConcurrency() int64 {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return int64(n)
}
