package reconcile

import (
	"path/filepath"
	"testing"
	"time"

	gmimap "github.com/emersion/go-imap/v2"
	"github.com/berker-z/otto/internal/config"
	"github.com/berker-z/otto/internal/imap"
	"github.com/berker-z/otto/internal/logging"
	"github.com/berker-z/otto/internal/sanitize"
	"github.com/berker-z/otto/internal/store"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "otto.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	// folders and messages reference accounts(id), so the account row
	// must exist before any batch for it is committed.
	if err := db.SaveAccount(config.Account{ID: "acct-1", Provider: config.ProviderGmailImap}); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	return &Engine{db: db, parseConcurrency: 2, log: logging.WithComponent("reconcile-test")}
}

func sampleParsed(gmMsgID string, uid uint32) parsedMessage {
	return parsedMessage{
		summary: imap.MessageSummary{
			UID:          gmimap.UID(uid),
			GmMsgID:      gmMsgID,
			GmThreadID:   "thread-" + gmMsgID,
			Flags:        []string{"\\Seen"},
			Labels:       []string{"INBOX"},
			InternalDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Size:         42,
			Envelope:     &gmimap.Envelope{Subject: "hi"},
			Raw:          []byte("Content-Type: text/plain\r\n\r\nbody"),
		},
		body: sanitize.Sanitize([]byte("Content-Type: text/plain\r\n\r\nbody")),
	}
}

func TestClassifyNewInsertsBrandNewMessage(t *testing.T) {
	e := testEngine(t)

	newMsgs, moves, err := e.classifyNew("acct-1", "INBOX", []parsedMessage{sampleParsed("gm-1", 10)})
	if err != nil {
		t.Fatalf("classifyNew: %v", err)
	}
	if len(newMsgs) != 1 || len(moves) != 0 {
		t.Fatalf("expected 1 new message and no moves, got %d new, %d moves", len(newMsgs), len(moves))
	}
	if newMsgs[0].Metadata.GmMsgID != "gm-1" || newMsgs[0].Metadata.Folder != "INBOX" {
		t.Errorf("unexpected metadata: %+v", newMsgs[0].Metadata)
	}
}

func TestClassifyNewDetectsMoveAcrossFolders(t *testing.T) {
	e := testEngine(t)

	existing := store.NewMessage{
		Metadata: store.MessageMetadata{
			GmMsgID:      "gm-1",
			AccountID:    "acct-1",
			Folder:       "INBOX",
			UID:          5,
			InternalDate: time.Now(),
			Flags:        []string{"\\Seen"},
			Labels:       []string{"INBOX"},
			RawHash:      "hash-gm-1",
		},
		Body: store.MessageBody{GmMsgID: "gm-1", Raw: []byte("raw")},
	}
	err := e.db.CommitFolderBatch(store.FolderBatch{
		AccountID:   "acct-1",
		Folder:      "INBOX",
		New:         []store.NewMessage{existing},
		FolderState: store.FolderState{AccountID: "acct-1", Folder: "INBOX"},
	})
	if err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	newMsgs, moves, err := e.classifyNew("acct-1", "[Gmail]/All Mail", []parsedMessage{sampleParsed("gm-1", 99)})
	if err != nil {
		t.Fatalf("classifyNew: %v", err)
	}
	if len(newMsgs) != 0 || len(moves) != 1 {
		t.Fatalf("expected a move, not a new insert, got %d new, %d moves", len(newMsgs), len(moves))
	}
	if moves[0].Folder != "[Gmail]/All Mail" || moves[0].UID != 99 {
		t.Errorf("unexpected move: %+v", moves[0])
	}
}

func TestClassifyNewSkipsMessagesWithoutGmMsgID(t *testing.T) {
	e := testEngine(t)

	p := sampleParsed("", 1)
	newMsgs, moves, err := e.classifyNew("acct-1", "INBOX", []parsedMessage{p})
	if err != nil {
		t.Fatalf("classifyNew: %v", err)
	}
	if len(newMsgs) != 0 || len(moves) != 0 {
		t.Errorf("expected message without gm_msgid to be skipped, got %d new, %d moves", len(newMsgs), len(moves))
	}
}

func TestNewMessageFromCarriesEnvelopeAndBody(t *testing.T) {
	p := sampleParsed("gm-7", 3)
	msg := newMessageFrom("acct-1", "INBOX", p)

	if msg.Metadata.Subject != "hi" {
		t.Errorf("expected subject carried from envelope, got %q", msg.Metadata.Subject)
	}
	if msg.Body.SanitizedText == "" {
		t.Errorf("expected sanitized text to be populated")
	}
	if msg.Metadata.ThreadID != "thread-gm-7" {
		t.Errorf("unexpected thread id: %q", msg.Metadata.ThreadID)
	}
}

func TestAddressesFromFormatsMailboxAtHost(t *testing.T) {
	out := addressesFrom([]gmimap.Address{{Name: "A", Mailbox: "a", Host: "example.com"}})
	if len(out) != 1 || out[0].Email != "a@example.com" {
		t.Fatalf("unexpected addresses: %+v", out)
	}
}
