package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/berker-z/otto/internal/config"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "otto.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	// folders and messages reference accounts(id), so the account row
	// must exist before any batch for it is committed.
	if err := db.SaveAccount(config.Account{ID: "acct-1", Provider: config.ProviderGmailImap}); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	return db
}

func sampleMessage(accountID, folder, gmMsgID string, uid uint32) NewMessage {
	return NewMessage{
		Metadata: MessageMetadata{
			GmMsgID:      gmMsgID,
			AccountID:    accountID,
			Folder:       folder,
			UID:          uid,
			ThreadID:     "thread-1",
			InternalDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Subject:      "hello",
			From:         []Address{{Name: "A", Email: "a@example.com"}},
			To:           []Address{{Name: "B", Email: "b@example.com"}},
			Flags:        []string{"\\Seen"},
			Labels:       []string{"INBOX"},
			RawHash:      "hash-" + gmMsgID,
		},
		Body: MessageBody{
			GmMsgID:       gmMsgID,
			Raw:           []byte("raw bytes"),
			SanitizedText: "hello world",
			MimeSummary:   "text/plain",
		},
	}
}

func TestCommitFolderBatchInsertsMessageAndBody(t *testing.T) {
	db := newTestDB(t)

	batch := FolderBatch{
		AccountID: "acct-1",
		Folder:    "INBOX",
		New:       []NewMessage{sampleMessage("acct-1", "INBOX", "gm-1", 100)},
		FolderState: FolderState{
			AccountID:     "acct-1",
			Folder:        "INBOX",
			UIDValidity:   uint32ptr(1),
			HighestUID:    100,
			HighestModSeq: 5,
			ExistsCount:   1,
		},
	}

	if err := db.CommitFolderBatch(batch); err != nil {
		t.Fatalf("CommitFolderBatch: %v", err)
	}

	msg, err := db.LoadMessage("gm-1")
	if err != nil {
		t.Fatalf("LoadMessage: %v", err)
	}
	if msg == nil {
		t.Fatal("expected message to exist")
	}
	if msg.Subject != "hello" || msg.UID != 100 {
		t.Fatalf("unexpected message: %+v", msg)
	}

	body, err := db.LoadBody("gm-1")
	if err != nil {
		t.Fatalf("LoadBody: %v", err)
	}
	if body == nil || body.SanitizedText != "hello world" {
		t.Fatalf("unexpected body: %+v", body)
	}

	fs, err := db.LoadFolderState("acct-1", "INBOX")
	if err != nil {
		t.Fatalf("LoadFolderState: %v", err)
	}
	if fs == nil || fs.HighestModSeq != 5 {
		t.Fatalf("unexpected folder state: %+v", fs)
	}
}

func TestCommitFolderBatchIsAtomic(t *testing.T) {
	db := newTestDB(t)

	// An update referencing a gm_msgid that was never inserted should
	// fail the whole batch, leaving the new message uncommitted too.
	batch := FolderBatch{
		AccountID: "acct-1",
		Folder:    "INBOX",
		New:       []NewMessage{sampleMessage("acct-1", "INBOX", "gm-1", 100)},
		Updates:   []MetadataUpdate{{GmMsgID: "gm-does-not-exist", Folder: "INBOX", UID: 1}},
		FolderState: FolderState{
			AccountID:   "acct-1",
			Folder:      "INBOX",
			UIDValidity: uint32ptr(1),
		},
	}

	if err := db.CommitFolderBatch(batch); err == nil {
		t.Fatal("expected CommitFolderBatch to fail")
	}

	msg, err := db.LoadMessage("gm-1")
	if err != nil {
		t.Fatalf("LoadMessage: %v", err)
	}
	if msg != nil {
		t.Fatal("expected rollback to discard the new message too")
	}
}

func TestApplyMetadataUpdateAppliesMove(t *testing.T) {
	db := newTestDB(t)

	first := FolderBatch{
		AccountID:   "acct-1",
		Folder:      "INBOX",
		New:         []NewMessage{sampleMessage("acct-1", "INBOX", "gm-1", 100)},
		FolderState: FolderState{AccountID: "acct-1", Folder: "INBOX", UIDValidity: uint32ptr(1)},
	}
	if err := db.CommitFolderBatch(first); err != nil {
		t.Fatalf("first CommitFolderBatch: %v", err)
	}

	moved := FolderBatch{
		AccountID: "acct-1",
		Folder:    "Archive",
		Updates: []MetadataUpdate{
			{GmMsgID: "gm-1", Folder: "Archive", UID: 7, Flags: []string{"\\Seen"}, Labels: []string{"Archive"}},
		},
		FolderState: FolderState{AccountID: "acct-1", Folder: "Archive", UIDValidity: uint32ptr(1)},
	}
	if err := db.CommitFolderBatch(moved); err != nil {
		t.Fatalf("second CommitFolderBatch: %v", err)
	}

	loc, folder, err := db.FindLocationByGmMsgID("acct-1", "gm-1")
	if err != nil {
		t.Fatalf("FindLocationByGmMsgID: %v", err)
	}
	if loc == nil || folder != "Archive" || loc.UID != 7 {
		t.Fatalf("expected message moved to Archive uid 7, got folder=%s loc=%+v", folder, loc)
	}
}

func TestPurgeMissingDeletesUnkeptMessages(t *testing.T) {
	db := newTestDB(t)

	batch := FolderBatch{
		AccountID: "acct-1",
		Folder:    "INBOX",
		New: []NewMessage{
			sampleMessage("acct-1", "INBOX", "gm-1", 100),
			sampleMessage("acct-1", "INBOX", "gm-2", 101),
		},
		FolderState: FolderState{AccountID: "acct-1", Folder: "INBOX", UIDValidity: uint32ptr(1)},
	}
	if err := db.CommitFolderBatch(batch); err != nil {
		t.Fatalf("CommitFolderBatch: %v", err)
	}

	if err := db.PurgeMissing("acct-1", "INBOX", []string{"gm-1"}); err != nil {
		t.Fatalf("PurgeMissing: %v", err)
	}

	n, err := db.CountMessages("acct-1", "INBOX")
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 message to remain, got %d", n)
	}
	if msg, _ := db.LoadMessage("gm-1"); msg == nil {
		t.Fatal("expected gm-1 to survive purge")
	}
}

func TestDedupeLegacyKeepsNewest(t *testing.T) {
	db := newTestDB(t)

	older := sampleMessage("acct-1", "INBOX", "gm-old", 1)
	older.Metadata.InternalDate = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	older.Metadata.RawHash = "dup-hash"

	newer := sampleMessage("acct-1", "INBOX", "gm-new", 2)
	newer.Metadata.InternalDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer.Metadata.RawHash = "dup-hash"

	batch := FolderBatch{
		AccountID:   "acct-1",
		Folder:      "INBOX",
		New:         []NewMessage{older, newer},
		FolderState: FolderState{AccountID: "acct-1", Folder: "INBOX", UIDValidity: uint32ptr(1)},
	}
	if err := db.CommitFolderBatch(batch); err != nil {
		t.Fatalf("CommitFolderBatch: %v", err)
	}

	if err := db.DedupeLegacy("acct-1"); err != nil {
		t.Fatalf("DedupeLegacy: %v", err)
	}

	if msg, _ := db.LoadMessage("gm-new"); msg == nil {
		t.Fatal("expected newest duplicate to survive")
	}
	if msg, _ := db.LoadMessage("gm-old"); msg != nil {
		t.Fatal("expected older duplicate to be removed")
	}
}

func TestRebuildFolderClearsStateOnUIDValidityChange(t *testing.T) {
	db := newTestDB(t)

	batch := FolderBatch{
		AccountID:   "acct-1",
		Folder:      "INBOX",
		New:         []NewMessage{sampleMessage("acct-1", "INBOX", "gm-1", 100)},
		FolderState: FolderState{AccountID: "acct-1", Folder: "INBOX", UIDValidity: uint32ptr(1), HighestUID: 100, ExistsCount: 1},
	}
	if err := db.CommitFolderBatch(batch); err != nil {
		t.Fatalf("CommitFolderBatch: %v", err)
	}

	if err := db.RebuildFolder("acct-1", "INBOX", 2); err != nil {
		t.Fatalf("RebuildFolder: %v", err)
	}

	if msg, _ := db.LoadMessage("gm-1"); msg != nil {
		t.Fatal("expected messages to be wiped on rebuild")
	}
	fs, err := db.LoadFolderState("acct-1", "INBOX")
	if err != nil {
		t.Fatalf("LoadFolderState: %v", err)
	}
	if fs == nil || fs.UIDValidity == nil || *fs.UIDValidity != 2 || fs.HighestUID != 0 || fs.ExistsCount != 0 {
		t.Fatalf("expected cleared state with new uid validity, got %+v", fs)
	}
}

func uint32ptr(v uint32) *uint32 { return &v }
