package store

import "time"

// FolderState is the per-(account, folder) record described in
// spec.md §3. UIDValidity is nil when the folder has never been
// synced (V₀ = None in spec.md §4.4's notation).
type FolderState struct {
	AccountID      string
	Folder         string
	UIDValidity    *uint32
	HighestUID     uint32
	HighestModSeq  uint64
	ExistsCount    uint32
	LastSyncTS     time.Time
	LastFullScanTS time.Time
}

// Address is a single envelope participant.
type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AttachmentDescriptor describes one attachment without its content.
type AttachmentDescriptor struct {
	Filename    string `json:"filename"`
	Size        int    `json:"size"`
	ContentType string `json:"contentType"`
	ContentID   string `json:"contentId,omitempty"`
}

// MessageMetadata is keyed by the stable cross-folder gm_msgid
// (spec.md §3).
type MessageMetadata struct {
	GmMsgID        string
	AccountID      string
	Folder         string
	UID            uint32
	ThreadID       string
	InternalDate   time.Time
	Subject        string
	From           []Address
	To             []Address
	Cc             []Address
	Bcc            []Address
	Flags          []string
	Labels         []string
	HasAttachments bool
	SizeBytes      int
	RawHash        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessageBody is keyed by gm_msgid and lives and dies with its
// MessageMetadata row (spec.md §3 cascading-delete invariant).
type MessageBody struct {
	GmMsgID       string
	Raw           []byte
	SanitizedText string
	MimeSummary   string
	Attachments   []AttachmentDescriptor
	SanitizedAt   time.Time
}

// MessageLocation is the per-message projection LoadMessageLocations
// returns: just enough to diff against a server's UID SEARCH result
// (spec.md §4.2).
type MessageLocation struct {
	UID     uint32
	GmMsgID string
	Flags   []string
	Labels  []string
}

// MetadataUpdate is an in-place update to an existing row: a flag/label
// change, or — when the gm_msgid resolves to a row in a different
// folder — a move (spec.md §4.4).
type MetadataUpdate struct {
	GmMsgID string
	Folder  string
	UID     uint32
	Flags   []string
	Labels  []string
}

// NewMessage pairs a brand-new metadata row with its body, inserted
// together in the same CommitFolderBatch transaction.
type NewMessage struct {
	Metadata MessageMetadata
	Body     MessageBody
}

// FolderBatch is the transient unit of one committed sync step
// (spec.md §3).
type FolderBatch struct {
	AccountID string
	Folder    string

	New     []NewMessage
	Updates []MetadataUpdate
	Purge   []string // gm_msgids to delete

	FolderState FolderState
}

// IsEmpty reports whether committing this batch would have no visible
// effect beyond possibly FolderState.LastSyncTS (spec.md S1, the
// no-op fast path).
func (b *FolderBatch) IsEmpty() bool {
	return len(b.New) == 0 && len(b.Updates) == 0 && len(b.Purge) == 0
}
