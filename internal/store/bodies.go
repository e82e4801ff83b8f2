package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// LoadMessage returns the full metadata row for gm_msgid, or nil if it
// doesn't exist.
func (db *DB) LoadMessage(gmMsgID string) (*MessageMetadata, error) {
	row := db.QueryRow(`
		SELECT account_id, folder, uid, thread_id, internal_date, subject,
		       from_list, to_list, cc_list, bcc_list, flags, labels,
		       has_attachments, size_bytes, raw_hash, created_at, updated_at
		FROM messages WHERE gm_msgid = ?
	`, gmMsgID)

	var (
		m                                         MessageMetadata
		threadID                                  sql.NullString
		fromJSON, toJSON, ccJSON, bccJSON          string
		flagsJSON, labelsJSON                      string
	)
	m.GmMsgID = gmMsgID
	err := row.Scan(&m.AccountID, &m.Folder, &m.UID, &threadID, &m.InternalDate, &m.Subject,
		&fromJSON, &toJSON, &ccJSON, &bccJSON, &flagsJSON, &labelsJSON,
		&m.HasAttachments, &m.SizeBytes, &m.RawHash, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	m.ThreadID = threadID.String

	for _, pair := range []struct {
		raw string
		out *[]Address
	}{{fromJSON, &m.From}, {toJSON, &m.To}, {ccJSON, &m.Cc}, {bccJSON, &m.Bcc}} {
		if err := json.Unmarshal([]byte(pair.raw), pair.out); err != nil {
			return nil, fmt.Errorf("unmarshal address list: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(flagsJSON), &m.Flags); err != nil {
		return nil, fmt.Errorf("unmarshal flags: %w", err)
	}
	if err := json.Unmarshal([]byte(labelsJSON), &m.Labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}
	return &m, nil
}

// LoadBody returns the body row for gm_msgid, or nil if it doesn't
// exist (spec.md invariant 1: a message row always has exactly one
// matching body row, so absence here usually means the metadata row
// is also absent).
func (db *DB) LoadBody(gmMsgID string) (*MessageBody, error) {
	row := db.QueryRow(`
		SELECT raw, sanitized_text, mime_summary, attachments, sanitized_at
		FROM bodies WHERE gm_msgid = ?
	`, gmMsgID)

	var (
		b                MessageBody
		attachmentsJSON  string
		sanitizedAt      sql.NullTime
	)
	b.GmMsgID = gmMsgID
	err := row.Scan(&b.Raw, &b.SanitizedText, &b.MimeSummary, &attachmentsJSON, &sanitizedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load body: %w", err)
	}
	if err := json.Unmarshal([]byte(attachmentsJSON), &b.Attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	if sanitizedAt.Valid {
		b.SanitizedAt = sanitizedAt.Time
	}
	return &b, nil
}

// CountMessages returns the number of message rows for (account, folder).
// Used by tests to check invariants without round-tripping JSON.
func (db *DB) CountMessages(accountID, folder string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE account_id = ? AND folder = ?`, accountID, folder).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
