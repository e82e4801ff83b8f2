package store

import (
	"database/sql"
	"fmt"
)

// CommitFolderBatch applies one reconciled folder step as a single
// transaction: new metadata+body rows, in-place metadata updates
// (flag/label changes and moves), gm_msgid purges, and the folder's
// new state. Network I/O and parsing must already be done by the time
// this is called — the transaction only ever touches the database
// (spec.md §4.2's atomicity contract).
func (db *DB) CommitFolderBatch(batch FolderBatch) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin folder batch: %w", err)
	}
	defer tx.Rollback()

	for _, n := range batch.New {
		if err := insertMessage(tx, n.Metadata); err != nil {
			return fmt.Errorf("insert message %s: %w", n.Metadata.GmMsgID, err)
		}
		if err := insertBody(tx, n.Body); err != nil {
			return fmt.Errorf("insert body %s: %w", n.Body.GmMsgID, err)
		}
	}

	for _, u := range batch.Updates {
		if err := applyMetadataUpdate(tx, batch.AccountID, u); err != nil {
			return fmt.Errorf("update message %s: %w", u.GmMsgID, err)
		}
	}

	for _, gmMsgID := range batch.Purge {
		if err := deleteMessageByGmMsgID(tx, gmMsgID); err != nil {
			return fmt.Errorf("purge message %s: %w", gmMsgID, err)
		}
	}

	if err := saveFolderState(tx, batch.FolderState); err != nil {
		return fmt.Errorf("save folder state: %w", err)
	}

	return tx.Commit()
}

// RebuildFolder wipes every message under (account, folder) and resets
// its folder state to newUIDValidity with everything else cleared, the
// response to a UIDVALIDITY change (spec.md §4.4's "V≠V₀" transition).
// It is its own transaction since the caller always re-syncs the whole
// folder from scratch immediately afterward, never alongside a batch.
func (db *DB) RebuildFolder(accountID, folder string, newUIDValidity uint32) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin folder rebuild: %w", err)
	}
	defer tx.Rollback()

	if err := deleteMessagesForFolder(tx, accountID, folder); err != nil {
		return err
	}
	if err := clearFolderState(tx, accountID, folder, newUIDValidity); err != nil {
		return err
	}
	return tx.Commit()
}

// PurgeMissing deletes every message under (account, folder) whose
// gm_msgid is not in keepGmMsgIDs — the periodic full-scan reconciler
// step that catches expunges CONDSTORE's VANISHED response can miss on
// servers that don't support QRESYNC (spec.md §4.4).
func (db *DB) PurgeMissing(accountID, folder string, keepGmMsgIDs []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin purge missing: %w", err)
	}
	defer tx.Rollback()

	keep := make(map[string]struct{}, len(keepGmMsgIDs))
	for _, id := range keepGmMsgIDs {
		keep[id] = struct{}{}
	}

	rows, err := tx.Query(`SELECT gm_msgid FROM messages WHERE account_id = ? AND folder = ?`, accountID, folder)
	if err != nil {
		return fmt.Errorf("list folder messages: %w", err)
	}
	var stale []string
	for rows.Next() {
		var gmMsgID string
		if err := rows.Scan(&gmMsgID); err != nil {
			rows.Close()
			return fmt.Errorf("scan gm_msgid: %w", err)
		}
		if _, ok := keep[gmMsgID]; !ok {
			stale = append(stale, gmMsgID)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, gmMsgID := range stale {
		if err := deleteMessageByGmMsgID(tx, gmMsgID); err != nil {
			return fmt.Errorf("purge stale message %s: %w", gmMsgID, err)
		}
	}

	return tx.Commit()
}

// DedupeLegacy collapses duplicate metadata rows sharing the same
// raw_hash within an account, keeping the newest (by internal_date)
// and deleting the rest. This only matters for messages synced before
// gm_msgid-keyed storage was the single source of truth and is a no-op
// once an account has only ever been synced by this reconciler, since
// gm_msgid is already a unique key (spec.md §9's migration note).
func (db *DB) DedupeLegacy(accountID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin dedupe legacy: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT gm_msgid, raw_hash FROM messages
		WHERE account_id = ? AND raw_hash != ''
		ORDER BY internal_date DESC
	`, accountID)
	if err != nil {
		return fmt.Errorf("list messages by hash: %w", err)
	}

	seen := make(map[string]string) // raw_hash -> first-seen (newest) gm_msgid
	var toDelete []string
	for rows.Next() {
		var gmMsgID, rawHash string
		if err := rows.Scan(&gmMsgID, &rawHash); err != nil {
			rows.Close()
			return fmt.Errorf("scan message hash: %w", err)
		}
		if _, ok := seen[rawHash]; ok {
			toDelete = append(toDelete, gmMsgID)
			continue
		}
		seen[rawHash] = gmMsgID
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, gmMsgID := range toDelete {
		if err := deleteMessageByGmMsgID(tx, gmMsgID); err != nil {
			return fmt.Errorf("dedupe delete %s: %w", gmMsgID, err)
		}
	}

	return tx.Commit()
}

func insertMessage(tx *sql.Tx, m MessageMetadata) error {
	fromJSON, err := marshalAddresses(m.From)
	if err != nil {
		return fmt.Errorf("marshal from: %w", err)
	}
	toJSON, err := marshalAddresses(m.To)
	if err != nil {
		return fmt.Errorf("marshal to: %w", err)
	}
	ccJSON, err := marshalAddresses(m.Cc)
	if err != nil {
		return fmt.Errorf("marshal cc: %w", err)
	}
	bccJSON, err := marshalAddresses(m.Bcc)
	if err != nil {
		return fmt.Errorf("marshal bcc: %w", err)
	}
	flagsJSON, err := marshalStrings(m.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	labelsJSON, err := marshalStrings(m.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}

	var threadID interface{}
	if m.ThreadID != "" {
		threadID = m.ThreadID
	}

	_, err = tx.Exec(`
		INSERT INTO messages (
			gm_msgid, account_id, folder, uid, thread_id, internal_date, subject,
			from_list, to_list, cc_list, bcc_list, flags, labels,
			has_attachments, size_bytes, raw_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.GmMsgID, m.AccountID, m.Folder, m.UID, threadID, m.InternalDate, m.Subject,
		fromJSON, toJSON, ccJSON, bccJSON, flagsJSON, labelsJSON,
		m.HasAttachments, m.SizeBytes, m.RawHash,
	)
	if err != nil {
		return err
	}
	return nil
}

func insertBody(tx *sql.Tx, b MessageBody) error {
	attachmentsJSON, err := marshalAttachments(b.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO bodies (gm_msgid, raw, sanitized_text, mime_summary, attachments, sanitized_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, b.GmMsgID, b.Raw, b.SanitizedText, b.MimeSummary, attachmentsJSON)
	return err
}

// applyMetadataUpdate moves a message to u.Folder/u.UID if it isn't
// already there and refreshes its flags/labels. The reconciler queues
// an update for every known UID it refetches, changed or not; when
// nothing changed the write leaves the same values and only bumps
// updated_at (spec.md §4.4).
func applyMetadataUpdate(tx *sql.Tx, accountID string, u MetadataUpdate) error {
	flagsJSON, err := marshalStrings(u.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	labelsJSON, err := marshalStrings(u.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE messages
		SET folder = ?, uid = ?, flags = ?, labels = ?, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND gm_msgid = ?
	`, u.Folder, u.UID, flagsJSON, labelsJSON, accountID, u.GmMsgID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no message row for gm_msgid %s", u.GmMsgID)
	}
	return nil
}

func deleteMessageByGmMsgID(tx *sql.Tx, gmMsgID string) error {
	_, err := tx.Exec(`DELETE FROM messages WHERE gm_msgid = ?`, gmMsgID)
	return err
}
