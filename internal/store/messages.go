package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// LoadMessageLocations returns (uid, gm_msgid, flags, labels) for every
// message currently stored under (account, folder) — the projection
// the reconciler diffs against a fresh UID SEARCH (spec.md §4.2).
func (db *DB) LoadMessageLocations(accountID, folder string) ([]MessageLocation, error) {
	rows, err := db.Query(`
		SELECT uid, gm_msgid, flags, labels FROM messages
		WHERE account_id = ? AND folder = ?
	`, accountID, folder)
	if err != nil {
		return nil, fmt.Errorf("load message locations: %w", err)
	}
	defer rows.Close()

	var out []MessageLocation
	for rows.Next() {
		var loc MessageLocation
		var flagsJSON, labelsJSON string
		if err := rows.Scan(&loc.UID, &loc.GmMsgID, &flagsJSON, &labelsJSON); err != nil {
			return nil, fmt.Errorf("scan message location: %w", err)
		}
		if err := json.Unmarshal([]byte(flagsJSON), &loc.Flags); err != nil {
			return nil, fmt.Errorf("unmarshal flags: %w", err)
		}
		if err := json.Unmarshal([]byte(labelsJSON), &loc.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal labels: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// FindLocationByGmMsgID looks up where gm_msgid currently lives across
// the whole account (any folder), used to detect a move (spec.md
// §4.4), along with that folder's name. Returns nil, "", nil if the
// id isn't known yet.
func (db *DB) FindLocationByGmMsgID(accountID, gmMsgID string) (*MessageLocation, string, error) {
	row := db.QueryRow(`
		SELECT uid, gm_msgid, flags, labels, folder FROM messages
		WHERE account_id = ? AND gm_msgid = ?
	`, accountID, gmMsgID)

	var loc MessageLocation
	var flagsJSON, labelsJSON, folder string
	err := row.Scan(&loc.UID, &loc.GmMsgID, &flagsJSON, &labelsJSON, &folder)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("find location by gm_msgid: %w", err)
	}
	if err := json.Unmarshal([]byte(flagsJSON), &loc.Flags); err != nil {
		return nil, "", fmt.Errorf("unmarshal flags: %w", err)
	}
	if err := json.Unmarshal([]byte(labelsJSON), &loc.Labels); err != nil {
		return nil, "", fmt.Errorf("unmarshal labels: %w", err)
	}
	return &loc, folder, nil
}

func marshalAddresses(addrs []Address) (string, error) {
	if addrs == nil {
		addrs = []Address{}
	}
	b, err := json.Marshal(addrs)
	return string(b), err
}

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	return string(b), err
}

func marshalAttachments(atts []AttachmentDescriptor) (string, error) {
	if atts == nil {
		atts = []AttachmentDescriptor{}
	}
	b, err := json.Marshal(atts)
	return string(b), err
}
