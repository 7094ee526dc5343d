package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/Baruc/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// encodeMentions serializes mentioned ids for the mentioned_ids column.
func encodeMentions(ids []string) (interface{}, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mentioned ids: %w", err)
	}
	return string(b), nil
}

// scanMessages reads group_messages rows selected in column order
// message_id, chat_id, sender_id, body, mentioned_ids, timestamp, is_group, from_me.
func scanMessages(rows *sql.Rows) ([]models.InboundMessage, error) {
	var out []models.InboundMessage
	for rows.Next() {
		var m models.InboundMessage
		var messageID, senderID, mentions sql.NullString
		if err := rows.Scan(&messageID, &m.ChatID, &senderID, &m.Body, &mentions, &m.Timestamp, &m.IsGroup, &m.FromMe); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.ID = messageID.String
		m.SenderID = senderID.String
		if mentions.Valid && mentions.String != "" {
			if err := json.Unmarshal([]byte(mentions.String), &m.MentionedIDs); err != nil {
				return nil, fmt.Errorf("failed to decode mentioned ids: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return out, nil
}

// scanReceipts reads receipts rows selected as chat_id, kind, status, time.
func scanReceipts(rows *sql.Rows) ([]models.Receipt, error) {
	var out []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.ChatID, &r.Kind, &r.Status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return out, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	return limit
}
