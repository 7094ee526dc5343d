package store

import (
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements DedupRepo.
var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) RecordInbound(key, chatID string, receivedAt time.Time) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO inbound_dedup (dedup_key, chat_id, received_at) VALUES ($1, $2, $3)
		 ON CONFLICT (dedup_key) DO NOTHING`,
		key, chatID, receivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) PurgeInbound(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE received_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge inbound failed: %w", err)
	}
	return result.RowsAffected()
}
