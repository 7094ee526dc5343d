// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import (
	"time"
)

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	Key        string    `json:"key"`
	ChatID     string    `json:"chat_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// key was already recorded (duplicate).
	RecordInbound(key, chatID string, receivedAt time.Time) (bool, error)

	// PurgeInbound deletes records received before the cutoff and returns how
	// many were removed.
	PurgeInbound(before time.Time) (int64, error)
}
