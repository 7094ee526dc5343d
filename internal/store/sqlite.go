// This file implements an SQLite-backed store.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	"github.com/BTreeMap/Baruc/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path (or file: URI) to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if path := sqlitePath(dsn); path != "" && path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		slog.Debug("SQLite database directory verified/created", "dir", dir)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single writer avoids "database is locked" under concurrent handlers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// sqlitePath extracts the file path from a plain path or a file: URI.
func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (chat_id, kind, status, time) VALUES (?, ?, ?, ?)`,
		r.ChatID, r.Kind, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "chat_id", r.ChatID)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.ChatID, err)
	}
	return nil
}

// GetReceipts returns the newest receipts, optionally for a single chat.
func (s *SQLiteStore) GetReceipts(chatID string, limit int) ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT chat_id, kind, status, time FROM receipts
		WHERE (? = '' OR chat_id = ?) ORDER BY time DESC, id DESC LIMIT ?`, chatID, chatID, limitOrDefault(limit))
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

func (s *SQLiteStore) AddMessage(msg models.InboundMessage) error {
	mentions, err := encodeMentions(msg.MentionedIDs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO group_messages
		(message_id, chat_id, sender_id, body, mentioned_ids, timestamp, is_group, from_me)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nilIfEmpty(msg.ID), msg.ChatID, nilIfEmpty(msg.SenderID), msg.Body, mentions, msg.Timestamp, msg.IsGroup, msg.FromMe)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "chat_id", msg.ChatID)
		return fmt.Errorf("failed to insert message for %s: %w", msg.ChatID, err)
	}
	return nil
}

// GetMessages returns the newest messages of a chat, newest first.
func (s *SQLiteStore) GetMessages(chatID string, limit int) ([]models.InboundMessage, error) {
	rows, err := s.db.Query(`SELECT message_id, chat_id, sender_id, body, mentioned_ids, timestamp, is_group, from_me
		FROM group_messages WHERE chat_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, chatID, limitOrDefault(limit))
	if err != nil {
		slog.Error("SQLiteStore GetMessages query failed", "error", err, "chat_id", chatID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
