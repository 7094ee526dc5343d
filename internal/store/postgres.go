// This file implements a PostgreSQL-backed store.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/Baruc/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (chat_id, kind, status, time) VALUES ($1, $2, $3, $4)`,
		r.ChatID, r.Kind, r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "chat_id", r.ChatID)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.ChatID, err)
	}
	return nil
}

func (s *PostgresStore) GetReceipts(chatID string, limit int) ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT chat_id, kind, status, time FROM receipts
		WHERE ($1 = '' OR chat_id = $1) ORDER BY time DESC, id DESC LIMIT $2`, chatID, limitOrDefault(limit))
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

func (s *PostgresStore) AddMessage(msg models.InboundMessage) error {
	mentions, err := encodeMentions(msg.MentionedIDs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO group_messages
		(message_id, chat_id, sender_id, body, mentioned_ids, timestamp, is_group, from_me)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		nilIfEmpty(msg.ID), msg.ChatID, nilIfEmpty(msg.SenderID), msg.Body, mentions, msg.Timestamp, msg.IsGroup, msg.FromMe)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "chat_id", msg.ChatID)
		return fmt.Errorf("failed to insert message for %s: %w", msg.ChatID, err)
	}
	return nil
}

func (s *PostgresStore) GetMessages(chatID string, limit int) ([]models.InboundMessage, error) {
	rows, err := s.db.Query(`SELECT message_id, chat_id, sender_id, body, mentioned_ids, timestamp, is_group, from_me
		FROM group_messages WHERE chat_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`, chatID, limitOrDefault(limit))
	if err != nil {
		slog.Error("PostgresStore GetMessages query failed", "error", err, "chat_id", chatID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
