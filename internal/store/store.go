// Package store provides storage backends for Baruc.
//
// It persists the inbound idempotency log, delivery receipts and the group
// message history, with in-memory, SQLite and PostgreSQL implementations.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/Baruc/internal/models"
)

// DefaultMessageLimit caps history queries that pass no explicit limit.
const DefaultMessageLimit = 50

// Store is the persistence surface used by the bot.
type Store interface {
	DedupRepo
	AddReceipt(r models.Receipt) error
	GetReceipts(chatID string, limit int) ([]models.Receipt, error)
	AddMessage(msg models.InboundMessage) error
	GetMessages(chatID string, limit int) ([]models.InboundMessage, error)
	Close() error
}

// Opts holds configuration for the SQL stores.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithSQLiteDSN sets an SQLite database path or URI.
func WithSQLiteDSN(dsn string) Option {
	return WithDSN(dsn)
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	// key=value form, e.g. "host=localhost user=baruc dbname=baruc"
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open returns the SQL store matching the DSN, or an in-memory store when
// the DSN is empty.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// InMemoryStore is a process-local Store.
type InMemoryStore struct {
	mu       sync.Mutex
	inbound  map[string]time.Time
	receipts []models.Receipt
	messages []models.InboundMessage
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{inbound: make(map[string]time.Time)}
}

func (s *InMemoryStore) RecordInbound(key, chatID string, receivedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[key]; seen {
		return false, nil
	}
	s.inbound[key] = receivedAt
	return true, nil
}

func (s *InMemoryStore) PurgeInbound(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.inbound {
		if t.Before(before) {
			delete(s.inbound, k)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts(chatID string, limit int) ([]models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Receipt
	for i := len(s.receipts) - 1; i >= 0; i-- {
		if chatID == "" || s.receipts[i].ChatID == chatID {
			out = append(out, s.receipts[i])
		}
	}
	return capLimit(out, limit), nil
}

func (s *InMemoryStore) AddMessage(msg models.InboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

// GetMessages returns the newest messages of a chat, newest first.
func (s *InMemoryStore) GetMessages(chatID string, limit int) ([]models.InboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.InboundMessage
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return capLimit(out, limit), nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func capLimit[T any](items []T, limit int) []T {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
