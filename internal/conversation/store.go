// Package conversation owns the per-chat dialogue contexts of Baruc.
//
// A Store keeps one ConversationContext per chat id, bounded to the last ten
// messages and expiring after a period of inactivity. Callers only ever see
// copies; every mutation goes through a Store method under its lock.
package conversation

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/Baruc/internal/models"
	"github.com/google/uuid"
)

const (
	// DefaultTimeout is how long a context survives without activity.
	DefaultTimeout = 30 * time.Minute
	// DefaultSweepInterval is how often the sweeper looks for expired contexts.
	DefaultSweepInterval = 5 * time.Minute
)

// ErrNoContext is returned by Update when the chat has no live context.
var ErrNoContext = errors.New("no conversation context")

// Opts holds configuration for a Store.
type Opts struct {
	Timeout     time.Duration
	MaxMessages int
	Now         func() time.Time
	NewID       func() string
}

// Option configures a Store.
type Option func(*Opts)

// WithTimeout sets the inactivity timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithMaxMessages sets the history window size.
func WithMaxMessages(n int) Option {
	return func(o *Opts) {
		o.MaxMessages = n
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// WithSessionIDs injects the session id generator.
func WithSessionIDs(gen func() string) Option {
	return func(o *Opts) {
		o.NewID = gen
	}
}

// Store is the in-process context registry.
type Store struct {
	mu       sync.Mutex
	contexts map[string]*models.ConversationContext
	cfg      Opts
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	cfg := Opts{
		Timeout:     DefaultTimeout,
		MaxMessages: models.MaxContextMessages,
		Now:         time.Now,
		NewID:       func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store{
		contexts: make(map[string]*models.ConversationContext),
		cfg:      cfg,
	}
}

// live returns the context for chatID if present and not expired.
// Expired entries are removed on sight. Caller holds s.mu.
func (s *Store) live(chatID string, now time.Time) (*models.ConversationContext, bool) {
	c, ok := s.contexts[chatID]
	if !ok {
		return nil, false
	}
	if now.Sub(c.LastActiveTime) > s.cfg.Timeout {
		delete(s.contexts, chatID)
		slog.Debug("Store.live: expired context dropped", "chat_id", chatID, "session_id", c.SessionID)
		return nil, false
	}
	return c, true
}

// GetOrCreate returns the live context for chatID, touching its activity time,
// or creates a fresh idle one when none exists or the old one expired.
func (s *Store) GetOrCreate(chatID string) models.ConversationContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	if c, ok := s.live(chatID, now); ok {
		c.LastActiveTime = now
		return c.Clone()
	}

	c := &models.ConversationContext{
		ChatID:         chatID,
		SessionID:      chatID + "-" + s.cfg.NewID(),
		Messages:       make([]models.ConversationMessage, 0, s.cfg.MaxMessages),
		State:          models.StateIdle,
		LastActiveTime: now,
	}
	s.contexts[chatID] = c
	slog.Debug("Store.GetOrCreate: new context", "chat_id", chatID, "session_id", c.SessionID)
	return c.Clone()
}

// Get returns a copy of the live context for chatID.
func (s *Store) Get(chatID string) (models.ConversationContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.live(chatID, s.cfg.Now())
	if !ok {
		return models.ConversationContext{}, false
	}
	return c.Clone(), true
}

// Append records a message in the chat history, evicting the oldest entries
// beyond the window. It is a no-op when no live context exists.
func (s *Store) Append(chatID string, sender models.Sender, content string, intent *models.IntentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	c, ok := s.live(chatID, now)
	if !ok {
		slog.Debug("Store.Append: no live context, message dropped", "chat_id", chatID, "sender", sender)
		return
	}
	c.Messages = append(c.Messages, models.ConversationMessage{
		Timestamp: now,
		Sender:    sender,
		Content:   content,
		Intent:    intent.Clone(),
	})
	if over := len(c.Messages) - s.cfg.MaxMessages; over > 0 {
		c.Messages = append(c.Messages[:0], c.Messages[over:]...)
	}
	c.LastActiveTime = now
}

// Update applies fn to the live context for chatID under the store lock.
func (s *Store) Update(chatID string, fn func(c *models.ConversationContext)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	c, ok := s.live(chatID, now)
	if !ok {
		return ErrNoContext
	}
	fn(c)
	c.LastActiveTime = now
	return nil
}

// MarkCompleted flags the conversation as finished but keeps it around so a
// closing remark can be recognized.
func (s *Store) MarkCompleted(chatID string) {
	_ = s.Update(chatID, func(c *models.ConversationContext) {
		c.State = models.StateCompleted
		c.JustCompleted = true
	})
}

// CompleteWorkflow marks the context completed if it is currently running the
// given workflow kind.
func (s *Store) CompleteWorkflow(chatID string, kind models.IntentKind) {
	_ = s.Update(chatID, func(c *models.ConversationContext) {
		if c.CurrentIntent != nil && c.CurrentIntent.Kind == kind {
			c.State = models.StateCompleted
			c.JustCompleted = true
		}
	})
}

// Delete removes the chat's context entirely.
func (s *Store) Delete(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[chatID]; ok {
		delete(s.contexts, chatID)
		slog.Debug("Store.Delete: context removed", "chat_id", chatID)
	}
}

// Has reports whether chatID has a live context.
func (s *Store) Has(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(chatID, s.cfg.Now())
	return ok
}

// HasState reports whether chatID has a live context that is not idle.
func (s *Store) HasState(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.live(chatID, s.cfg.Now())
	return ok && c.State != models.StateIdle
}

// IsExecuting reports whether chatID is executing the given workflow kind.
func (s *Store) IsExecuting(chatID string, kind models.IntentKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.live(chatID, s.cfg.Now())
	if !ok {
		return false
	}
	k, executing := c.ExecutingKind()
	return executing && k == kind
}

// Len returns the number of stored contexts, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

// Sweep removes every context idle for longer than the timeout as of now.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, c := range s.contexts {
		if now.Sub(c.LastActiveTime) > s.cfg.Timeout {
			delete(s.contexts, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Store.Sweep: expired contexts removed", "removed", removed, "remaining", len(s.contexts))
	}
	return removed
}
