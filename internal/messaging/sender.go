package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/Baruc/internal/models"
	"github.com/BTreeMap/Baruc/internal/util"
)

// Readiness is the view of the transport state the delivery path needs.
type Readiness interface {
	IsReady() bool
	WaitForReady(ctx context.Context, timeout time.Duration) bool
}

// ReceiptRecorder persists delivery receipts.
type ReceiptRecorder interface {
	AddReceipt(r models.Receipt) error
}

// SenderConfig holds the timing knobs of the delivery guard.
type SenderConfig struct {
	// DedupWindow is how long an identical text to the same chat is suppressed.
	DedupWindow time.Duration
	// DedupRetention is how long sent-text entries are remembered at all.
	DedupRetention time.Duration
	// DedupPrefix is how many runes of a text form its dedupe key.
	DedupPrefix int

	TextReadyTimeout  time.Duration
	MediaReadyTimeout time.Duration
	TextSettle        time.Duration
	MediaSettle       time.Duration

	// SerializationGrace is the pause before judging a serialization fault.
	SerializationGrace time.Duration
	// RetryBase is multiplied by the attempt number between retries.
	RetryBase time.Duration
}

// DefaultSenderConfig returns the production timings.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		DedupWindow:        10 * time.Second,
		DedupRetention:     2 * time.Minute,
		DedupPrefix:        100,
		TextReadyTimeout:   10 * time.Second,
		MediaReadyTimeout:  5 * time.Second,
		TextSettle:         time.Second,
		MediaSettle:        2 * time.Second,
		SerializationGrace: 2 * time.Second,
		RetryBase:          3 * time.Second,
	}
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithSenderConfig replaces the timing configuration.
func WithSenderConfig(cfg SenderConfig) SenderOption {
	return func(s *Sender) {
		s.cfg = cfg
	}
}

// WithReceipts records a receipt for every delivered message.
func WithReceipts(r ReceiptRecorder) SenderOption {
	return func(s *Sender) {
		s.receipts = r
	}
}

// WithSenderClock injects the time source.
func WithSenderClock(now func() time.Time) SenderOption {
	return func(s *Sender) {
		s.now = now
	}
}

// Sender is the delivery guard in front of a transport. It allows a single
// in-flight send per chat, suppresses identical texts sent moments apart and
// retries transient failures.
type Sender struct {
	transport Service
	state     Readiness
	receipts  ReceiptRecorder
	cfg       SenderConfig
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	recent   map[string]time.Time
}

// NewSender creates a Sender over the given transport and readiness source.
func NewSender(transport Service, state Readiness, opts ...SenderOption) *Sender {
	s := &Sender{
		transport: transport,
		state:     state,
		cfg:       DefaultSenderConfig(),
		now:       time.Now,
		inflight:  make(map[string]struct{}),
		recent:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) dedupKey(chatID, text string) string {
	return chatID + "\x00" + util.Prefix(text, s.cfg.DedupPrefix)
}

// acquire claims the chat for sending. For text, a recent identical send
// short-circuits with delivered=true.
func (s *Sender) acquire(chatID, key string) (claimed, delivered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, t := range s.recent {
		if now.Sub(t) > s.cfg.DedupRetention {
			delete(s.recent, k)
		}
	}
	if key != "" {
		if t, ok := s.recent[key]; ok && now.Sub(t) < s.cfg.DedupWindow {
			return false, true
		}
	}
	if _, busy := s.inflight[chatID]; busy {
		return false, false
	}
	s.inflight[chatID] = struct{}{}
	return true, false
}

func (s *Sender) release(chatID string) {
	s.mu.Lock()
	delete(s.inflight, chatID)
	s.mu.Unlock()
}

func (s *Sender) remember(key string) {
	s.mu.Lock()
	s.recent[key] = s.now()
	s.mu.Unlock()
}

func (s *Sender) record(chatID string, kind models.MessageKind, status models.DeliveryStatus) {
	if s.receipts == nil {
		return
	}
	r := models.Receipt{ChatID: chatID, Kind: kind, Status: status, Time: s.now()}
	if err := s.receipts.AddReceipt(r); err != nil {
		slog.Warn("Sender.record: failed to store receipt", "error", err, "chat_id", chatID)
	}
}

// SendText delivers text to chatID, trying up to maxRetries times. It reports
// whether the message was (or very likely was) delivered.
func (s *Sender) SendText(ctx context.Context, chatID, text string, maxRetries int) bool {
	key := s.dedupKey(chatID, text)
	claimed, delivered := s.acquire(chatID, key)
	if delivered {
		slog.Debug("Sender.SendText: duplicate suppressed", "chat_id", chatID)
		return true
	}
	if !claimed {
		slog.Warn("Sender.SendText: send already in flight for chat, dropping", "chat_id", chatID)
		return false
	}
	defer s.release(chatID)

	attempts := max(maxRetries, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		if !s.state.IsReady() && !s.state.WaitForReady(ctx, s.cfg.TextReadyTimeout) {
			slog.Warn("Sender.SendText: transport not ready, trying anyway", "chat_id", chatID, "attempt", attempt)
		}
		if !sleep(ctx, s.cfg.TextSettle) {
			return false
		}

		err := s.transport.SendText(ctx, chatID, text)
		if err == nil {
			s.remember(key)
			s.record(chatID, models.KindText, models.StatusSent)
			slog.Debug("Sender.SendText: delivered", "chat_id", chatID, "attempt", attempt)
			return true
		}

		if IsSerializationFault(err) {
			slog.Warn("Sender.SendText: serialization fault", "chat_id", chatID, "attempt", attempt, "error", err)
			if !sleep(ctx, s.cfg.SerializationGrace) {
				return false
			}
			if s.state.IsReady() {
				s.remember(key)
				s.record(chatID, models.KindText, models.StatusProbable)
				slog.Info("Sender.SendText: transport still ready, treating as delivered", "chat_id", chatID)
				return true
			}
		} else {
			slog.Error("Sender.SendText: send failed", "chat_id", chatID, "attempt", attempt, "error", err)
		}

		if attempt < attempts && !sleep(ctx, s.cfg.RetryBase*time.Duration(attempt)) {
			return false
		}
	}
	slog.Error("Sender.SendText: giving up", "chat_id", chatID, "attempts", attempts)
	return false
}

// SendMedia delivers an image to chatID, trying up to maxRetries times.
// Serialization faults count as genuine failures for media.
func (s *Sender) SendMedia(ctx context.Context, chatID string, media models.Media, maxRetries int) bool {
	claimed, _ := s.acquire(chatID, "")
	if !claimed {
		slog.Warn("Sender.SendMedia: send already in flight for chat, dropping", "chat_id", chatID)
		return false
	}
	defer s.release(chatID)

	attempts := max(maxRetries, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		if !s.state.IsReady() && !s.state.WaitForReady(ctx, s.cfg.MediaReadyTimeout) {
			slog.Warn("Sender.SendMedia: transport not ready, skipping attempt", "chat_id", chatID, "attempt", attempt)
			if ctx.Err() != nil {
				return false
			}
			continue
		}
		if !sleep(ctx, s.cfg.MediaSettle) {
			return false
		}

		err := s.transport.SendMedia(ctx, chatID, media)
		if err == nil {
			s.record(chatID, models.KindMedia, models.StatusSent)
			slog.Debug("Sender.SendMedia: delivered", "chat_id", chatID, "attempt", attempt, "filename", media.Filename)
			return true
		}
		slog.Error("Sender.SendMedia: send failed", "chat_id", chatID, "attempt", attempt, "error", err,
			"serialization_fault", IsSerializationFault(err))

		if attempt < attempts && !sleep(ctx, s.cfg.RetryBase*time.Duration(attempt)) {
			return false
		}
	}
	slog.Error("Sender.SendMedia: giving up", "chat_id", chatID, "attempts", attempts)
	return false
}

// sleep waits for d or until ctx ends, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
