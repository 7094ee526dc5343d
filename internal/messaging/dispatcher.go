package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/Baruc/internal/models"
	"github.com/BTreeMap/Baruc/internal/store"
	"github.com/BTreeMap/Baruc/internal/util"
)

// Dispatcher defaults.
const (
	DefaultDedupWindow  = 5 * time.Minute
	DefaultReadyTimeout = 3 * time.Second
	DefaultSettleDelay  = 2 * time.Second
	DefaultMediaGap     = time.Second
	// ReplyRetries is how many attempts a conversational reply gets.
	ReplyRetries = 2
	// dedupPrefixRunes is how much of the body goes into the idempotency key.
	dedupPrefixRunes = 50
)

// Dialogue is the conversation surface the dispatcher drives.
type Dialogue interface {
	Handle(ctx context.Context, chatID, text string) string
	HasContext(chatID string) bool
	Addressed(text string) bool
	WakeWord() string
	IsBareCancellation(text string) bool
	ActiveWorkflow(chatID string) (models.IntentRecord, bool)
	CompleteWorkflow(chatID string, kind models.IntentKind)
	ClearContext(chatID string)
}

// Deliverer sends guarded messages.
type Deliverer interface {
	SendText(ctx context.Context, chatID, text string, maxRetries int) bool
	SendMedia(ctx context.Context, chatID string, media models.Media, maxRetries int) bool
}

// InboundLog records processed inbound keys for idempotency.
type InboundLog interface {
	// RecordInbound stores key and reports false when it was already present.
	RecordInbound(key, chatID string, receivedAt time.Time) (bool, error)
	// PurgeInbound forgets keys recorded before the cutoff.
	PurgeInbound(before time.Time) (int64, error)
}

// MessageLog keeps a history of group messages.
type MessageLog interface {
	AddMessage(msg models.InboundMessage) error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithGroupsOnly restricts processing to group chats (default true).
func WithGroupsOnly(v bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.groupsOnly = v
	}
}

// WithSelfID supplies the bot's own account id for mention detection.
func WithSelfID(fn func() string) DispatcherOption {
	return func(d *Dispatcher) {
		d.selfID = fn
	}
}

// WithInboundLog replaces the in-memory idempotency log.
func WithInboundLog(l InboundLog) DispatcherOption {
	return func(d *Dispatcher) {
		d.inbound = l
	}
}

// WithMessageLog records every accepted group message.
func WithMessageLog(l MessageLog) DispatcherOption {
	return func(d *Dispatcher) {
		d.messages = l
	}
}

// WithWorkflows registers the report generators.
func WithWorkflows(charts ChartGenerator, mltv, zones AnalysisGenerator) DispatcherOption {
	return func(d *Dispatcher) {
		d.charts = charts
		d.mltv = mltv
		d.zones = zones
	}
}

// WithTimings overrides the dispatcher delays.
func WithTimings(readyTimeout, settle, mediaGap, dedupWindow time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.readyTimeout = readyTimeout
		d.settle = settle
		d.mediaGap = mediaGap
		d.dedupWindow = dedupWindow
	}
}

// Dispatcher receives inbound messages, decides whether Baruc should answer,
// sends the reply and runs any workflow the conversation triggered.
type Dispatcher struct {
	dialogue Dialogue
	sender   Deliverer
	state    Readiness
	inbound  InboundLog
	messages MessageLog
	selfID   func() string

	charts ChartGenerator
	mltv   AnalysisGenerator
	zones  AnalysisGenerator

	groupsOnly   bool
	readyTimeout time.Duration
	settle       time.Duration
	mediaGap     time.Duration
	dedupWindow  time.Duration
	now          func() time.Time

	chatMu    sync.Mutex
	chatLocks map[string]*sync.Mutex

	workflowMu sync.Mutex
	running    map[string]models.IntentKind

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(dialogue Dialogue, sender Deliverer, state Readiness, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		dialogue:     dialogue,
		sender:       sender,
		state:        state,
		inbound:      store.NewInMemoryStore(),
		selfID:       func() string { return "" },
		groupsOnly:   true,
		readyTimeout: DefaultReadyTimeout,
		settle:       DefaultSettleDelay,
		mediaGap:     DefaultMediaGap,
		dedupWindow:  DefaultDedupWindow,
		now:          time.Now,
		chatLocks:    make(map[string]*sync.Mutex),
		running:      make(map[string]models.IntentKind),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start consumes inbound messages until ctx ends or the channel closes, and
// purges the idempotency log on every dedupe window.
func (d *Dispatcher) Start(ctx context.Context, inbound <-chan models.InboundMessage) {
	slog.Info("Dispatcher.Start: listening for inbound messages", "groups_only", d.groupsOnly)

	window := d.dedupWindow
	if window <= 0 {
		window = DefaultDedupWindow
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher.Start: stopping")
			d.wg.Wait()
			return
		case <-ticker.C:
			if n, err := d.inbound.PurgeInbound(d.now().Add(-window)); err != nil {
				slog.Error("Dispatcher.Start: purge failed", "error", err)
			} else if n > 0 {
				slog.Debug("Dispatcher.Start: purged inbound keys", "count", n)
			}
		case msg, ok := <-inbound:
			if !ok {
				slog.Info("Dispatcher.Start: inbound channel closed")
				d.wg.Wait()
				return
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				defer func() {
					if r := recover(); r != nil {
						slog.Error("Dispatcher: panic while handling message", "panic", r, "chat_id", msg.ChatID, "stack", string(debug.Stack()))
					}
				}()
				d.Handle(ctx, msg)
			}()
		}
	}
}

// Wait blocks until every in-progress message has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// dedupKey is the idempotency key of an inbound message.
func dedupKey(msg models.InboundMessage) string {
	return fmt.Sprintf("%s-%d-%s", msg.ChatID, msg.Timestamp.Unix(), util.Prefix(msg.Body, dedupPrefixRunes))
}

func (d *Dispatcher) mentionsSelf(msg models.InboundMessage) bool {
	self := d.selfID()
	if self == "" {
		return false
	}
	for _, id := range msg.MentionedIDs {
		if SameAccount(id, self) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) lockChat(chatID string) func() {
	d.chatMu.Lock()
	m, ok := d.chatLocks[chatID]
	if !ok {
		m = &sync.Mutex{}
		d.chatLocks[chatID] = m
	}
	d.chatMu.Unlock()
	m.Lock()
	return m.Unlock
}

// Handle processes a single inbound message end to end.
func (d *Dispatcher) Handle(ctx context.Context, msg models.InboundMessage) {
	if msg.FromMe || strings.TrimSpace(msg.Body) == "" {
		return
	}
	if d.groupsOnly && !msg.IsGroup {
		slog.Debug("Dispatcher.Handle: ignoring non-group message", "chat_id", msg.ChatID)
		return
	}

	fresh, err := d.inbound.RecordInbound(dedupKey(msg), msg.ChatID, d.now())
	if err != nil {
		slog.Error("Dispatcher.Handle: idempotency log failed, processing anyway", "error", err, "chat_id", msg.ChatID)
	} else if !fresh {
		slog.Debug("Dispatcher.Handle: duplicate message ignored", "chat_id", msg.ChatID, "id", msg.ID)
		return
	}

	if d.messages != nil && msg.IsGroup {
		if err := d.messages.AddMessage(msg); err != nil {
			slog.Warn("Dispatcher.Handle: failed to log group message", "error", err, "chat_id", msg.ChatID)
		}
	}

	body := msg.Body
	addressed := d.dialogue.Addressed(body)
	mentioned := d.mentionsSelf(msg)
	if !d.dialogue.HasContext(msg.ChatID) {
		if !addressed && !mentioned {
			return
		}
		if d.dialogue.IsBareCancellation(body) {
			slog.Debug("Dispatcher.Handle: cancellation without open conversation ignored", "chat_id", msg.ChatID)
			return
		}
	}
	if mentioned && !addressed {
		body = d.dialogue.WakeWord() + " " + body
	}
	slog.Info("Dispatcher.Handle: processing message", "chat_id", msg.ChatID, "sender", msg.SenderID, "length", util.RuneLen(body))

	unlock := d.lockChat(msg.ChatID)
	reply := d.dialogue.Handle(ctx, msg.ChatID, body)
	if reply == "" {
		unlock()
		return
	}
	if !d.state.IsReady() && !d.state.WaitForReady(ctx, d.readyTimeout) {
		// A workflow the user never saw announced must not stay executing.
		if rec, ok := d.dialogue.ActiveWorkflow(msg.ChatID); ok {
			d.dialogue.CompleteWorkflow(msg.ChatID, rec.Kind)
			d.dialogue.ClearContext(msg.ChatID)
			slog.Warn("Dispatcher.Handle: workflow abandoned", "chat_id", msg.ChatID, "kind", rec.Kind)
		}
		unlock()
		slog.Warn("Dispatcher.Handle: transport not ready, reply dropped", "chat_id", msg.ChatID)
		return
	}
	sent := d.sender.SendText(ctx, msg.ChatID, reply, ReplyRetries)
	unlock()
	if !sent {
		slog.Error("Dispatcher.Handle: reply not delivered", "chat_id", msg.ChatID)
	}

	d.runWorkflow(ctx, msg.ChatID, reply)
}

// workflowKey identifies a workflow run for the duplicate guard.
func workflowKey(chatID string, rec models.IntentRecord) string {
	if rec.Kind == models.IntentCharts {
		return fmt.Sprintf("%s-%s-%d", chatID, rec.Variable, rec.PeriodOr(0))
	}
	return fmt.Sprintf("%s-%s", chatID, rec.Kind)
}

func (d *Dispatcher) claimWorkflow(key string, kind models.IntentKind) bool {
	d.workflowMu.Lock()
	defer d.workflowMu.Unlock()
	if _, busy := d.running[key]; busy {
		return false
	}
	d.running[key] = kind
	return true
}

func (d *Dispatcher) releaseWorkflow(key string) {
	d.workflowMu.Lock()
	delete(d.running, key)
	d.workflowMu.Unlock()
}

// IsRunning reports whether a workflow of the given kind is running for chatID.
func (d *Dispatcher) IsRunning(chatID string, kind models.IntentKind) bool {
	d.workflowMu.Lock()
	defer d.workflowMu.Unlock()
	for key, k := range d.running {
		if k == kind && strings.HasPrefix(key, chatID+"-") {
			return true
		}
	}
	return false
}

// runWorkflow starts the workflow the reply acknowledged, at most once, and
// always clears the conversation afterwards.
func (d *Dispatcher) runWorkflow(ctx context.Context, chatID, reply string) {
	if !sleep(ctx, d.settle) {
		return
	}
	rec, ok := d.dialogue.ActiveWorkflow(chatID)
	if !ok {
		return
	}

	requested := 0
	if rec.Kind == models.IntentCharts {
		requested = requestedPeriod(rec, reply)
		rec = rec.WithPeriod(requested)
		if !rec.Variable.Valid() {
			rec.Variable = models.VariableOrders
		}
	}

	key := workflowKey(chatID, rec)
	if !d.claimWorkflow(key, rec.Kind) {
		slog.Warn("Dispatcher.runWorkflow: identical workflow already running", "key", key)
		return
	}
	defer d.releaseWorkflow(key)
	defer func() {
		d.dialogue.CompleteWorkflow(chatID, rec.Kind)
		d.dialogue.ClearContext(chatID)
	}()

	slog.Info("Dispatcher.runWorkflow: starting", "chat_id", chatID, "kind", rec.Kind)
	switch rec.Kind {
	case models.IntentCharts:
		d.runCharts(ctx, chatID, rec, requested)
	case models.IntentMultivertical:
		d.runAnalysis(ctx, chatID, d.mltv, msgMLTVSendFailed, msgMLTVFailed)
	case models.IntentZones:
		d.runAnalysis(ctx, chatID, d.zones, msgZonesSendFailed, msgZonesFailed)
	}
}
