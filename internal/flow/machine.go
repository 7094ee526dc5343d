// Package flow implements the dialogue state machine of Baruc.
//
// Machine decides, for every qualifying group message, whether the bot speaks
// and what it says, moving the chat's conversation context through
// idle, waiting_data, executing and completed.
package flow

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/Baruc/internal/conversation"
	"github.com/BTreeMap/Baruc/internal/intent"
	"github.com/BTreeMap/Baruc/internal/models"
	"github.com/BTreeMap/Baruc/internal/util"
)

// MaxCancellationLength is the longest message (in runes) that can be read as
// a cancellation.
const MaxCancellationLength = 10

var mentionPattern = regexp.MustCompile(`@\S+`)

// Classifier is the intent oracle the machine consults.
type Classifier interface {
	Classify(ctx context.Context, snapshot models.ConversationContext) intent.Result
}

// Machine is the dialogue state machine.
type Machine struct {
	store      *conversation.Store
	classifier Classifier
	replies    *Replies
	pick       util.Picker
	wake       *regexp.Regexp
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithReplies replaces the default reply catalog.
func WithReplies(r *Replies) MachineOption {
	return func(m *Machine) {
		m.replies = r
	}
}

// WithPicker injects the greeting selector.
func WithPicker(p util.Picker) MachineOption {
	return func(m *Machine) {
		m.pick = p
	}
}

// NewMachine creates a Machine over the given store and classifier.
func NewMachine(store *conversation.Store, classifier Classifier, opts ...MachineOption) *Machine {
	m := &Machine{
		store:      store,
		classifier: classifier,
		replies:    DefaultReplies(),
		pick:       util.RandomPicker,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.replies.WakeWord != "" {
		m.wake = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(m.replies.WakeWord) + `\b`)
	}
	return m
}

// Replies exposes the catalog in use.
func (m *Machine) Replies() *Replies {
	return m.replies
}

// StripAddressing removes the wake word and @mentions from text.
func (m *Machine) StripAddressing(text string) string {
	text = mentionPattern.ReplaceAllString(text, " ")
	if m.wake != nil {
		text = m.wake.ReplaceAllString(text, " ")
	}
	return strings.Join(strings.Fields(text), " ")
}

// Addressed reports whether text contains the wake word as a whole word.
func (m *Machine) Addressed(text string) bool {
	return m.wake != nil && m.wake.MatchString(text)
}

// WakeWord returns the word that addresses the bot.
func (m *Machine) WakeWord() string {
	return m.replies.WakeWord
}

// IsCancellation reports whether text is a short cancellation message.
func (m *Machine) IsCancellation(text string) bool {
	stripped := m.StripAddressing(text)
	if util.RuneLen(stripped) > MaxCancellationLength {
		return false
	}
	return util.MatchesVocabulary(stripped, m.replies.CancelWords)
}

// IsBareCancellation reports whether text, once addressing is removed,
// consists only of cancellation vocabulary.
func (m *Machine) IsBareCancellation(text string) bool {
	return util.OnlyVocabulary(m.StripAddressing(text), m.replies.CancelWords)
}

// isEndOfConversation reports whether text closes a finished conversation.
func (m *Machine) isEndOfConversation(text string) bool {
	return util.MatchesVocabulary(m.StripAddressing(text), m.replies.EndWords)
}

// Handle processes one qualifying message and returns the reply to send, or
// the empty string when the bot should stay silent.
func (m *Machine) Handle(ctx context.Context, chatID, text string) string {
	snap := m.store.GetOrCreate(chatID)
	slog.Debug("Machine.Handle: processing", "chat_id", chatID, "session_id", snap.SessionID, "state", snap.State)

	if m.IsCancellation(text) {
		m.store.Delete(chatID)
		slog.Info("Machine.Handle: conversation cancelled", "chat_id", chatID)
		return m.replies.Cancelled
	}

	if snap.JustCompleted && m.isEndOfConversation(text) {
		m.store.Delete(chatID)
		slog.Info("Machine.Handle: conversation closed after completion", "chat_id", chatID)
		return m.replies.Closing
	}

	m.store.Append(chatID, models.SenderUser, text, nil)
	snap, ok := m.store.Get(chatID)
	if !ok {
		slog.Warn("Machine.Handle: context expired mid-message", "chat_id", chatID)
		return ""
	}

	res := m.classifier.Classify(ctx, snap)
	if res.Outcome != intent.OutcomeClassified {
		slog.Warn("Machine.Handle: classification degraded", "chat_id", chatID, "outcome", res.Outcome, "error", res.Err)
	}

	reply := m.apply(chatID, res.Analysis)
	if reply != "" {
		rec := res.Analysis.Intent
		m.store.Append(chatID, models.SenderBot, reply, &rec)
	}
	return reply
}

// apply moves the context according to the analysis and picks the reply.
func (m *Machine) apply(chatID string, a intent.Analysis) string {
	rec := a.Intent
	var reply string
	closed := false

	err := m.store.Update(chatID, func(c *models.ConversationContext) {
		c.CurrentIntent = rec.Clone()

		switch {
		case rec.Kind == models.IntentGreeting:
			c.State = models.StateIdle
			c.JustCompleted = false
			c.WaitingFor = models.FieldNone
			reply = util.PickOne(m.replies.Greetings, m.pick)

		case rec.Kind == models.IntentUnknown && c.JustCompleted:
			closed = true
			reply = m.replies.Closing

		case rec.Kind == models.IntentUnknown:
			reply = m.replies.Menu

		case a.NeedsMoreInfo:
			c.State = models.StateWaitingData
			c.WaitingFor = a.MissingField
			c.JustCompleted = false
			reply = m.replies.Question(rec, a.MissingField)

		case a.ShouldExecute:
			c.State = models.StateExecuting
			c.WaitingFor = models.FieldNone
			c.JustCompleted = false
			reply = m.replies.Execution(rec)
		}
	})
	if err != nil {
		slog.Warn("Machine.apply: context vanished before update", "chat_id", chatID, "error", err)
		return ""
	}

	if closed {
		m.store.Delete(chatID)
		slog.Info("Machine.apply: conversation closed after completion", "chat_id", chatID)
	}
	slog.Debug("Machine.apply: analysis applied", "chat_id", chatID, "intent", rec.Kind, "reply_set", reply != "")
	return reply
}

// HasContext reports whether chatID has an open conversation.
func (m *Machine) HasContext(chatID string) bool {
	return m.store.Has(chatID)
}

// HasState reports whether chatID has a non-idle conversation.
func (m *Machine) HasState(chatID string) bool {
	return m.store.HasState(chatID)
}

// IsAnalyzing reports whether chatID is executing the given workflow.
func (m *Machine) IsAnalyzing(chatID string, kind models.IntentKind) bool {
	return m.store.IsExecuting(chatID, kind)
}

// ActiveWorkflow returns the intent of the workflow chatID is executing.
func (m *Machine) ActiveWorkflow(chatID string) (models.IntentRecord, bool) {
	c, ok := m.store.Get(chatID)
	if !ok {
		return models.IntentRecord{}, false
	}
	if _, executing := c.ExecutingKind(); !executing {
		return models.IntentRecord{}, false
	}
	return *c.CurrentIntent, true
}

// CompleteWorkflow marks the workflow as finished for chatID.
func (m *Machine) CompleteWorkflow(chatID string, kind models.IntentKind) {
	m.store.CompleteWorkflow(chatID, kind)
}

// ClearContext drops the conversation for chatID.
func (m *Machine) ClearContext(chatID string) {
	m.store.Delete(chatID)
}

// Snapshot returns a copy of the conversation for chatID.
func (m *Machine) Snapshot(chatID string) (models.ConversationContext, bool) {
	return m.store.Get(chatID)
}
