// Package models defines state management structures for Baruc conversations.
package models

import "time"

// ConversationState is the dialogue state of a chat.
type ConversationState string

const (
	StateIdle             ConversationState = "idle"
	StateProcessingIntent ConversationState = "processing_intent"
	StateWaitingData      ConversationState = "waiting_data"
	StateExecuting        ConversationState = "executing"
	StateCompleted        ConversationState = "completed"
)

// Valid reports whether s is a known state.
func (s ConversationState) Valid() bool {
	switch s {
	case StateIdle, StateProcessingIntent, StateWaitingData, StateExecuting, StateCompleted:
		return true
	}
	return false
}

// ConversationContext is the per-chat dialogue record. It exists only while a
// conversation is active; cancellation and natural end delete it outright.
type ConversationContext struct {
	ChatID         string                `json:"chat_id"`
	SessionID      string                `json:"session_id"`
	Messages       []ConversationMessage `json:"messages"`
	State          ConversationState     `json:"state"`
	CurrentIntent  *IntentRecord         `json:"current_intent,omitempty"`
	WaitingFor     Field                 `json:"waiting_for,omitempty"`
	LastActiveTime time.Time             `json:"last_active_time"`
	JustCompleted  bool                  `json:"just_completed"`
}

// Clone returns a deep copy safe to hand out of the owning store.
func (c *ConversationContext) Clone() ConversationContext {
	out := *c
	out.Messages = make([]ConversationMessage, len(c.Messages))
	for i, m := range c.Messages {
		m.Intent = m.Intent.Clone()
		out.Messages[i] = m
	}
	out.CurrentIntent = c.CurrentIntent.Clone()
	return out
}

// ExecutingKind returns the workflow kind when the context is executing one.
func (c *ConversationContext) ExecutingKind() (IntentKind, bool) {
	if c.State != StateExecuting || c.CurrentIntent == nil || !c.CurrentIntent.Kind.IsWorkflow() {
		return "", false
	}
	return c.CurrentIntent.Kind, true
}
