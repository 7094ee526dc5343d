// Package testutil provides common test fakes and helpers for Baruc tests.
package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/Baruc/internal/models"
	"github.com/BTreeMap/Baruc/internal/store"
)

// SentText is a text message captured by FakeTransport.
type SentText struct {
	ChatID string
	Text   string
}

// SentMedia is a media message captured by FakeTransport.
type SentMedia struct {
	ChatID string
	Media  models.Media
}

// FakeTransport is an in-memory chat transport that records every send.
// Errors queued with FailNext are returned by the following sends in order.
type FakeTransport struct {
	mu       sync.Mutex
	texts    []SentText
	media    []SentMedia
	failures []error
	groups   []models.GroupInfo
	inbound  chan models.InboundMessage
	self     string
	started  bool
	delay    time.Duration
}

// NewFakeTransport creates a FakeTransport whose own account id is self.
func NewFakeTransport(self string) *FakeTransport {
	return &FakeTransport{
		self:    self,
		inbound: make(chan models.InboundMessage, 64),
	}
}

// FailNext queues errors for the next sends; a nil entry means success.
func (f *FakeTransport) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// SetDelay makes every send block for d (or until its context ends).
func (f *FakeTransport) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// SetGroups sets the groups returned by Groups.
func (f *FakeTransport) SetGroups(groups ...models.GroupInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = groups
}

func (f *FakeTransport) next(ctx context.Context) error {
	f.mu.Lock()
	delay := f.delay
	var err error
	if len(f.failures) > 0 {
		err = f.failures[0]
		f.failures = f.failures[1:]
	}
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *FakeTransport) SendText(ctx context.Context, chatID, text string) error {
	if err := f.next(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, SentText{ChatID: chatID, Text: text})
	return nil
}

func (f *FakeTransport) SendMedia(ctx context.Context, chatID string, media models.Media) error {
	if err := f.next(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, SentMedia{ChatID: chatID, Media: media})
	return nil
}

func (f *FakeTransport) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *FakeTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	return nil
}

// Started reports whether Start was called without a later Stop.
func (f *FakeTransport) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeTransport) Inbound() <-chan models.InboundMessage {
	return f.inbound
}

// Deliver pushes an inbound message as if it had arrived from the network.
func (f *FakeTransport) Deliver(msg models.InboundMessage) {
	f.inbound <- msg
}

func (f *FakeTransport) SelfID() string {
	return f.self
}

func (f *FakeTransport) Groups(ctx context.Context) ([]models.GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.GroupInfo(nil), f.groups...), nil
}

// Texts returns a copy of the texts sent so far.
func (f *FakeTransport) Texts() []SentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentText(nil), f.texts...)
}

// TextBodies returns the bodies of the texts sent to chatID.
func (f *FakeTransport) TextBodies(chatID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.texts {
		if t.ChatID == chatID {
			out = append(out, t.Text)
		}
	}
	return out
}

// Media returns a copy of the media sent so far.
func (f *FakeTransport) Media() []SentMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMedia(nil), f.media...)
}

// GroupMessage builds an inbound group message with sensible defaults.
func GroupMessage(chatID, body string, ts time.Time) models.InboundMessage {
	return models.InboundMessage{
		ID:        chatID + "-" + ts.Format("150405.000"),
		ChatID:    chatID,
		SenderID:  "5215550001111@s.whatsapp.net",
		Body:      body,
		Timestamp: ts,
		IsGroup:   true,
	}
}

// SeedMessages adds a few group messages for chatID to the store.
func SeedMessages(t *testing.T, st store.Store, chatID string, base time.Time) {
	t.Helper()
	bodies := []string{"baruc", "gráficas de órdenes", "2"}
	for i, b := range bodies {
		if err := st.AddMessage(GroupMessage(chatID, b, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("failed to seed message: %v", err)
		}
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeJSON reads an HTTP response body into target and fails the test on error.
func DecodeJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON %q: %v", string(data), err)
	}
}
