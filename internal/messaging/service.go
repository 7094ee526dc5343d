// Package messaging carries Baruc's traffic between chat transports and the
// dialogue: readiness tracking, guarded delivery and inbound dispatch.
package messaging

import (
	"context"
	"errors"
	"strings"

	"github.com/BTreeMap/Baruc/internal/models"
)

// ErrSerializationFault marks a send error after which the message may well
// have been delivered anyway (the transport lost track of the acknowledgment).
var ErrSerializationFault = errors.New("transport serialization fault")

// Service defines a pluggable chat transport.
type Service interface {
	// SendText sends a text message to a chat.
	SendText(ctx context.Context, chatID, text string) error

	// SendMedia sends an image to a chat.
	SendMedia(ctx context.Context, chatID string, media models.Media) error

	// Start begins any background processing (e.g., connecting, polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns a channel of incoming chat messages.
	Inbound() <-chan models.InboundMessage

	// SelfID returns the transport's own account id, or "" when unknown.
	SelfID() string
}

// GroupLister is implemented by transports that can enumerate joined groups.
type GroupLister interface {
	Groups(ctx context.Context) ([]models.GroupInfo, error)
}

// IsSerializationFault reports whether err is a serialization fault, either
// wrapped around ErrSerializationFault or carrying one of the known messages.
func IsSerializationFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSerializationFault) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "serialize") || strings.Contains(msg, "getMessageModel")
}

// SameAccount reports whether two account ids name the same user, ignoring
// the server part and any device suffix.
func SameAccount(a, b string) bool {
	user := func(id string) string {
		if i := strings.IndexByte(id, '@'); i >= 0 {
			id = id[:i]
		}
		if i := strings.IndexByte(id, ':'); i >= 0 {
			id = id[:i]
		}
		return strings.TrimPrefix(id, "+")
	}
	ua, ub := user(a), user(b)
	return ua != "" && ua == ub
}
