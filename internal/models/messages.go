package models

import "time"

// InboundMessage is a chat message received from a transport.
type InboundMessage struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chat_id"`
	SenderID     string    `json:"sender_id"`
	Body         string    `json:"body"`
	MentionedIDs []string  `json:"mentioned_ids,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	IsGroup      bool      `json:"is_group"`
	FromMe       bool      `json:"from_me"`
}

// Media is an outbound image. Transports that upload bytes use Data, transports
// that send by reference use URL.
type Media struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Data     []byte `json:"-"`
}

// MessageKind distinguishes text from media deliveries.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindMedia MessageKind = "media"
)

// DeliveryStatus records how a send concluded.
type DeliveryStatus string

const (
	StatusSent DeliveryStatus = "sent"
	// StatusProbable marks a send that failed with a serialization fault while
	// the transport stayed ready, so the message most likely went out.
	StatusProbable DeliveryStatus = "probable"
)

// Receipt is the audit record of one outbound delivery.
type Receipt struct {
	ChatID string         `json:"chat_id"`
	Kind   MessageKind    `json:"kind"`
	Status DeliveryStatus `json:"status"`
	Time   time.Time      `json:"time"`
}

// GroupInfo describes a group chat the bot is a member of.
type GroupInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
