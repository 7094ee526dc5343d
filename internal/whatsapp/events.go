package whatsapp

import (
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/Baruc/internal/models"
)

// handleEvent keeps the client state in sync and forwards text messages.
func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		c.state.SetAuthenticated(true)
		c.state.SetReady(true)
		c.state.ClearQR()
	case *events.PairSuccess:
		slog.Info("whatsapp: pair success", "id", v.ID.String())
		c.state.SetAuthenticated(true)
		c.state.ClearQR()
	case *events.Disconnected:
		c.state.SetReady(false)
	case *events.StreamReplaced:
		slog.Warn("whatsapp: stream replaced by another connection")
		c.state.SetReady(false)
	case *events.LoggedOut:
		slog.Warn("whatsapp: logged out", "reason", v.Reason)
		c.state.Reset()
	case *events.Message:
		msg, ok := toInbound(v)
		if !ok {
			return
		}
		c.forward(msg)
	}
}

func (c *Client) forward(msg models.InboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	select {
	case c.inbound <- msg:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("whatsapp: inbound channel blocked, dropping message", "chat_id", msg.ChatID, "timeout", DefaultChannelTimeout)
	}
}

// toInbound extracts the text of a message event. Messages without text are skipped.
func toInbound(evt *events.Message) (models.InboundMessage, bool) {
	if evt == nil || evt.Message == nil {
		return models.InboundMessage{}, false
	}
	var text string
	var mentions []string
	switch {
	case evt.Message.GetConversation() != "":
		text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		ext := evt.Message.GetExtendedTextMessage()
		text = ext.GetText()
		mentions = ext.GetContextInfo().GetMentionedJID()
	default:
		return models.InboundMessage{}, false
	}
	return models.InboundMessage{
		ID:           string(evt.Info.ID),
		ChatID:       evt.Info.Chat.String(),
		SenderID:     evt.Info.Sender.String(),
		Body:         text,
		MentionedIDs: mentions,
		Timestamp:    evt.Info.Timestamp,
		IsGroup:      evt.Info.IsGroup,
		FromMe:       evt.Info.IsFromMe,
	}, true
}

func buildImageMessage(up whatsmeow.UploadResponse, media models.Media) *waE2E.Message {
	mime := media.MimeType
	if mime == "" {
		mime = "image/png"
	}
	img := &waE2E.ImageMessage{
		Mimetype:      proto.String(mime),
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}
	if media.Caption != "" {
		img.Caption = proto.String(media.Caption)
	}
	return &waE2E.Message{ImageMessage: img}
}

func toGroupInfos(groups []*types.GroupInfo) []models.GroupInfo {
	out := make([]models.GroupInfo, 0, len(groups))
	for _, g := range groups {
		if g == nil {
			continue
		}
		out = append(out, models.GroupInfo{ID: g.JID.String(), Name: g.Name})
	}
	return out
}
