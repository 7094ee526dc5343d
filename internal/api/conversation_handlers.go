package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/BTreeMap/Baruc/internal/models"
)

// ChatState is the reply of GET /api/chats/:id/state.
type ChatState struct {
	ChatID             string                      `json:"chatId"`
	HasContext         bool                        `json:"hasContext"`
	HasState           bool                        `json:"hasState"`
	IsAnalyzingCharts  bool                        `json:"isAnalyzingCharts"`
	IsAnalyzingMLTV    bool                        `json:"isAnalyzingMltv"`
	IsAnalyzingOpZones bool                        `json:"isAnalyzingOpZones"`
	Context            *models.ConversationContext `json:"context,omitempty"`
}

func (s *Server) analyzing(chatID string, kind models.IntentKind) bool {
	if s.conv.IsAnalyzing(chatID, kind) {
		return true
	}
	return s.workflows != nil && s.workflows.IsRunning(chatID, kind)
}

func (s *Server) chatStateHandler(c *fiber.Ctx) error {
	chatID := c.Params("id")
	state := ChatState{
		ChatID:             chatID,
		HasContext:         s.conv.HasContext(chatID),
		HasState:           s.conv.HasState(chatID),
		IsAnalyzingCharts:  s.analyzing(chatID, models.IntentCharts),
		IsAnalyzingMLTV:    s.analyzing(chatID, models.IntentMultivertical),
		IsAnalyzingOpZones: s.analyzing(chatID, models.IntentZones),
	}
	if snap, ok := s.conv.Snapshot(chatID); ok {
		state.Context = &snap
	}
	return writeJSON(c, fiber.StatusOK, Success(state))
}

func (s *Server) clearContextHandler(c *fiber.Ctx) error {
	chatID := c.Params("id")
	if !s.conv.HasContext(chatID) {
		return writeJSON(c, fiber.StatusNotFound, Error("No conversation for this chat"))
	}
	s.conv.ClearContext(chatID)
	slog.Info("Server.clearContextHandler: conversation cleared", "chat_id", chatID)
	return writeJSON(c, fiber.StatusOK, SuccessWithMessage("conversation cleared", nil))
}
