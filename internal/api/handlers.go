package api

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/BTreeMap/Baruc/internal/store"
	"github.com/BTreeMap/Baruc/internal/twiliowhatsapp"
)

const groupServer = "@g.us"

func (s *Server) healthHandler(c *fiber.Ctx) error {
	return writeJSON(c, fiber.StatusOK, Success(fiber.Map{
		"service":  "baruc",
		"whatsapp": s.state.Status(),
	}))
}

func (s *Server) qrHandler(c *fiber.Ctx) error {
	if st := s.state.Status(); st.IsReady {
		return writeJSON(c, fiber.StatusConflict, Error("Already paired; log out first to get a new QR code"))
	}
	code, ok := s.state.WaitForQR(c.UserContext(), s.qrTimeout)
	if !ok {
		slog.Warn("Server.qrHandler: no QR code available", "timeout", s.qrTimeout)
		return writeJSON(c, fiber.StatusGatewayTimeout, Error("QR code not available yet, try again"))
	}
	return writeJSON(c, fiber.StatusOK, Success(fiber.Map{"qr": code}))
}

func (s *Server) qrPageHandler(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(qrPage)
}

func (s *Server) groupsHandler(c *fiber.Ctx) error {
	if s.groups == nil {
		return writeJSON(c, fiber.StatusNotImplemented, Error("Group listing not supported by this transport"))
	}
	groups, err := s.groups.Groups(c.UserContext())
	if err != nil {
		slog.Error("Server.groupsHandler: listing failed", "error", err)
		return writeJSON(c, fiber.StatusInternalServerError, Error("Could not list groups"))
	}
	return writeJSON(c, fiber.StatusOK, Success(groups))
}

func (s *Server) groupMessagesHandler(c *fiber.Ctx) error {
	if s.messages == nil {
		return writeJSON(c, fiber.StatusNotImplemented, Error("Message log not configured"))
	}
	groupID := c.Params("id")
	if !strings.Contains(groupID, "@") {
		groupID += groupServer
	}
	limit := c.QueryInt("limit", store.DefaultMessageLimit)
	if limit <= 0 {
		return writeJSON(c, fiber.StatusBadRequest, Error("limit must be positive"))
	}
	msgs, err := s.messages.GetMessages(groupID, limit)
	if err != nil {
		slog.Error("Server.groupMessagesHandler: query failed", "error", err, "chat_id", groupID)
		return writeJSON(c, fiber.StatusInternalServerError, Error("Could not load messages"))
	}
	return writeJSON(c, fiber.StatusOK, Success(msgs))
}

func (s *Server) logoutHandler(c *fiber.Ctx) error {
	if s.logout == nil {
		return writeJSON(c, fiber.StatusNotImplemented, Error("Logout not supported by this transport"))
	}
	if err := s.logout(c.UserContext()); err != nil {
		slog.Error("Server.logoutHandler: logout failed", "error", err)
		return writeJSON(c, fiber.StatusInternalServerError, Error("Could not log out"))
	}
	slog.Info("Server.logoutHandler: logged out")
	return writeJSON(c, fiber.StatusOK, SuccessWithMessage("logged out", nil))
}

func (s *Server) twilioWebhookHandler(c *fiber.Ctx) error {
	if s.webhook == nil {
		return writeJSON(c, fiber.StatusNotFound, Error("Twilio webhook not enabled"))
	}
	params := make(map[string]string)
	c.Request().PostArgs().VisitAll(func(k, v []byte) {
		params[string(k)] = string(v)
	})
	url := s.publicURL
	if url == "" {
		url = c.BaseURL() + c.OriginalURL()
	}

	err := s.webhook.HandleWebhook(url, params, c.Get("X-Twilio-Signature"))
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: webhook rejected", "error", err)
		if errors.Is(err, twiliowhatsapp.ErrInvalidSignature) {
			return writeJSON(c, fiber.StatusForbidden, Error("Invalid signature"))
		}
		return writeJSON(c, fiber.StatusServiceUnavailable, Error("Webhook not accepted"))
	}
	// Empty TwiML: no automatic reply.
	c.Set(fiber.HeaderContentType, fiber.MIMETextXMLCharsetUTF8)
	return c.SendString("<Response></Response>")
}

const qrPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Baruc - Vincular WhatsApp</title></head>
<body>
  <button id="gen">Generar QR</button>
  <button id="clear" style="margin-left:10px;">Borrar sesión</button>
  <p id="status"></p>
  <div id="out"></div>
  <script>
    const status = document.getElementById('status');
    const out = document.getElementById('out');

    document.getElementById('clear').onclick = async () => {
      status.textContent = 'Borrando sesión…';
      const r = await fetch('/api/logout', { method: 'POST' });
      status.textContent = r.ok ? 'Sesión eliminada' : 'Error al borrar';
      out.innerHTML = '';
    };

    document.getElementById('gen').onclick = async () => {
      status.textContent = 'Generando QR…';
      try {
        const r = await fetch('/api/qr');
        const data = await r.json();
        if (!r.ok) throw new Error(data.message);
        status.textContent = 'QR generado';
        out.innerHTML = '<img src="https://api.qrserver.com/v1/create-qr-code/?data=' +
          encodeURIComponent(data.result.qr) + '&size=200x200">';
      } catch (err) {
        status.textContent = 'ERROR: ' + err.message;
      }
    };
  </script>
</body>
</html>
`
