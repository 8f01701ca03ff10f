package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jholhewres/memobridge/pkg/memobridge/bridge"
	"github.com/jholhewres/memobridge/pkg/memobridge/contacts"
	"github.com/jholhewres/memobridge/pkg/memobridge/recap"
	"github.com/jholhewres/memobridge/pkg/memobridge/whatsapp"
)

// toolRequest is the union of tool-call payload fields.
type toolRequest struct {
	UID          string                 `json:"uid"`
	ContactName  string                 `json:"contact_name"`
	Message      string                 `json:"message"`
	Summary      string                 `json:"summary"`
	DelayMinutes int                    `json:"delay_minutes"`
	Name         string                 `json:"name"`
	Phone        string                 `json:"phone"`
	ContactID    string                 `json:"contact_id"`
	Contacts     []contacts.ImportEntry `json:"contacts"`
}

// writeError maps the bridge error taxonomy onto HTTP status categories:
// 401 not connected, 403 unknown uid, 404 no contact match, 500 transient.
func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, bridge.ErrUnknownUser):
		status = fiber.StatusForbidden
	case errors.Is(err, whatsapp.ErrNotConnected):
		status = fiber.StatusUnauthorized
		msg = "no open session, connect first"
	case errors.Is(err, bridge.ErrContactNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, bridge.ErrContactsNotSynced):
		msg = "contacts are still syncing, try again shortly"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func result(c *fiber.Ctx, v any) error {
	return c.JSON(fiber.Map{"result": v})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": s.bridge.Sessions.Sessions(),
	})
}

func (s *Server) handleMemoryWebhook(c *fiber.Ctx) error {
	uid := c.Query("uid")
	if uid == "" {
		return badRequest(c, "uid query parameter is required")
	}
	var m recap.Memory
	if err := c.BodyParser(&m); err != nil {
		return badRequest(c, "malformed memory payload")
	}
	if err := s.bridge.DeliverMemory(uid, m); err != nil {
		return writeError(c, err)
	}
	return result(c, "recap queued")
}

func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	var req toolRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if req.UID == "" || req.ContactName == "" || req.Message == "" {
		return badRequest(c, "uid, contact_name and message are required")
	}
	match, err := s.bridge.SendToContactByName(c.Context(), req.UID, req.ContactName, req.Message)
	if err != nil {
		return writeError(c, err)
	}
	return result(c, fiber.Map{"sent_to": match.Name, "contact_id": match.ID})
}

func (s *Server) handleSendRecap(c *fiber.Ctx) error {
	var req toolRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if req.UID == "" || req.Summary == "" {
		return badRequest(c, "uid and summary are required")
	}
	if err := s.bridge.SendRecap(c.Context(), req.UID, req.Summary); err != nil {
		return writeError(c, err)
	}
	return result(c, "recap sent")
}

func (s *Server) handleSetReminder(c *fiber.Ctx) error {
	var req toolRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if req.UID == "" || req.Message == "" {
		return badRequest(c, "uid and message are required")
	}
	r, err := s.bridge.SetReminder(c.Context(), req.UID, req.Message, req.DelayMinutes, req.ContactName)
	if err != nil {
		return writeError(c, err)
	}
	return result(c, fiber.Map{"reminder_id": r.ID, "fire_at": r.FireAt})
}

func (s *Server) handleSaveContact(c *fiber.Ctx) error {
	var req toolRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if req.UID == "" || req.Name == "" || req.Phone == "" {
		return badRequest(c, "uid, name and phone are required")
	}
	sc, err := s.bridge.SaveContact(c.Context(), req.UID, req.Name, req.Phone)
	if err != nil {
		return writeError(c, err)
	}
	return result(c, sc)
}

func (s *Server) handleDeleteContact(c *fiber.Ctx) error {
	var req toolRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if req.UID == "" || req.ContactID == "" {
		return badRequest(c, "uid and contact_id are required")
	}
	deleted, err := s.bridge.DeleteContact(req.UID, req.ContactID)
	if err != nil {
		return writeError(c, err)
	}
	return result(c, fiber.Map{"deleted": deleted})
}

func (s *Server) handleImportContacts(c *fiber.Ctx) error {
	var req toolRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if req.UID == "" || len(req.Contacts) == 0 {
		return badRequest(c, "uid and contacts are required")
	}
	res, err := s.bridge.ImportContacts(req.UID, req.Contacts)
	if err != nil {
		return writeError(c, err)
	}
	return result(c, res)
}

func (s *Server) handleListContacts(c *fiber.Ctx) error {
	uid := c.Query("uid")
	if uid == "" {
		return badRequest(c, "uid query parameter is required")
	}
	if !s.bridge.KnownUser(uid) {
		return writeError(c, bridge.ErrUnknownUser)
	}
	return result(c, fiber.Map{
		"contacts": s.bridge.Directory.Get(uid),
		"saved":    s.bridge.Saved.Get(uid),
	})
}

func (s *Server) handleFindContact(c *fiber.Ctx) error {
	uid := c.Query("uid")
	name := c.Query("name")
	if uid == "" || name == "" {
		return badRequest(c, "uid and name query parameters are required")
	}
	match, err := s.bridge.ResolveContact(c.Context(), uid, name)
	if err != nil {
		return writeError(c, err)
	}
	return result(c, match)
}

func (s *Server) handleCheckNumber(c *fiber.Ctx) error {
	uid := c.Query("uid")
	phone := c.Query("phone")
	if uid == "" || phone == "" {
		return badRequest(c, "uid and phone query parameters are required")
	}
	exists, canonicalID, err := s.bridge.Sessions.CheckNumberExists(c.Context(), uid, phone)
	if err != nil {
		return writeError(c, err)
	}
	resp := fiber.Map{"exists": exists}
	if exists {
		resp["contact_id"] = canonicalID
	}
	return result(c, resp)
}

func (s *Server) handleSetupConnect(c *fiber.Ctx) error {
	uid := c.Params("uid")
	if err := s.bridge.Sessions.Connect(c.Context(), uid); err != nil {
		return writeError(c, err)
	}
	return result(c, s.bridge.Sessions.Status(uid))
}

func (s *Server) handleSetupStatus(c *fiber.Ctx) error {
	uid := c.Params("uid")
	status := s.bridge.Sessions.Status(uid)
	resp := fiber.Map{
		"state":     status.State,
		"connected": status.Connected,
	}
	if code := s.bridge.Sessions.PendingCode(uid); code != "" {
		resp["code"] = code
	}
	return c.JSON(resp)
}

func (s *Server) handleSetupLogout(c *fiber.Ctx) error {
	uid := c.Params("uid")
	if err := s.bridge.Sessions.Logout(c.Context(), uid); err != nil {
		return writeError(c, err)
	}
	return result(c, "logged out")
}

// setupPage polls the status endpoint and renders the pairing code client
// side; kept deliberately tiny since real rendering belongs to the caller's
// own UI.
const setupPage = `<!doctype html>
<html><head><title>memobridge setup</title></head>
<body>
<h3>Link your account</h3>
<pre id="state">loading...</pre>
<script>
async function poll() {
  const resp = await fetch(location.pathname + '/status', {headers: {Authorization: 'Bearer ' + new URLSearchParams(location.search).get('secret')}});
  const data = await resp.json();
  document.getElementById('state').textContent =
    data.connected ? 'Connected.' : (data.code ? 'Scan this code:\n\n' + data.code : 'State: ' + data.state);
  if (!data.connected) setTimeout(poll, 2000);
}
poll();
</script>
</body></html>`

func (s *Server) handleSetupPage(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(setupPage)
}
