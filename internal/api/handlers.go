package api

import (
	"crypto/hmac"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/zapdesk/internal/domain"
	"github.com/zapdesk/zapdesk/internal/storage"
	"github.com/zapdesk/zapdesk/internal/whatsapp"
)

// --- Auth handlers ---

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	token, user, err := s.services.Auth.Login(c.Context(), req.Username, req.Password, s.cfg.JWTSecret)
	if err != nil {
		return fail(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     "auth-token",
		Value:    token,
		Expires:  time.Now().Add(24 * 7 * time.Hour),
		HTTPOnly: true,
		Secure:   s.cfg.IsProduction(),
		SameSite: "Lax",
	})

	return c.JSON(fiber.Map{
		"success": true,
		"token":   token,
		"user":    user,
	})
}

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req struct {
		OrganizationName string `json:"organization_name"`
		Username         string `json:"username"`
		Email            string `json:"email"`
		Password         string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.OrganizationName == "" || req.Username == "" || req.Email == "" || len(req.Password) < 8 {
		return badRequest(c, "organization name, username, email and a password of at least 8 characters are required")
	}

	user, err := s.services.Auth.Register(c.Context(), req.OrganizationName, req.Username, req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}

	return c.Status(201).JSON(fiber.Map{"success": true, "user": user})
}

func (s *Server) handleLogout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:    "auth-token",
		Value:   "",
		Expires: time.Now().Add(-time.Hour),
	})
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleGetMe(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	user, err := s.services.Auth.GetUser(c.Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	if user == nil {
		return fail(c, domain.ErrNotFound)
	}
	return c.JSON(fiber.Map{"success": true, "user": user})
}

// --- Instance handlers ---

func (s *Server) handleGetInstance(c *fiber.Ctx) error {
	view, err := s.services.Instance.Get(c.Context(), orgID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "instance": view})
}

func (s *Server) handleProvisionInstance(c *fiber.Ctx) error {
	view, err := s.services.Instance.Provision(c.Context(), orgID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"success": true, "instance": view})
}

func (s *Server) handleConnectInstance(c *fiber.Ctx) error {
	view, err := s.services.Instance.Connect(c.Context(), orgID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "instance": view})
}

func (s *Server) handleDisconnectInstance(c *fiber.Ctx) error {
	view, err := s.services.Instance.Disconnect(c.Context(), orgID(c), claims(c).Role)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "instance": view})
}

func (s *Server) handleDeleteInstance(c *fiber.Ctx) error {
	if err := s.services.Instance.Delete(c.Context(), orgID(c), claims(c).Role); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// --- Webhook handlers ---

func (s *Server) handleGatewayWebhook(c *fiber.Ctx) error {
	org, err := pathID(c, "org")
	if err != nil {
		return badRequest(c, "invalid organization id")
	}

	var event whatsapp.WebhookEvent
	if err := json.Unmarshal(c.Body(), &event); err != nil {
		return badRequest(c, "invalid payload")
	}

	if err := s.webhooks.Process(c.Context(), org, &event); err != nil {
		log.Error().Err(err).Str("org_id", org.String()).Str("event", event.Event).Msg("webhook processing failed")
		return c.Status(500).JSON(fiber.Map{"success": false})
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleBillingWebhook(c *fiber.Ctx) error {
	if s.cfg.BillingWebhookSecret == "" ||
		!hmac.Equal([]byte(c.Get("X-Webhook-Secret")), []byte(s.cfg.BillingWebhookSecret)) {
		return c.Status(401).JSON(fiber.Map{"success": false, "error": "Unauthorized"})
	}

	var req struct {
		EventID        string          `json:"event_id"`
		EventType      string          `json:"event_type"`
		OrganizationID *uuid.UUID      `json:"organization_id"`
		Data           json.RawMessage `json:"data"`
	}
	if err := c.BodyParser(&req); err != nil || req.EventID == "" || req.EventType == "" {
		return badRequest(c, "invalid payload")
	}

	payload := req.Data
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	event := &domain.BillingEvent{
		Provider:       c.Params("provider"),
		EventID:        req.EventID,
		EventType:      req.EventType,
		OrganizationID: req.OrganizationID,
		Payload:        payload,
	}

	fresh, err := s.services.Billing.HandleEvent(c.Context(), event)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "duplicate": !fresh})
}

// --- Contact handlers ---

func (s *Server) handleGetContacts(c *fiber.Ctx) error {
	filter := domain.ContactFilter{
		Search: c.Query("search"),
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	}

	contacts, total, err := s.services.Contact.List(c.Context(), orgID(c), filter)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "contacts": contacts, "total": total})
}

func (s *Server) handleCreateContact(c *fiber.Ctx) error {
	var contact domain.Contact
	if err := c.BodyParser(&contact); err != nil {
		return badRequest(c, "invalid request")
	}
	if contact.Phone == "" {
		return badRequest(c, "phone is required")
	}
	contact.OrganizationID = orgID(c)

	if err := s.services.Contact.Create(c.Context(), &contact); err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"success": true, "contact": contact})
}

func (s *Server) handleSyncContacts(c *fiber.Ctx) error {
	imported, err := s.services.Contact.Sync(c.Context(), orgID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "imported": imported})
}

func (s *Server) handleRefreshAvatar(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contact id")
	}
	url, err := s.services.Contact.RefreshAvatar(c.Context(), orgID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "avatar_url": url})
}

func (s *Server) handleGetContact(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contact id")
	}
	contact, err := s.services.Contact.Get(c.Context(), orgID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "contact": contact})
}

func (s *Server) handleUpdateContact(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contact id")
	}

	var contact domain.Contact
	if err := c.BodyParser(&contact); err != nil {
		return badRequest(c, "invalid request")
	}
	contact.ID = id
	contact.OrganizationID = orgID(c)

	if err := s.services.Contact.Update(c.Context(), &contact); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "contact": contact})
}

func (s *Server) handleDeleteContact(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contact id")
	}
	if err := s.services.Contact.Delete(c.Context(), orgID(c), id); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// --- Chat handlers ---

func (s *Server) handleGetChats(c *fiber.Ctx) error {
	filter := domain.ChatFilter{
		Search:     c.Query("search"),
		UnreadOnly: c.QueryBool("unread", false),
		Archived:   c.QueryBool("archived", false),
		Limit:      c.QueryInt("limit", 50),
		Offset:     c.QueryInt("offset", 0),
	}

	chats, err := s.services.Chat.List(c.Context(), orgID(c), filter)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "chats": chats})
}

func (s *Server) handleGetChat(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid chat id")
	}
	chat, err := s.services.Chat.Get(c.Context(), orgID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "chat": chat})
}

func (s *Server) handleGetMessages(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid chat id")
	}

	messages, err := s.services.Chat.Messages(c.Context(), orgID(c), id, c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "messages": messages})
}

func (s *Server) handleMarkAsRead(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid chat id")
	}
	if err := s.services.Chat.MarkAsRead(c.Context(), orgID(c), id); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleDraftReply(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid chat id")
	}

	var req struct {
		Instructions string `json:"instructions"`
	}
	_ = c.BodyParser(&req)

	draft, err := s.services.AI.DraftReply(c.Context(), orgID(c), id, req.Instructions)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "draft": draft})
}

// --- Message handlers ---

func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	var req struct {
		Phone     string `json:"phone"`
		Body      string `json:"body"`
		MediaURL  string `json:"media_url"`
		MediaType string `json:"media_type"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Phone == "" {
		return badRequest(c, "phone is required")
	}

	var msg *domain.Message
	var err error
	if req.MediaURL != "" {
		if req.MediaType == "" {
			req.MediaType = domain.MessageTypeImage
		}
		msg, err = s.services.Chat.SendMedia(c.Context(), orgID(c), req.Phone, req.MediaType, req.MediaURL, req.Body)
	} else {
		if req.Body == "" {
			return badRequest(c, "body is required")
		}
		msg, err = s.services.Chat.SendText(c.Context(), orgID(c), req.Phone, req.Body)
	}
	if err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"success": true, "message": msg})
}

func (s *Server) handleDownloadMedia(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid message id")
	}
	data, mimetype, err := s.services.Chat.DownloadMedia(c.Context(), orgID(c), id)
	if err != nil {
		return fail(c, err)
	}
	if mimetype != "" {
		c.Set(fiber.HeaderContentType, mimetype)
	}
	return c.Send(data)
}

// --- Media handlers ---

func (s *Server) handleUploadMedia(c *fiber.Ctx) error {
	if s.storage == nil {
		return c.Status(503).JSON(fiber.Map{"success": false, "error": "media storage is not configured"})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}

	src, err := file.Open()
	if err != nil {
		return fail(c, err)
	}
	defer src.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objectPath := mediaObjectPath(c.FormValue("kind"), filepath.Ext(file.Filename))

	url, err := s.storage.UploadReader(c.Context(), orgID(c), objectPath, src, file.Size, contentType)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"success": true, "url": url})
}

// mediaObjectPath keeps campaign media under its own prefix.
func mediaObjectPath(kind, ext string) string {
	if kind == "campaign" {
		return storage.CampaignMediaPath(ext)
	}
	return storage.UploadPath(ext)
}

func (s *Server) handlePresignMedia(c *fiber.Ctx) error {
	if s.storage == nil {
		return c.Status(503).JSON(fiber.Map{"success": false, "error": "media storage is not configured"})
	}

	var req struct {
		Filename string `json:"filename"`
		Kind     string `json:"kind"`
	}
	if err := c.BodyParser(&req); err != nil || req.Filename == "" {
		return badRequest(c, "filename is required")
	}

	url, err := s.storage.GetPresignedUploadURL(c.Context(), orgID(c), mediaObjectPath(req.Kind, filepath.Ext(req.Filename)))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "upload_url": url})
}

func (s *Server) handleDeleteMedia(c *fiber.Ctx) error {
	if s.storage == nil {
		return c.Status(503).JSON(fiber.Map{"success": false, "error": "media storage is not configured"})
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := c.BodyParser(&req); err != nil || req.URL == "" {
		return badRequest(c, "url is required")
	}

	objectKey, err := s.storage.ExtractObjectKey(req.URL)
	if err != nil {
		return badRequest(c, "invalid media url")
	}
	if !storage.OwnedBy(objectKey, orgID(c)) {
		return fail(c, domain.ErrForbidden)
	}
	if err := s.storage.DeleteFile(c.Context(), objectKey); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// --- Pipeline handlers ---

func (s *Server) handleGetPipelines(c *fiber.Ctx) error {
	pipelines, err := s.services.Pipeline.List(c.Context(), orgID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "pipelines": pipelines})
}

func (s *Server) handleCreatePipeline(c *fiber.Ctx) error {
	var req struct {
		Name   string   `json:"name"`
		Stages []string `json:"stages"`
	}
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return badRequest(c, "name is required")
	}
	if len(req.Stages) == 0 {
		req.Stages = []string{"New", "In Progress", "Won", "Lost"}
	}

	pipeline := &domain.Pipeline{OrganizationID: orgID(c), Name: req.Name}
	if err := s.services.Pipeline.Create(c.Context(), pipeline, req.Stages); err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"success": true, "pipeline": pipeline})
}

// --- Lead handlers ---

func (s *Server) handleGetLeads(c *fiber.Ctx) error {
	leads, err := s.services.Lead.List(c.Context(), orgID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "leads": leads})
}

func (s *Server) handleCreateLead(c *fiber.Ctx) error {
	var lead domain.Lead
	if err := c.BodyParser(&lead); err != nil {
		return badRequest(c, "invalid request")
	}
	if lead.Name == "" || lead.StageID == uuid.Nil {
		return badRequest(c, "name and stage_id are required")
	}
	lead.OrganizationID = orgID(c)

	if err := s.services.Lead.Create(c.Context(), &lead); err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"success": true, "lead": lead})
}

func (s *Server) handleGetLead(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid lead id")
	}
	lead, err := s.services.Lead.Get(c.Context(), orgID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "lead": lead})
}

func (s *Server) handleUpdateLead(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid lead id")
	}

	var lead domain.Lead
	if err := c.BodyParser(&lead); err != nil {
		return badRequest(c, "invalid request")
	}
	lead.ID = id
	lead.OrganizationID = orgID(c)

	if err := s.services.Lead.Update(c.Context(), &lead); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "lead": lead})
}

func (s *Server) handleMoveLead(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid lead id")
	}

	var req struct {
		StageID  uuid.UUID `json:"stage_id"`
		Position int       `json:"position"`
	}
	if err := c.BodyParser(&req); err != nil || req.StageID == uuid.Nil {
		return badRequest(c, "stage_id is required")
	}

	lead, err := s.services.Lead.Move(c.Context(), orgID(c), id, req.StageID, req.Position)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "lead": lead})
}

func (s *Server) handleDeleteLead(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid lead id")
	}
	if err := s.services.Lead.Delete(c.Context(), orgID(c), id); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// --- Campaign handlers ---

func (s *Server) handleGetCampaigns(c *fiber.Ctx) error {
	campaigns, err := s.services.Campaign.List(c.Context(), orgID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "campaigns": campaigns})
}

func (s *Server) handleCreateCampaign(c *fiber.Ctx) error {
	var req struct {
		Name            string      `json:"name"`
		MessageTemplate string      `json:"message_template"`
		MediaURL        *string     `json:"media_url"`
		MediaType       *string     `json:"media_type"`
		ContactIDs      []uuid.UUID `json:"contact_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Name == "" || req.MessageTemplate == "" {
		return badRequest(c, "name and message_template are required")
	}

	campaign := &domain.Campaign{
		OrganizationID:  orgID(c),
		Name:            req.Name,
		MessageTemplate: req.MessageTemplate,
		MediaURL:        req.MediaURL,
		MediaType:       req.MediaType,
	}
	if err := s.services.Campaign.Create(c.Context(), campaign, req.ContactIDs); err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"success": true, "campaign": campaign})
}

func (s *Server) handleGetCampaign(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid campaign id")
	}
	campaign, err := s.services.Campaign.Get(c.Context(), orgID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "campaign": campaign})
}

func (s *Server) handleGetCampaignRecipients(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid campaign id")
	}
	recipients, err := s.services.Campaign.Recipients(c.Context(), orgID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "recipients": recipients})
}

func (s *Server) handleStartCampaign(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid campaign id")
	}
	if err := s.services.Campaign.Start(c.Context(), orgID(c), id); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handlePauseCampaign(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid campaign id")
	}
	if err := s.services.Campaign.Pause(c.Context(), orgID(c), id); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
