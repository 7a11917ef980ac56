package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/zapdesk/zapdesk/internal/ai"
	"github.com/zapdesk/zapdesk/internal/domain"
	"github.com/zapdesk/zapdesk/internal/monitoring"
	"github.com/zapdesk/zapdesk/internal/repository"
	"github.com/zapdesk/zapdesk/internal/storage"
	"github.com/zapdesk/zapdesk/internal/whatsapp"
	"github.com/zapdesk/zapdesk/internal/ws"
	"github.com/zapdesk/zapdesk/pkg/cache"
)

type Services struct {
	Auth     *AuthService
	Instance *InstanceService
	Contact  *ContactService
	Chat     *ChatService
	Lead     *LeadService
	Pipeline *PipelineService
	Campaign *CampaignService
	Billing  *BillingService
	AI       *AIService
}

func NewServices(repos *repository.Repositories, orch *whatsapp.Orchestrator, hub *ws.Hub, c *cache.Cache, store *storage.Storage, aiClient *ai.Client) *Services {
	return &Services{
		Auth:     &AuthService{repos: repos},
		Instance: &InstanceService{repos: repos, orch: orch},
		Contact:  &ContactService{repos: repos, orch: orch, cache: c},
		Chat:     &ChatService{repos: repos, orch: orch, hub: hub, storage: store},
		Lead:     &LeadService{repos: repos, hub: hub},
		Pipeline: &PipelineService{repos: repos},
		Campaign: &CampaignService{repos: repos, orch: orch, hub: hub},
		Billing:  &BillingService{repos: repos},
		AI:       &AIService{repos: repos, client: aiClient},
	}
}

// AuthService handles authentication
type AuthService struct {
	repos *repository.Repositories
}

type JWTClaims struct {
	UserID         uuid.UUID `json:"user_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Username       string    `json:"username"`
	Role           string    `json:"role"`
	jwt.RegisteredClaims
}

func (s *AuthService) Login(ctx context.Context, username, password, jwtSecret string) (string, *domain.User, error) {
	user, err := s.repos.User.GetByUsername(ctx, username)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return "", nil, domain.ErrUnauthorized
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, domain.ErrUnauthorized
	}

	claims := &JWTClaims{
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Username:       user.Username,
		Role:           user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * 7 * time.Hour)), // 7 days
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "zapdesk",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, user, nil
}

func (s *AuthService) ValidateToken(tokenString, jwtSecret string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

func (s *AuthService) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.repos.User.GetByID(ctx, userID)
}

// Register creates an organization with its owner user.
func (s *AuthService) Register(ctx context.Context, orgName, username, email, password string) (*domain.User, error) {
	existing, err := s.repos.User.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrConflict
	}

	slug := slugify(orgName)
	if org, err := s.repos.Organization.GetBySlug(ctx, slug); err != nil {
		return nil, fmt.Errorf("failed to check slug: %w", err)
	} else if org != nil {
		return nil, domain.ErrConflict
	}

	org := &domain.Organization{Name: orgName, Slug: slug, Plan: "free"}
	if err := s.repos.Organization.Create(ctx, org); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	pipeline := DefaultPipeline(org.ID)
	if err := s.repos.Pipeline.Create(ctx, pipeline); err != nil {
		return nil, fmt.Errorf("failed to seed default pipeline: %w", err)
	}
	for _, stage := range pipeline.Stages {
		stage.PipelineID = pipeline.ID
		if err := s.repos.Pipeline.CreateStage(ctx, stage); err != nil {
			return nil, fmt.Errorf("failed to seed stage %s: %w", stage.Name, err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		OrganizationID: org.ID,
		Username:       username,
		Email:          email,
		PasswordHash:   string(hash),
		DisplayName:    username,
		Role:           domain.RoleOwner,
	}
	if err := s.repos.User.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.OrganizationName = org.Name
	return user, nil
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := true
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// InstanceService exposes the tenant-facing view of the WhatsApp instance
// lifecycle. All gateway coordination lives in the orchestrator.
type InstanceService struct {
	repos *repository.Repositories
	orch  *whatsapp.Orchestrator
}

// Get returns the current instance view. Absence of a record is a normal
// state, not an error.
func (s *InstanceService) Get(ctx context.Context, orgID uuid.UUID) (*domain.InstanceView, error) {
	instance, degraded, err := s.orch.Status(ctx, orgID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.InstanceView{Status: domain.InstanceStatusNotConfigured}, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.InstanceView{
		Configured:  true,
		Status:      instance.Status,
		PhoneNumber: instance.PhoneNumber,
		Degraded:    degraded,
	}, nil
}

// Provision creates the gateway instance for the organization.
func (s *InstanceService) Provision(ctx context.Context, orgID uuid.UUID) (*domain.InstanceView, error) {
	org, err := s.repos.Organization.GetByID(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	if org == nil {
		return nil, domain.ErrNotFound
	}

	instance, attempt, err := s.orch.Provision(ctx, orgID, org.Slug)
	if err != nil {
		return nil, err
	}
	return instanceView(instance, attempt), nil
}

// Connect requests a fresh QR / pairing code.
func (s *InstanceService) Connect(ctx context.Context, orgID uuid.UUID) (*domain.InstanceView, error) {
	instance, attempt, err := s.orch.Reconnect(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return instanceView(instance, attempt), nil
}

func (s *InstanceService) Disconnect(ctx context.Context, orgID uuid.UUID, role string) (*domain.InstanceView, error) {
	instance, err := s.orch.Disconnect(ctx, orgID, role)
	if err != nil {
		return nil, err
	}
	return instanceView(instance, nil), nil
}

func (s *InstanceService) Delete(ctx context.Context, orgID uuid.UUID, role string) error {
	return s.orch.Delete(ctx, orgID, role)
}

func instanceView(instance *domain.WhatsAppInstance, attempt *domain.ConnectionAttempt) *domain.InstanceView {
	view := &domain.InstanceView{
		Configured:  true,
		Status:      instance.Status,
		PhoneNumber: instance.PhoneNumber,
	}
	if attempt != nil {
		view.QRCode = attempt.QRCode
		view.PairingCode = attempt.PairingCode
	}
	return view
}

// ContactService handles contacts
type ContactService struct {
	repos *repository.Repositories
	orch  *whatsapp.Orchestrator
	cache *cache.Cache
}

const contactListTTL = 2 * time.Minute

func (s *ContactService) contactListKey(orgID uuid.UUID, filter domain.ContactFilter) string {
	return fmt.Sprintf("contacts:%s:%s:%d:%d", orgID, filter.Search, filter.Limit, filter.Offset)
}

func (s *ContactService) invalidate(ctx context.Context, orgID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DelPattern(ctx, fmt.Sprintf("contacts:%s:*", orgID)); err != nil {
		log.Warn().Err(err).Msg("contact cache invalidation failed")
	}
}

type contactPage struct {
	Contacts []*domain.Contact `json:"contacts"`
	Total    int               `json:"total"`
}

func (s *ContactService) List(ctx context.Context, orgID uuid.UUID, filter domain.ContactFilter) ([]*domain.Contact, int, error) {
	key := s.contactListKey(orgID, filter)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, key); err == nil && data != nil {
			var page contactPage
			if json.Unmarshal(data, &page) == nil {
				return page.Contacts, page.Total, nil
			}
		}
	}

	contacts, total, err := s.repos.Contact.List(ctx, orgID, filter)
	if err != nil {
		return nil, 0, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(contactPage{Contacts: contacts, Total: total}); err == nil {
			if err := s.cache.Set(ctx, key, data, contactListTTL); err != nil {
				log.Warn().Err(err).Msg("contact cache write failed")
			}
		}
	}
	return contacts, total, nil
}

func (s *ContactService) Get(ctx context.Context, orgID, id uuid.UUID) (*domain.Contact, error) {
	contact, err := s.repos.Contact.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, domain.ErrNotFound
	}
	return contact, nil
}

func (s *ContactService) Create(ctx context.Context, contact *domain.Contact) error {
	existing, err := s.repos.Contact.GetByPhone(ctx, contact.OrganizationID, contact.Phone)
	if err != nil {
		return err
	}
	if existing != nil {
		return domain.ErrConflict
	}
	if err := s.repos.Contact.Create(ctx, contact); err != nil {
		return err
	}
	s.invalidate(ctx, contact.OrganizationID)
	return nil
}

func (s *ContactService) Update(ctx context.Context, contact *domain.Contact) error {
	existing, err := s.repos.Contact.GetByID(ctx, contact.OrganizationID, contact.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrNotFound
	}
	if err := s.repos.Contact.Update(ctx, contact); err != nil {
		return err
	}
	s.invalidate(ctx, contact.OrganizationID)
	return nil
}

func (s *ContactService) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	if err := s.repos.Contact.Delete(ctx, orgID, id); err != nil {
		return err
	}
	s.invalidate(ctx, orgID)
	return nil
}

// Sync pulls the contact book from the gateway and upserts it locally.
// Returns the number of contacts imported.
func (s *ContactService) Sync(ctx context.Context, orgID uuid.UUID) (int, error) {
	remote, err := s.orch.FetchContacts(ctx, orgID)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, rc := range remote {
		if rc.Phone == "" {
			continue
		}
		contact := &domain.Contact{
			OrganizationID: orgID,
			Phone:          rc.Phone,
			IsGroup:        rc.IsGroup,
		}
		if rc.Name != "" {
			contact.Name = &rc.Name
		}
		if rc.PushName != "" {
			contact.PushName = &rc.PushName
		}
		if err := s.repos.Contact.UpsertByPhone(ctx, contact); err != nil {
			log.Warn().Err(err).Str("phone", rc.Phone).Msg("contact upsert failed during sync")
			continue
		}
		imported++
	}

	s.invalidate(ctx, orgID)
	return imported, nil
}

// RefreshAvatar resolves the contact's profile picture through the gateway
// and stores the resulting URL.
func (s *ContactService) RefreshAvatar(ctx context.Context, orgID, id uuid.UUID) (string, error) {
	contact, err := s.Get(ctx, orgID, id)
	if err != nil {
		return "", err
	}
	url, err := s.orch.ProfilePictureURL(ctx, orgID, contact.Phone)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", domain.ErrNotFound
	}
	if err := s.repos.Contact.UpdateAvatar(ctx, orgID, id, url); err != nil {
		return "", err
	}
	s.invalidate(ctx, orgID)
	return url, nil
}

// ChatService handles conversations and outbound messages
type ChatService struct {
	repos   *repository.Repositories
	orch    *whatsapp.Orchestrator
	hub     *ws.Hub
	storage *storage.Storage
}

func (s *ChatService) List(ctx context.Context, orgID uuid.UUID, filter domain.ChatFilter) ([]*domain.Chat, error) {
	return s.repos.Chat.List(ctx, orgID, filter)
}

func (s *ChatService) Get(ctx context.Context, orgID, id uuid.UUID) (*domain.Chat, error) {
	chat, err := s.repos.Chat.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, domain.ErrNotFound
	}
	return chat, nil
}

func (s *ChatService) Messages(ctx context.Context, orgID, chatID uuid.UUID, limit, offset int) ([]*domain.Message, error) {
	chat, err := s.repos.Chat.GetByID(ctx, orgID, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, domain.ErrNotFound
	}
	return s.repos.Message.ListByChat(ctx, orgID, chatID, limit, offset)
}

func (s *ChatService) MarkAsRead(ctx context.Context, orgID, chatID uuid.UUID) error {
	return s.repos.Chat.MarkAsRead(ctx, orgID, chatID)
}

// SendText sends a text message to a phone number, creating the chat row if
// this is the first exchange. The instance must be connected.
func (s *ChatService) SendText(ctx context.Context, orgID uuid.UUID, phone, body string) (*domain.Message, error) {
	gatewayID, err := s.orch.SendText(ctx, orgID, phone, body)
	if err != nil {
		return nil, err
	}
	return s.persistOutbound(ctx, orgID, phone, body, domain.MessageTypeText, nil, gatewayID)
}

// SendMedia sends a media message referencing an already-uploaded file URL.
func (s *ChatService) SendMedia(ctx context.Context, orgID uuid.UUID, phone, mediaType, fileURL, caption string) (*domain.Message, error) {
	gatewayID, err := s.orch.SendMedia(ctx, orgID, phone, mediaType, fileURL, caption)
	if err != nil {
		return nil, err
	}
	return s.persistOutbound(ctx, orgID, phone, caption, mediaType, &fileURL, gatewayID)
}

// DownloadMedia fetches the media payload of a stored message from the
// gateway. Returns the raw bytes and their mimetype.
func (s *ChatService) DownloadMedia(ctx context.Context, orgID, messageID uuid.UUID) ([]byte, string, error) {
	msg, err := s.repos.Message.GetByID(ctx, orgID, messageID)
	if err != nil {
		return nil, "", err
	}
	if msg == nil || msg.GatewayID == nil {
		return nil, "", domain.ErrNotFound
	}
	data, mimetype, err := s.orch.DownloadMedia(ctx, orgID, *msg.GatewayID)
	if err != nil {
		return nil, "", err
	}
	s.mirrorMedia(ctx, msg, data, mimetype)
	return data, mimetype, nil
}

// mirrorMedia re-hosts downloaded gateway media in the bucket and points the
// message row at the copy. Gateway file URLs expire; the bucket copy does not.
// Best-effort: the caller already has the bytes either way.
func (s *ChatService) mirrorMedia(ctx context.Context, msg *domain.Message, data []byte, mimetype string) {
	if s.storage == nil {
		return
	}
	url, err := s.storage.UploadFile(ctx, msg.OrganizationID, storage.ChatMediaPath(msg.ChatID, *msg.GatewayID, mimetype), data, mimetype)
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("media mirror upload failed")
		return
	}
	if err := s.repos.Message.UpdateMediaURL(ctx, msg.OrganizationID, msg.ID, url); err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("media url update failed")
	}
}

func (s *ChatService) persistOutbound(ctx context.Context, orgID uuid.UUID, phone, body, msgType string, mediaURL *string, gatewayID string) (*domain.Message, error) {
	chat, err := s.repos.Chat.UpsertByPhone(ctx, orgID, phone, nil)
	if err != nil {
		return nil, fmt.Errorf("upsert chat: %w", err)
	}

	now := time.Now()
	status := "sent"
	msg := &domain.Message{
		OrganizationID: orgID,
		ChatID:         chat.ID,
		MessageType:    msgType,
		IsFromMe:       true,
		Status:         &status,
		Timestamp:      now,
		MediaURL:       mediaURL,
	}
	if gatewayID != "" {
		msg.GatewayID = &gatewayID
	}
	if body != "" {
		msg.Body = &body
	}
	if err := s.repos.Message.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	preview := body
	if preview == "" {
		preview = "[" + msgType + "]"
	}
	if err := s.repos.Chat.TouchLastMessage(ctx, chat.ID, preview, now, false); err != nil {
		log.Warn().Err(err).Str("chat_id", chat.ID.String()).Msg("chat preview update failed")
	}

	if s.hub != nil {
		s.hub.BroadcastNewMessage(orgID, msg)
	}
	return msg, nil
}

// LeadService handles the kanban board
type LeadService struct {
	repos *repository.Repositories
	hub   *ws.Hub
}

func (s *LeadService) Create(ctx context.Context, lead *domain.Lead) error {
	stage, err := s.repos.Pipeline.GetStage(ctx, lead.StageID)
	if err != nil {
		return err
	}
	if stage == nil {
		return domain.ErrNotFound
	}
	if err := s.repos.Lead.Create(ctx, lead); err != nil {
		return err
	}
	s.broadcast(lead.OrganizationID, lead)
	return nil
}

func (s *LeadService) List(ctx context.Context, orgID uuid.UUID) ([]*domain.Lead, error) {
	return s.repos.Lead.ListByOrg(ctx, orgID)
}

func (s *LeadService) Get(ctx context.Context, orgID, id uuid.UUID) (*domain.Lead, error) {
	lead, err := s.repos.Lead.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, domain.ErrNotFound
	}
	return lead, nil
}

func (s *LeadService) Update(ctx context.Context, lead *domain.Lead) error {
	existing, err := s.repos.Lead.GetByID(ctx, lead.OrganizationID, lead.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrNotFound
	}
	if err := s.repos.Lead.Update(ctx, lead); err != nil {
		return err
	}
	s.broadcast(lead.OrganizationID, lead)
	return nil
}

// Move places a lead in another stage at the given position.
func (s *LeadService) Move(ctx context.Context, orgID, id, stageID uuid.UUID, position int) (*domain.Lead, error) {
	stage, err := s.repos.Pipeline.GetStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	if stage == nil {
		return nil, domain.ErrNotFound
	}
	if err := s.repos.Lead.MoveToStage(ctx, orgID, id, stageID, position); err != nil {
		return nil, err
	}
	lead, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	s.broadcast(orgID, lead)
	return lead, nil
}

func (s *LeadService) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	return s.repos.Lead.Delete(ctx, orgID, id)
}

func (s *LeadService) broadcast(orgID uuid.UUID, lead *domain.Lead) {
	if s.hub != nil {
		s.hub.BroadcastToOrg(orgID, ws.EventLeadUpdate, lead)
	}
}

// PipelineService handles pipelines and stages
type PipelineService struct {
	repos *repository.Repositories
}

func (s *PipelineService) List(ctx context.Context, orgID uuid.UUID) ([]*domain.Pipeline, error) {
	return s.repos.Pipeline.ListByOrg(ctx, orgID)
}

// DefaultPipeline builds the kanban board every new organization starts with.
func DefaultPipeline(orgID uuid.UUID) *domain.Pipeline {
	p := &domain.Pipeline{OrganizationID: orgID, Name: "Sales Pipeline", IsDefault: true}
	stages := []struct{ name, color string }{
		{"New", "#6366f1"},
		{"Contacted", "#f59e0b"},
		{"Negotiating", "#3b82f6"},
		{"Proposal", "#8b5cf6"},
		{"Won", "#10b981"},
		{"Lost", "#ef4444"},
	}
	for i, st := range stages {
		p.Stages = append(p.Stages, &domain.PipelineStage{Name: st.name, Color: st.color, Position: i})
	}
	return p
}

func (s *PipelineService) Create(ctx context.Context, p *domain.Pipeline, stageNames []string) error {
	if err := s.repos.Pipeline.Create(ctx, p); err != nil {
		return err
	}
	for i, name := range stageNames {
		stage := &domain.PipelineStage{
			PipelineID: p.ID,
			Name:       name,
			Color:      "#6366f1",
			Position:   i,
		}
		if err := s.repos.Pipeline.CreateStage(ctx, stage); err != nil {
			return err
		}
		p.Stages = append(p.Stages, stage)
	}
	return nil
}

// CampaignService handles mass messaging campaigns. Actual dispatch happens
// in the background worker via ProcessRunning.
type CampaignService struct {
	repos *repository.Repositories
	orch  *whatsapp.Orchestrator
	hub   *ws.Hub
}

// Campaign dispatch pacing: recipients per campaign per tick and the pause
// between consecutive sends.
const (
	campaignBatchSize = 5
	campaignSendPause = time.Second
)

func (s *CampaignService) Create(ctx context.Context, c *domain.Campaign, contactIDs []uuid.UUID) error {
	c.Status = domain.CampaignStatusDraft
	if err := s.repos.Campaign.Create(ctx, c); err != nil {
		return err
	}

	var recipients []*domain.CampaignRecipient
	for _, contactID := range contactIDs {
		contact, err := s.repos.Contact.GetByID(ctx, c.OrganizationID, contactID)
		if err != nil {
			return err
		}
		if contact == nil || contact.IsGroup {
			continue
		}
		name := contact.DisplayName()
		id := contact.ID
		recipients = append(recipients, &domain.CampaignRecipient{
			ContactID: &id,
			Phone:     contact.Phone,
			Name:      &name,
		})
	}
	if len(recipients) == 0 {
		return nil
	}
	if err := s.repos.Campaign.AddRecipients(ctx, c.ID, recipients); err != nil {
		return err
	}
	c.TotalRecipients = len(recipients)
	return nil
}

func (s *CampaignService) List(ctx context.Context, orgID uuid.UUID) ([]*domain.Campaign, error) {
	return s.repos.Campaign.ListByOrg(ctx, orgID)
}

func (s *CampaignService) Get(ctx context.Context, orgID, id uuid.UUID) (*domain.Campaign, error) {
	c, err := s.repos.Campaign.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (s *CampaignService) Recipients(ctx context.Context, orgID, id uuid.UUID) ([]*domain.CampaignRecipient, error) {
	if _, err := s.Get(ctx, orgID, id); err != nil {
		return nil, err
	}
	return s.repos.Campaign.ListRecipients(ctx, id)
}

// Start marks a draft or paused campaign as running. Dispatch requires a
// connected instance; that is checked per send, not here, so a campaign can
// be started before scanning the QR code.
func (s *CampaignService) Start(ctx context.Context, orgID, id uuid.UUID) error {
	c, err := s.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignStatusDraft && c.Status != domain.CampaignStatusPaused {
		return domain.ErrConflict
	}
	return s.repos.Campaign.UpdateStatus(ctx, id, domain.CampaignStatusRunning)
}

func (s *CampaignService) Pause(ctx context.Context, orgID, id uuid.UUID) error {
	c, err := s.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignStatusRunning {
		return domain.ErrConflict
	}
	return s.repos.Campaign.UpdateStatus(ctx, id, domain.CampaignStatusPaused)
}

// ProcessRunning advances every running campaign by one batch. Progress is
// checkpointed purely through recipient status flags, so a crashed worker
// resumes exactly where it stopped on the next tick.
func (s *CampaignService) ProcessRunning(ctx context.Context) {
	campaigns, err := s.repos.Campaign.ListRunning(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list running campaigns")
		return
	}

	for _, c := range campaigns {
		if err := s.processCampaign(ctx, c); err != nil {
			log.Error().Err(err).Str("campaign_id", c.ID.String()).Msg("campaign batch failed")
		}
	}
}

func (s *CampaignService) processCampaign(ctx context.Context, c *domain.Campaign) error {
	batch, err := s.repos.Campaign.NextPending(ctx, c.ID, campaignBatchSize)
	if err != nil {
		return err
	}

	if len(batch) == 0 {
		return s.completeCampaign(ctx, c)
	}

	for i, rec := range batch {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(campaignSendPause):
			}
		}
		s.sendToRecipient(ctx, c, rec)
	}

	// A drained campaign completes on this tick, not the next one.
	pending, err := s.repos.Campaign.CountPending(ctx, c.ID)
	if err != nil {
		return err
	}
	if pending == 0 {
		return s.completeCampaign(ctx, c)
	}
	return nil
}

func (s *CampaignService) completeCampaign(ctx context.Context, c *domain.Campaign) error {
	if err := s.repos.Campaign.UpdateStatus(ctx, c.ID, domain.CampaignStatusCompleted); err != nil {
		return err
	}
	if s.hub != nil {
		s.hub.BroadcastToOrg(c.OrganizationID, ws.EventNotification, map[string]string{
			"type":        "campaign_completed",
			"campaign_id": c.ID.String(),
		})
	}
	return nil
}

func (s *CampaignService) sendToRecipient(ctx context.Context, c *domain.Campaign, rec *domain.CampaignRecipient) {
	body := RenderTemplate(c.MessageTemplate, rec)

	var err error
	if c.MediaURL != nil && c.MediaType != nil {
		_, err = s.orch.SendMedia(ctx, c.OrganizationID, rec.Phone, *c.MediaType, *c.MediaURL, body)
	} else {
		_, err = s.orch.SendText(ctx, c.OrganizationID, rec.Phone, body)
	}

	if err != nil {
		msg := err.Error()
		if markErr := s.repos.Campaign.MarkRecipient(ctx, rec.ID, domain.RecipientStatusFailed, &msg); markErr != nil {
			log.Error().Err(markErr).Str("recipient_id", rec.ID.String()).Msg("failed to mark recipient")
		}
		monitoring.CampaignRecipients.WithLabelValues(domain.RecipientStatusFailed).Inc()
		return
	}

	if err := s.repos.Campaign.MarkRecipient(ctx, rec.ID, domain.RecipientStatusSent, nil); err != nil {
		log.Error().Err(err).Str("recipient_id", rec.ID.String()).Msg("failed to mark recipient")
	}
	monitoring.CampaignRecipients.WithLabelValues(domain.RecipientStatusSent).Inc()
}

// RenderTemplate substitutes {{name}} and {{phone}} placeholders with the
// recipient's data. Unknown placeholders are left as-is.
func RenderTemplate(template string, rec *domain.CampaignRecipient) string {
	name := rec.Phone
	if rec.Name != nil && *rec.Name != "" {
		name = *rec.Name
	}
	out := strings.ReplaceAll(template, "{{name}}", name)
	out = strings.ReplaceAll(out, "{{phone}}", rec.Phone)
	return out
}

// BillingService records payment provider webhook events. Events are
// deduplicated by (provider, event_id) so provider retries are no-ops.
type BillingService struct {
	repos *repository.Repositories
}

// HandleEvent stores and applies one provider event. Returns false when the
// event was already processed.
func (s *BillingService) HandleEvent(ctx context.Context, event *domain.BillingEvent) (bool, error) {
	fresh, err := s.repos.Billing.RecordEvent(ctx, event)
	if err != nil {
		return false, fmt.Errorf("record billing event: %w", err)
	}
	if !fresh {
		return false, nil
	}

	if err := s.applyEvent(ctx, event); err != nil {
		return true, err
	}
	if err := s.repos.Billing.MarkProcessed(ctx, event.Provider, event.EventID); err != nil {
		log.Warn().Err(err).Str("event_id", event.EventID).Msg("failed to mark billing event processed")
	}
	return true, nil
}

func (s *BillingService) applyEvent(ctx context.Context, event *domain.BillingEvent) error {
	if event.OrganizationID == nil {
		return nil
	}

	switch event.EventType {
	case "subscription.activated", "subscription.updated":
		var payload struct {
			Plan string `json:"plan"`
		}
		if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.Plan == "" {
			return nil
		}
		return s.repos.Organization.UpdatePlan(ctx, *event.OrganizationID, payload.Plan)
	case "subscription.cancelled":
		return s.repos.Organization.UpdatePlan(ctx, *event.OrganizationID, "free")
	default:
		return nil
	}
}

// AIService drafts reply suggestions from recent conversation context.
type AIService struct {
	repos  *repository.Repositories
	client *ai.Client
}

// DraftReply builds the conversation window from the chat's latest messages
// and asks the completion endpoint for a suggestion.
func (s *AIService) DraftReply(ctx context.Context, orgID, chatID uuid.UUID, instructions string) (string, error) {
	chat, err := s.repos.Chat.GetByID(ctx, orgID, chatID)
	if err != nil {
		return "", err
	}
	if chat == nil {
		return "", domain.ErrNotFound
	}

	messages, err := s.repos.Message.ListByChat(ctx, orgID, chatID, 20, 0)
	if err != nil {
		return "", err
	}

	// ListByChat returns newest first; the prompt wants oldest first.
	var lines []string
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Body == nil || *msg.Body == "" {
			continue
		}
		speaker := "Customer"
		if msg.IsFromMe {
			speaker = "Agent"
		}
		lines = append(lines, speaker+": "+*msg.Body)
	}
	if len(lines) == 0 {
		return "", domain.ErrNotFound
	}

	return s.client.DraftReply(lines, instructions)
}
