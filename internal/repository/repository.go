package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zapdesk/zapdesk/internal/domain"
)

type Repositories struct {
	db           *pgxpool.Pool
	Organization *OrganizationRepository
	User         *UserRepository
	Instance     *InstanceRepository
	Contact      *ContactRepository
	Chat         *ChatRepository
	Message      *MessageRepository
	Pipeline     *PipelineRepository
	Lead         *LeadRepository
	Campaign     *CampaignRepository
	Billing      *BillingRepository
}

func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		db:           db,
		Organization: &OrganizationRepository{db: db},
		User:         &UserRepository{db: db},
		Instance:     &InstanceRepository{db: db},
		Contact:      &ContactRepository{db: db},
		Chat:         &ChatRepository{db: db},
		Message:      &MessageRepository{db: db},
		Pipeline:     &PipelineRepository{db: db},
		Lead:         &LeadRepository{db: db},
		Campaign:     &CampaignRepository{db: db},
		Billing:      &BillingRepository{db: db},
	}
}

// DB returns the underlying database pool.
func (r *Repositories) DB() *pgxpool.Pool {
	return r.db
}

// OrganizationRepository handles tenant data access
type OrganizationRepository struct {
	db *pgxpool.Pool
}

func (r *OrganizationRepository) Create(ctx context.Context, org *domain.Organization) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO organizations (name, slug, plan, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, created_at, updated_at
	`, org.Name, org.Slug, org.Plan).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
}

func (r *OrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	org := &domain.Organization{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, slug, plan, is_active, created_at, updated_at
		FROM organizations WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.Slug, &org.Plan, &org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return org, err
}

func (r *OrganizationRepository) GetBySlug(ctx context.Context, slug string) (*domain.Organization, error) {
	org := &domain.Organization{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, slug, plan, is_active, created_at, updated_at
		FROM organizations WHERE slug = $1
	`, slug).Scan(&org.ID, &org.Name, &org.Slug, &org.Plan, &org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return org, err
}

func (r *OrganizationRepository) UpdatePlan(ctx context.Context, id uuid.UUID, plan string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE organizations SET plan = $1, updated_at = NOW() WHERE id = $2
	`, plan, id)
	return err
}

// UserRepository handles user data access
type UserRepository struct {
	db *pgxpool.Pool
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO users (organization_id, username, email, password_hash, display_name, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_active, created_at, updated_at
	`, user.OrganizationID, user.Username, user.Email, user.PasswordHash, user.DisplayName, user.Role).Scan(
		&user.ID, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.QueryRow(ctx, `
		SELECT u.id, u.organization_id, u.username, u.email, u.password_hash, u.display_name, u.role, u.is_active, u.created_at, u.updated_at, o.name
		FROM users u JOIN organizations o ON o.id = u.organization_id
		WHERE u.username = $1 AND u.is_active = TRUE
	`, username).Scan(
		&user.ID, &user.OrganizationID, &user.Username, &user.Email, &user.PasswordHash,
		&user.DisplayName, &user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &user.OrganizationName,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return user, err
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.QueryRow(ctx, `
		SELECT u.id, u.organization_id, u.username, u.email, u.password_hash, u.display_name, u.role, u.is_active, u.created_at, u.updated_at, o.name
		FROM users u JOIN organizations o ON o.id = u.organization_id
		WHERE u.id = $1
	`, id).Scan(
		&user.ID, &user.OrganizationID, &user.Username, &user.Email, &user.PasswordHash,
		&user.DisplayName, &user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &user.OrganizationName,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return user, err
}

func (r *UserRepository) GetByOrgID(ctx context.Context, orgID uuid.UUID) ([]*domain.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, organization_id, username, email, password_hash, display_name, role, is_active, created_at, updated_at
		FROM users WHERE organization_id = $1 ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user := &domain.User{}
		if err := rows.Scan(
			&user.ID, &user.OrganizationID, &user.Username, &user.Email, &user.PasswordHash,
			&user.DisplayName, &user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// InstanceRepository persists the single WhatsApp instance row per
// organization. A unique index on organization_id enforces the 1:1 invariant.
type InstanceRepository struct {
	db *pgxpool.Pool
}

func (r *InstanceRepository) GetByOrgID(ctx context.Context, orgID uuid.UUID) (*domain.WhatsAppInstance, error) {
	instance := &domain.WhatsAppInstance{}
	err := r.db.QueryRow(ctx, `
		SELECT id, organization_id, instance_name, token, status, phone_number, webhook_configured, created_at, last_connected_at, updated_at
		FROM whatsapp_instances WHERE organization_id = $1
	`, orgID).Scan(
		&instance.ID, &instance.OrganizationID, &instance.InstanceName, &instance.Token,
		&instance.Status, &instance.PhoneNumber, &instance.WebhookConfigured,
		&instance.CreatedAt, &instance.LastConnectedAt, &instance.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return instance, err
}

func (r *InstanceRepository) Create(ctx context.Context, instance *domain.WhatsAppInstance) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO whatsapp_instances (organization_id, instance_name, token, status, webhook_configured)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, instance.OrganizationID, instance.InstanceName, instance.Token, instance.Status, instance.WebhookConfigured).Scan(
		&instance.ID, &instance.CreatedAt, &instance.UpdatedAt,
	)
}

func (r *InstanceRepository) UpdateStatusAndPhone(ctx context.Context, id uuid.UUID, status string, phone *string, lastConnectedAt *time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE whatsapp_instances
		SET status = $1, phone_number = $2, last_connected_at = $3, updated_at = NOW()
		WHERE id = $4
	`, status, phone, lastConnectedAt, id)
	return err
}

func (r *InstanceRepository) SetWebhookConfigured(ctx context.Context, id uuid.UUID, configured bool) error {
	_, err := r.db.Exec(ctx, `
		UPDATE whatsapp_instances SET webhook_configured = $1, updated_at = NOW() WHERE id = $2
	`, configured, id)
	return err
}

func (r *InstanceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM whatsapp_instances WHERE id = $1`, id)
	return err
}

// ContactRepository handles contact data access
type ContactRepository struct {
	db *pgxpool.Pool
}

func (r *ContactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO contacts (organization_id, phone, name, push_name, email, company, avatar_url, tags, notes, is_group)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`, contact.OrganizationID, contact.Phone, contact.Name, contact.PushName, contact.Email,
		contact.Company, contact.AvatarURL, contact.Tags, contact.Notes, contact.IsGroup).Scan(
		&contact.ID, &contact.CreatedAt, &contact.UpdatedAt,
	)
}

func (r *ContactRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*domain.Contact, error) {
	contact := &domain.Contact{}
	err := r.db.QueryRow(ctx, `
		SELECT id, organization_id, phone, name, push_name, email, company, avatar_url, tags, notes, is_group, created_at, updated_at
		FROM contacts WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(
		&contact.ID, &contact.OrganizationID, &contact.Phone, &contact.Name, &contact.PushName,
		&contact.Email, &contact.Company, &contact.AvatarURL, &contact.Tags, &contact.Notes,
		&contact.IsGroup, &contact.CreatedAt, &contact.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return contact, err
}

func (r *ContactRepository) GetByPhone(ctx context.Context, orgID uuid.UUID, phone string) (*domain.Contact, error) {
	contact := &domain.Contact{}
	err := r.db.QueryRow(ctx, `
		SELECT id, organization_id, phone, name, push_name, email, company, avatar_url, tags, notes, is_group, created_at, updated_at
		FROM contacts WHERE organization_id = $1 AND phone = $2
	`, orgID, phone).Scan(
		&contact.ID, &contact.OrganizationID, &contact.Phone, &contact.Name, &contact.PushName,
		&contact.Email, &contact.Company, &contact.AvatarURL, &contact.Tags, &contact.Notes,
		&contact.IsGroup, &contact.CreatedAt, &contact.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return contact, err
}

// UpsertByPhone inserts the contact or refreshes the gateway-derived fields
// on conflict, keeping user edits (name, email, notes) untouched.
func (r *ContactRepository) UpsertByPhone(ctx context.Context, contact *domain.Contact) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO contacts (organization_id, phone, name, push_name, avatar_url, is_group)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (organization_id, phone) DO UPDATE
		SET push_name = COALESCE(EXCLUDED.push_name, contacts.push_name),
		    avatar_url = COALESCE(EXCLUDED.avatar_url, contacts.avatar_url),
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, contact.OrganizationID, contact.Phone, contact.Name, contact.PushName, contact.AvatarURL, contact.IsGroup).Scan(
		&contact.ID, &contact.CreatedAt, &contact.UpdatedAt,
	)
}

func (r *ContactRepository) List(ctx context.Context, orgID uuid.UUID, filter domain.ContactFilter) ([]*domain.Contact, int, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	where := `WHERE organization_id = $1`
	args := []interface{}{orgID}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += ` AND (phone ILIKE $2 OR name ILIKE $2 OR push_name ILIKE $2)`
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM contacts `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, organization_id, phone, name, push_name, email, company, avatar_url, tags, notes, is_group, created_at, updated_at
		FROM contacts ` + where + ` ORDER BY updated_at DESC`
	args = append(args, filter.Limit, filter.Offset)
	if filter.Search != "" {
		query += ` LIMIT $3 OFFSET $4`
	} else {
		query += ` LIMIT $2 OFFSET $3`
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var contacts []*domain.Contact
	for rows.Next() {
		contact := &domain.Contact{}
		if err := rows.Scan(
			&contact.ID, &contact.OrganizationID, &contact.Phone, &contact.Name, &contact.PushName,
			&contact.Email, &contact.Company, &contact.AvatarURL, &contact.Tags, &contact.Notes,
			&contact.IsGroup, &contact.CreatedAt, &contact.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, total, rows.Err()
}

func (r *ContactRepository) Update(ctx context.Context, contact *domain.Contact) error {
	_, err := r.db.Exec(ctx, `
		UPDATE contacts
		SET name = $1, email = $2, company = $3, tags = $4, notes = $5, updated_at = NOW()
		WHERE id = $6 AND organization_id = $7
	`, contact.Name, contact.Email, contact.Company, contact.Tags, contact.Notes, contact.ID, contact.OrganizationID)
	return err
}

func (r *ContactRepository) UpdateAvatar(ctx context.Context, orgID, id uuid.UUID, avatarURL string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE contacts SET avatar_url = $1, updated_at = NOW()
		WHERE id = $2 AND organization_id = $3
	`, avatarURL, id, orgID)
	return err
}

func (r *ContactRepository) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM contacts WHERE id = $1 AND organization_id = $2`, id, orgID)
	return err
}

// ChatRepository handles chat data access
type ChatRepository struct {
	db *pgxpool.Pool
}

// UpsertByPhone returns the chat for a phone, creating it when missing.
func (r *ChatRepository) UpsertByPhone(ctx context.Context, orgID uuid.UUID, phone string, contactID *uuid.UUID) (*domain.Chat, error) {
	chat := &domain.Chat{}
	err := r.db.QueryRow(ctx, `
		INSERT INTO chats (organization_id, phone, contact_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, phone) DO UPDATE
		SET contact_id = COALESCE(chats.contact_id, EXCLUDED.contact_id), updated_at = NOW()
		RETURNING id, organization_id, contact_id, phone, name, last_message, last_message_at, unread_count, is_archived, created_at, updated_at
	`, orgID, phone, contactID).Scan(
		&chat.ID, &chat.OrganizationID, &chat.ContactID, &chat.Phone, &chat.Name,
		&chat.LastMessage, &chat.LastMessageAt, &chat.UnreadCount, &chat.IsArchived,
		&chat.CreatedAt, &chat.UpdatedAt,
	)
	return chat, err
}

func (r *ChatRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*domain.Chat, error) {
	chat := &domain.Chat{}
	err := r.db.QueryRow(ctx, `
		SELECT c.id, c.organization_id, c.contact_id, c.phone, c.name, c.last_message, c.last_message_at,
		       c.unread_count, c.is_archived, c.created_at, c.updated_at, ct.name, ct.avatar_url
		FROM chats c LEFT JOIN contacts ct ON ct.id = c.contact_id
		WHERE c.id = $1 AND c.organization_id = $2
	`, id, orgID).Scan(
		&chat.ID, &chat.OrganizationID, &chat.ContactID, &chat.Phone, &chat.Name,
		&chat.LastMessage, &chat.LastMessageAt, &chat.UnreadCount, &chat.IsArchived,
		&chat.CreatedAt, &chat.UpdatedAt, &chat.ContactName, &chat.ContactAvatarURL,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return chat, err
}

func (r *ChatRepository) List(ctx context.Context, orgID uuid.UUID, filter domain.ChatFilter) ([]*domain.Chat, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	query := `
		SELECT c.id, c.organization_id, c.contact_id, c.phone, c.name, c.last_message, c.last_message_at,
		       c.unread_count, c.is_archived, c.created_at, c.updated_at, ct.name, ct.avatar_url
		FROM chats c LEFT JOIN contacts ct ON ct.id = c.contact_id
		WHERE c.organization_id = $1 AND c.is_archived = $2`
	args := []interface{}{orgID, filter.Archived}
	if filter.UnreadOnly {
		query += ` AND c.unread_count > 0`
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += ` AND (c.phone ILIKE $3 OR ct.name ILIKE $3)`
	}
	query += ` ORDER BY c.last_message_at DESC NULLS LAST`
	args = append(args, filter.Limit, filter.Offset)
	if filter.Search != "" {
		query += ` LIMIT $4 OFFSET $5`
	} else {
		query += ` LIMIT $3 OFFSET $4`
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*domain.Chat
	for rows.Next() {
		chat := &domain.Chat{}
		if err := rows.Scan(
			&chat.ID, &chat.OrganizationID, &chat.ContactID, &chat.Phone, &chat.Name,
			&chat.LastMessage, &chat.LastMessageAt, &chat.UnreadCount, &chat.IsArchived,
			&chat.CreatedAt, &chat.UpdatedAt, &chat.ContactName, &chat.ContactAvatarURL,
		); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// TouchLastMessage updates the chat preview and bumps the unread counter for
// inbound messages.
func (r *ChatRepository) TouchLastMessage(ctx context.Context, id uuid.UUID, preview string, at time.Time, inbound bool) error {
	unread := 0
	if inbound {
		unread = 1
	}
	_, err := r.db.Exec(ctx, `
		UPDATE chats
		SET last_message = $1, last_message_at = $2, unread_count = unread_count + $3, updated_at = NOW()
		WHERE id = $4
	`, preview, at, unread, id)
	return err
}

func (r *ChatRepository) MarkAsRead(ctx context.Context, orgID, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE chats SET unread_count = 0, updated_at = NOW() WHERE id = $1 AND organization_id = $2
	`, id, orgID)
	return err
}

func (r *ChatRepository) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chats WHERE id = $1 AND organization_id = $2`, id, orgID)
	return err
}

// MessageRepository handles message data access
type MessageRepository struct {
	db *pgxpool.Pool
}

func (r *MessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO messages (organization_id, chat_id, gateway_id, body, message_type, media_url, media_mimetype, is_from_me, status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, msg.OrganizationID, msg.ChatID, msg.GatewayID, msg.Body, msg.MessageType,
		msg.MediaURL, msg.MediaMimetype, msg.IsFromMe, msg.Status, msg.Timestamp).Scan(
		&msg.ID, &msg.CreatedAt,
	)
}

func (r *MessageRepository) ListByChat(ctx context.Context, orgID, chatID uuid.UUID, limit, offset int) ([]*domain.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, organization_id, chat_id, gateway_id, body, message_type, media_url, media_mimetype, is_from_me, status, timestamp, created_at
		FROM messages WHERE chat_id = $1 AND organization_id = $2
		ORDER BY timestamp DESC LIMIT $3 OFFSET $4
	`, chatID, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		msg := &domain.Message{}
		if err := rows.Scan(
			&msg.ID, &msg.OrganizationID, &msg.ChatID, &msg.GatewayID, &msg.Body, &msg.MessageType,
			&msg.MediaURL, &msg.MediaMimetype, &msg.IsFromMe, &msg.Status, &msg.Timestamp, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *MessageRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*domain.Message, error) {
	msg := &domain.Message{}
	err := r.db.QueryRow(ctx, `
		SELECT id, organization_id, chat_id, gateway_id, body, message_type, media_url, media_mimetype, is_from_me, status, timestamp, created_at
		FROM messages WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(
		&msg.ID, &msg.OrganizationID, &msg.ChatID, &msg.GatewayID, &msg.Body, &msg.MessageType,
		&msg.MediaURL, &msg.MediaMimetype, &msg.IsFromMe, &msg.Status, &msg.Timestamp, &msg.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *MessageRepository) UpdateMediaURL(ctx context.Context, orgID, id uuid.UUID, mediaURL string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages SET media_url = $1 WHERE id = $2 AND organization_id = $3
	`, mediaURL, id, orgID)
	return err
}

func (r *MessageRepository) UpdateStatusByGatewayID(ctx context.Context, orgID uuid.UUID, gatewayID, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages SET status = $1 WHERE organization_id = $2 AND gateway_id = $3
	`, status, orgID, gatewayID)
	return err
}

// PipelineRepository handles pipeline and stage data access
type PipelineRepository struct {
	db *pgxpool.Pool
}

func (r *PipelineRepository) Create(ctx context.Context, p *domain.Pipeline) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO pipelines (organization_id, name, is_default)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, p.OrganizationID, p.Name, p.IsDefault).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *PipelineRepository) CreateStage(ctx context.Context, s *domain.PipelineStage) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO pipeline_stages (pipeline_id, name, color, position)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, s.PipelineID, s.Name, s.Color, s.Position).Scan(&s.ID, &s.CreatedAt)
}

func (r *PipelineRepository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*domain.Pipeline, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, organization_id, name, is_default, created_at, updated_at
		FROM pipelines WHERE organization_id = $1 ORDER BY created_at
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []*domain.Pipeline
	for rows.Next() {
		p := &domain.Pipeline{}
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range pipelines {
		stages, err := r.ListStages(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Stages = stages
	}
	return pipelines, nil
}

func (r *PipelineRepository) ListStages(ctx context.Context, pipelineID uuid.UUID) ([]*domain.PipelineStage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, pipeline_id, name, color, position, created_at
		FROM pipeline_stages WHERE pipeline_id = $1 ORDER BY position
	`, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []*domain.PipelineStage
	for rows.Next() {
		s := &domain.PipelineStage{}
		if err := rows.Scan(&s.ID, &s.PipelineID, &s.Name, &s.Color, &s.Position, &s.CreatedAt); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (r *PipelineRepository) GetStage(ctx context.Context, stageID uuid.UUID) (*domain.PipelineStage, error) {
	s := &domain.PipelineStage{}
	err := r.db.QueryRow(ctx, `
		SELECT id, pipeline_id, name, color, position, created_at
		FROM pipeline_stages WHERE id = $1
	`, stageID).Scan(&s.ID, &s.PipelineID, &s.Name, &s.Color, &s.Position, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// LeadRepository handles kanban lead data access
type LeadRepository struct {
	db *pgxpool.Pool
}

func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO leads (organization_id, contact_id, stage_id, name, phone, value, source, notes, assigned_to, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			COALESCE((SELECT MAX(position) + 1 FROM leads WHERE stage_id = $3), 0))
		RETURNING id, position, created_at, updated_at
	`, lead.OrganizationID, lead.ContactID, lead.StageID, lead.Name, lead.Phone,
		lead.Value, lead.Source, lead.Notes, lead.AssignedTo).Scan(
		&lead.ID, &lead.Position, &lead.CreatedAt, &lead.UpdatedAt,
	)
}

func (r *LeadRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*domain.Lead, error) {
	lead := &domain.Lead{}
	err := r.db.QueryRow(ctx, `
		SELECT id, organization_id, contact_id, stage_id, name, phone, value, source, notes, assigned_to, position, created_at, updated_at
		FROM leads WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(
		&lead.ID, &lead.OrganizationID, &lead.ContactID, &lead.StageID, &lead.Name, &lead.Phone,
		&lead.Value, &lead.Source, &lead.Notes, &lead.AssignedTo, &lead.Position,
		&lead.CreatedAt, &lead.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return lead, err
}

func (r *LeadRepository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*domain.Lead, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, organization_id, contact_id, stage_id, name, phone, value, source, notes, assigned_to, position, created_at, updated_at
		FROM leads WHERE organization_id = $1 ORDER BY stage_id, position
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []*domain.Lead
	for rows.Next() {
		lead := &domain.Lead{}
		if err := rows.Scan(
			&lead.ID, &lead.OrganizationID, &lead.ContactID, &lead.StageID, &lead.Name, &lead.Phone,
			&lead.Value, &lead.Source, &lead.Notes, &lead.AssignedTo, &lead.Position,
			&lead.CreatedAt, &lead.UpdatedAt,
		); err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

func (r *LeadRepository) Update(ctx context.Context, lead *domain.Lead) error {
	_, err := r.db.Exec(ctx, `
		UPDATE leads
		SET name = $1, phone = $2, value = $3, source = $4, notes = $5, assigned_to = $6, updated_at = NOW()
		WHERE id = $7 AND organization_id = $8
	`, lead.Name, lead.Phone, lead.Value, lead.Source, lead.Notes, lead.AssignedTo, lead.ID, lead.OrganizationID)
	return err
}

func (r *LeadRepository) MoveToStage(ctx context.Context, orgID, id, stageID uuid.UUID, position int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE leads SET stage_id = $1, position = $2, updated_at = NOW()
		WHERE id = $3 AND organization_id = $4
	`, stageID, position, id, orgID)
	return err
}

func (r *LeadRepository) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM leads WHERE id = $1 AND organization_id = $2`, id, orgID)
	return err
}

// CampaignRepository handles campaign data access
type CampaignRepository struct {
	db *pgxpool.Pool
}

func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO campaigns (organization_id, name, message_template, media_url, media_type, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, c.OrganizationID, c.Name, c.MessageTemplate, c.MediaURL, c.MediaType, c.Status).Scan(
		&c.ID, &c.CreatedAt, &c.UpdatedAt,
	)
}

func (r *CampaignRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := r.db.QueryRow(ctx, `
		SELECT id, organization_id, name, message_template, media_url, media_type, status, started_at, completed_at,
		       total_recipients, sent_count, failed_count, created_at, updated_at
		FROM campaigns WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.MessageTemplate, &c.MediaURL, &c.MediaType,
		&c.Status, &c.StartedAt, &c.CompletedAt, &c.TotalRecipients, &c.SentCount, &c.FailedCount,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *CampaignRepository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*domain.Campaign, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, organization_id, name, message_template, media_url, media_type, status, started_at, completed_at,
		       total_recipients, sent_count, failed_count, created_at, updated_at
		FROM campaigns WHERE organization_id = $1 ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCampaigns(rows)
}

// ListRunning returns running campaigns across all organizations, for the
// dispatch worker.
func (r *CampaignRepository) ListRunning(ctx context.Context) ([]*domain.Campaign, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, organization_id, name, message_template, media_url, media_type, status, started_at, completed_at,
		       total_recipients, sent_count, failed_count, created_at, updated_at
		FROM campaigns WHERE status = $1 ORDER BY started_at
	`, domain.CampaignStatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCampaigns(rows)
}

func scanCampaigns(rows pgx.Rows) ([]*domain.Campaign, error) {
	var campaigns []*domain.Campaign
	for rows.Next() {
		c := &domain.Campaign{}
		if err := rows.Scan(
			&c.ID, &c.OrganizationID, &c.Name, &c.MessageTemplate, &c.MediaURL, &c.MediaType,
			&c.Status, &c.StartedAt, &c.CompletedAt, &c.TotalRecipients, &c.SentCount, &c.FailedCount,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE campaigns SET status = $1,
			started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $1 IN ('completed', 'failed') THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $2
	`, status, id)
	return err
}

func (r *CampaignRepository) AddRecipients(ctx context.Context, campaignID uuid.UUID, recipients []*domain.CampaignRecipient) error {
	for _, rec := range recipients {
		if err := r.db.QueryRow(ctx, `
			INSERT INTO campaign_recipients (campaign_id, contact_id, phone, name, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, campaignID, rec.ContactID, rec.Phone, rec.Name, domain.RecipientStatusPending).Scan(&rec.ID); err != nil {
			return err
		}
	}
	_, err := r.db.Exec(ctx, `
		UPDATE campaigns SET total_recipients = (SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1), updated_at = NOW()
		WHERE id = $1
	`, campaignID)
	return err
}

func (r *CampaignRepository) ListRecipients(ctx context.Context, campaignID uuid.UUID) ([]*domain.CampaignRecipient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, campaign_id, contact_id, phone, name, status, sent_at, error_message
		FROM campaign_recipients WHERE campaign_id = $1 ORDER BY id
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []*domain.CampaignRecipient
	for rows.Next() {
		rec := &domain.CampaignRecipient{}
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.ContactID, &rec.Phone, &rec.Name, &rec.Status, &rec.SentAt, &rec.ErrorMessage); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

// NextPending returns up to limit unprocessed recipients for a campaign.
func (r *CampaignRepository) NextPending(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.CampaignRecipient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, campaign_id, contact_id, phone, name, status, sent_at, error_message
		FROM campaign_recipients WHERE campaign_id = $1 AND status = $2
		ORDER BY id LIMIT $3
	`, campaignID, domain.RecipientStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []*domain.CampaignRecipient
	for rows.Next() {
		rec := &domain.CampaignRecipient{}
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.ContactID, &rec.Phone, &rec.Name, &rec.Status, &rec.SentAt, &rec.ErrorMessage); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

// MarkRecipient records the outcome of one send and bumps the campaign
// counters in the same statement batch.
func (r *CampaignRepository) MarkRecipient(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE campaign_recipients SET status = $1, sent_at = NOW(), error_message = $2 WHERE id = $3
	`, status, errorMessage, id)
	if err != nil {
		return err
	}

	col := "failed_count"
	if status == domain.RecipientStatusSent {
		col = "sent_count"
	}
	_, err = r.db.Exec(ctx, `
		UPDATE campaigns SET `+col+` = `+col+` + 1, updated_at = NOW()
		WHERE id = (SELECT campaign_id FROM campaign_recipients WHERE id = $1)
	`, id)
	return err
}

// CountPending reports how many recipients are still unprocessed.
func (r *CampaignRepository) CountPending(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1 AND status = $2
	`, campaignID, domain.RecipientStatusPending).Scan(&count)
	return count, err
}

// BillingRepository stores payment provider webhook events.
type BillingRepository struct {
	db *pgxpool.Pool
}

// RecordEvent inserts a webhook event; returns false when the (provider,
// event_id) pair was already seen, making replays no-ops.
func (r *BillingRepository) RecordEvent(ctx context.Context, event *domain.BillingEvent) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO billing_events (provider, event_id, event_type, organization_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, event.Provider, event.EventID, event.EventType, event.OrganizationID, event.Payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *BillingRepository) MarkProcessed(ctx context.Context, provider, eventID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE billing_events SET processed_at = NOW() WHERE provider = $1 AND event_id = $2
	`, provider, eventID)
	return err
}
