package domain

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a tenant in the multi-tenant system
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Plan      string    `json:"plan"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Populated on demand
	UserCount    int `json:"user_count,omitempty"`
	ContactCount int `json:"contact_count,omitempty"`
}

// User represents a user in the system
type User struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	DisplayName    string    `json:"display_name"`
	Role           string    `json:"role"` // owner, manager, agent
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Populated on demand
	OrganizationName string `json:"organization_name,omitempty"`
}

// User role constants
const (
	RoleOwner   = "owner"
	RoleManager = "manager"
	RoleAgent   = "agent"
)

// CanManageInstance reports whether the role may disconnect or delete
// the organization's WhatsApp instance.
func CanManageInstance(role string) bool {
	return role == RoleOwner || role == RoleManager
}

// WhatsAppInstance is the per-organization gateway session record.
// At most one row exists per organization. Token authenticates server-side
// calls to the gateway and is never exposed through the API.
type WhatsAppInstance struct {
	ID                uuid.UUID  `json:"id"`
	OrganizationID    uuid.UUID  `json:"organization_id"`
	InstanceName      string     `json:"instance_name"`
	Token             string     `json:"-"`
	Status            string     `json:"status"`
	PhoneNumber       *string    `json:"phone_number,omitempty"`
	WebhookConfigured bool       `json:"webhook_configured"`
	CreatedAt         time.Time  `json:"created_at"`
	LastConnectedAt   *time.Time `json:"last_connected_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Instance status constants
const (
	InstanceStatusNotConfigured = "not_configured"
	InstanceStatusDisconnected  = "disconnected"
	InstanceStatusConnecting    = "connecting"
	InstanceStatusConnected     = "connected"
)

// ConnectionAttempt is the QR / pairing payload returned by a connect call.
// It is never persisted; a new connect call supersedes it.
type ConnectionAttempt struct {
	QRCode      string `json:"qrcode,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
}

// InstanceView is the tenant-facing shape of the instance state.
type InstanceView struct {
	Configured  bool    `json:"configured"`
	Status      string  `json:"status"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	QRCode      string  `json:"qrcode,omitempty"`
	PairingCode string  `json:"pairing_code,omitempty"`
	// Degraded is set when the gateway could not be reached and the
	// status shown is the last persisted one, not a reconciled read.
	Degraded bool `json:"degraded,omitempty"`
}

// Contact represents a WhatsApp contact
type Contact struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Phone          string    `json:"phone"`
	Name           *string   `json:"name,omitempty"`
	PushName       *string   `json:"push_name,omitempty"`
	Email          *string   `json:"email,omitempty"`
	Company        *string   `json:"company,omitempty"`
	AvatarURL      *string   `json:"avatar_url,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	Notes          *string   `json:"notes,omitempty"`
	IsGroup        bool      `json:"is_group"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DisplayName returns the best available name for the contact
func (c *Contact) DisplayName() string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	if c.PushName != nil && *c.PushName != "" {
		return *c.PushName
	}
	return c.Phone
}

// ContactFilter defines filter options for listing contacts
type ContactFilter struct {
	Search   string
	HasPhone bool
	Tags     []string
	Limit    int
	Offset   int
}

// Chat represents a conversation with a contact
type Chat struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	ContactID      *uuid.UUID `json:"contact_id,omitempty"`
	Phone          string     `json:"phone"`
	Name           *string    `json:"name,omitempty"`
	LastMessage    *string    `json:"last_message,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	UnreadCount    int        `json:"unread_count"`
	IsArchived     bool       `json:"is_archived"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Populated via JOIN
	ContactName      *string `json:"contact_name,omitempty"`
	ContactAvatarURL *string `json:"contact_avatar_url,omitempty"`
}

// ChatFilter defines filter options for listing chats
type ChatFilter struct {
	UnreadOnly bool
	Archived   bool
	Search     string
	Limit      int
	Offset     int
}

// Message represents a WhatsApp message
type Message struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	ChatID         uuid.UUID `json:"chat_id"`
	GatewayID      *string   `json:"gateway_id,omitempty"`
	Body           *string   `json:"body,omitempty"`
	MessageType    string    `json:"message_type"` // text, image, video, audio, document
	MediaURL       *string   `json:"media_url,omitempty"`
	MediaMimetype  *string   `json:"media_mimetype,omitempty"`
	IsFromMe       bool      `json:"is_from_me"`
	Status         *string   `json:"status,omitempty"` // sent, delivered, read, failed
	Timestamp      time.Time `json:"timestamp"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageType constants
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeAudio    = "audio"
	MessageTypeDocument = "document"
)

// Pipeline represents a sales pipeline
type Pipeline struct {
	ID             uuid.UUID        `json:"id"`
	OrganizationID uuid.UUID        `json:"organization_id"`
	Name           string           `json:"name"`
	IsDefault      bool             `json:"is_default"`
	Stages         []*PipelineStage `json:"stages,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// PipelineStage represents a kanban column in a pipeline
type PipelineStage struct {
	ID         uuid.UUID `json:"id"`
	PipelineID uuid.UUID `json:"pipeline_id"`
	Name       string    `json:"name"`
	Color      string    `json:"color"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}

// Lead represents a potential customer on the kanban board
type Lead struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	ContactID      *uuid.UUID `json:"contact_id,omitempty"`
	StageID        uuid.UUID  `json:"stage_id"`
	Name           string     `json:"name"`
	Phone          *string    `json:"phone,omitempty"`
	Value          *float64   `json:"value,omitempty"`
	Source         *string    `json:"source,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	AssignedTo     *uuid.UUID `json:"assigned_to,omitempty"`
	Position       int        `json:"position"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Relations
	Contact *Contact `json:"contact,omitempty"`
}

// Campaign represents a mass messaging campaign
type Campaign struct {
	ID              uuid.UUID  `json:"id"`
	OrganizationID  uuid.UUID  `json:"organization_id"`
	Name            string     `json:"name"`
	MessageTemplate string     `json:"message_template"`
	MediaURL        *string    `json:"media_url,omitempty"`
	MediaType       *string    `json:"media_type,omitempty"`
	Status          string     `json:"status"` // draft, running, paused, completed, failed
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	TotalRecipients int        `json:"total_recipients"`
	SentCount       int        `json:"sent_count"`
	FailedCount     int        `json:"failed_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Campaign status constants
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusRunning   = "running"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
)

// CampaignRecipient represents a single recipient in a campaign
type CampaignRecipient struct {
	ID           uuid.UUID  `json:"id"`
	CampaignID   uuid.UUID  `json:"campaign_id"`
	ContactID    *uuid.UUID `json:"contact_id,omitempty"`
	Phone        string     `json:"phone"`
	Name         *string    `json:"name,omitempty"`
	Status       string     `json:"status"` // pending, sent, failed, skipped
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// Recipient status constants
const (
	RecipientStatusPending = "pending"
	RecipientStatusSent    = "sent"
	RecipientStatusFailed  = "failed"
	RecipientStatusSkipped = "skipped"
)

// BillingEvent stores payment provider webhook payloads with deduplication
// metadata so replays are idempotent.
type BillingEvent struct {
	ID             uuid.UUID  `json:"id"`
	Provider       string     `json:"provider"`
	EventID        string     `json:"event_id"`
	EventType      string     `json:"event_type"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	Payload        []byte     `json:"-"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
