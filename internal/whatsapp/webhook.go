package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/zapdesk/internal/domain"
	"github.com/zapdesk/zapdesk/internal/gateway"
	"github.com/zapdesk/zapdesk/internal/monitoring"
	"github.com/zapdesk/zapdesk/internal/repository"
	"github.com/zapdesk/zapdesk/internal/ws"
)

// WebhookEvent is the envelope the gateway posts to the callback URL.
// Field names follow the uazapi payload shape; unknown fields are ignored.
type WebhookEvent struct {
	Event    string          `json:"event"`
	Instance json.RawMessage `json:"instance,omitempty"`
	Status   string          `json:"status,omitempty"`
	Message  *WebhookMessage `json:"message,omitempty"`
	Update   *WebhookUpdate  `json:"update,omitempty"`
}

// WebhookMessage carries an inbound or echoed message event.
type WebhookMessage struct {
	ID           string `json:"id"`
	Chatid       string `json:"chatid"`
	Sender       string `json:"sender"`
	SenderName   string `json:"senderName"`
	FromMe       bool   `json:"fromMe"`
	WasSentByAPI bool   `json:"wasSentByApi"`
	Type         string `json:"type"`
	Text         string `json:"text"`
	Caption      string `json:"caption"`
	Mimetype     string `json:"mimetype"`
	FileURL      string `json:"fileURL"`
	Timestamp    int64  `json:"messageTimestamp"`
	IsGroup      bool   `json:"isGroup"`
}

// WebhookUpdate carries a delivery status change for a known message.
type WebhookUpdate struct {
	MessageID string `json:"id"`
	Status    string `json:"status"`
}

type webhookInstancePayload struct {
	Status string `json:"status"`
	Phone  string `json:"phone"`
	Owner  string `json:"owner"`
}

// WebhookProcessor applies gateway callback events to the tenant's stored
// state. It shares the reconciliation rules with the polling path so both
// converge on the same record.
type WebhookProcessor struct {
	repos *repository.Repositories
	hub   *ws.Hub
}

func NewWebhookProcessor(repos *repository.Repositories, hub *ws.Hub) *WebhookProcessor {
	return &WebhookProcessor{repos: repos, hub: hub}
}

// Process dispatches one event for the given organization. Unknown event
// types are counted and dropped, never errors: the gateway retries on
// non-2xx and an unknown event should not cause retries.
func (p *WebhookProcessor) Process(ctx context.Context, orgID uuid.UUID, event *WebhookEvent) error {
	monitoring.WebhookEvents.WithLabelValues(event.Event).Inc()

	switch event.Event {
	case "connection":
		return p.processConnection(ctx, orgID, event)
	case "messages":
		return p.processMessage(ctx, orgID, event.Message)
	case "messages_update":
		return p.processMessageUpdate(ctx, orgID, event.Update)
	default:
		log.Debug().Str("event", event.Event).Str("org_id", orgID.String()).Msg("ignoring webhook event")
		return nil
	}
}

func (p *WebhookProcessor) processConnection(ctx context.Context, orgID uuid.UUID, event *WebhookEvent) error {
	instance, err := p.repos.Instance.GetByOrgID(ctx, orgID)
	if err != nil {
		return fmt.Errorf("load instance: %w", err)
	}
	if instance == nil {
		// Record already deleted locally; nothing to reconcile against.
		log.Warn().Str("org_id", orgID.String()).Msg("connection event for unknown instance")
		return nil
	}

	observed := &gateway.StatusObservation{Status: event.Status}
	if len(event.Instance) > 0 {
		var payload webhookInstancePayload
		if err := json.Unmarshal(event.Instance, &payload); err == nil {
			if observed.Status == "" {
				observed.Status = payload.Status
			}
			if payload.Phone != "" {
				observed.Phone = payload.Phone
			} else if payload.Owner != "" {
				observed.Phone = payload.Owner
			}
		}
	}

	next, changed := Reconcile(instance, observed, time.Now())
	if !changed {
		return nil
	}
	if err := p.repos.Instance.UpdateStatusAndPhone(ctx, next.ID, next.Status, next.PhoneNumber, next.LastConnectedAt); err != nil {
		return fmt.Errorf("persist instance: %w", err)
	}
	monitoring.InstanceTransitions.WithLabelValues(next.Status).Inc()

	if p.hub != nil {
		phone := ""
		if next.PhoneNumber != nil {
			phone = *next.PhoneNumber
		}
		p.hub.BroadcastInstanceStatus(orgID, next.Status, phone)
	}
	return nil
}

func (p *WebhookProcessor) processMessage(ctx context.Context, orgID uuid.UUID, msg *WebhookMessage) error {
	if msg == nil {
		return nil
	}
	// Echoes of messages this API sent are already persisted on the send path.
	if msg.WasSentByAPI {
		return nil
	}

	phone := normalizeJID(msg.Chatid)
	if phone == "" {
		phone = normalizeJID(msg.Sender)
	}
	if phone == "" {
		return nil
	}

	var contactID *uuid.UUID
	if !msg.IsGroup {
		contact := &domain.Contact{
			OrganizationID: orgID,
			Phone:          phone,
			IsGroup:        msg.IsGroup,
		}
		if msg.SenderName != "" && !msg.FromMe {
			contact.PushName = &msg.SenderName
		}
		if err := p.repos.Contact.UpsertByPhone(ctx, contact); err != nil {
			return fmt.Errorf("upsert contact: %w", err)
		}
		contactID = &contact.ID
	}

	chat, err := p.repos.Chat.UpsertByPhone(ctx, orgID, phone, contactID)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	body := msg.Text
	if body == "" {
		body = msg.Caption
	}
	msgType := msg.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}

	record := &domain.Message{
		OrganizationID: orgID,
		ChatID:         chat.ID,
		MessageType:    msgType,
		IsFromMe:       msg.FromMe,
		Timestamp:      ts,
	}
	if msg.ID != "" {
		record.GatewayID = &msg.ID
	}
	if body != "" {
		record.Body = &body
	}
	if msg.FileURL != "" {
		record.MediaURL = &msg.FileURL
	}
	if msg.Mimetype != "" {
		record.MediaMimetype = &msg.Mimetype
	}
	if err := p.repos.Message.Create(ctx, record); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	preview := body
	if preview == "" {
		preview = "[" + msgType + "]"
	}
	if err := p.repos.Chat.TouchLastMessage(ctx, chat.ID, preview, ts, !msg.FromMe); err != nil {
		log.Warn().Err(err).Str("chat_id", chat.ID.String()).Msg("chat preview update failed")
	}

	if p.hub != nil {
		p.hub.BroadcastNewMessage(orgID, record)
	}
	return nil
}

func (p *WebhookProcessor) processMessageUpdate(ctx context.Context, orgID uuid.UUID, update *WebhookUpdate) error {
	if update == nil || update.MessageID == "" {
		return nil
	}
	if err := p.repos.Message.UpdateStatusByGatewayID(ctx, orgID, update.MessageID, update.Status); err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if p.hub != nil {
		p.hub.BroadcastToOrg(orgID, ws.EventMessageStatus, map[string]string{
			"message_id": update.MessageID,
			"status":     update.Status,
		})
	}
	return nil
}

// normalizeJID strips the WhatsApp server suffix from a JID, leaving the
// bare phone number or group id.
func normalizeJID(jid string) string {
	for i := 0; i < len(jid); i++ {
		if jid[i] == '@' {
			return jid[:i]
		}
	}
	return jid
}
