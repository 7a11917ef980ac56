package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/zapdesk/zapdesk/internal/domain"
	"github.com/zapdesk/zapdesk/internal/gateway"
	"github.com/zapdesk/zapdesk/internal/monitoring"
	"github.com/zapdesk/zapdesk/internal/ws"
)

// GatewayAPI is the slice of the gateway client the orchestrator depends on.
type GatewayAPI interface {
	InitInstance(name string) (string, error)
	ConfigureWebhook(token, url string) error
	Connect(token string) (*gateway.ConnectResult, error)
	GetStatus(token string) (*gateway.StatusObservation, error)
	Disconnect(token string) error
	DeleteInstance(token string) error
	SendText(token, number, text string) (*gateway.SendResult, error)
	SendMedia(token, number, mediaType, file, caption string) (*gateway.SendResult, error)
	FetchContacts(token string) ([]gateway.RemoteContact, error)
	DownloadProfilePicture(token, number string) (string, error)
	DownloadMessage(token, messageID string) ([]byte, string, error)
}

// InstanceStore is the persistence surface for instance records.
type InstanceStore interface {
	GetByOrgID(ctx context.Context, orgID uuid.UUID) (*domain.WhatsAppInstance, error)
	Create(ctx context.Context, instance *domain.WhatsAppInstance) error
	UpdateStatusAndPhone(ctx context.Context, id uuid.UUID, status string, phone *string, lastConnectedAt *time.Time) error
	SetWebhookConfigured(ctx context.Context, id uuid.UUID, configured bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Orchestrator drives the per-organization WhatsApp instance lifecycle:
// provision, reconnect, reconciling status reads, disconnect and teardown.
// It holds no per-tenant locks; overlapping requests converge because the
// gateway connect call is idempotent and instance writes are last-writer-wins.
type Orchestrator struct {
	gw         GatewayAPI
	store      InstanceStore
	hub        *ws.Hub
	webhookURL string
}

// NewOrchestrator creates an Orchestrator. webhookURL is the public callback
// base already validated by config (production origin or fallback host).
func NewOrchestrator(gw GatewayAPI, store InstanceStore, webhookURL string) *Orchestrator {
	return &Orchestrator{
		gw:         gw,
		store:      store,
		webhookURL: webhookURL,
	}
}

// SetHub attaches the websocket hub for status broadcasts.
func (o *Orchestrator) SetHub(hub *ws.Hub) {
	o.hub = hub
}

func (o *Orchestrator) callbackURL(orgID uuid.UUID) string {
	return fmt.Sprintf("%s/webhooks/uazapi/%s", strings.TrimRight(o.webhookURL, "/"), orgID)
}

// Provision creates the gateway instance for an organization and persists the
// record as connecting. Returns ErrConflict when a record already exists.
// If the local insert fails after the remote instance was created, a
// best-effort remote delete compensates so no orphaned instance is left; the
// compensation itself is logged, never retried.
func (o *Orchestrator) Provision(ctx context.Context, orgID uuid.UUID, orgSlug string) (*domain.WhatsAppInstance, *domain.ConnectionAttempt, error) {
	existing, err := o.store.GetByOrgID(ctx, orgID)
	if err != nil {
		return nil, nil, fmt.Errorf("load instance: %w", err)
	}
	if existing != nil {
		return nil, nil, domain.ErrConflict
	}

	name := "org_" + orgSlug
	token, err := o.gw.InitInstance(name)
	if err != nil {
		return nil, nil, fmt.Errorf("create gateway instance: %w", err)
	}

	webhookConfigured := true
	if err := o.gw.ConfigureWebhook(token, o.callbackURL(orgID)); err != nil {
		// Instance works without the webhook; polling still reconciles.
		webhookConfigured = false
		log.Warn().Err(err).Str("org_id", orgID.String()).Msg("webhook configuration failed")
	}

	connectRes, err := o.gw.Connect(token)
	if err != nil {
		o.compensateDelete(token, orgID, "provision connect failed")
		return nil, nil, fmt.Errorf("connect gateway instance: %w", err)
	}

	instance := &domain.WhatsAppInstance{
		OrganizationID:    orgID,
		InstanceName:      name,
		Token:             token,
		Status:            domain.InstanceStatusConnecting,
		WebhookConfigured: webhookConfigured,
	}
	if err := o.store.Create(ctx, instance); err != nil {
		o.compensateDelete(token, orgID, "instance insert failed")
		return nil, nil, fmt.Errorf("persist instance: %w", err)
	}

	monitoring.InstanceTransitions.WithLabelValues(domain.InstanceStatusConnecting).Inc()
	o.broadcastStatus(instance)

	attempt := o.buildAttempt(connectRes)
	o.broadcastAttempt(orgID, attempt)
	return instance, attempt, nil
}

// compensateDelete removes the remote instance after a failed provision so
// the gateway does not accumulate orphans. Failures are swallowed: the
// provisioning error is what the caller sees.
func (o *Orchestrator) compensateDelete(token string, orgID uuid.UUID, reason string) {
	if err := o.gw.DeleteInstance(token); err != nil {
		log.Error().Err(err).Str("org_id", orgID.String()).Str("reason", reason).
			Msg("compensating gateway delete failed, remote instance may be orphaned")
	}
}

// ensureWebhook retries webhook configuration for instances provisioned while
// the gateway would not accept it. Best-effort: on failure the flag stays
// unset and the next reconnect or status read tries again.
func (o *Orchestrator) ensureWebhook(ctx context.Context, orgID uuid.UUID, instance *domain.WhatsAppInstance) {
	if instance.WebhookConfigured {
		return
	}
	if err := o.gw.ConfigureWebhook(instance.Token, o.callbackURL(orgID)); err != nil {
		log.Warn().Err(err).Str("org_id", orgID.String()).Msg("webhook configuration retry failed")
		return
	}
	if err := o.store.SetWebhookConfigured(ctx, instance.ID, true); err != nil {
		log.Warn().Err(err).Str("org_id", orgID.String()).Msg("webhook flag update failed")
		return
	}
	instance.WebhookConfigured = true
}

// Reconnect requests a fresh pairing code for an existing instance. A no-op
// returning no attempt when the instance is already connected.
func (o *Orchestrator) Reconnect(ctx context.Context, orgID uuid.UUID) (*domain.WhatsAppInstance, *domain.ConnectionAttempt, error) {
	instance, err := o.requireInstance(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}

	o.ensureWebhook(ctx, orgID, instance)

	if instance.Status == domain.InstanceStatusConnected {
		return instance, nil, nil
	}

	connectRes, err := o.gw.Connect(instance.Token)
	if err != nil {
		return nil, nil, fmt.Errorf("connect gateway instance: %w", err)
	}

	if instance.Status != domain.InstanceStatusConnecting {
		instance.Status = domain.InstanceStatusConnecting
		if err := o.store.UpdateStatusAndPhone(ctx, instance.ID, instance.Status, instance.PhoneNumber, instance.LastConnectedAt); err != nil {
			return nil, nil, fmt.Errorf("persist instance: %w", err)
		}
		monitoring.InstanceTransitions.WithLabelValues(domain.InstanceStatusConnecting).Inc()
		o.broadcastStatus(instance)
	}

	attempt := o.buildAttempt(connectRes)
	o.broadcastAttempt(orgID, attempt)
	return instance, attempt, nil
}

// Status returns the reconciled instance state. The gateway is always asked;
// on divergence the stored record is updated before returning. When the
// gateway cannot be reached the last persisted state is returned with
// degraded=true and nothing is written.
func (o *Orchestrator) Status(ctx context.Context, orgID uuid.UUID) (*domain.WhatsAppInstance, bool, error) {
	instance, err := o.requireInstance(ctx, orgID)
	if err != nil {
		return nil, false, err
	}

	o.ensureWebhook(ctx, orgID, instance)

	observed, err := o.gw.GetStatus(instance.Token)
	if err != nil {
		log.Warn().Err(err).Str("org_id", orgID.String()).Msg("gateway status read failed, returning stored state")
		return instance, true, nil
	}

	next, changed := Reconcile(instance, observed, time.Now())
	if changed {
		if err := o.store.UpdateStatusAndPhone(ctx, next.ID, next.Status, next.PhoneNumber, next.LastConnectedAt); err != nil {
			return nil, false, fmt.Errorf("persist reconciled instance: %w", err)
		}
		monitoring.InstanceTransitions.WithLabelValues(next.Status).Inc()
		o.broadcastStatus(next)
	}

	return next, false, nil
}

// Disconnect logs the instance out. The remote call is best-effort; the
// stored record always converges to disconnected with the phone cleared.
func (o *Orchestrator) Disconnect(ctx context.Context, orgID uuid.UUID, role string) (*domain.WhatsAppInstance, error) {
	if !domain.CanManageInstance(role) {
		return nil, domain.ErrForbidden
	}

	instance, err := o.requireInstance(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if err := o.gw.Disconnect(instance.Token); err != nil {
		log.Warn().Err(err).Str("org_id", orgID.String()).Msg("gateway disconnect failed, forcing local state")
	}

	instance.Status = domain.InstanceStatusDisconnected
	instance.PhoneNumber = nil
	if err := o.store.UpdateStatusAndPhone(ctx, instance.ID, instance.Status, nil, instance.LastConnectedAt); err != nil {
		return nil, fmt.Errorf("persist instance: %w", err)
	}

	monitoring.InstanceTransitions.WithLabelValues(domain.InstanceStatusDisconnected).Inc()
	o.broadcastStatus(instance)
	return instance, nil
}

// Delete tears the instance down. The remote delete is best-effort (remote
// absence is not an error); the local row is removed regardless.
func (o *Orchestrator) Delete(ctx context.Context, orgID uuid.UUID, role string) error {
	if !domain.CanManageInstance(role) {
		return domain.ErrForbidden
	}

	instance, err := o.requireInstance(ctx, orgID)
	if err != nil {
		return err
	}

	if err := o.gw.DeleteInstance(instance.Token); err != nil {
		log.Warn().Err(err).Str("org_id", orgID.String()).Msg("gateway delete failed, removing local record anyway")
	}

	if err := o.store.Delete(ctx, instance.ID); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}

	o.broadcastStatus(&domain.WhatsAppInstance{
		OrganizationID: orgID,
		Status:         domain.InstanceStatusNotConfigured,
	})
	return nil
}

// SendText delivers a text message through the organization's instance.
// The instance must be connected per the stored record.
func (o *Orchestrator) SendText(ctx context.Context, orgID uuid.UUID, phone, body string) (string, error) {
	instance, err := o.requireConnected(ctx, orgID)
	if err != nil {
		return "", err
	}

	res, err := o.gw.SendText(instance.Token, phone, body)
	if err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	monitoring.MessagesSent.WithLabelValues(domain.MessageTypeText).Inc()
	return res.MessageID, nil
}

// SendMedia delivers a media message through the organization's instance.
func (o *Orchestrator) SendMedia(ctx context.Context, orgID uuid.UUID, phone, mediaType, fileURL, caption string) (string, error) {
	instance, err := o.requireConnected(ctx, orgID)
	if err != nil {
		return "", err
	}

	res, err := o.gw.SendMedia(instance.Token, phone, mediaType, fileURL, caption)
	if err != nil {
		return "", fmt.Errorf("send media: %w", err)
	}
	monitoring.MessagesSent.WithLabelValues(mediaType).Inc()
	return res.MessageID, nil
}

// FetchContacts pulls the contact book from the gateway.
func (o *Orchestrator) FetchContacts(ctx context.Context, orgID uuid.UUID) ([]gateway.RemoteContact, error) {
	instance, err := o.requireConnected(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return o.gw.FetchContacts(instance.Token)
}

// ProfilePictureURL resolves the avatar URL for a phone number through the gateway.
func (o *Orchestrator) ProfilePictureURL(ctx context.Context, orgID uuid.UUID, number string) (string, error) {
	instance, err := o.requireConnected(ctx, orgID)
	if err != nil {
		return "", err
	}
	return o.gw.DownloadProfilePicture(instance.Token, number)
}

// DownloadMedia fetches the raw media content of a received message.
func (o *Orchestrator) DownloadMedia(ctx context.Context, orgID uuid.UUID, gatewayID string) ([]byte, string, error) {
	instance, err := o.requireConnected(ctx, orgID)
	if err != nil {
		return nil, "", err
	}
	return o.gw.DownloadMessage(instance.Token, gatewayID)
}

func (o *Orchestrator) requireInstance(ctx context.Context, orgID uuid.UUID) (*domain.WhatsAppInstance, error) {
	instance, err := o.store.GetByOrgID(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	if instance == nil {
		return nil, domain.ErrNotFound
	}
	return instance, nil
}

func (o *Orchestrator) requireConnected(ctx context.Context, orgID uuid.UUID) (*domain.WhatsAppInstance, error) {
	instance, err := o.requireInstance(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if instance.Status != domain.InstanceStatusConnected {
		return nil, domain.ErrNotConnected
	}
	return instance, nil
}

func (o *Orchestrator) broadcastStatus(instance *domain.WhatsAppInstance) {
	if o.hub == nil {
		return
	}
	phone := ""
	if instance.PhoneNumber != nil {
		phone = *instance.PhoneNumber
	}
	o.hub.BroadcastInstanceStatus(instance.OrganizationID, instance.Status, phone)
}

// buildAttempt converts the gateway pairing payload into the tenant-facing
// attempt. Raw QR strings are rendered to a PNG data URL; payloads that are
// already data URIs pass through untouched.
func (o *Orchestrator) buildAttempt(res *gateway.ConnectResult) *domain.ConnectionAttempt {
	if res == nil {
		return nil
	}
	attempt := &domain.ConnectionAttempt{PairingCode: res.PairingCode}
	if res.QRCode == "" {
		return attempt
	}
	if strings.HasPrefix(res.QRCode, "data:") {
		attempt.QRCode = res.QRCode
		return attempt
	}
	png, err := qrcode.Encode(res.QRCode, qrcode.Medium, 256)
	if err != nil {
		log.Warn().Err(err).Msg("qr encode failed, returning raw payload")
		attempt.QRCode = res.QRCode
		return attempt
	}
	attempt.QRCode = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	return attempt
}

// broadcastAttempt pushes a fresh QR to org clients so an open pairing
// screen refreshes without polling.
func (o *Orchestrator) broadcastAttempt(orgID uuid.UUID, attempt *domain.ConnectionAttempt) {
	if o.hub == nil || attempt == nil || attempt.QRCode == "" {
		return
	}
	o.hub.BroadcastQRCode(orgID, attempt.QRCode)
}
