package whatsapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdesk/zapdesk/internal/domain"
	"github.com/zapdesk/zapdesk/internal/gateway"
)

type fakeGateway struct {
	initErr      error
	webhookErr   error
	webhookCalls int
	connectErr   error
	statusErr    error
	status       *gateway.StatusObservation
	disconnects  int
	deletes      int
	deletedToken string
	connectRes   *gateway.ConnectResult
}

func (f *fakeGateway) InitInstance(name string) (string, error) {
	if f.initErr != nil {
		return "", f.initErr
	}
	return "tok-" + name, nil
}

func (f *fakeGateway) ConfigureWebhook(token, url string) error {
	f.webhookCalls++
	return f.webhookErr
}

func (f *fakeGateway) Connect(token string) (*gateway.ConnectResult, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	if f.connectRes != nil {
		return f.connectRes, nil
	}
	return &gateway.ConnectResult{QRCode: "2@abc,def"}, nil
}

func (f *fakeGateway) GetStatus(token string) (*gateway.StatusObservation, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.status != nil {
		return f.status, nil
	}
	return &gateway.StatusObservation{Status: "disconnected"}, nil
}

func (f *fakeGateway) Disconnect(token string) error {
	f.disconnects++
	return nil
}

func (f *fakeGateway) DeleteInstance(token string) error {
	f.deletes++
	f.deletedToken = token
	return nil
}

func (f *fakeGateway) SendText(token, number, text string) (*gateway.SendResult, error) {
	return &gateway.SendResult{MessageID: "msg-1"}, nil
}

func (f *fakeGateway) SendMedia(token, number, mediaType, file, caption string) (*gateway.SendResult, error) {
	return &gateway.SendResult{MessageID: "msg-2"}, nil
}

func (f *fakeGateway) FetchContacts(token string) ([]gateway.RemoteContact, error) {
	return nil, nil
}

func (f *fakeGateway) DownloadProfilePicture(token, number string) (string, error) {
	return "https://cdn.example.com/" + number + ".jpg", nil
}

func (f *fakeGateway) DownloadMessage(token, messageID string) ([]byte, string, error) {
	return []byte("media"), "image/jpeg", nil
}

type fakeStore struct {
	instance  *domain.WhatsAppInstance
	createErr error
	updates   int
}

func (f *fakeStore) GetByOrgID(ctx context.Context, orgID uuid.UUID) (*domain.WhatsAppInstance, error) {
	return f.instance, nil
}

func (f *fakeStore) Create(ctx context.Context, instance *domain.WhatsAppInstance) error {
	if f.createErr != nil {
		return f.createErr
	}
	instance.ID = uuid.New()
	f.instance = instance
	return nil
}

func (f *fakeStore) UpdateStatusAndPhone(ctx context.Context, id uuid.UUID, status string, phone *string, lastConnectedAt *time.Time) error {
	f.updates++
	if f.instance != nil {
		f.instance.Status = status
		f.instance.PhoneNumber = phone
		f.instance.LastConnectedAt = lastConnectedAt
	}
	return nil
}

func (f *fakeStore) SetWebhookConfigured(ctx context.Context, id uuid.UUID, configured bool) error {
	if f.instance != nil {
		f.instance.WebhookConfigured = configured
	}
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.instance = nil
	return nil
}

func TestProvision_CreatesInstance(t *testing.T) {
	gw := &fakeGateway{}
	store := &fakeStore{}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")

	instance, attempt, err := orch.Provision(context.Background(), uuid.New(), "acme")
	require.NoError(t, err)
	require.NotNil(t, instance)
	assert.Equal(t, "org_acme", instance.InstanceName)
	assert.Equal(t, "tok-org_acme", instance.Token)
	assert.Equal(t, domain.InstanceStatusConnecting, instance.Status)
	assert.True(t, instance.WebhookConfigured)

	require.NotNil(t, attempt)
	assert.Contains(t, attempt.QRCode, "data:image/png;base64,")
}

func TestProvision_SecondCallConflicts(t *testing.T) {
	gw := &fakeGateway{}
	store := &fakeStore{}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")
	orgID := uuid.New()

	_, _, err := orch.Provision(context.Background(), orgID, "acme")
	require.NoError(t, err)

	_, _, err = orch.Provision(context.Background(), orgID, "acme")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 0, gw.deletes)
}

func TestProvision_WebhookFailureIsNotFatal(t *testing.T) {
	gw := &fakeGateway{webhookErr: errors.New("gateway timeout")}
	store := &fakeStore{}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")

	instance, _, err := orch.Provision(context.Background(), uuid.New(), "acme")
	require.NoError(t, err)
	assert.False(t, instance.WebhookConfigured)
}

func TestReconnect_RetriesFailedWebhookConfiguration(t *testing.T) {
	gw := &fakeGateway{webhookErr: errors.New("gateway timeout")}
	store := &fakeStore{}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")
	orgID := uuid.New()

	_, _, err := orch.Provision(context.Background(), orgID, "acme")
	require.NoError(t, err)
	require.False(t, store.instance.WebhookConfigured)

	gw.webhookErr = nil
	_, _, err = orch.Reconnect(context.Background(), orgID)
	require.NoError(t, err)

	assert.Greater(t, gw.webhookCalls, 1)
	assert.True(t, store.instance.WebhookConfigured)
}

func TestStatus_RetriesFailedWebhookConfiguration(t *testing.T) {
	gw := &fakeGateway{
		webhookErr: errors.New("gateway timeout"),
		status:     &gateway.StatusObservation{Status: "connecting"},
	}
	store := &fakeStore{}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")
	orgID := uuid.New()

	_, _, err := orch.Provision(context.Background(), orgID, "acme")
	require.NoError(t, err)

	gw.webhookErr = nil
	_, _, err = orch.Status(context.Background(), orgID)
	require.NoError(t, err)
	assert.True(t, store.instance.WebhookConfigured)
}

func TestReconnect_ConfiguredWebhookIsNotReconfigured(t *testing.T) {
	gw := &fakeGateway{}
	store := &fakeStore{}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")
	orgID := uuid.New()

	_, _, err := orch.Provision(context.Background(), orgID, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, gw.webhookCalls)

	_, _, err = orch.Reconnect(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, 1, gw.webhookCalls)
}

func TestProvision_InsertFailureCompensatesRemoteDelete(t *testing.T) {
	gw := &fakeGateway{}
	store := &fakeStore{createErr: errors.New("insert failed")}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")

	_, _, err := orch.Provision(context.Background(), uuid.New(), "acme")
	require.Error(t, err)
	assert.Equal(t, 1, gw.deletes)
	assert.Equal(t, "tok-org_acme", gw.deletedToken)
	assert.Nil(t, store.instance)
}

func TestProvision_ConnectFailureCompensatesRemoteDelete(t *testing.T) {
	gw := &fakeGateway{connectErr: errors.New("gateway down")}
	store := &fakeStore{}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")

	_, _, err := orch.Provision(context.Background(), uuid.New(), "acme")
	require.Error(t, err)
	assert.Equal(t, 1, gw.deletes)
	assert.Nil(t, store.instance)
}

func TestReconnect_NoopWhenConnected(t *testing.T) {
	gw := &fakeGateway{}
	store := &fakeStore{instance: &domain.WhatsAppInstance{
		ID:     uuid.New(),
		Status: domain.InstanceStatusConnected,
	}}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")

	instance, attempt, err := orch.Reconnect(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, attempt)
	assert.Equal(t, domain.InstanceStatusConnected, instance.Status)
}

func TestReconnect_MissingInstance(t *testing.T) {
	orch := NewOrchestrator(&fakeGateway{}, &fakeStore{}, "https://crm.example.com")

	_, _, err := orch.Reconnect(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatus_ReconcilesAndPersists(t *testing.T) {
	gw := &fakeGateway{status: &gateway.StatusObservation{Status: "connected", Phone: "5511999990000"}}
	store := &fakeStore{instance: &domain.WhatsAppInstance{
		ID:     uuid.New(),
		Status: domain.InstanceStatusConnecting,
	}}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")

	instance, degraded, err := orch.Status(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, domain.InstanceStatusConnected, instance.Status)
	require.NotNil(t, instance.PhoneNumber)
	assert.Equal(t, "5511999990000", *instance.PhoneNumber)
	assert.NotNil(t, instance.LastConnectedAt)
	assert.Equal(t, 1, store.updates)
}

func TestStatus_GatewayFailureReturnsStoredStateDegraded(t *testing.T) {
	phone := "5511999990000"
	gw := &fakeGateway{statusErr: errors.New("gateway unreachable")}
	store := &fakeStore{instance: &domain.WhatsAppInstance{
		ID:          uuid.New(),
		Status:      domain.InstanceStatusConnected,
		PhoneNumber: &phone,
	}}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")

	instance, degraded, err := orch.Status(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Equal(t, domain.InstanceStatusConnected, instance.Status)
	assert.Equal(t, 0, store.updates)
}

func TestStatus_NoChangeNoWrite(t *testing.T) {
	gw := &fakeGateway{status: &gateway.StatusObservation{Status: "disconnected"}}
	store := &fakeStore{instance: &domain.WhatsAppInstance{
		ID:     uuid.New(),
		Status: domain.InstanceStatusDisconnected,
	}}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")

	_, degraded, err := orch.Status(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, 0, store.updates)
}

func TestDisconnect_ConvergesLocallyEvenIfRemoteFails(t *testing.T) {
	phone := "5511999990000"
	gw := &fakeGateway{}
	store := &fakeStore{instance: &domain.WhatsAppInstance{
		ID:          uuid.New(),
		Status:      domain.InstanceStatusConnected,
		PhoneNumber: &phone,
	}}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")

	instance, err := orch.Disconnect(context.Background(), uuid.New(), domain.RoleOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceStatusDisconnected, instance.Status)
	assert.Nil(t, instance.PhoneNumber)
	assert.Equal(t, 1, gw.disconnects)
	assert.Equal(t, 1, store.updates)
}

func TestDisconnect_AgentForbidden(t *testing.T) {
	store := &fakeStore{instance: &domain.WhatsAppInstance{ID: uuid.New(), Status: domain.InstanceStatusConnected}}
	orch := NewOrchestrator(&fakeGateway{}, store, "https://crm.example.com")

	_, err := orch.Disconnect(context.Background(), uuid.New(), domain.RoleAgent)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, 0, store.updates)
}

func TestDelete_RemovesLocalRecord(t *testing.T) {
	gw := &fakeGateway{}
	store := &fakeStore{instance: &domain.WhatsAppInstance{ID: uuid.New(), Status: domain.InstanceStatusConnected}}
	orch := NewOrchestrator(gw, store, "https://crm.example.com")

	err := orch.Delete(context.Background(), uuid.New(), domain.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, 1, gw.deletes)
	assert.Nil(t, store.instance)
}

func TestDelete_AgentForbidden(t *testing.T) {
	store := &fakeStore{instance: &domain.WhatsAppInstance{ID: uuid.New()}}
	orch := NewOrchestrator(&fakeGateway{}, store, "https://crm.example.com")

	err := orch.Delete(context.Background(), uuid.New(), domain.RoleAgent)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.NotNil(t, store.instance)
}

func TestSendText_RequiresConnectedInstance(t *testing.T) {
	store := &fakeStore{instance: &domain.WhatsAppInstance{
		ID:     uuid.New(),
		Status: domain.InstanceStatusConnecting,
	}}
	orch := NewOrchestrator(&fakeGateway{}, store, "https://crm.example.com")

	_, err := orch.SendText(context.Background(), uuid.New(), "5511999990000", "hello")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestSendText_Connected(t *testing.T) {
	store := &fakeStore{instance: &domain.WhatsAppInstance{
		ID:     uuid.New(),
		Token:  "tok",
		Status: domain.InstanceStatusConnected,
	}}
	orch := NewOrchestrator(&fakeGateway{}, store, "https://crm.example.com")

	id, err := orch.SendText(context.Background(), uuid.New(), "5511999990000", "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
}

func TestBuildAttempt_DataURIPassthrough(t *testing.T) {
	orch := NewOrchestrator(&fakeGateway{}, &fakeStore{}, "https://crm.example.com")

	attempt := orch.buildAttempt(&gateway.ConnectResult{QRCode: "data:image/png;base64,AAAA", PairingCode: "ABCD-1234"})
	require.NotNil(t, attempt)
	assert.Equal(t, "data:image/png;base64,AAAA", attempt.QRCode)
	assert.Equal(t, "ABCD-1234", attempt.PairingCode)
}
