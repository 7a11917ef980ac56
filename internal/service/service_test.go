package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdesk/zapdesk/internal/domain"
	"github.com/zapdesk/zapdesk/internal/gateway"
	"github.com/zapdesk/zapdesk/internal/whatsapp"
)

func TestValidateToken_RoundTrip(t *testing.T) {
	secret := "test-secret"
	claims := &JWTClaims{
		UserID:         uuid.New(),
		OrganizationID: uuid.New(),
		Username:       "maria",
		Role:           domain.RoleManager,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "zapdesk",
		},
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	svc := &AuthService{}
	parsed, err := svc.ValidateToken(tokenString, secret)
	require.NoError(t, err)
	assert.Equal(t, claims.UserID, parsed.UserID)
	assert.Equal(t, claims.OrganizationID, parsed.OrganizationID)
	assert.Equal(t, "maria", parsed.Username)
	assert.Equal(t, domain.RoleManager, parsed.Role)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	claims := &JWTClaims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("right"))
	require.NoError(t, err)

	svc := &AuthService{}
	_, err = svc.ValidateToken(tokenString, "wrong")
	assert.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	claims := &JWTClaims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	svc := &AuthService{}
	_, err = svc.ValidateToken(tokenString, "secret")
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "acme-corp", slugify("Acme Corp"))
	assert.Equal(t, "loja-da-maria", slugify("  Loja da Maria  "))
	assert.Equal(t, "a1-b2", slugify("A1 / B2"))
	assert.Equal(t, "trailing", slugify("Trailing!!!"))
}

func TestRenderTemplate(t *testing.T) {
	name := "Maria"
	rec := &domain.CampaignRecipient{Phone: "5511999990000", Name: &name}

	out := RenderTemplate("Hi {{name}}, confirm at {{phone}}?", rec)
	assert.Equal(t, "Hi Maria, confirm at 5511999990000?", out)
}

func TestRenderTemplate_FallsBackToPhone(t *testing.T) {
	rec := &domain.CampaignRecipient{Phone: "5511999990000"}

	out := RenderTemplate("Hi {{name}}", rec)
	assert.Equal(t, "Hi 5511999990000", out)
}

func TestRenderTemplate_UnknownPlaceholderKept(t *testing.T) {
	rec := &domain.CampaignRecipient{Phone: "5511999990000"}

	out := RenderTemplate("Hi {{first_name}}", rec)
	assert.Equal(t, "Hi {{first_name}}", out)
}

func TestInstanceView_CarriesAttempt(t *testing.T) {
	phone := "5511999990000"
	instance := &domain.WhatsAppInstance{
		Status:      domain.InstanceStatusConnecting,
		PhoneNumber: &phone,
		Token:       "secret-token",
	}
	attempt := &domain.ConnectionAttempt{QRCode: "data:image/png;base64,AAAA", PairingCode: "ABCD"}

	view := instanceView(instance, attempt)
	assert.True(t, view.Configured)
	assert.Equal(t, domain.InstanceStatusConnecting, view.Status)
	assert.Equal(t, "data:image/png;base64,AAAA", view.QRCode)
	assert.Equal(t, "ABCD", view.PairingCode)
}

type stubGateway struct{}

func (stubGateway) InitInstance(name string) (string, error) { return "tok", nil }
func (stubGateway) ConfigureWebhook(token, url string) error { return nil }
func (stubGateway) Connect(token string) (*gateway.ConnectResult, error) {
	return &gateway.ConnectResult{}, nil
}
func (stubGateway) GetStatus(token string) (*gateway.StatusObservation, error) {
	return &gateway.StatusObservation{Status: "disconnected"}, nil
}
func (stubGateway) Disconnect(token string) error     { return nil }
func (stubGateway) DeleteInstance(token string) error { return nil }
func (stubGateway) SendText(token, number, text string) (*gateway.SendResult, error) {
	return &gateway.SendResult{}, nil
}
func (stubGateway) SendMedia(token, number, mediaType, file, caption string) (*gateway.SendResult, error) {
	return &gateway.SendResult{}, nil
}
func (stubGateway) FetchContacts(token string) ([]gateway.RemoteContact, error) { return nil, nil }
func (stubGateway) DownloadProfilePicture(token, number string) (string, error) { return "", nil }
func (stubGateway) DownloadMessage(token, messageID string) ([]byte, string, error) {
	return nil, "", nil
}

type emptyStore struct{}

func (emptyStore) GetByOrgID(ctx context.Context, orgID uuid.UUID) (*domain.WhatsAppInstance, error) {
	return nil, nil
}
func (emptyStore) Create(ctx context.Context, instance *domain.WhatsAppInstance) error { return nil }
func (emptyStore) UpdateStatusAndPhone(ctx context.Context, id uuid.UUID, status string, phone *string, lastConnectedAt *time.Time) error {
	return nil
}
func (emptyStore) SetWebhookConfigured(ctx context.Context, id uuid.UUID, configured bool) error {
	return nil
}
func (emptyStore) Delete(ctx context.Context, id uuid.UUID) error { return nil }

func TestInstanceGet_MissingRecordReadsNotConfigured(t *testing.T) {
	orch := whatsapp.NewOrchestrator(stubGateway{}, emptyStore{}, "https://crm.example.com")
	svc := &InstanceService{orch: orch}

	view, err := svc.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, view.Configured)
	assert.Equal(t, domain.InstanceStatusNotConfigured, view.Status)
}

func TestDefaultPipeline(t *testing.T) {
	orgID := uuid.New()
	p := DefaultPipeline(orgID)

	assert.Equal(t, orgID, p.OrganizationID)
	assert.True(t, p.IsDefault)
	assert.Equal(t, "Sales Pipeline", p.Name)
	require.Len(t, p.Stages, 6)
	assert.Equal(t, "New", p.Stages[0].Name)
	assert.Equal(t, "Lost", p.Stages[5].Name)
	for i, stage := range p.Stages {
		assert.Equal(t, i, stage.Position)
		assert.NotEmpty(t, stage.Color)
	}
}
