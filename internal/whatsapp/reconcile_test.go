package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zapdesk/zapdesk/internal/domain"
	"github.com/zapdesk/zapdesk/internal/gateway"
)

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, domain.InstanceStatusConnected, NormalizeStatus("connected"))
	assert.Equal(t, domain.InstanceStatusConnected, NormalizeStatus("open"))
	assert.Equal(t, domain.InstanceStatusConnecting, NormalizeStatus("connecting"))
	assert.Equal(t, domain.InstanceStatusConnecting, NormalizeStatus("qrcode"))
	assert.Equal(t, domain.InstanceStatusConnecting, NormalizeStatus("pairing"))
	assert.Equal(t, domain.InstanceStatusDisconnected, NormalizeStatus("disconnected"))
	assert.Equal(t, domain.InstanceStatusDisconnected, NormalizeStatus(""))
	assert.Equal(t, domain.InstanceStatusDisconnected, NormalizeStatus("banana"))
}

func TestReconcile_NoChange(t *testing.T) {
	phone := "5511999990000"
	stored := &domain.WhatsAppInstance{
		Status:      domain.InstanceStatusConnected,
		PhoneNumber: &phone,
	}
	observed := &gateway.StatusObservation{Status: "connected", Phone: phone}

	next, changed := Reconcile(stored, observed, time.Now())
	assert.False(t, changed)
	assert.Equal(t, stored.Status, next.Status)
	assert.Equal(t, stored.PhoneNumber, next.PhoneNumber)
}

func TestReconcile_Idempotent(t *testing.T) {
	stored := &domain.WhatsAppInstance{Status: domain.InstanceStatusConnecting}
	observed := &gateway.StatusObservation{Status: "connected", Phone: "5511988887777"}
	now := time.Now()

	first, changed := Reconcile(stored, observed, now)
	assert.True(t, changed)

	// Applying the same observation to the reconciled record is a no-op.
	second, changed := Reconcile(first, observed, now.Add(time.Minute))
	assert.False(t, changed)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.LastConnectedAt, second.LastConnectedAt)
}

func TestReconcile_TransitionIntoConnectedStampsTimestamp(t *testing.T) {
	stored := &domain.WhatsAppInstance{Status: domain.InstanceStatusConnecting}
	now := time.Now()

	next, changed := Reconcile(stored, &gateway.StatusObservation{Status: "connected"}, now)
	assert.True(t, changed)
	assert.Equal(t, domain.InstanceStatusConnected, next.Status)
	if assert.NotNil(t, next.LastConnectedAt) {
		assert.Equal(t, now, *next.LastConnectedAt)
	}
}

func TestReconcile_AlreadyConnectedKeepsTimestamp(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	stored := &domain.WhatsAppInstance{
		Status:          domain.InstanceStatusConnected,
		LastConnectedAt: &old,
	}

	// New phone, same status: the connection timestamp must not move.
	next, changed := Reconcile(stored, &gateway.StatusObservation{Status: "connected", Phone: "5511977776666"}, time.Now())
	assert.True(t, changed)
	assert.Equal(t, &old, next.LastConnectedAt)
	if assert.NotNil(t, next.PhoneNumber) {
		assert.Equal(t, "5511977776666", *next.PhoneNumber)
	}
}

func TestReconcile_Disconnect(t *testing.T) {
	phone := "5511999990000"
	connectedAt := time.Now().Add(-time.Hour)
	stored := &domain.WhatsAppInstance{
		Status:          domain.InstanceStatusConnected,
		PhoneNumber:     &phone,
		LastConnectedAt: &connectedAt,
	}

	next, changed := Reconcile(stored, &gateway.StatusObservation{Status: "disconnected"}, time.Now())
	assert.True(t, changed)
	assert.Equal(t, domain.InstanceStatusDisconnected, next.Status)
	// A disconnect observation carries no phone; the stored one stays for
	// display until an explicit disconnect clears it.
	assert.Equal(t, &phone, next.PhoneNumber)
	assert.Equal(t, &connectedAt, next.LastConnectedAt)
}

func TestReconcile_EmptyPhoneIgnored(t *testing.T) {
	phone := "5511999990000"
	stored := &domain.WhatsAppInstance{
		Status:      domain.InstanceStatusConnected,
		PhoneNumber: &phone,
	}

	next, changed := Reconcile(stored, &gateway.StatusObservation{Status: "connected", Phone: ""}, time.Now())
	assert.False(t, changed)
	assert.Equal(t, &phone, next.PhoneNumber)
}

func TestReconcile_DoesNotMutateStored(t *testing.T) {
	stored := &domain.WhatsAppInstance{Status: domain.InstanceStatusConnecting}

	_, changed := Reconcile(stored, &gateway.StatusObservation{Status: "connected"}, time.Now())
	assert.True(t, changed)
	assert.Equal(t, domain.InstanceStatusConnecting, stored.Status)
	assert.Nil(t, stored.LastConnectedAt)
}
