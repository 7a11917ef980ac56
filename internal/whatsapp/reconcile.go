package whatsapp

import (
	"time"

	"github.com/zapdesk/zapdesk/internal/domain"
	"github.com/zapdesk/zapdesk/internal/gateway"
)

// NormalizeStatus maps the gateway's free-form status strings onto the
// instance status set. Anything unknown reads as disconnected.
func NormalizeStatus(s string) string {
	switch s {
	case "connected", "open":
		return domain.InstanceStatusConnected
	case "connecting", "qrcode", "pairing":
		return domain.InstanceStatusConnecting
	default:
		return domain.InstanceStatusDisconnected
	}
}

// Reconcile compares the stored instance record against a gateway
// observation and returns the record as it should be persisted, plus whether
// anything changed. changed is true iff the status differs or the observation
// carries a phone number that differs from the stored one. LastConnectedAt is
// stamped only on a transition into connected.
func Reconcile(stored *domain.WhatsAppInstance, observed *gateway.StatusObservation, now time.Time) (*domain.WhatsAppInstance, bool) {
	next := *stored
	changed := false

	observedStatus := NormalizeStatus(observed.Status)
	if observedStatus != stored.Status {
		next.Status = observedStatus
		changed = true
		if observedStatus == domain.InstanceStatusConnected {
			next.LastConnectedAt = &now
		}
	}

	if observed.Phone != "" && (stored.PhoneNumber == nil || *stored.PhoneNumber != observed.Phone) {
		phone := observed.Phone
		next.PhoneNumber = &phone
		changed = true
	}

	return &next, changed
}
