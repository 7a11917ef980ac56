package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InstanceTransitions counts persisted instance status changes by target status.
	InstanceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapdesk_instance_transitions_total",
		Help: "WhatsApp instance status transitions persisted, by new status",
	}, []string{"status"})

	// MessagesSent counts outbound messages accepted by the gateway.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapdesk_messages_sent_total",
		Help: "Outbound WhatsApp messages accepted by the gateway, by type",
	}, []string{"type"})

	// WebhookEvents counts inbound gateway webhook deliveries by event type.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapdesk_webhook_events_total",
		Help: "Gateway webhook events received, by event type",
	}, []string{"event"})

	// CampaignRecipients counts campaign sends by outcome.
	CampaignRecipients = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapdesk_campaign_recipients_total",
		Help: "Campaign recipients processed, by outcome",
	}, []string{"outcome"})
)
