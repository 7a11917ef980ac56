package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveWebhookBaseURL_Development(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", resolveWebhookBaseURL("", false))
	assert.Equal(t, "http://localhost:3000", resolveWebhookBaseURL("http://localhost:3000/", false))
}

func TestResolveWebhookBaseURL_ProductionUnset(t *testing.T) {
	assert.Equal(t, fallbackWebhookHost, resolveWebhookBaseURL("", true))
}

func TestResolveWebhookBaseURL_ProductionValid(t *testing.T) {
	assert.Equal(t, "https://crm.example.com", resolveWebhookBaseURL("https://crm.example.com/", true))
}

func TestResolveWebhookBaseURL_ProductionRejectsUnreachable(t *testing.T) {
	assert.Equal(t, fallbackWebhookHost, resolveWebhookBaseURL("http://crm.example.com", true))
	assert.Equal(t, fallbackWebhookHost, resolveWebhookBaseURL("https://localhost:8080", true))
	assert.Equal(t, fallbackWebhookHost, resolveWebhookBaseURL("https://127.0.0.1", true))
	assert.Equal(t, fallbackWebhookHost, resolveWebhookBaseURL("not a url", true))
}
