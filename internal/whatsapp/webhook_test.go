package whatsapp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeJID(t *testing.T) {
	assert.Equal(t, "5511999990000", normalizeJID("5511999990000@s.whatsapp.net"))
	assert.Equal(t, "123456789-987654", normalizeJID("123456789-987654@g.us"))
	assert.Equal(t, "5511999990000", normalizeJID("5511999990000"))
	assert.Equal(t, "", normalizeJID(""))
}

func TestWebhookEvent_ConnectionPayload(t *testing.T) {
	raw := `{
		"event": "connection",
		"status": "connected",
		"instance": {"status": "connected", "owner": "5511999990000@s.whatsapp.net"}
	}`

	var event WebhookEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	assert.Equal(t, "connection", event.Event)
	assert.Equal(t, "connected", event.Status)
	assert.NotEmpty(t, event.Instance)
}

func TestWebhookEvent_MessagePayload(t *testing.T) {
	raw := `{
		"event": "messages",
		"message": {
			"id": "3EB0538DA65A",
			"chatid": "5511988887777@s.whatsapp.net",
			"sender": "5511988887777@s.whatsapp.net",
			"senderName": "Maria",
			"fromMe": false,
			"wasSentByApi": false,
			"type": "text",
			"text": "oi, tudo bem?",
			"messageTimestamp": 1756600000000
		}
	}`

	var event WebhookEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	require.NotNil(t, event.Message)
	assert.Equal(t, "3EB0538DA65A", event.Message.ID)
	assert.Equal(t, "Maria", event.Message.SenderName)
	assert.False(t, event.Message.FromMe)
	assert.False(t, event.Message.WasSentByAPI)
	assert.Equal(t, "oi, tudo bem?", event.Message.Text)
}

func TestWebhookEvent_UpdatePayload(t *testing.T) {
	raw := `{"event": "messages_update", "update": {"id": "3EB0538DA65A", "status": "read"}}`

	var event WebhookEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	require.NotNil(t, event.Update)
	assert.Equal(t, "3EB0538DA65A", event.Update.MessageID)
	assert.Equal(t, "read", event.Update.Status)
}
