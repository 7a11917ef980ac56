package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewClient(Config{BaseURL: srv.URL, AdminToken: "admin-secret"})
	return client, srv
}

func TestInitInstance_SendsAdminToken(t *testing.T) {
	var gotHeader, gotName string
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("admintoken")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotName = body["name"]
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "inst-token"})
	}))
	defer srv.Close()

	token, err := client.InitInstance("org_acme")
	require.NoError(t, err)
	assert.Equal(t, "inst-token", token)
	assert.Equal(t, "admin-secret", gotHeader)
	assert.Equal(t, "org_acme", gotName)
}

func TestInitInstance_NestedTokenShape(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"instance":{"token":"nested-token"}}`))
	}))
	defer srv.Close()

	token, err := client.InitInstance("org_acme")
	require.NoError(t, err)
	assert.Equal(t, "nested-token", token)
}

func TestInitInstance_NonOKCarriesStatusAndBody(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"name already in use"}`))
	}))
	defer srv.Close()

	_, err := client.InitInstance("org_acme")
	require.Error(t, err)

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusConflict, gwErr.Status)
	assert.Contains(t, gwErr.Body, "name already in use")
	assert.Contains(t, gwErr.Error(), "409")
}

func TestConnect_SendsInstanceToken(t *testing.T) {
	var gotToken string
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("token")
		_, _ = w.Write([]byte(`{"instance":{"qrcode":"2@abc","paircode":"ABCD-1234"}}`))
	}))
	defer srv.Close()

	res, err := client.Connect("inst-token")
	require.NoError(t, err)
	assert.Equal(t, "inst-token", gotToken)
	assert.Equal(t, "2@abc", res.QRCode)
	assert.Equal(t, "ABCD-1234", res.PairingCode)
}

func TestGetStatus_MatchesTokenInFleetListing(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instance/all", r.URL.Path)
		assert.Equal(t, "admin-secret", r.Header.Get("admintoken"))
		_, _ = w.Write([]byte(`[
			{"name":"org_other","token":"other","status":"disconnected"},
			{"name":"org_acme","token":"inst-token","status":"connected","phoneConnected":"5511999990000"}
		]`))
	}))
	defer srv.Close()

	obs, err := client.GetStatus("inst-token")
	require.NoError(t, err)
	assert.Equal(t, "connected", obs.Status)
	assert.Equal(t, "5511999990000", obs.Phone)
}

func TestGetStatus_MissingTokenReadsDisconnected(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	obs, err := client.GetStatus("unknown-token")
	require.NoError(t, err)
	assert.Equal(t, "disconnected", obs.Status)
	assert.Empty(t, obs.Phone)
}

func TestGetStatus_WrappedListingShape(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"instances":[{"token":"inst-token","status":"connecting"}]}`))
	}))
	defer srv.Close()

	obs, err := client.GetStatus("inst-token")
	require.NoError(t, err)
	assert.Equal(t, "connecting", obs.Status)
}

func TestConfigureWebhook_Payload(t *testing.T) {
	var payload map[string]interface{}
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webhook", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	err := client.ConfigureWebhook("inst-token", "https://crm.example.com/webhooks/uazapi/abc")
	require.NoError(t, err)
	assert.Equal(t, true, payload["enabled"])
	assert.Equal(t, "https://crm.example.com/webhooks/uazapi/abc", payload["url"])
	assert.ElementsMatch(t, []interface{}{"messages", "connection", "messages_update"}, payload["events"])
	assert.ElementsMatch(t, []interface{}{"wasSentByApi", "fromMe"}, payload["excludeMessages"])
}

func TestSendText(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send/text", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "5511999990000", body["number"])
		assert.Equal(t, "hello", body["text"])
		_, _ = w.Write([]byte(`{"id":"3EB0538DA65A"}`))
	}))
	defer srv.Close()

	res, err := client.SendText("inst-token", "5511999990000", "hello")
	require.NoError(t, err)
	assert.Equal(t, "3EB0538DA65A", res.MessageID)
}

func TestTransportFailureWrapsError(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", AdminToken: "x"})

	_, err := client.ListInstances()
	require.Error(t, err)

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Zero(t, gwErr.Status)
	assert.NotNil(t, gwErr.Unwrap())
}

func TestDecodeBase64Payload(t *testing.T) {
	raw, err := decodeBase64Payload("aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), raw)

	raw, err = decodeBase64Payload("data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), raw)

	_, err = decodeBase64Payload("")
	assert.Error(t, err)

	_, err = decodeBase64Payload("!!!not base64!!!")
	assert.Error(t, err)
}
