package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds the gateway connection settings. The admin token authorizes
// fleet-level instance management; per-instance tokens are issued by the
// gateway at init time.
type Config struct {
	BaseURL    string
	AdminToken string
}

// Client is a typed HTTP client for the uazapi WhatsApp gateway.
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

// NewClient creates a new gateway client.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		adminToken: cfg.AdminToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Error is a non-2xx or transport failure from the gateway. It carries the
// upstream status and body so callers can log what the gateway actually said.
type Error struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("uazapi %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("uazapi %s returned %d: %s", e.Op, e.Status, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// doRequest issues a request with the given auth header. authHeader is either
// "admintoken" or "token" depending on the call scope.
func (c *Client) doRequest(op, method, path, authHeader, authValue string, payload interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Op: op, Err: fmt.Errorf("marshal body: %w", err)}
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(authHeader, authValue)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Op: op, Status: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

func (c *Client) adminRequest(op, method, path string, payload interface{}) ([]byte, error) {
	return c.doRequest(op, method, path, "admintoken", c.adminToken, payload)
}

func (c *Client) instanceRequest(op, method, path, token string, payload interface{}) ([]byte, error) {
	return c.doRequest(op, method, path, "token", token, payload)
}

// --- Instance management (admin token) ---

// InstanceInfo is one entry of the gateway's fleet listing.
type InstanceInfo struct {
	Name   string `json:"name"`
	Token  string `json:"token"`
	Status string `json:"status"`
	Owner  string `json:"owner,omitempty"`
	Phone  string `json:"phoneConnected,omitempty"`
}

// InitInstance provisions a new remote instance and returns its token.
// A name collision surfaces as a non-2xx *Error.
func (c *Client) InitInstance(name string) (string, error) {
	payload := map[string]string{"name": name}
	data, err := c.adminRequest("instance init", "POST", "/instance/init", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Token    string `json:"token"`
		Instance struct {
			Token string `json:"token"`
		} `json:"instance"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &Error{Op: "instance init", Err: fmt.Errorf("parse response: %w", err)}
	}
	token := resp.Token
	if token == "" {
		token = resp.Instance.Token
	}
	if token == "" {
		return "", &Error{Op: "instance init", Err: fmt.Errorf("no token in response")}
	}
	return token, nil
}

// ListInstances returns every instance under the admin token.
func (c *Client) ListInstances() ([]InstanceInfo, error) {
	data, err := c.adminRequest("instance list", "GET", "/instance/all", nil)
	if err != nil {
		return nil, err
	}

	var instances []InstanceInfo
	if err := json.Unmarshal(data, &instances); err != nil {
		// Some gateway versions wrap the array
		var wrapped struct {
			Instances []InstanceInfo `json:"instances"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, &Error{Op: "instance list", Err: fmt.Errorf("parse response: %w", err)}
		}
		instances = wrapped.Instances
	}
	return instances, nil
}

// --- Instance-scoped calls (per-instance token) ---

// ConfigureWebhook registers the callback URL and subscribed event set for an
// instance. Self-sent message noise is excluded so the webhook only carries
// externally relevant traffic.
func (c *Client) ConfigureWebhook(token, url string) error {
	payload := map[string]interface{}{
		"enabled":         true,
		"url":             url,
		"events":          []string{"messages", "connection", "messages_update"},
		"excludeMessages": []string{"wasSentByApi", "fromMe"},
	}
	_, err := c.instanceRequest("webhook config", "POST", "/webhook", token, payload)
	return err
}

// ConnectResult is the pairing payload for one connection attempt. The code
// expires on the gateway side; callers re-invoke Connect for a fresh one.
type ConnectResult struct {
	QRCode      string
	PairingCode string
}

// Connect requests a fresh QR / pairing code. Safe to call repeatedly.
func (c *Client) Connect(token string) (*ConnectResult, error) {
	data, err := c.instanceRequest("connect", "POST", "/instance/connect", token, map[string]string{})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Instance struct {
			QRCode   string `json:"qrcode"`
			Paircode string `json:"paircode"`
		} `json:"instance"`
		QRCode   string `json:"qrcode"`
		Paircode string `json:"paircode"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &Error{Op: "connect", Err: fmt.Errorf("parse response: %w", err)}
	}

	result := &ConnectResult{QRCode: resp.QRCode, PairingCode: resp.Paircode}
	if result.QRCode == "" {
		result.QRCode = resp.Instance.QRCode
	}
	if result.PairingCode == "" {
		result.PairingCode = resp.Instance.Paircode
	}
	return result, nil
}

// StatusObservation is the gateway's view of one instance.
type StatusObservation struct {
	Status string
	Phone  string
}

// GetStatus reports the connection state for the instance identified by token.
// The gateway has no per-token status endpoint, so this lists the whole fleet
// under the admin token and matches the token client-side. A missing entry
// means the instance is not yet visible remotely and reads as disconnected,
// not as an error.
func (c *Client) GetStatus(token string) (*StatusObservation, error) {
	instances, err := c.ListInstances()
	if err != nil {
		return nil, err
	}

	for _, inst := range instances {
		if inst.Token == token {
			status := inst.Status
			if status == "" {
				status = "disconnected"
			}
			return &StatusObservation{Status: status, Phone: inst.Phone}, nil
		}
	}
	return &StatusObservation{Status: "disconnected"}, nil
}

// Disconnect logs the instance out of WhatsApp. Best-effort on the caller
// side: the remote session may already be gone.
func (c *Client) Disconnect(token string) error {
	_, err := c.instanceRequest("disconnect", "POST", "/instance/disconnect", token, map[string]string{})
	return err
}

// DeleteInstance removes the instance from the gateway entirely.
func (c *Client) DeleteInstance(token string) error {
	_, err := c.instanceRequest("instance delete", "DELETE", "/instance", token, nil)
	return err
}

// --- Messaging ---

// SendResult identifies a message accepted by the gateway.
type SendResult struct {
	MessageID string `json:"id"`
}

// SendText sends a plain text message to a phone number.
func (c *Client) SendText(token, number, text string) (*SendResult, error) {
	payload := map[string]string{
		"number": number,
		"text":   text,
	}
	data, err := c.instanceRequest("send text", "POST", "/send/text", token, payload)
	if err != nil {
		return nil, err
	}

	var resp SendResult
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &Error{Op: "send text", Err: fmt.Errorf("parse response: %w", err)}
	}
	return &resp, nil
}

// SendMedia sends a media message. mediaType is one of image, video, audio,
// document; file is a URL or data URI the gateway can fetch.
func (c *Client) SendMedia(token, number, mediaType, file, caption string) (*SendResult, error) {
	payload := map[string]string{
		"number":  number,
		"type":    mediaType,
		"file":    file,
		"caption": caption,
	}
	data, err := c.instanceRequest("send media", "POST", "/send/media", token, payload)
	if err != nil {
		return nil, err
	}

	var resp SendResult
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &Error{Op: "send media", Err: fmt.Errorf("parse response: %w", err)}
	}
	return &resp, nil
}

// --- Contacts & media download ---

// RemoteContact is one synced contact from the connected phone.
type RemoteContact struct {
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	PushName string `json:"pushName"`
	IsGroup  bool   `json:"isGroup"`
}

// FetchContacts returns the contact book of the connected instance.
func (c *Client) FetchContacts(token string) ([]RemoteContact, error) {
	data, err := c.instanceRequest("fetch contacts", "GET", "/contacts", token, nil)
	if err != nil {
		return nil, err
	}

	var contacts []RemoteContact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, &Error{Op: "fetch contacts", Err: fmt.Errorf("parse response: %w", err)}
	}
	return contacts, nil
}

// DownloadProfilePicture resolves the avatar URL for a phone number.
func (c *Client) DownloadProfilePicture(token, number string) (string, error) {
	payload := map[string]string{"number": number}
	data, err := c.instanceRequest("download profile", "POST", "/misc/downProfile", token, payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &Error{Op: "download profile", Err: fmt.Errorf("parse response: %w", err)}
	}
	return resp.URL, nil
}

// DownloadMessage fetches the media content of a received message.
func (c *Client) DownloadMessage(token, messageID string) ([]byte, string, error) {
	payload := map[string]string{"id": messageID}
	data, err := c.instanceRequest("download message", "POST", "/message/download", token, payload)
	if err != nil {
		return nil, "", err
	}

	var resp struct {
		Base64   string `json:"base64"`
		Mimetype string `json:"mimetype"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, "", &Error{Op: "download message", Err: fmt.Errorf("parse response: %w", err)}
	}
	decoded, err := decodeBase64Payload(resp.Base64)
	if err != nil {
		return nil, "", &Error{Op: "download message", Err: err}
	}
	return decoded, resp.Mimetype, nil
}
