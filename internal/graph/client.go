// Package graph talks to the Meta WhatsApp Business Graph API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"waba-gateway/pkg/metrics"
)

// Config is built once at startup; the client never mutates it.
type Config struct {
	BaseURL           string
	APIVersion        string
	AccessToken       string
	PhoneNumberID     string
	BusinessAccountID string
	Timeout           time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v19.0"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is the platform's parsed error body.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Subcode int    `json:"error_subcode,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error %d: %s", e.Code, e.Message)
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// SendResponse is the success body of POST /{phoneNumberId}/messages.
type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []SentMessage `json:"messages"`
}

type SentMessage struct {
	ID string `json:"id"`
}

func (c *Client) phoneURL(path string) string {
	return fmt.Sprintf("%s/%s/%s%s", c.cfg.BaseURL, c.cfg.APIVersion, c.cfg.PhoneNumberID, path)
}

func (c *Client) businessURL(path string) string {
	return fmt.Sprintf("%s/%s/%s%s", c.cfg.BaseURL, c.cfg.APIVersion, c.cfg.BusinessAccountID, path)
}

func (c *Client) do(ctx context.Context, operation, method, rawURL string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.GraphRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var envelope errorEnvelope
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error != nil {
			return envelope.Error
		}
		return fmt.Errorf("graph api status %s: %s", resp.Status, string(respBody))
	}

	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

// SendMessage posts one outbound message and returns the assigned id.
func (c *Client) SendMessage(ctx context.Context, msg GenericMessage) (*SendResponse, error) {
	var resp SendResponse
	if err := c.do(ctx, "send_message", http.MethodPost, c.phoneURL("/messages"), msg, &resp); err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, fmt.Errorf("graph api response missing message id")
	}
	return &resp, nil
}

// MarkRead issues a read receipt for an inbound message.
func (c *Client) MarkRead(ctx context.Context, externalMessageID string) error {
	body := map[string]string{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        externalMessageID,
	}
	return c.do(ctx, "mark_read", http.MethodPost, c.phoneURL("/messages"), body, nil)
}

// TemplateRequest is the body of POST /{businessAccountId}/message_templates.
type TemplateRequest struct {
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Category   string              `json:"category"`
	Components []TemplateComponent `json:"components"`
}

type TemplateComponent struct {
	Type    string           `json:"type"`
	Format  string           `json:"format,omitempty"`
	Text    string           `json:"text,omitempty"`
	Buttons []TemplateButton `json:"buttons,omitempty"`
}

type TemplateButton struct {
	Type string `json:"type"`
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// TemplateCreateResponse is the success body of a template submission.
type TemplateCreateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Client) CreateTemplate(ctx context.Context, req TemplateRequest) (*TemplateCreateResponse, error) {
	var resp TemplateCreateResponse
	if err := c.do(ctx, "create_template", http.MethodPost, c.businessURL("/message_templates"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoteTemplate is one entry of the remote template registry.
type RemoteTemplate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Language string `json:"language,omitempty"`
	Category string `json:"category,omitempty"`
}

func (c *Client) ListTemplates(ctx context.Context) ([]RemoteTemplate, error) {
	var resp struct {
		Data []RemoteTemplate `json:"data"`
	}
	if err := c.do(ctx, "list_templates", http.MethodGet, c.businessURL("/message_templates"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) DeleteTemplate(ctx context.Context, name string) error {
	rawURL := c.businessURL("/message_templates?name=" + url.QueryEscape(name))
	return c.do(ctx, "delete_template", http.MethodDelete, rawURL, nil, nil)
}
