// Package email sends transactional mail through Postmark. Sending is a
// best-effort side effect: callers log failures and never let them roll back
// a committed license.
package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/keymint/keymint/internal/model"
)

const defaultAPIURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL overrides the Postmark endpoint, for tests.
func WithAPIURL(url string) Option {
	return func(cl *Client) {
		cl.apiURL = url
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		apiURL:      defaultAPIURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Send dispatches a single transactional email.
func (c *Client) Send(to, subject, htmlBody, textBody string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       to,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequest("POST", c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}

// SendLicenseKey delivers a freshly issued license key to the customer.
func (c *Client) SendLicenseKey(to, name, key string, plan model.PlanType, expiresAt time.Time) error {
	greeting := "Hi"
	if name != "" {
		greeting = "Hi " + name
	}

	expiry := "never expires"
	if plan != model.PlanLifetime {
		expiry = "is valid until " + expiresAt.Format("January 2, 2006")
	}

	subject := "Your Keymint license key"
	textBody := fmt.Sprintf(
		"%s,\n\nThanks for your purchase. Your %s license key:\n\n%s\n\nIt %s and can be activated on one device.\n",
		greeting, plan, key, expiry,
	)
	htmlBody := fmt.Sprintf(
		`<p>%s,</p><p>Thanks for your purchase. Your %s license key:</p><p><code>%s</code></p><p>It %s and can be activated on one device.</p>`,
		greeting, plan, key, expiry,
	)

	return c.Send(to, subject, htmlBody, textBody)
}
