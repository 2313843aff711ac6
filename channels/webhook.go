package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/vigie/horosafe"
)

// WebhookConfig configures the outbound webhook connector.
type WebhookConfig struct {
	// URL receives a JSON POST for every notified batch.
	URL string `yaml:"url" json:"url"`
	// Secret is an optional shared secret. When set, requests carry an
	// X-Signature-256 header with the hex-encoded HMAC-SHA256 of the body.
	Secret string `yaml:"-" json:"secret,omitempty"`
	// Timeout bounds each delivery attempt. Defaults to 15s.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

func (c *WebhookConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
}

// webhookPayload is the wire format POSTed to the receiver.
type webhookPayload struct {
	Kind   string  `json:"kind"`
	Count  int     `json:"count"`
	SentAt string  `json:"sent_at"`
	Events []Event `json:"events"`
}

// Webhook posts change batches as JSON to a configured receiver.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
	logger *slog.Logger
}

// NewWebhook validates the receiver URL and optional secret. URLs resolving
// to loopback or private ranges are rejected; the receiver is an external
// system, not something on our own network.
func NewWebhook(cfg WebhookConfig, logger *slog.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, &ErrNotConfigured{Channel: "webhook", Missing: "url"}
	}
	if err := horosafe.ValidateURL(cfg.URL); err != nil {
		return nil, fmt.Errorf("channels: webhook url: %w", err)
	}
	if cfg.Secret != "" {
		if err := horosafe.ValidateSecret([]byte(cfg.Secret)); err != nil {
			return nil, fmt.Errorf("channels: webhook secret: %w", err)
		}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (w *Webhook) Name() string { return "webhook" }

// Notify posts the whole batch in one request. A non-2xx response is a
// delivery failure.
func (w *Webhook) Notify(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	payload := webhookPayload{
		Kind:   "job_changes",
		Count:  len(events),
		SentAt: time.Now().UTC().Format(time.RFC3339),
		Events: events,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &ErrSendFailed{Channel: w.Name(), Cause: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &ErrSendFailed{Channel: w.Name(), Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+signBody(w.cfg.Secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return &ErrSendFailed{Channel: w.Name(), Cause: fmt.Errorf("POST: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := horosafe.LimitedReadAll(resp.Body, 2048)
		return &ErrSendFailed{Channel: w.Name(),
			Cause: fmt.Errorf("receiver returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))}
	}

	w.logger.Info("channels: webhook delivered", "count", len(events), "status", resp.StatusCode)
	return nil
}

// signBody returns the hex HMAC-SHA256 of body under secret.
func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received X-Signature-256 header value against the
// body. The optional "sha256=" prefix is accepted. Receivers embedding this
// package can use it to authenticate our deliveries.
func VerifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	const prefix = "sha256="
	if len(signature) > len(prefix) && signature[:len(prefix)] == prefix {
		signature = signature[len(prefix):]
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}
