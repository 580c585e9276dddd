package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/safepay/escrow-gateway/internal/events"
	"github.com/safepay/escrow-gateway/pkg/logger"
	"github.com/safepay/escrow-gateway/pkg/prom"
)

const (
	headerSignature = "X-Escrow-Signature"
	headerEventType = "X-Escrow-Event"
	userAgent       = "escrow-gateway-webhook/1.0"
)

type Config struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Webhook delivers transaction lifecycle events to a merchant endpoint.
// Payloads are signed with HMAC-SHA256 over the raw body so the receiver
// can verify origin.
type Webhook struct {
	config Config
	client *http.Client
}

func NewWebhook(config Config) (*Webhook, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 200 * time.Millisecond
	}
	return &Webhook{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Deliver posts the event to the configured endpoint, retrying transient
// failures. A 2xx response counts as delivered; anything else is an error.
func (w *Webhook) Deliver(ctx context.Context, ev events.TransactionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				prom.AddWebhookDeliveryDuration(time.Since(start).Seconds(), "timeout")
				return ctx.Err()
			case <-time.After(w.config.RetryDelay):
			}
		}

		lastErr = w.post(ctx, ev.Type, body)
		if lastErr == nil {
			prom.AddWebhookDeliveryDuration(time.Since(start).Seconds(), "success")
			return nil
		}

		logger.Warn("webhook delivery attempt failed",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	prom.AddWebhookDeliveryDuration(time.Since(start).Seconds(), "failure")
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", w.config.MaxRetries, lastErr)
}

func (w *Webhook) post(ctx context.Context, eventType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(headerEventType, eventType)
	if w.config.Secret != "" {
		req.Header.Set(headerSignature, Sign(w.config.Secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
}

// Sign computes the hex HMAC-SHA256 of body under secret. Receivers use
// the same computation to verify the X-Escrow-Signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
