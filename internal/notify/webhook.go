// Package notify implements the notifications stream (spec.md §7): a
// persisted Notification row plus, if a webhook URL is configured, a
// rate-limited fire-and-forget POST. Adapted from the teacher's
// webhook.Client, whose async-with-WaitGroup-tracking shape is kept;
// the payload changed from campaign-run summaries to per-lead/job
// notifications and a local rate limiter was added so a bounce storm on
// one lead cannot flood the configured webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sequencehq/engine/internal/ratelimit"
	"github.com/sequencehq/engine/internal/types"
)

// Notification kinds, the four cases SPEC_FULL.md §4.11 names.
const (
	KindLeadDead          = "lead_dead"
	KindLeadComplaint     = "lead_complaint"
	KindManualRetryNeeded = "manual_retry_needed"
	KindRescheduleFailed  = "reschedule_failed"
)

// Store is the persistence the notifier needs: durably recording every
// notification regardless of whether the webhook delivery succeeds.
type Store interface {
	CreateNotification(ctx context.Context, n types.Notification) error
}

// Client persists notifications and optionally fans them out over a
// configured webhook.
type Client struct {
	httpClient *http.Client
	store      Store
	limiter    *ratelimit.RateLimiter
	webhookURL string
	log        *logrus.Logger

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewClient creates a notification client. webhookURL == "" disables
// webhook fan-out; notifications are still persisted.
func NewClient(store Store, webhookURL string, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
		limiter:    ratelimit.NewRateLimiter(5, 10), // 5 webhook posts/sec, burst 10
		webhookURL: webhookURL,
		log:        log,
	}
}

// Notify persists n and, if a webhook is configured and not rate
// limited, fires an async POST. Persistence failure is returned;
// webhook delivery failure is only logged, since the notification
// itself is already durable.
func (c *Client) Notify(ctx context.Context, n types.Notification) error {
	if err := c.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	if c.webhookURL == "" {
		return nil
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil
	}

	if !c.limiter.Allow() {
		c.log.WithField("kind", n.Kind).Warn("notify: webhook rate limit exceeded, dropping fan-out")
		return nil
	}

	c.sendAsync(n)
	return nil
}

func (c *Client) sendAsync(n types.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		c.log.WithError(err).Error("notify: failed to marshal webhook payload")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewBuffer(payload))
		if err != nil {
			c.log.WithError(err).Error("notify: failed to build webhook request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "sequence-engine-webhook/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.WithError(err).WithField("url", c.webhookURL).Warn("notify: webhook delivery failed")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.log.WithFields(logrus.Fields{"url": c.webhookURL, "status": resp.StatusCode}).Warn("notify: webhook returned non-2xx")
		}
	}()
}

// ValidateURL performs basic validation on a configured webhook URL.
func ValidateURL(url string) error {
	if url == "" {
		return nil
	}
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("webhook URL must use http or https scheme")
	}
	return nil
}

// Close waits for all pending webhook requests to complete.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()
}
