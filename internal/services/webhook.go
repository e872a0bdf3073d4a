package services

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"kontor/internal/metrics"

	"github.com/sirupsen/logrus"
)

// webhookMaxAttempts is the total attempt cap per delivery: one try plus at
// most one retry on a transient failure.
const webhookMaxAttempts = 2

// WebhookClient delivers rule-triggered webhooks. Policy: POST only, HTTPS
// only, destination host must exactly match an entry of the tenant's domain
// allow-list; an empty allow-list denies everything.
type WebhookClient struct {
	client *http.Client
	logger *logrus.Logger
}

func NewWebhookClient(timeout time.Duration, logger *logrus.Logger) *WebhookClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &WebhookClient{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Deliver posts the JSON payload to rawURL. The allow-list check happens
// before any network I/O: a denied destination performs zero HTTP calls.
func (c *WebhookClient) Deliver(ctx context.Context, rawURL string, allowedDomains []string, payload map[string]interface{}) Outcome {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return permanentOutcome("invalid_url", fmt.Sprintf("webhook url %q is not absolute", rawURL))
	}
	if u.Scheme != "https" {
		return permanentOutcome("insecure_url", "webhook destinations must use https")
	}
	if !hostAllowed(u.Hostname(), allowedDomains) {
		metrics.WebhookAttempts.WithLabelValues("denied").Inc()
		return permanentOutcome("domain_not_allowed", fmt.Sprintf("host %q is not on the tenant allow-list", u.Hostname()))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return permanentOutcome("invalid_payload", err.Error())
	}

	var last Outcome
	for attempt := 1; attempt <= webhookMaxAttempts; attempt++ {
		last = c.post(ctx, rawURL, body)
		metrics.WebhookAttempts.WithLabelValues(metrics.OutcomeClass(last.Status)).Inc()
		if !last.IsTransient() {
			return last
		}
		c.logger.Warnf("webhook: attempt %d/%d to %s failed transiently: %s", attempt, webhookMaxAttempts, u.Hostname(), last.Detail)
	}
	return last
}

func (c *WebhookClient) post(ctx context.Context, rawURL string, body []byte) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return permanentOutcome("invalid_request", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return okOutcome(fmt.Sprintf("webhook delivered (%d)", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return transientOutcome(fmt.Sprintf("http_%d", resp.StatusCode), "webhook endpoint returned a retryable status")
	default:
		return permanentOutcome(fmt.Sprintf("http_%d", resp.StatusCode), "webhook endpoint rejected the request")
	}
}

// classifyTransportError separates retryable network failures from ones a
// retry cannot fix. DNS and certificate problems are configuration issues,
// timeouts and refused connections may pass on the next attempt.
func classifyTransportError(err error) Outcome {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return permanentOutcome("dns_failure", dnsErr.Error())
	}
	var certErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return permanentOutcome("tls_failure", certErr.Error())
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return permanentOutcome("tls_failure", hostErr.Error())
	}
	return transientOutcome("network", err.Error())
}

func hostAllowed(host string, allowed []string) bool {
	for _, d := range allowed {
		if host == d {
			return true
		}
	}
	return false
}
