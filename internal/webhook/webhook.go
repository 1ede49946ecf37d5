// Package webhook posts task-completion notifications to a caller-supplied
// URL. Every outbound URL is checked against a private/loopback/link-local
// address filter first, since task webhookUrl values are untrusted input
// that could otherwise be used to reach internal services (SSRF).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/browseragent/taskqueue/internal/logger"
)

// ErrBlockedHost is returned when a webhook URL resolves to a disallowed
// network range.
var ErrBlockedHost = fmt.Errorf("webhook host is not externally reachable")

// Notifier posts JSON payloads to webhook URLs.
type Notifier struct {
	http *http.Client
	log  logger.Logger
}

// New builds a Notifier with the given per-request timeout.
func New(timeout time.Duration, log logger.Logger) *Notifier {
	return &Notifier{http: &http.Client{Timeout: timeout}, log: log}
}

// IsBlockedHost reports whether host (as it appears in a URL, no port)
// falls in a private, loopback, link-local, or reserved-suffix range. It
// checks literal IPs directly and resolves hostnames before checking their
// addresses, so "internal.example.com" pointing at 127.0.0.1 is still
// blocked.
func IsBlockedHost(host string) bool {
	h := strings.ToLower(host)
	if strings.HasSuffix(h, ".internal") || strings.HasSuffix(h, ".local") {
		return true
	}
	if h == "localhost" {
		return true
	}

	ips := []net.IP{}
	if ip := net.ParseIP(h); ip != nil {
		ips = append(ips, ip)
	} else {
		resolved, err := net.LookupIP(h)
		if err == nil {
			ips = append(ips, resolved...)
		}
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return true
		}
	}
	return false
}

// validate parses rawURL, enforces http/https scheme, and rejects blocked
// hosts.
func validate(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook url must be http or https")
	}
	if IsBlockedHost(u.Hostname()) {
		return nil, ErrBlockedHost
	}
	return u, nil
}

// Payload is the body posted on task completion or failure.
type Payload struct {
	TaskID    string      `json:"taskId"`
	BatchID   string      `json:"batchId,omitempty"`
	State     string      `json:"state"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Send validates rawURL and POSTs payload as JSON. Failures are logged and
// returned, but callers (the Executor) must treat webhook delivery as
// best-effort and never fail the task itself over it.
func (n *Notifier) Send(ctx context.Context, rawURL string, payload Payload) error {
	u, err := validate(rawURL)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		if n.log != nil {
			n.log.Warn("webhook delivery failed")
		}
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		if n.log != nil {
			n.log.Warn("webhook endpoint returned non-2xx status")
		}
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
