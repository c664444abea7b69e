package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// DeliveryResult is the structured outcome of one report delivery. The
// reporter never raises; callers inspect the result.
type DeliveryResult struct {
	Success  bool   `json:"success"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
}

// ReporterConfig tunes webhook delivery.
type ReporterConfig struct {
	URL string
	// MaxAttempts bounds delivery tries. Default 3.
	MaxAttempts int
	// BaseDelay scales the linear backoff: attempt n waits n*BaseDelay.
	// Default 1s.
	BaseDelay time.Duration
}

func (c ReporterConfig) withDefaults() ReporterConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	return c
}

// Reporter posts aggregated call reports to the configured webhook.
type Reporter struct {
	cfg    ReporterConfig
	client *http.Client
	log    *slog.Logger
}

func NewReporter(cfg ReporterConfig, client *http.Client, log *slog.Logger) *Reporter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Reporter{cfg: cfg.withDefaults(), client: client, log: log}
}

// Deliver posts the payload, retrying with linearly increasing backoff.
func (r *Reporter) Deliver(ctx context.Context, payload Payload) DeliveryResult {
	if r.cfg.URL == "" {
		return DeliveryResult{Reason: "no webhook url configured"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return DeliveryResult{Reason: fmt.Sprintf("encode payload: %v", err)}
	}

	attempts := 0
	var backoff retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		return time.Duration(attempts) * r.cfg.BaseDelay, false
	})
	backoff = retry.WithMaxRetries(uint64(r.cfg.MaxAttempts-1), backoff)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := r.post(ctx, body); err != nil {
			r.log.Warn("webhook delivery failed",
				"call_sid", payload.CallSid, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return DeliveryResult{Attempts: attempts, Reason: fmt.Sprintf("delivery failed: %v", err)}
	}
	r.log.Info("call report delivered", "call_sid", payload.CallSid, "attempts", attempts)
	return DeliveryResult{Success: true, Attempts: attempts}
}

func (r *Reporter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
