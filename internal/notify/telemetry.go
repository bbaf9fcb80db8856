// Package notify forwards engine telemetry to an external control plane.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Forwarder periodically POSTs metrics snapshots to a control-plane endpoint.
// Delivery is best-effort: failures are logged and the next interval retries
// with a fresh snapshot.
type Forwarder struct {
	url      string
	interval time.Duration
	source   func() any
	client   *http.Client
	logger   *slog.Logger
}

// NewForwarder creates a Forwarder posting snapshots from source to url every
// interval. A non-positive interval defaults to 10 seconds.
func NewForwarder(url string, interval time.Duration, source func() any, logger *slog.Logger) *Forwarder {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Forwarder{
		url:      url,
		interval: interval,
		source:   source,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Run forwards snapshots until the context is cancelled. It always returns
// nil so a telemetry outage never takes down the process.
func (f *Forwarder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.post(ctx); err != nil {
				f.logger.Warn("telemetry: forward failed",
					slog.String("url", f.url),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (f *Forwarder) post(ctx context.Context) error {
	body, err := json.Marshal(f.source())
	if err != nil {
		return fmt.Errorf("telemetry: marshal snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telemetry: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("telemetry: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telemetry: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
