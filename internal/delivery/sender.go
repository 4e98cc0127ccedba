package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/internal/session"
	"github.com/classpulse/telemetry-pipeline/internal/telemetry"
)

// HTTPSender posts batches to the ingestion gateway. The client timeout is
// fixed per send; a timed-out send is indistinguishable from a failed one
// and takes the same retry path.
type HTTPSender struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPSender(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type batchRequest struct {
	Events []telemetry.Event `json:"events"`
}

func (s *HTTPSender) SendBatch(ctx context.Context, events []telemetry.Event) error {
	return s.post(ctx, "/events/batch", batchRequest{Events: events})
}

func (s *HTTPSender) SendSessionUpdate(ctx context.Context, update session.Update) error {
	return s.post(ctx, "/sessions", update)
}

func (s *HTTPSender) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ingest returned status %d", resp.StatusCode)
	}
	return nil
}
