package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
)

// Companion API paths used by the HTTP transport.
const (
	TransfersPath = "/api/v1/transfers"
	HealthPath    = "/api/v1/health"
)

// HTTPTransport posts envelopes to the companion's HTTP API.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	log     logger.Logger
}

// NewHTTPTransport creates a transport for the companion at baseURL.
func NewHTTPTransport(baseURL string, timeout time.Duration, log logger.Logger) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.Module("http"),
	}
}

// Client exposes the underlying HTTP client.
func (t *HTTPTransport) Client() *http.Client { return t.client }

func (t *HTTPTransport) Name() string { return "http" }

// Deliver posts env and treats any 2xx answer as confirmed receipt.
func (t *HTTPTransport) Deliver(ctx context.Context, env Envelope) error {
	payload, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+TransfersPath, bytes.NewReader(payload))
	if err != nil {
		return networkError(err, "deliver", t.baseURL)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return networkError(errors.Join(ErrUnreachable, err), "deliver", t.baseURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.New(fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(body)))).
			Component("transfer").
			Category(errors.CategoryHTTP).
			Context("status", resp.StatusCode).
			Context("record_id", env.Record.ID).
			Build()
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Probe checks the companion health endpoint.
func (t *HTTPTransport) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+HealthPath, http.NoBody)
	if err != nil {
		return networkError(err, "probe", t.baseURL)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return networkError(errors.Join(ErrUnreachable, err), "probe", t.baseURL)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return networkError(fmt.Errorf("%w: health status %d", ErrUnreachable, resp.StatusCode), "probe", t.baseURL)
	}
	return nil
}

// Watch probes the companion every interval and feeds the result into mon
// until ctx is done.
func (t *HTTPTransport) Watch(ctx context.Context, mon *Monitor, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, t.client.Timeout)
		defer cancel()
		err := t.Probe(probeCtx)
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil {
			t.log.Debug("companion probe failed", logger.Error(err))
		}
		mon.Set(err == nil)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func networkError(err error, operation, url string) error {
	return errors.New(err).
		Component("transfer").
		Category(errors.CategoryNetwork).
		Context("operation", operation).
		Context("url", url).
		Build()
}
