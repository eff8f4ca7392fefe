package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Rajchodisetti/market-feed/internal/provider"
)

// HTTPConfig is shared by the HTTP-backed adapters.
type HTTPConfig struct {
	ID      string
	BaseURL string
	APIKey  string
	// Timeout bounds one attempt; the admission layer bounds the whole call.
	Timeout time.Duration
	// RetryMax bounds reconnect attempts after a request got no response.
	RetryMax int
	// HTTPClient replaces the underlying transport client, for tests. It is
	// copied, so Timeout never leaks back to the caller's client.
	HTTPClient *http.Client
}

// newRetryClient creates a new HTTP client that retries only when no
// response came back. A 429 or 5xx already counted against the provider's
// quota, so those go up to the queue as typed errors instead.
func newRetryClient(cfg HTTPConfig) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = cfg.RetryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	if cfg.HTTPClient != nil {
		hc := *cfg.HTTPClient
		c.HTTPClient = &hc
	}
	if cfg.Timeout > 0 {
		c.HTTPClient.Timeout = cfg.Timeout
	}
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

type httpAdapter struct {
	id     string
	base   string
	apiKey string
	client *retryablehttp.Client
}

func newHTTPAdapter(cfg HTTPConfig, defaultBase string) httpAdapter {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBase
	}
	return httpAdapter{id: cfg.ID, base: base, apiKey: cfg.APIKey, client: newRetryClient(cfg)}
}

func (h httpAdapter) ID() string { return h.id }

// getJSON fetches url and decodes a 200 body into out. Status codes map to
// the provider error kinds.
func (h httpAdapter) getJSON(ctx context.Context, url, symbol string, header http.Header, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return provider.NewMalformedResponse(h.id, symbol, "build request", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return provider.NewNetworkTransient(h.id, symbol, "request failed", 0, h.redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return provider.NewQuotaExceeded(h.id, symbol, msg, resp.StatusCode)
		case resp.StatusCode == http.StatusNotFound:
			return provider.NewBadSymbol(h.id, symbol, msg, resp.StatusCode)
		case resp.StatusCode >= 500:
			return provider.NewNetworkTransient(h.id, symbol, msg, resp.StatusCode, nil)
		default:
			e := provider.NewMalformedResponse(h.id, symbol, msg, nil)
			e.StatusCode = resp.StatusCode
			return e
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.NewMalformedResponse(h.id, symbol, "decode response", err)
	}
	return nil
}

// redact keeps API keys out of errors that embed the request URL.
func (h httpAdapter) redact(err error) error {
	if h.apiKey == "" || !strings.Contains(err.Error(), h.apiKey) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), h.apiKey, maskAPIKey(h.apiKey)))
}

// maskAPIKey masks API key for logging
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:4] + "****" + apiKey[len(apiKey)-4:]
}
