// Package httpapi implements stt.Provider against the speech service's HTTP
// transcription endpoint: base64 audio in, transcript text out.
package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nova-voice/callengine/pkg/callerr"
	"github.com/nova-voice/callengine/pkg/provider/stt"
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

const defaultTimeout = 30 * time.Second

// Provider implements stt.Provider over HTTP.
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the default HTTP client. Primarily used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a Provider targeting baseURL. apiKey may be empty for
// unauthenticated local deployments.
func New(baseURL, apiKey string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("stt httpapi: baseURL must not be empty")
	}
	p := &Provider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type transcribeRequest struct {
	Audio      string `json:"audio"` // base64 PCM16
	SampleRate int    `json:"sample_rate"`
	Language   string `json:"language,omitempty"`
}

type transcribeResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"` // seconds

	// Confidence is optional; older service versions omit it.
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Result, error) {
	body, err := json.Marshal(transcribeRequest{
		Audio:      base64.StdEncoding.EncodeToString(pcm),
		SampleRate: cfg.SampleRate,
		Language:   cfg.Language,
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("stt httpapi: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/stt", bytes.NewReader(body))
	if err != nil {
		return stt.Result{}, fmt.Errorf("stt httpapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return stt.Result{}, callerr.New(callerr.KindTransientNetwork, fmt.Errorf("stt httpapi: %w", err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return stt.Result{}, err
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return stt.Result{}, callerr.New(callerr.KindTransientNetwork, fmt.Errorf("stt httpapi: decode response: %w", err))
	}

	return stt.Result{
		Text:          out.Text,
		Language:      out.Language,
		Confidence:    out.Confidence,
		AudioDuration: time.Duration(out.Duration * float64(time.Second)),
	}, nil
}

// classifyStatus maps an HTTP status to a callerr kind. Classification
// happens here, at origin, so callers never parse message strings.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return callerr.Newf(callerr.KindAuthentication, "stt httpapi: http %d", status)
	case status == http.StatusTooManyRequests:
		// Rate limits are never retried within an utterance.
		return callerr.Newf(callerr.KindAuthentication, "stt httpapi: rate limited (http %d)", status)
	case status >= 500:
		return callerr.Newf(callerr.KindTransientNetwork, "stt httpapi: http %d", status)
	default:
		return callerr.Newf(callerr.KindInternal, "stt httpapi: http %d", status)
	}
}
