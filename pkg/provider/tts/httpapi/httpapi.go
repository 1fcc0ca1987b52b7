// Package httpapi implements tts.Provider against the speech service's HTTP
// synthesis endpoint: text + voice + quality in, base64 audio out.
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
	"github.com/nova-voice/callengine/pkg/provider/tts"
)

// Compile-time assertion that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

const defaultTimeout = 60 * time.Second

// Provider implements tts.Provider over HTTP.
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
		return nil, errors.New("tts httpapi: baseURL must not be empty")
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

type synthesizeRequest struct {
	Text    string  `json:"text"`
	Voice   string  `json:"voice,omitempty"`
	Quality string  `json:"quality,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
}

type synthesizeResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Mime        string `json:"mime"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	body, err := json.Marshal(synthesizeRequest{
		Text:    text,
		Voice:   voice.ID,
		Quality: voice.Quality,
		Speed:   voice.SpeedFactor,
	})
	if err != nil {
		return nil, fmt.Errorf("tts httpapi: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts httpapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, callerr.New(callerr.KindTransientNetwork, fmt.Errorf("tts httpapi: %w", err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var out synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, callerr.New(callerr.KindTransientNetwork, fmt.Errorf("tts httpapi: decode response: %w", err))
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioBase64)
	if err != nil {
		return nil, callerr.New(callerr.KindInternal, fmt.Errorf("tts httpapi: decode audio: %w", err))
	}
	return audio, nil
}

// classifyStatus maps an HTTP status to a callerr kind, decided at origin.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return callerr.Newf(callerr.KindAuthentication, "tts httpapi: http %d", status)
	case status == http.StatusTooManyRequests:
		return callerr.Newf(callerr.KindAuthentication, "tts httpapi: rate limited (http %d)", status)
	case status == http.StatusNotImplemented:
		// Synthesis engine not configured on the service side.
		return callerr.Newf(callerr.KindInternal, "tts httpapi: synthesis not configured (http %d)", status)
	case status >= 500:
		return callerr.Newf(callerr.KindTransientNetwork, "tts httpapi: http %d", status)
	default:
		return callerr.Newf(callerr.KindInternal, "tts httpapi: http %d", status)
	}
}
