package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ae-safety-server/internal/domain"
)

// HTTPCollaborator invokes one inference model over HTTP.
type HTTPCollaborator struct {
	name       string
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// HTTPConfig represents configuration for one collaborator endpoint
type HTTPConfig struct {
	Name      string        `json:"name"`
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
}

// NewHTTPCollaborator creates a new HTTP inference client
func NewHTTPCollaborator(config HTTPConfig) *HTTPCollaborator {
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 50
	}

	return &HTTPCollaborator{
		name:    config.Name,
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// Name identifies the collaborator.
func (c *HTTPCollaborator) Name() string {
	return c.name
}

// Infer posts the stage request and decodes the item list.
func (c *HTTPCollaborator) Infer(ctx context.Context, req *Request) (*Response, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding inference request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/infer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating inference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if IsTimeout(err) {
			return nil, fmt.Errorf("%s collaborator: %w", c.name, ErrTimeout)
		}
		return nil, fmt.Errorf("%s collaborator request failed: %w", c.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, fmt.Errorf("%s collaborator returned HTTP %d: %s", c.name, httpResp.StatusCode, string(raw))
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding %s collaborator response: %w", c.name, err)
	}

	// Collaborators that do not self-report latency get the measured
	// round-trip time instead.
	if resp.InferenceTimeMS == 0 {
		resp.InferenceTimeMS = time.Since(start).Milliseconds()
	}

	return &resp, nil
}

// Healthy probes the collaborator's health endpoint.
func (c *HTTPCollaborator) Healthy(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer httpResp.Body.Close()
	return httpResp.StatusCode == http.StatusOK
}

// NewSetFromConfig builds the three stage collaborators, each wrapped in the
// shared circuit breaker.
func NewSetFromConfig(cfg *domain.InferenceConfig, logger *logrus.Logger) *Set {
	build := func(stage domain.Stage, cc domain.CollaboratorConfig) Collaborator {
		client := NewHTTPCollaborator(HTTPConfig{
			Name:      string(stage),
			BaseURL:   cc.BaseURL,
			Timeout:   cc.Timeout,
			RateLimit: cc.RateLimit,
		})
		return WrapWithBreaker(client, cfg.CircuitBreaker, logger)
	}

	return &Set{
		Foundation: build(domain.StageFoundation, cfg.Foundation),
		Strategic:  build(domain.StageStrategic, cfg.Strategic),
		Synthesis:  build(domain.StageSynthesis, cfg.Synthesis),
	}
}
