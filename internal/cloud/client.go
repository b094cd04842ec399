// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/multichat/internal/model"
)

// Configuration constants for the OpenRouter API.
const (
	// DefaultOpenRouterURL is the base URL for the OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout bounds single-shot requests. Streams are bounded by
	// their context only.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxRetries is the number of extra tries for transient errors.
	DefaultMaxRetries = 2

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second

	// MaxResponseSize caps single-shot response bodies. Generated images
	// arrive inline as data URIs, so the cap is generous.
	MaxResponseSize = 32 * 1024 * 1024

	userAgent = "multichat/1.0"
)

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// Request is one completion call.
type Request struct {
	APIKey       string
	ModelID      string
	Messages     []model.Message
	SystemPrompt string
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content model.Content `json:"content"`
}

type imageConfig struct {
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Modalities  []string      `json:"modalities,omitempty"`
	ImageConfig *imageConfig  `json:"image_config,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string              `json:"role"`
			Content model.Content       `json:"content"`
			Images  []model.ContentPart `json:"images,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// content merges text and any generated images into one value.
func (r *chatResponse) content() (model.Content, error) {
	if len(r.Choices) == 0 {
		return model.Content{}, &MalformedResponseError{Reason: "no choices in response"}
	}
	msg := r.Choices[0].Message
	if len(msg.Images) == 0 {
		return msg.Content, nil
	}
	var parts []model.ContentPart
	if msg.Content.IsMultimodal() {
		parts = append(parts, msg.Content.Parts...)
	} else if strings.TrimSpace(msg.Content.Text) != "" {
		parts = append(parts, model.TextPart(msg.Content.Text))
	}
	parts = append(parts, msg.Images...)
	return model.Parts(parts...), nil
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to an OpenRouter-compatible chat completions endpoint. The
// API key travels with each Request so one client serves every session.
type Client struct {
	baseURL    string
	siteURL    string
	siteName   string
	maxRetries int
	retryBase  time.Duration

	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// NewClient creates a client with default settings.
func NewClient() *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		baseURL:      DefaultOpenRouterURL,
		maxRetries:   DefaultMaxRetries,
		retryBase:    retryBaseDelay,
		httpClient:   &http.Client{Transport: transport, Timeout: DefaultTimeout},
		streamClient: &http.Client{Transport: transport},
		limiter:      rate.NewLimiter(rate.Inf, 1),
		logger:       zap.NewNop(),
	}
}

// WithBaseURL sets a custom base URL.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimRight(url, "/")
	return c
}

// WithTimeout sets the single-shot request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithMaxRetries sets the number of extra tries for transient errors.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	c.maxRetries = maxRetries
	return c
}

// WithSiteURL sets the HTTP-Referer header.
func (c *Client) WithSiteURL(url string) *Client {
	c.siteURL = url
	return c
}

// WithSiteName sets the X-Title header.
func (c *Client) WithSiteName(name string) *Client {
	c.siteName = name
	return c
}

// WithRateLimit caps outgoing requests per second. Zero or less disables
// the limit.
func (c *Client) WithRateLimit(perSecond float64) *Client {
	if perSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
		return c
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger.Named("cloud")
	return c
}

// =============================================================================
// SINGLE-SHOT COMPLETION
// =============================================================================

// SendCompletion performs a non-streaming completion, retrying transient
// failures with exponential backoff.
func (c *Client) SendCompletion(ctx context.Context, req Request) (model.Content, error) {
	if req.APIKey == "" {
		return model.Content{}, ErrNotConfigured
	}
	body := c.buildRequest(req, false)

	res, err := runChain(ctx, c.logger, c.calculateBackoff, []attempt[model.Content]{{
		name:      req.ModelID,
		retries:   c.maxRetries,
		run:       func(ctx context.Context, _ int) (model.Content, error) { return c.complete(ctx, req.APIKey, body) },
		retryable: isRetryable,
	}})
	if err != nil {
		return model.Content{}, err
	}
	return res.value, nil
}

// complete performs one POST and decodes the single-shot response.
func (c *Client) complete(ctx context.Context, apiKey string, body chatRequest) (model.Content, error) {
	resp, err := c.post(ctx, c.httpClient, apiKey, body)
	if err != nil {
		return model.Content{}, err
	}
	defer resp.Body.Close()

	data, err := readResponse(resp)
	if err != nil {
		return model.Content{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return model.Content{}, parseAPIError(resp.StatusCode, data)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil {
		return model.Content{}, &MalformedResponseError{Reason: "decode completion", Err: err}
	}
	return chatResp.content()
}

// buildRequest converts a Request to the wire body. The system prompt, when
// present, becomes the first message.
func (c *Client) buildRequest(req Request, stream bool) chatRequest {
	msgs := make([]wireMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, wireMessage{Role: string(model.RoleSystem), Content: model.Text(req.SystemPrompt)})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return chatRequest{Model: req.ModelID, Messages: msgs, Stream: stream}
}

// post sends body to the completions endpoint. Transport failures are
// returned as *NetworkError; the caller owns resp.Body.
func (c *Client) post(ctx context.Context, hc *http.Client, apiKey string, body chatRequest) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Op: "rate limit", Err: err}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq, apiKey)
	if body.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
	}

	start := time.Now()
	resp, err := hc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Op: "POST /chat/completions", Err: err}
	}
	c.logger.Debug("completion response",
		zap.String("model", body.Model),
		zap.Bool("stream", body.Stream),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// setHeaders sets authentication and identification headers.
func (c *Client) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// readResponse reads a body up to MaxResponseSize.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &NetworkError{Op: "read response", Err: err}
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("response exceeded %d bytes", MaxResponseSize)}
	}
	return body, nil
}

// calculateBackoff returns the delay before retry number attempt (1-based).
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := c.retryBase * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	return delay
}
