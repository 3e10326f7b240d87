// Package ark is the wire adapter for the Volcengine Ark responses API.
package ark

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LouisLau-art/arktrans"
)

// Client sends translation requests to the Ark responses API and maps
// upstream failures onto the shared error kinds.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

var _ arktrans.Transport = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Client) { p.httpClient = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Client) { p.httpClient.Timeout = d }
}

// New creates a client for the given endpoint. The endpoint is the full
// request URL; no path is appended.
func New(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(arktrans.DefaultTimeoutMS) * time.Millisecond},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a client using the endpoint, key, and timeout
// from the shared configuration.
func NewFromConfig(cfg *arktrans.Config, opts ...Option) *Client {
	base := []Option{WithTimeout(cfg.Timeout())}
	return New(cfg.APIEndpoint, cfg.APIKey, append(base, opts...)...)
}

// apiRequest is the Ark responses request format.
type apiRequest struct {
	Model string     `json:"model"`
	Input []apiInput `json:"input"`
}

type apiInput struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type               string         `json:"type"`
	Text               string         `json:"text"`
	TranslationOptions apiTranslation `json:"translation_options"`
}

type apiTranslation struct {
	TargetLanguage string `json:"target_language"`
	SourceLanguage string `json:"source_language,omitempty"`
}

// apiResponse is the Ark responses response format. Content is a pointer
// so a present-but-empty translation is distinguishable from a missing
// field.
type apiResponse struct {
	ID     string `json:"id"`
	Output struct {
		Choices []struct {
			Message struct {
				Content                *string `json:"content"`
				DetectedSourceLanguage string  `json:"detected_source_language"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) Translate(ctx context.Context, model arktrans.Model, req arktrans.TranslationRequest) (arktrans.TranslationResult, error) {
	jsonBody, err := json.Marshal(buildRequest(model.ID, req))
	if err != nil {
		return arktrans.TranslationResult{}, &arktrans.Error{Kind: arktrans.KindInternal, Message: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return arktrans.TranslationResult{}, &arktrans.Error{Kind: arktrans.KindInternal, Message: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return arktrans.TranslationResult{}, &arktrans.Error{Kind: arktrans.KindNetwork, Message: "send request", Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return arktrans.TranslationResult{}, mapHTTPError(httpResp)
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return arktrans.TranslationResult{}, &arktrans.Error{Kind: arktrans.KindInvalidResponse, Message: "decode response", Err: err}
	}

	if len(resp.Output.Choices) == 0 || resp.Output.Choices[0].Message.Content == nil {
		return arktrans.TranslationResult{}, &arktrans.Error{Kind: arktrans.KindInvalidResponse, Message: "no translation in response"}
	}

	choice := resp.Output.Choices[0]
	return arktrans.TranslationResult{
		Translation:        *choice.Message.Content,
		DetectedSourceLang: choice.Message.DetectedSourceLanguage,
		TokensUsed:         resp.Usage.TotalTokens,
		ModelUsed:          model.ID,
		RequestID:          resp.ID,
	}, nil
}

func buildRequest(modelID string, req arktrans.TranslationRequest) apiRequest {
	return apiRequest{
		Model: modelID,
		Input: []apiInput{{
			Role: "user",
			Content: []apiContent{{
				Type: "input_text",
				Text: req.Text,
				TranslationOptions: apiTranslation{
					TargetLanguage: req.TargetLang,
					SourceLanguage: req.SourceLang,
				},
			}},
		}},
	}
}

// mapHTTPError classifies a non-2xx response: 429 is rate limiting,
// bodies mentioning quota or limit mean the upstream budget is exhausted,
// everything else is a plain API error carrying the status and body.
func mapHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusTooManyRequests {
		return &arktrans.Error{
			Kind:       arktrans.KindRateLimited,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	text := string(body)
	if strings.Contains(text, "quota") || strings.Contains(text, "limit") {
		return &arktrans.Error{Kind: arktrans.KindQuotaExceeded, Status: resp.StatusCode}
	}

	return &arktrans.Error{Kind: arktrans.KindAPI, Status: resp.StatusCode, Message: text}
}

// parseRetryAfter accepts the delta-seconds and HTTP-date header forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
