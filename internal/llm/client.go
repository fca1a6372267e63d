// Package llm talks to an OpenAI-compatible API for text and image generation.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/blogpilot/internal/errs"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	chatTimeout    = 120 * time.Second
	imageTimeout   = 180 * time.Second
	maxErrorBody   = 4 << 10
)

// Client is a thin OpenAI-compatible HTTP client. It does not retry; callers
// wrap calls in retry.Do.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the public OpenAI endpoint.
func NewClient(apiKey string) *Client {
	return NewClientWithBaseURL(apiKey, DefaultBaseURL)
}

// NewClientWithBaseURL creates a client pointing at a custom base URL.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// ChatJSON sends a chat request in JSON-object mode and returns the raw
// content of the first choice.
func (c *Client) ChatJSON(ctx context.Context, req ChatRequest) (string, error) {
	req.ResponseFormat = &ResponseFormat{Type: "json_object"}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, chatTimeout, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errs.New(errs.KindEmptyResponse, "no choices in chat response")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errs.New(errs.KindEmptyResponse, "empty chat response")
	}
	return content, nil
}

// GenerateImage requests a single image and returns its decoded bytes.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error) {
	if req.N == 0 {
		req.N = 1
	}
	req.ResponseFormat = "b64_json"

	var resp imageResponse
	if err := c.post(ctx, "/images/generations", req, imageTimeout, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, errs.New(errs.KindEmptyResponse, "no image data")
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedResponse, "decoding image data", err)
	}
	return img, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, timeout time.Duration, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errs.Wrap(errs.KindTransport, "executing request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errs.RateLimited(string(text), parseRetryAfter(resp.Header.Get("Retry-After")))
	}
	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errs.New(errs.KindTransport, "unexpected status %d: %s", resp.StatusCode, string(text))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.KindMalformedResponse, "decoding response", err)
	}
	return nil
}

// parseRetryAfter understands the delta-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
