// Package blog publishes posts and uploads cover images to the blog server.
package blog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/blogpilot/internal/errs"
)

const (
	requestTimeout = 30 * time.Second
	uploadTimeout  = 60 * time.Second
	maxErrorBody   = 4 << 10
)

// Post is the payload sent when creating a post.
type Post struct {
	Title      string   `json:"title"`
	Excerpt    string   `json:"excerpt"`
	Content    string   `json:"content"`
	Author     string   `json:"author"`
	CoverImage string   `json:"cover_image"`
	Tags       []string `json:"tags"`
	Published  bool     `json:"published"`
}

// CreatedPost is the blog server's view of a stored post.
type CreatedPost struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

type postEnvelope struct {
	Post *CreatedPost `json:"post"`
}

// Client talks to the blog server's post and upload endpoints.
type Client struct {
	baseURL       string
	apiKey        string
	adminPassword string
	httpClient    *http.Client
}

// NewClient creates a blog client. apiKey authorizes post creation and
// adminPassword authorizes uploads.
func NewClient(baseURL, apiKey, adminPassword string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		adminPassword: adminPassword,
		httpClient:    &http.Client{},
	}
}

// CreatePost stores a post, published or as a draft.
func (c *Client) CreatePost(ctx context.Context, p Post) (CreatedPost, error) {
	if c.apiKey == "" {
		return CreatedPost{}, errs.New(errs.KindValidation, "blog API key is not configured")
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return CreatedPost{}, fmt.Errorf("marshaling post: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/posts", bytes.NewReader(body))
	if err != nil {
		return CreatedPost{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	var env postEnvelope
	if err := c.do(req, &env); err != nil {
		return CreatedPost{}, err
	}
	if env.Post == nil || env.Post.ID == "" {
		return CreatedPost{}, errs.New(errs.KindMalformedResponse, "Blog API response missing post.id")
	}
	return *env.Post, nil
}

// GetPost fetches a post by id and returns the server's JSON unchanged.
func (c *Client) GetPost(ctx context.Context, id string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/posts/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	var env struct {
		Post json.RawMessage `json:"post"`
	}
	if err := c.do(req, &env); err != nil {
		return nil, err
	}
	if len(env.Post) == 0 || string(env.Post) == "null" {
		return nil, errs.New(errs.KindMalformedResponse, "Blog API response missing post")
	}
	return env.Post, nil
}

// UploadImage sends image bytes to the admin upload endpoint and returns the
// public URL of the stored file.
func (c *Client) UploadImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if c.adminPassword == "" {
		return "", errs.New(errs.KindValidation, "blog admin password is not configured")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	filename := fmt.Sprintf("%d-%s.%s", time.Now().UnixMilli(), uuid.New().String()[:8], extension(mimeType))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("creating multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("writing multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/admin/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-admin-password", c.adminPassword)

	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", errs.New(errs.KindMalformedResponse, "Upload response missing url field")
	}
	return out.URL, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindTransport, "Blog API request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errs.RateLimited(string(text), 0)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errs.New(errs.KindTransport, "Blog API error: %s: %s", resp.Status, strings.TrimSpace(string(text)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.KindMalformedResponse, "decoding Blog API response", err)
	}
	return nil
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}
