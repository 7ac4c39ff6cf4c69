package skybox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"skyforge/internal/domain"
	"skyforge/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("skybox: api key is required")

const maxResponseBytes = 1 << 20

// Options configures the skybox client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client talks to a Blockade-Labs-style skybox API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest captures the inputs of one skybox generation.
type SubmitRequest struct {
	Prompt         string
	StyleID        int
	NegativePrompt string
}

// Generation is the raw status payload. Optional fields stay nil when the
// provider omitted them.
type Generation struct {
	ID           string
	Status       string
	FileURL      *string
	ThumbnailURL *string
	ErrorMessage *string
	StyleID      *int
	Prompt       *string
	NegativeText *string
	CreatedAt    *time.Time
	UpdatedAt    *time.Time
}

type submitPayload struct {
	Prompt       string `json:"prompt"`
	StyleID      int    `json:"skybox_style_id"`
	NegativeText string `json:"negative_text,omitempty"`
}

// NewClient constructs a client with defaults for unset options.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://backyard.blockadelabs.com/api/v1"
	}
	logger := opts.Logger
	if logger == nil {
		discard := infra.Logger(zerolog.New(io.Discard))
		logger = &discard
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit starts a generation and returns the provider tracking id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	body, err := json.Marshal(submitPayload{
		Prompt:       strings.TrimSpace(req.Prompt),
		StyleID:      req.StyleID,
		NegativeText: strings.TrimSpace(req.NegativePrompt),
	})
	if err != nil {
		return "", fmt.Errorf("skybox: encode request: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/skybox", body)
	if err != nil {
		return "", err
	}
	gen := parseGeneration(raw)
	if gen.ID == "" {
		return "", errors.New("skybox: response missing generation id")
	}
	c.logger.Debug().Str("provider_id", gen.ID).Int("style_id", req.StyleID).Msg("skybox: submitted")
	return gen.ID, nil
}

// Status fetches the current state of a generation.
func (c *Client) Status(ctx context.Context, generationID string) (*Generation, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	endpoint := c.baseURL + "/imagine/requests/" + url.PathEscape(generationID)
	raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	gen := parseGeneration(raw)
	if gen.ID == "" {
		gen.ID = generationID
	}
	return gen, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("skybox: build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("skybox: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("skybox: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, raw)
	}
	return raw, nil
}

func statusError(code int, raw []byte) error {
	msg := strings.TrimSpace(gjson.GetBytes(raw, "error").String())
	if msg == "" {
		msg = strings.TrimSpace(gjson.GetBytes(raw, "message").String())
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	lower := strings.ToLower(msg)
	if code == http.StatusNotFound || strings.Contains(lower, "not found") || strings.Contains(lower, "expired") {
		return fmt.Errorf("skybox: status %d: %s: %w", code, msg, domain.ErrProviderTaskNotFound)
	}
	return fmt.Errorf("skybox: status %d: %s", code, msg)
}

// parseGeneration accepts both the wrapped ({"request": {...}}) and flat
// payload shapes and the snake/camel field variants.
func parseGeneration(raw []byte) *Generation {
	root := gjson.ParseBytes(raw)
	if wrapped := root.Get("request"); wrapped.IsObject() {
		root = wrapped
	}
	gen := &Generation{
		ID:     firstString(root, "id", "obfuscated_id"),
		Status: strings.ToLower(firstString(root, "status")),
	}
	gen.FileURL = optString(root, "file_url", "fileUrl")
	gen.ThumbnailURL = optString(root, "thumb_url", "thumbUrl", "thumbnail_url")
	gen.ErrorMessage = optString(root, "error_message", "errorMessage")
	gen.Prompt = optString(root, "prompt")
	gen.NegativeText = optString(root, "negative_text", "negativeText")
	if v := first(root, "skybox_style_id", "skyboxStyleId", "style_id"); v.Exists() && v.Type == gjson.Number {
		id := int(v.Int())
		gen.StyleID = &id
	}
	gen.CreatedAt = optTime(root, "created_at", "createdAt")
	gen.UpdatedAt = optTime(root, "updated_at", "updatedAt")
	return gen
}

func first(root gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func firstString(root gjson.Result, paths ...string) string {
	return strings.TrimSpace(first(root, paths...).String())
}

func optString(root gjson.Result, paths ...string) *string {
	s := firstString(root, paths...)
	if s == "" {
		return nil
	}
	return &s
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func optTime(root gjson.Result, paths ...string) *time.Time {
	s := firstString(root, paths...)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
