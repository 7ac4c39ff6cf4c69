package meshy

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
var ErrMissingAPIKey = errors.New("meshy: api key is required")

const (
	maxResponseBytes = 1 << 20
	textTo3DPath     = "/openapi/v2/text-to-3d"
)

// Options configures the meshy client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client talks to the Meshy text-to-3D API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest captures the inputs of one preview task.
type SubmitRequest struct {
	Prompt          string
	ArtStyle        string
	AIModel         string
	Topology        string
	TargetPolycount int
}

// Task is the raw task payload. Timestamps are epoch milliseconds.
type Task struct {
	ID           string
	Status       string
	Progress     *int
	ModelURLs    map[string]string
	VideoURL     *string
	ThumbnailURL *string
	TaskError    *string
	Prompt       *string
	ArtStyle     *string
	CreatedAt    int64
	StartedAt    *int64
	FinishedAt   *int64
}

type submitPayload struct {
	Mode            string `json:"mode"`
	Prompt          string `json:"prompt"`
	ArtStyle        string `json:"art_style,omitempty"`
	AIModel         string `json:"ai_model,omitempty"`
	Topology        string `json:"topology,omitempty"`
	TargetPolycount int    `json:"target_polycount,omitempty"`
	ShouldRemesh    bool   `json:"should_remesh"`
	SymmetryMode    string `json:"symmetry_mode"`
	Moderation      bool   `json:"moderation"`
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
		baseURL = "https://api.meshy.ai"
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

// Submit creates a preview task and returns its id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	body, err := json.Marshal(submitPayload{
		Mode:            "preview",
		Prompt:          strings.TrimSpace(req.Prompt),
		ArtStyle:        req.ArtStyle,
		AIModel:         req.AIModel,
		Topology:        req.Topology,
		TargetPolycount: req.TargetPolycount,
		ShouldRemesh:    true,
		SymmetryMode:    "auto",
		Moderation:      false,
	})
	if err != nil {
		return "", fmt.Errorf("meshy: encode request: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, c.baseURL+textTo3DPath, body)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(gjson.GetBytes(raw, "result").String())
	if id == "" {
		return "", errors.New("meshy: response missing task id")
	}
	c.logger.Debug().Str("provider_id", id).Str("ai_model", req.AIModel).Msg("meshy: submitted")
	return id, nil
}

// Status fetches the current state of a task.
func (c *Client) Status(ctx context.Context, taskID string) (*Task, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	raw, err := c.do(ctx, http.MethodGet, c.baseURL+textTo3DPath+"/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}
	task := parseTask(raw)
	if task.ID == "" {
		task.ID = taskID
	}
	return task, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("meshy: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meshy: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("meshy: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(gjson.GetBytes(raw, "message").String())
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("meshy: status %d: %s: %w", resp.StatusCode, msg, domain.ErrProviderTaskNotFound)
		}
		return nil, fmt.Errorf("meshy: status %d: %s", resp.StatusCode, msg)
	}
	return raw, nil
}

func parseTask(raw []byte) *Task {
	root := gjson.ParseBytes(raw)
	task := &Task{
		ID:        strings.TrimSpace(root.Get("id").String()),
		Status:    strings.ToUpper(strings.TrimSpace(root.Get("status").String())),
		CreatedAt: root.Get("created_at").Int(),
	}
	if v := root.Get("progress"); v.Type == gjson.Number {
		p := int(v.Int())
		task.Progress = &p
	}
	if urls := root.Get("model_urls"); urls.IsObject() {
		task.ModelURLs = make(map[string]string)
		urls.ForEach(func(key, value gjson.Result) bool {
			if s := strings.TrimSpace(value.String()); s != "" {
				task.ModelURLs[strings.ToLower(key.String())] = s
			}
			return true
		})
	}
	task.VideoURL = optString(root, "video_url")
	task.ThumbnailURL = optString(root, "thumbnail_url")
	task.TaskError = optString(root, "task_error.message")
	task.Prompt = optString(root, "prompt")
	task.ArtStyle = optString(root, "art_style")
	task.StartedAt = optMillis(root, "started_at")
	task.FinishedAt = optMillis(root, "finished_at")
	return task
}

func optString(root gjson.Result, path string) *string {
	s := strings.TrimSpace(root.Get(path).String())
	if s == "" {
		return nil
	}
	return &s
}

func optMillis(root gjson.Result, path string) *int64 {
	v := root.Get(path)
	if v.Type != gjson.Number || v.Int() <= 0 {
		return nil
	}
	ms := v.Int()
	return &ms
}
