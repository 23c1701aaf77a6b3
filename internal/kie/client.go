package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxImageBytes = 32 << 20

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	APIKey       string
	BaseURL      string
	Model        string
	AspectRatio  string
	Resolution   string
	PromptPrefix string
	PollInterval time.Duration
	MaxPolls     int
	Timeout      time.Duration
}

// Client generates images through the KIE asynchronous jobs API.
type Client struct {
	opts       Options
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 60
	}
	if opts.Model == "" {
		opts.Model = "nano-banana-pro"
	}
	if opts.AspectRatio == "" {
		opts.AspectRatio = "16:9"
	}
	if opts.Resolution == "" {
		opts.Resolution = "1K"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		log: log,
	}
}

// Generate runs one text-to-image task and returns the PNG bytes of the result.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	requestBody := map[string]any{
		"model": c.opts.Model,
		"input": map[string]any{
			"prompt":        c.opts.PromptPrefix + prompt,
			"aspect_ratio":  c.opts.AspectRatio,
			"resolution":    c.opts.Resolution,
			"output_format": "png",
		},
	}

	taskID, err := c.createTask(ctx, requestBody)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	resultURL, err := c.pollTaskStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}

	return c.download(ctx, resultURL)
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	baseURL, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return baseURL.ResolveReference(ref).String(), nil
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}

	if c.log != nil {
		c.log.Info("creating KIE task", "url", fullURL, "model", c.opts.Model)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post kie: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("KIE create task failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return "", fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if createResp.Code != 200 {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	if c.log != nil {
		c.log.Info("KIE task created", "task_id", createResp.Data.TaskID)
	}
	return createResp.Data.TaskID, nil
}

// pollTaskStatus waits for the task to finish and returns the first result URL.
func (c *Client) pollTaskStatus(ctx context.Context, taskID string) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return "", err
	}

	maxAttempts := c.opts.MaxPolls
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return "", fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("get task status: %w", err)
		}
		rawBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode >= 300 {
			if c.log != nil {
				c.log.Error("KIE poll task status failed", "status", resp.StatusCode, "task_id", taskID, "body", truncateBody(rawBody))
			}
			return "", fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
		}

		var statusResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				State      string `json:"state"`
				ResultJSON string `json:"resultJson"`
				FailCode   string `json:"failCode"`
				FailMsg    string `json:"failMsg"`
			} `json:"data"`
		}
		if err := json.Unmarshal(rawBody, &statusResp); err != nil {
			return "", fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
		}
		if statusResp.Code != 200 {
			return "", fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
		}

		switch state := statusResp.Data.State; state {
		case "success":
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
				return "", fmt.Errorf("parse resultJson: %w", err)
			}
			if len(result.ResultURLs) == 0 {
				return "", fmt.Errorf("no resultUrls in result")
			}
			if c.log != nil {
				c.log.Info("KIE task completed", "task_id", taskID, "attempt", attempt+1)
			}
			return result.ResultURLs[0], nil

		case "fail":
			failMsg := statusResp.Data.FailMsg
			if failMsg == "" {
				failMsg = "unknown error"
			}
			if c.log != nil {
				c.log.Error("KIE task failed", "task_id", taskID, "fail_code", statusResp.Data.FailCode, "fail_msg", failMsg)
			}
			return "", fmt.Errorf("task failed: %s (code: %s)", failMsg, statusResp.Data.FailCode)

		case "waiting", "generating", "processing", "queued", "queueing":
			if c.log != nil && attempt%10 == 0 {
				c.log.Info("KIE task waiting", "task_id", taskID, "attempt", attempt+1, "max_attempts", maxAttempts)
			}
			if attempt == maxAttempts-1 {
				break
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.opts.PollInterval):
			}

		default:
			return "", fmt.Errorf("unknown task state: %s", state)
		}
	}

	return "", fmt.Errorf("task timeout after %d attempts", maxAttempts)
}

func (c *Client) download(ctx context.Context, resultURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download result status: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read result body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty result image")
	}
	return data, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
