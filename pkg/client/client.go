package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
)

// Client is the API client for github-issue-extractor
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is an error answered by the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// ListExtractions retrieves every extraction job
func (c *Client) ListExtractions(ctx context.Context) ([]*domain.Extraction, error) {
	var jobs []*domain.Extraction
	if err := c.do(ctx, http.MethodGet, "/api/extractions", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetExtraction retrieves one extraction job
func (c *Client) GetExtraction(ctx context.Context, id string) (*domain.Extraction, error) {
	var job domain.Extraction
	if err := c.do(ctx, http.MethodGet, "/api/extractions/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateExtraction registers a pending job for owner/repoName
func (c *Client) CreateExtraction(ctx context.Context, owner, repoName string) (*domain.Extraction, error) {
	body := map[string]string{"owner": owner, "repoName": repoName}
	var job domain.Extraction
	if err := c.do(ctx, http.MethodPost, "/api/extractions", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// StartExtraction starts a job. An empty token lets the server use its own.
func (c *Client) StartExtraction(ctx context.Context, id, token string) (*domain.Extraction, error) {
	var body any
	if token != "" {
		body = map[string]string{"token": token}
	}
	var job domain.Extraction
	if err := c.do(ctx, http.MethodPost, "/api/extractions/"+url.PathEscape(id)+"/start", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// PauseExtraction pauses a running job
func (c *Client) PauseExtraction(ctx context.Context, id string) (*domain.Extraction, error) {
	var job domain.Extraction
	if err := c.do(ctx, http.MethodPost, "/api/extractions/"+url.PathEscape(id)+"/pause", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var response struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Error}
	}
	if result == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, result)
}
