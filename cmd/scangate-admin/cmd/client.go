package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the admin API HTTP client.
type Client struct {
	baseURL    string
	apiKey     string
	actor      string
	httpClient *http.Client
	verbose    bool
}

// NewClient creates a new admin API client.
func NewClient(baseURL, apiKey, actor string, verbose bool) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		actor:   actor,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		verbose: verbose,
	}
}

// Do performs an HTTP request and returns the response body.
func (c *Client) Do(method, path string, body any) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(context.Background(), method, url, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Admin-API-Key", c.apiKey)
	if c.actor != "" {
		req.Header.Set("X-Actor", c.actor)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.verbose {
		fmt.Printf(">>> %s %s\n", method, url)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if c.verbose {
		fmt.Printf("<<< %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, parseAPIError(resp.StatusCode, respBody)
	}

	return respBody, resp.StatusCode, nil
}

// Get performs a GET request.
func (c *Client) Get(path string) ([]byte, error) {
	data, _, err := c.Do(http.MethodGet, path, nil)
	return data, err
}

// Post performs a POST request.
func (c *Client) Post(path string, body any) ([]byte, error) {
	data, _, err := c.Do(http.MethodPost, path, body)
	return data, err
}

// Patch performs a PATCH request.
func (c *Client) Patch(path string, body any) ([]byte, error) {
	data, _, err := c.Do(http.MethodPatch, path, body)
	return data, err
}

// APIError represents an error from the admin API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    []FieldError
	Body       []byte
}

// FieldError is one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("API error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	for _, d := range e.Details {
		msg += fmt.Sprintf("\n  %s: %s", d.Field, d.Message)
	}
	return msg
}

func parseAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode, Body: body}

	var parsed struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
		// Only validation failures carry a field list.
		_ = json.Unmarshal(parsed.Details, &apiErr.Details)
	}

	if apiErr.Message == "" {
		switch statusCode {
		case http.StatusUnauthorized:
			apiErr.Message = "unauthorized: invalid or missing API key"
		case http.StatusNotFound:
			apiErr.Message = "resource not found"
		case http.StatusConflict:
			apiErr.Message = "conflict: the resource is not in a state that allows this change"
		case http.StatusTooManyRequests:
			apiErr.Message = "rate limited: retry later"
		}
	}

	return apiErr
}

// Response types matching the server's handler structs.

type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ReadyResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

type ListResponse[T any] struct {
	Data   []T   `json:"data"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

type WhitelistCommentResponse struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type WhitelistResponse struct {
	ID        string                     `json:"id"`
	Type      string                     `json:"type"`
	Name      *string                    `json:"name,omitempty"`
	Repos     []string                   `json:"repos"`
	VCs       []string                   `json:"vcs"`
	Global    bool                       `json:"global"`
	Active    bool                       `json:"active"`
	Comments  []WhitelistCommentResponse `json:"comments,omitempty"`
	CreatedBy string                     `json:"created_by"`
	UpdatedBy string                     `json:"updated_by,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

type ReconcileResponse struct {
	Tagged            int `json:"tagged"`
	Untagged          int `json:"untagged"`
	IncidentsClosed   int `json:"incidents_closed"`
	IncidentsReopened int `json:"incidents_reopened"`
	PRsRepublished    int `json:"prs_republished"`
}

type WhitelistMutationResponse struct {
	Rule      WhitelistResponse  `json:"rule"`
	Reconcile *ReconcileResponse `json:"reconcile,omitempty"`
}

type IncidentActivity struct {
	Action    string    `json:"action"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type IncidentComment struct {
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type IncidentResponse struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Type            string             `json:"type"`
	Status          string             `json:"status"`
	ClosedBy        string             `json:"closed_by,omitempty"`
	Severity        string             `json:"severity,omitempty"`
	SecretID        string             `json:"secret_id,omitempty"`
	VulnerabilityID string             `json:"vulnerability_id,omitempty"`
	Activities      []IncidentActivity `json:"activities,omitempty"`
	Comments        []IncidentComment  `json:"comments,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type ScanResponse struct {
	ID           string     `json:"id"`
	Target       string     `json:"target"`
	ParentID     string     `json:"parent_id"`
	RepositoryID string     `json:"repository_id"`
	VCID         string     `json:"vc_id"`
	Type         string     `json:"scan_type"`
	Status       string     `json:"status"`
	BlockStatus  bool       `json:"block_status"`
	Findings     int        `json:"findings"`
	Blocking     int        `json:"blocking"`
	New          int        `json:"new"`
	Error        string     `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type RepositoryScanResponse struct {
	ID           string     `json:"id"`
	RepositoryID string     `json:"repository_id"`
	VCID         string     `json:"vc_id"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	Error        string     `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
