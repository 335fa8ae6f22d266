package sqlgatectl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const runIDHeader = "X-Sqlgate-Run-ID"

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Log     []LogEntry
}

type LogEntry struct {
	Statement int    `json:"statement"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, http: httpClient}
}

// GetJSON fetches path and returns the raw JSON body.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	body, _, err := c.do(req)
	return body, err
}

// Submit uploads a script for caseNumber and returns the run id and the
// result archive. An empty scriptPath runs the server's default script.
func (c *Client) Submit(ctx context.Context, caseNumber, scriptPath string) (string, []byte, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("case_number", caseNumber); err != nil {
		return "", nil, fmt.Errorf("write case number: %w", err)
	}
	if scriptPath != "" {
		script, err := os.ReadFile(scriptPath)
		if err != nil {
			return "", nil, fmt.Errorf("read script: %w", err)
		}
		part, err := form.CreateFormFile("file", filepath.Base(scriptPath))
		if err != nil {
			return "", nil, fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(script); err != nil {
			return "", nil, fmt.Errorf("write file part: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/runs", &buf)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	body, header, err := c.do(req)
	if err != nil {
		return "", nil, err
	}
	return header.Get(runIDHeader), body, nil
}

// DownloadArchive fetches the retained archive of a run.
func (c *Client) DownloadArchive(ctx context.Context, runID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/runs/"+url.PathEscape(runID)+"/archive", nil)
	if err != nil {
		return nil, err
	}
	body, _, err := c.do(req)
	return body, err
}

func (c *Client) do(req *http.Request) ([]byte, http.Header, error) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, nil, decodeAPIError(resp.StatusCode, body)
	}
	return body, resp.Header, nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	var payload struct {
		ErrorCode string     `json:"error_code"`
		Error     string     `json:"error"`
		Message   string     `json:"message"`
		Log       []LogEntry `json:"log"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.ErrorCode != "" {
		apiErr.Code = payload.ErrorCode
		apiErr.Message = payload.Error
		if apiErr.Message == "" {
			apiErr.Message = payload.Message
		}
		apiErr.Log = payload.Log
	}
	return apiErr
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}
