// Package eagent is a small client for the executive assistant REST API.
package eagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the agent API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// TraceEntry is one line of an execution trace.
type TraceEntry struct {
	Title  string          `json:"title"`
	Detail json.RawMessage `json:"detail"`
	Failed bool            `json:"failed,omitempty"`
}

// Result is the outcome of one planned and executed task. Each artifact is a
// single-key object, optionally accompanied by a "citations" list.
type Result struct {
	User      string                       `json:"user"`
	Task      string                       `json:"task"`
	Plan      string                       `json:"plan"`
	Trace     []TraceEntry                 `json:"trace"`
	Artifacts []map[string]json.RawMessage `json:"artifacts"`
}

// Artifact returns the raw value of the first artifact named key.
func (r *Result) Artifact(key string) (json.RawMessage, bool) {
	if r == nil {
		return nil, false
	}
	for _, a := range r.Artifacts {
		if v, ok := a[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// Task is the record of an asynchronously submitted task.
type Task struct {
	ID         string  `json:"id"`
	User       string  `json:"user"`
	Text       string  `json:"task"`
	Status     string  `json:"status"`
	Attempts   int     `json:"attempts"`
	MaxRetries int     `json:"max_retries"`
	LastError  string  `json:"last_error,omitempty"`
	ErrorCode  string  `json:"error_code,omitempty"`
	Result     *Result `json:"result,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

// Finished reports whether the task reached a terminal status.
func (t Task) Finished() bool {
	return t.Status == "succeeded" || t.Status == "failed"
}

// Approval is a ledger row awaiting or holding human approval.
type Approval struct {
	ID        int64           `json:"id"`
	User      string          `json:"user"`
	Action    string          `json:"action"`
	Summary   string          `json:"summary"`
	Payload   json.RawMessage `json:"payload"`
	Approved  bool            `json:"approved"`
	CreatedAt time.Time       `json:"created_at"`
}

// Outcome reports what happened when an approval was executed.
type Outcome struct {
	Approval Approval        `json:"approval"`
	Executed bool            `json:"executed"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Answer is a grounded answer with the documents it cites.
type Answer struct {
	Text      string   `json:"answer"`
	Citations []string `json:"citations"`
}

// PostResult reports a channel post. Blocked posts carry a reason.
type PostResult struct {
	OK      bool   `json:"ok,omitempty"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
	Blocked bool   `json:"blocked,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// APIError is returned for any response with status >= 400.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("eagent api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("eagent api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets the bearer token sent with every request. An empty
// token disables the Authorization header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the stored bearer token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

type taskRequest struct {
	ID   string `json:"id,omitempty"`
	User string `json:"user"`
	Task string `json:"task"`
}

// RunTask plans and executes a task synchronously.
func (c *Client) RunTask(ctx context.Context, user, task string) (*Result, error) {
	var res Result
	if err := c.send(ctx, http.MethodPost, "/api/v1/tasks", nil, taskRequest{User: user, Task: task}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SubmitTask enqueues a task. A non-empty id makes the submission idempotent.
func (c *Client) SubmitTask(ctx context.Context, id, user, task string) (*Task, error) {
	var t Task
	q := url.Values{"async": {"true"}}
	if err := c.send(ctx, http.MethodPost, "/api/v1/tasks", q, taskRequest{ID: id, User: user, Task: task}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask fetches a task by ID.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	if err := c.send(ctx, http.MethodGet, "/api/v1/tasks/"+id, nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// WaitForTask polls GetTask until the task finishes or ctx ends.
func (c *Client) WaitForTask(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Finished() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListApprovals lists pending requests, or approved ones when approved is true.
func (c *Client) ListApprovals(ctx context.Context, user string, approved bool) ([]Approval, error) {
	status := "pending"
	if approved {
		status = "approved"
	}
	var out struct {
		Approvals []Approval `json:"approvals"`
	}
	q := url.Values{"user": {user}, "status": {status}}
	if err := c.send(ctx, http.MethodGet, "/api/v1/approvals", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Approvals, nil
}

// Approve approves one request and runs its action on the first approval.
func (c *Client) Approve(ctx context.Context, id int64) (*Outcome, error) {
	var out Outcome
	endpoint := "/api/v1/approvals/" + strconv.FormatInt(id, 10) + "/approve"
	if err := c.send(ctx, http.MethodPost, endpoint, nil, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproveAll approves every pending request of user.
func (c *Client) ApproveAll(ctx context.Context, user string) ([]Outcome, error) {
	var out struct {
		Approved int       `json:"approved"`
		Outcomes []Outcome `json:"outcomes"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/v1/approvals/approve-all", nil, map[string]string{"user": user}, &out); err != nil {
		return nil, err
	}
	return out.Outcomes, nil
}

// Ask answers a question from the policy documents.
func (c *Client) Ask(ctx context.Context, question string) (*Answer, error) {
	var ans Answer
	if err := c.send(ctx, http.MethodPost, "/api/v1/ask", nil, map[string]string{"question": question}, &ans); err != nil {
		return nil, err
	}
	return &ans, nil
}

// PostMessage posts a safety-checked message. A blocked post is not an error.
func (c *Client) PostMessage(ctx context.Context, channel, text string) (*PostResult, error) {
	var res PostResult
	if err := c.send(ctx, http.MethodPost, "/api/v1/messages", nil, map[string]string{"channel": channel, "text": text}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
