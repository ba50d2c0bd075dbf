// Package client talks to the task-tracker REST API and keeps the local login session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8080/api"
	StatusAll      = "All"
)

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	User        int64     `json:"user"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TaskPage struct {
	Tasks      []Task `json:"tasks"`
	Total      int64  `json:"total"`
	Page       int    `json:"page"`
	TotalPages int    `json:"totalPages"`
	HasMore    bool   `json:"hasMore"`
}

// AuthResult is the body of a successful register or login.
type AuthResult struct {
	Token     string
	ExpiresAt *time.Time
	User      User
}

type authBody struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	User
}

type ListParams struct {
	Page   int
	Limit  int
	Search string
	Status string
}

func (p ListParams) query() url.Values {
	q := url.Values{}
	if p.Page > 1 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if s := strings.TrimSpace(p.Search); s != "" {
		q.Set("search", s)
	}
	if p.Status != "" && p.Status != StatusAll {
		q.Set("status", p.Status)
	}
	return q
}

// TaskInput is a create or update body. Nil fields are omitted.
type TaskInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// BaseURLFromEnv returns TASKTRACKER_API_URL or DefaultBaseURL.
func BaseURLFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("TASKTRACKER_API_URL")); v != "" {
		return v
	}
	return DefaultBaseURL
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// SetToken attaches a bearer token to later requests. An empty token detaches it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	body := map[string]string{"name": name, "email": email, "password": password}
	var out authBody
	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, body, &out, "Registration failed"); err != nil {
		return nil, err
	}
	return out.result(), nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	var out authBody
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &out, "Login failed"); err != nil {
		return nil, err
	}
	return out.result(), nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &out, "Failed to load user"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTasks(ctx context.Context, params ListParams) (*TaskPage, error) {
	var out TaskPage
	if err := c.do(ctx, http.MethodGet, "/tasks", params.query(), nil, &out, "Failed to fetch tasks"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetTask(ctx context.Context, id int64) (*Task, error) {
	var out Task
	if err := c.do(ctx, http.MethodGet, taskPath(id), nil, nil, &out, "Failed to fetch task"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateTask(ctx context.Context, input TaskInput) (*Task, error) {
	var out Task
	if err := c.do(ctx, http.MethodPost, "/tasks", nil, input, &out, "Failed to create task"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateTask(ctx context.Context, id int64, input TaskInput) (*Task, error) {
	var out Task
	if err := c.do(ctx, http.MethodPut, taskPath(id), nil, input, &out, "Failed to update task"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil, nil, "Failed to delete task")
}

// Health returns the server's status message.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out, "Server is unreachable"); err != nil {
		return "", err
	}
	return out.Message, nil
}

func taskPath(id int64) string {
	return "/tasks/" + strconv.FormatInt(id, 10)
}

func (b authBody) result() *AuthResult {
	res := &AuthResult{Token: b.Token, User: b.User}
	if t, err := time.Parse(time.RFC3339, b.ExpiresAt); err == nil {
		res.ExpiresAt = &t
	}
	return res
}

// do sends one request. fallback is the message used when the server gives none.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any, fallback string) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return &APIError{Message: fallback, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Message: fallback, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &APIError{Status: resp.StatusCode, Message: fallback, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, raw, fallback)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Status: resp.StatusCode, Message: fallback, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// Statuses lists the task statuses in cycling order.
var Statuses = []string{"Pending", "In Progress", "Completed"}

// NormalizeStatus maps loose spellings such as "in-progress" or "done" to a
// canonical status.
func NormalizeStatus(s string) (string, bool) {
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch key {
	case "pending", "todo":
		return "Pending", true
	case "inprogress", "doing":
		return "In Progress", true
	case "completed", "complete", "done":
		return "Completed", true
	}
	return "", false
}

// NextStatus returns the status after s in Statuses, wrapping around.
func NextStatus(s string) string {
	for i, status := range Statuses {
		if status == s {
			return Statuses[(i+1)%len(Statuses)]
		}
	}
	return Statuses[0]
}
