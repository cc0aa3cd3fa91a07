// Package meaningfill 是 MeaningFill 咨询服务 REST API 的 Go 客户端。
package meaningfill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout 是未提供 http.Client 时使用的超时。团队运行会串行调用多次大模型，因此较长。
const DefaultHTTPTimeout = 3 * time.Minute

// Client 封装与 MeaningFill API 的 HTTP 交互。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Turn 是会话中的一条消息。
type Turn struct {
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Intent 是影子分析提取出的意向。
type Intent struct {
	Intent              string   `json:"intent"`
	Topic               string   `json:"topic"`
	SentimentScore      int      `json:"sentiment_score"`
	KeyNeeds            []string `json:"key_needs"`
	PurchaseProbability int      `json:"purchase_probability"`
}

// Session 是会话详情。
type Session struct {
	ID               string    `json:"id"`
	ConversionStatus string    `json:"conversion_status"`
	LatestIntent     *Intent   `json:"latest_intent,omitempty"`
	Turns            []Turn    `json:"turns"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Reply 是助手对一条消息的回复。
type Reply struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Fallback  bool   `json:"fallback"`
}

// Team 描述一个可运行的团队。
type Team struct {
	Name   string   `json:"name"`
	Stages []string `json:"stages"`
}

// Artifact 是团队某个阶段的产出。
type Artifact struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Report 是团队运行的完整报告。
type Report struct {
	Team      string     `json:"team"`
	Input     string     `json:"input"`
	Artifacts []Artifact `json:"artifacts"`
}

// APIError 表示服务端返回的错误。
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("meaningfill api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("meaningfill api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient 创建客户端。httpClient 为 nil 时使用默认超时。
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

// SetAccessToken 设置访问受保护接口使用的 Bearer Token。
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken 返回当前保存的 Token。
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// CreateSession 创建新会话。
func (c *Client) CreateSession(ctx context.Context) (Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", nil, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// GetSession 获取会话详情，需要 sessions:read 范围。
func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// SendMessage 在会话中发送一条消息并返回助手回复。
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) (Reply, error) {
	var reply Reply
	body := map[string]string{"message": message}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/messages", body, &reply); err != nil {
		return Reply{}, err
	}
	return reply, nil
}

// ListTeams 列出可运行的团队。
func (c *Client) ListTeams(ctx context.Context) ([]Team, error) {
	var teams []Team
	if err := c.do(ctx, http.MethodGet, "/api/v1/teams", nil, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// RunTeam 运行团队，需要 teams:run 范围。
func (c *Client) RunTeam(ctx context.Context, name, input string) (Report, error) {
	var report Report
	body := map[string]string{"input": input}
	if err := c.do(ctx, http.MethodPost, "/api/v1/teams/"+url.PathEscape(name)+"/runs", body, &report); err != nil {
		return Report{}, err
	}
	return report, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
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
