package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/meaningfill/class-sub000/internal/llm"
)

const (
	providerName     = "gemini"
	defaultModelName = "gemini-2.5-flash"
	defaultTimeout   = 60 * time.Second
)

// Config 描述 Gemini API 的访问参数。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client 通过 google.golang.org/genai 调用 Gemini。
type Client struct {
	models generator
	model  string
}

// NewClient 根据配置创建 Gemini 客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Gemini API Key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, err
	}
	return &Client{models: client.Models, model: model}, nil
}

// Complete 实现 llm.Backend。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Result, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if system := strings.TrimSpace(req.SystemInstructions); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.JSONMode {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := c.models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(req.Task, genai.RoleUser)},
		config,
	)
	if err != nil {
		return nil, llm.BackendFailure(providerName, err, "请求 Gemini 失败")
	}
	if resp == nil {
		return nil, llm.BackendFailure(providerName, errors.New("nil response"), "Gemini 响应为空")
	}
	return llm.Normalize(providerName, resp.Text(), req.JSONMode)
}

var _ llm.Backend = (*Client)(nil)
