package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
)

// Request 描述一次发送给大模型的调用。
type Request struct {
	SystemInstructions string
	Task               string
	JSONMode           bool
	Temperature        float32
}

// Result 是所有后端统一的返回结构。JSON 模式下 JSON 字段保存校验过的对象。
type Result struct {
	Provider string
	Text     string
	JSON     json.RawMessage
}

// Backend 定义了调用大模型的统一接口。
type Backend interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}

// BackendFunc 让普通函数满足 Backend 接口。
type BackendFunc func(ctx context.Context, req Request) (*Result, error)

// Complete 实现 Backend。
func (f BackendFunc) Complete(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

var (
	// ErrBackend 匹配所有后端调用失败（网络错误、空回复）。
	ErrBackend = xerrors.New(xerrors.CodeBackendFailure, "")
	// ErrParse 匹配 JSON 模式下无法解析的输出。
	ErrParse = xerrors.New(xerrors.CodeParseFailure, "")
)

// BackendFailure 将适配器内部错误包装为 BACKEND_FAILURE。
func BackendFailure(provider string, cause error, message string) error {
	return xerrors.Wrap(xerrors.CodeBackendFailure, cause, message, xerrors.WithMetadata("provider", provider))
}

// Normalize 把适配器取出的原始文本收敛为 Result：
// 去掉首尾空白，空文本视为后端失败；JSON 模式下只剥离代码围栏，围栏外夹带文字一律视为解析失败。
func Normalize(provider, raw string, jsonMode bool) (*Result, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, xerrors.New(xerrors.CodeBackendFailure, "大模型返回内容为空", xerrors.WithMetadata("provider", provider))
	}
	result := &Result{Provider: provider, Text: text}
	if !jsonMode {
		return result, nil
	}

	payload := stripFence(text)
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &object); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeParseFailure, err, "大模型输出不是合法 JSON 对象", xerrors.WithMetadata("provider", provider))
	}
	result.JSON = json.RawMessage(payload)
	return result, nil
}

// Decode 将 JSON 结果解析到 v。非 JSON 模式的结果也会尝试按 JSON 解析。
func (r *Result) Decode(v any) error {
	if r == nil {
		return xerrors.New(xerrors.CodeParseFailure, "结果为空")
	}
	data := r.JSON
	if len(data) == 0 {
		data = json.RawMessage(stripFence(r.Text))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return xerrors.Wrap(xerrors.CodeParseFailure, err, fmt.Sprintf("解析 %s 输出失败", r.Provider))
	}
	return nil
}

func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		trimmed = trimmed[nl+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
