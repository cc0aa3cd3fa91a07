package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsComparesCodes(t *testing.T) {
	sentinel := New(CodeBackendFailure, "")
	err := fmt.Errorf("stage analysis: %w", Wrap(CodeBackendFailure, stdErrors.New("dial tcp"), "调用失败"))

	assert.True(t, stdErrors.Is(err, sentinel))
	assert.False(t, stdErrors.Is(err, New(CodeParseFailure, "")))
	assert.Equal(t, CodeBackendFailure, CodeOf(err))
	assert.True(t, RetryableError(err))
	assert.True(t, ShouldAlert(err))
}

func TestErrorStringIncludesMetadataAndCause(t *testing.T) {
	err := Wrap(CodePersistenceFailure, stdErrors.New("db down"), "写入会话失败",
		WithMetadata("session_id", "s-1"), WithRetryable(false))

	assert.Equal(t, "[PERSISTENCE_FAILURE] 写入会话失败 session_id=s-1: db down", err.Error())
	assert.False(t, err.Retryable())
	assert.Equal(t, map[string]string{"session_id": "s-1"}, err.Metadata())
}

func TestRegisterAndFallbackAttributes(t *testing.T) {
	code := Code("TEST_CUSTOM")
	assert.Equal(t, AttributesOf(CodeUnknown), AttributesOf(code))

	Register(code, Attributes{Message: "custom", Severity: SeverityInfo})
	assert.Equal(t, "custom", New(code, "").Message())
	assert.Equal(t, SeverityInfo, SeverityOf(New(code, "")))
	assert.Equal(t, SeverityCritical, SeverityOf(stdErrors.New("plain")))
}
