package llm

import (
	"fmt"
	"strings"

	"storyweaver/internal/prompt"
)

// ConfigurationError 后端配置不完整，构造时一次性报出
type ConfigurationError struct {
	APIType string
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("llm config for %q is missing: %s", e.APIType, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("llm config for %q: %s", e.APIType, e.Reason)
}

// CompletionError wraps any transport, auth or remote failure of one completion call.
type CompletionError struct {
	Template prompt.ID
	Err      error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion %s: %s", e.Template, e.Message())
}

// Message is the human readable cause, suitable for embedding in stage output.
func (e *CompletionError) Message() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}
