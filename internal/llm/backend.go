package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"storyweaver/internal/config"
)

const (
	APITypeOpenAI = "openai"
	APITypeAzure  = "azure"
	APITypeArk    = "ark"
)

// Validate checks that the selected backend has every field it needs.
func Validate(cfg config.LLMConfig) error {
	apiType := strings.ToLower(strings.TrimSpace(cfg.APIType))

	var required map[string]string
	switch apiType {
	case APITypeOpenAI:
		required = map[string]string{"api_key": cfg.APIKey}
	case APITypeAzure:
		required = map[string]string{
			"api_key":         cfg.APIKey,
			"api_base":        cfg.APIBase,
			"api_version":     cfg.APIVersion,
			"deployment_name": cfg.DeploymentName,
		}
	case APITypeArk:
		required = map[string]string{"api_key": cfg.APIKey, "model": cfg.Model}
	default:
		return &ConfigurationError{APIType: cfg.APIType, Reason: "unknown api_type (want openai, azure or ark)"}
	}

	var missing []string
	for _, name := range []string{"api_key", "api_base", "api_version", "deployment_name", "model"} {
		if v, ok := required[name]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &ConfigurationError{APIType: apiType, Missing: missing}
	}
	return nil
}

// ModelName is the name reported in logs and metrics for cfg.
func ModelName(cfg config.LLMConfig) string {
	if strings.EqualFold(cfg.APIType, APITypeAzure) {
		return cfg.DeploymentName
	}
	return cfg.Model
}

// newChatModel builds the eino chat model for the configured backend. cfg must be valid.
func newChatModel(ctx context.Context, cfg config.LLMConfig, hc *http.Client) (model.BaseChatModel, error) {
	switch strings.ToLower(cfg.APIType) {
	case APITypeOpenAI:
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.APIBase,
			Model:      cfg.Model,
			HTTPClient: hc,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create openai chat model: %w", err)
		}
		return cm, nil
	case APITypeAzure:
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:     cfg.APIKey,
			ByAzure:    true,
			BaseURL:    cfg.APIBase,
			APIVersion: cfg.APIVersion,
			Model:      cfg.DeploymentName,
			HTTPClient: hc,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create azure chat model: %w", err)
		}
		return cm, nil
	case APITypeArk:
		cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:     cfg.APIKey,
			Region:     cfg.Region,
			HTTPClient: hc,
			Model:      cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ark chat model: %w", err)
		}
		return cm, nil
	default:
		return nil, &ConfigurationError{APIType: cfg.APIType, Reason: "unknown api_type"}
	}
}
