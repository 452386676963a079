package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyweaver/internal/config"
	"storyweaver/internal/prompt"
)

func openAIConfig() config.LLMConfig {
	return config.LLMConfig{APIType: "openai", APIKey: "sk-test", Model: "gpt-4o"}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		missing []string
		wantErr bool
	}{
		{name: "openai ok", cfg: openAIConfig()},
		{name: "openai no key", cfg: config.LLMConfig{APIType: "openai"}, missing: []string{"api_key"}, wantErr: true},
		{
			name: "azure ok",
			cfg: config.LLMConfig{
				APIType: "azure", APIKey: "k", APIBase: "https://x.openai.azure.com",
				APIVersion: "2024-06-01", DeploymentName: "gpt4",
			},
		},
		{
			name: "azure no deployment",
			cfg: config.LLMConfig{
				APIType: "azure", APIKey: "k", APIBase: "https://x.openai.azure.com", APIVersion: "2024-06-01",
			},
			missing: []string{"deployment_name"},
			wantErr: true,
		},
		{
			name:    "azure only key",
			cfg:     config.LLMConfig{APIType: "AZURE", APIKey: "k"},
			missing: []string{"api_base", "api_version", "deployment_name"},
			wantErr: true,
		},
		{name: "ark ok", cfg: config.LLMConfig{APIType: "ark", APIKey: "k", Model: "ep-1"}},
		{name: "ark no model", cfg: config.LLMConfig{APIType: "ark", APIKey: "k"}, missing: []string{"model"}, wantErr: true},
		{name: "unknown", cfg: config.LLMConfig{APIType: "palm", APIKey: "k"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.missing, ce.Missing)
		})
	}
}

func TestNew_AzureWithoutDeploymentFailsBeforeAnyRequest(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage("never", nil)}

	_, err := New(context.Background(), config.LLMConfig{
		APIType: "azure", APIKey: "k", APIBase: "https://x", APIVersion: "2024-06-01",
	}, WithChatModel(fake))

	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Error(), "deployment_name")
	assert.Equal(t, 0, fake.callCount())
}

func TestNew_BuildsRealBackends(t *testing.T) {
	ctx := context.Background()

	c, err := New(ctx, openAIConfig())
	require.NoError(t, err)
	assert.Equal(t, "openai", c.APIType())
	assert.Equal(t, "gpt-4o", c.Model())

	c, err = New(ctx, config.LLMConfig{
		APIType: "azure", APIKey: "k", APIBase: "https://x.openai.azure.com",
		APIVersion: "2024-06-01", DeploymentName: "story-gpt",
	})
	require.NoError(t, err)
	assert.Equal(t, "story-gpt", c.Model())
}

func TestClient_Complete(t *testing.T) {
	reply := schema.AssistantMessage("  1. \"Moss\" - a cat hears the garden.  \n", nil)
	reply.ResponseMeta = &schema.ResponseMeta{
		FinishReason: "stop",
		Usage:        &schema.TokenUsage{PromptTokens: 12, CompletionTokens: 30, TotalTokens: 42},
	}
	fake := &fakeChatModel{reply: reply}

	c, err := New(context.Background(), openAIConfig(), WithChatModel(fake))
	require.NoError(t, err)

	got, err := c.Complete(context.Background(), prompt.IdeaV1, map[string]any{"user_input": "a cat"})
	require.NoError(t, err)

	assert.Equal(t, "1. \"Moss\" - a cat hears the garden.", got.Text)
	assert.Equal(t, "stop", got.FinishReason)
	assert.Equal(t, 12, got.PromptTokens)
	assert.Equal(t, 30, got.CompletionTokens)

	require.Equal(t, 1, fake.callCount())
	require.Len(t, fake.lastMsgs, 2)
	assert.Contains(t, fake.lastMsgs[1].Content, "a cat")
	require.NotNil(t, fake.lastOpts.MaxTokens)
	require.NotNil(t, fake.lastOpts.Temperature)
	assert.Equal(t, MaxTokens, *fake.lastOpts.MaxTokens)
	assert.Equal(t, Temperature, *fake.lastOpts.Temperature)
}

func TestClient_CompleteEmptyTextIsSuccess(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage("   ", nil)}
	c, err := New(context.Background(), openAIConfig(), WithChatModel(fake))
	require.NoError(t, err)

	got, err := c.Complete(context.Background(), prompt.IdeaV1, map[string]any{"user_input": ""})
	require.NoError(t, err)
	assert.Equal(t, "", got.Text)
}

func TestClient_CompleteBackendError(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("401 invalid api key")}
	c, err := New(context.Background(), openAIConfig(), WithChatModel(fake))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), prompt.IdeaV1, map[string]any{"user_input": "x"})

	var ce *CompletionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, prompt.IdeaV1, ce.Template)
	assert.Contains(t, ce.Message(), "401 invalid api key")
}

func TestClient_CompleteMissingVariable(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage("x", nil)}
	c, err := New(context.Background(), openAIConfig(), WithChatModel(fake))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), prompt.StoryV1, map[string]any{"user_input": "x"})

	var te *prompt.TemplateError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0, fake.callCount())
}

func TestClient_CompleteAsync(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage("async ideas", nil)}
	c, err := New(context.Background(), openAIConfig(), WithChatModel(fake))
	require.NoError(t, err)

	iter := c.CompleteAsync(context.Background(), prompt.IdeaV1, map[string]any{"user_input": "x"})

	res, ok := iter.Next()
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, "async ideas", res.Completion.Text)

	_, ok = iter.Next()
	assert.False(t, ok)
}

func TestToCompletion(t *testing.T) {
	_, err := toCompletion(nil)
	assert.ErrorIs(t, err, errEmptyResponse)

	got, err := toCompletion(&schema.Message{Role: schema.Assistant, Content: "\n hi \n"})
	require.NoError(t, err)
	assert.Equal(t, Completion{Text: "hi"}, got)
}
