package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// StoryRunner 流水线的扁平调用入口
type StoryRunner interface {
	RunFlat(ctx context.Context, prompt string) (map[string]string, error)
}

// StoryTool 实现eino框架的故事生成工具
type StoryTool struct {
	runner StoryRunner
}

// StoryToolArgs 故事生成请求参数
type StoryToolArgs struct {
	Prompt string `json:"prompt"` // 故事主题或开头
}

// StoryToolResp 故事生成响应
type StoryToolResp struct {
	Result  map[string]string `json:"result"`
	Saved   bool              `json:"saved"`
	Message string            `json:"message"`
}

// NewStoryTool 创建故事生成工具实例
func NewStoryTool(runner StoryRunner) *StoryTool {
	return &StoryTool{runner: runner}
}

// Info 获取故事生成工具信息
func (t *StoryTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"prompt": {Type: schema.String, Required: true, Desc: "Story premise, theme or opening line"},
	}
	return &schema.ToolInfo{
		Name:        "story_generate",
		Desc:        "Generate story ideas and a complete short story with setting, characters, conflict and resolution",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun 执行故事生成任务
func (t *StoryTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args StoryToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Prompt) == "" {
		return "", errors.New("prompt required")
	}

	result, err := t.runner.RunFlat(ctx, args.Prompt)
	if err != nil {
		return "", err
	}

	response := StoryToolResp{Result: result, Message: "story generated"}
	if result["notion_page_id"] != "" {
		response.Saved = true
		response.Message = "story generated and saved"
	} else if result["persist_error"] != "" {
		response.Message = "story generated, saving failed"
	}

	b, err := json.Marshal(response)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// 确保StoryTool实现了einotool.InvokableTool接口
var _ einotool.InvokableTool = (*StoryTool)(nil)
