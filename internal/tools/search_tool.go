package tools

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"storyweaver/internal/store"
)

// SearchTool 在文档库中检索已保存的故事
type SearchTool struct {
	store store.Store
}

type SearchToolArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type SearchToolHit struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
}

type SearchToolResp struct {
	Stories []SearchToolHit `json:"stories"`
	Count   int             `json:"count"`
}

func NewSearchTool(s store.Store) *SearchTool {
	return &SearchTool{store: s}
}

func (t *SearchTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"query": {Type: schema.String, Required: false, Desc: "Text matched against title, setting and characters"},
		"limit": {Type: schema.Integer, Required: false, Desc: "Maximum number of stories, default 10"},
	}
	return &schema.ToolInfo{
		Name:        "story_search",
		Desc:        "Search previously saved stories",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (t *SearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args SearchToolArgs
	if argumentsInJSON != "" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
			return "", err
		}
	}

	recs, err := t.store.Query(ctx, store.Filter{Text: args.Query}, args.Limit)
	if err != nil {
		return "", err
	}
	resp := SearchToolResp{Stories: make([]SearchToolHit, 0, len(recs)), Count: len(recs)}
	for _, r := range recs {
		resp.Stories = append(resp.Stories, SearchToolHit{ID: r.ID, Title: r.Title, Status: string(r.Status), URL: r.URL})
	}

	b, err := json.Marshal(resp)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ einotool.InvokableTool = (*SearchTool)(nil)
