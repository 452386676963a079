package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyweaver/internal/store"
)

type runnerFunc func(ctx context.Context, prompt string) (map[string]string, error)

func (f runnerFunc) RunFlat(ctx context.Context, prompt string) (map[string]string, error) {
	return f(ctx, prompt)
}

type fakeStore struct {
	store.Store
	recs   []store.Record
	filter store.Filter
	limit  int
}

func (f *fakeStore) Query(_ context.Context, filter store.Filter, limit int) ([]store.Record, error) {
	f.filter, f.limit = filter, limit
	return f.recs, nil
}

func TestStoryTool_Info(t *testing.T) {
	info, err := NewStoryTool(nil).Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "story_generate", info.Name)
}

func TestStoryTool_InvokableRun(t *testing.T) {
	var got string
	tool := NewStoryTool(runnerFunc(func(_ context.Context, prompt string) (map[string]string, error) {
		got = prompt
		return map[string]string{"prompt": prompt, "story": "Once.", "notion_page_id": "p1"}, nil
	}))

	out, err := tool.InvokableRun(context.Background(), `{"prompt":"a cat"}`)
	require.NoError(t, err)
	assert.Equal(t, "a cat", got)

	var resp StoryToolResp
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Saved)
	assert.Equal(t, "Once.", resp.Result["story"])
}

func TestStoryTool_Errors(t *testing.T) {
	tool := NewStoryTool(runnerFunc(func(context.Context, string) (map[string]string, error) {
		return nil, errors.New("boom")
	}))

	_, err := tool.InvokableRun(context.Background(), `{"prompt":" "}`)
	assert.EqualError(t, err, "prompt required")

	_, err = tool.InvokableRun(context.Background(), `not json`)
	assert.Error(t, err)

	_, err = tool.InvokableRun(context.Background(), `{"prompt":"x"}`)
	assert.EqualError(t, err, "boom")
}

func TestSearchTool_InvokableRun(t *testing.T) {
	fs := &fakeStore{recs: []store.Record{{ID: "1", Title: "Lighthouse", Status: "Generated"}}}
	tool := NewSearchTool(fs)

	out, err := tool.InvokableRun(context.Background(), `{"query":"light","limit":5}`)
	require.NoError(t, err)
	assert.Equal(t, "light", fs.filter.Text)
	assert.Equal(t, 5, fs.limit)

	var resp SearchToolResp
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "Lighthouse", resp.Stories[0].Title)

	info, err := tool.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "story_search", info.Name)
}
