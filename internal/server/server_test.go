package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyweaver/internal/agent"
	"storyweaver/internal/config"
	"storyweaver/internal/model"
	"storyweaver/internal/store"
	"storyweaver/internal/tools"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePipeline struct {
	err error
}

func (f *fakePipeline) Run(_ context.Context, req agent.Request) (*model.StoryState, error) {
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, agent.ErrEmptyPrompt
	}
	st := model.NewStoryState("run-42", req.Prompt)
	st.Ideas = model.Success("ideas")
	st.Story = model.Success("story")
	st.NotionPageID = "page-1"
	return st, nil
}

func (f *fakePipeline) RunFlat(ctx context.Context, prompt string) (map[string]string, error) {
	st, err := f.Run(ctx, agent.Request{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	return st.Flatten(), nil
}

// memStore 内存版文档库
type memStore struct {
	recs map[string]*store.Record
}

func newMemStore() *memStore {
	return &memStore{recs: map[string]*store.Record{
		"p1": {ID: "p1", Title: "Lighthouse", Status: model.StatusGenerated},
	}}
}

func (m *memStore) Upsert(_ context.Context, st *model.StoryState) (string, error) {
	rec := store.RecordFromState(st)
	rec.ID = "p2"
	m.recs[rec.ID] = &rec
	return rec.ID, nil
}

func (m *memStore) Query(_ context.Context, f store.Filter, limit int) ([]store.Record, error) {
	var out []store.Record
	for _, r := range m.recs {
		if f.Matches(*r) && len(out) < store.Limit(limit) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, id string) (*store.Record, error) {
	r, ok := m.recs[id]
	if !ok {
		return nil, &store.PersistError{Op: "get", Err: store.ErrNotFound}
	}
	return r, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id string, status model.Status) error {
	r, ok := m.recs[id]
	if !ok {
		return &store.PersistError{Op: "update_status", Err: store.ErrNotFound}
	}
	r.Status = status
	return nil
}

func (m *memStore) Archive(_ context.Context, id string) error {
	if _, ok := m.recs[id]; !ok {
		return &store.PersistError{Op: "archive", Err: store.ErrNotFound}
	}
	delete(m.recs, id)
	return nil
}

func (m *memStore) Ping(context.Context) error { return nil }

func newTestServer(t *testing.T, p *fakePipeline, st store.Store) *Server {
	t.Helper()
	d := Deps{
		Pipeline: p,
		Info:     map[string]any{"name": "storyweaver"},
	}
	d.Tools = append(d.Tools, tools.NewStoryTool(p))
	if st != nil {
		d.Store = st
		d.Tools = append(d.Tools, tools.NewSearchTool(st))
	}
	s, err := New(context.Background(), config.ServerConfig{CORSOrigins: []string{"*"}, MetricsEnabled: true}, d)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Generate(t *testing.T) {
	s := newTestServer(t, &fakePipeline{}, nil)

	w := do(t, s, http.MethodPost, "/api/stories/generate", `{"prompt":"A magical cat"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run-42", w.Header().Get("X-Run-ID"))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var flat map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &flat))
	assert.Equal(t, "A magical cat", flat["prompt"])
	assert.Equal(t, "page-1", flat["notion_page_id"])
}

func TestServer_GenerateBadRequests(t *testing.T) {
	s := newTestServer(t, &fakePipeline{}, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/stories/generate", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/stories/generate", `{"prompt":"  "}`).Code)

	s = newTestServer(t, &fakePipeline{err: context.DeadlineExceeded}, nil)
	assert.Equal(t, http.StatusGatewayTimeout, do(t, s, http.MethodPost, "/api/stories/generate", `{"prompt":"x"}`).Code)
}

func TestServer_StoriesDisabledWithoutStore(t *testing.T) {
	s := newTestServer(t, &fakePipeline{}, nil)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/stories", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodDelete, "/api/stories/p1", "").Code)
}

func TestServer_StoryManagement(t *testing.T) {
	ms := newMemStore()
	s := newTestServer(t, &fakePipeline{}, ms)

	w := do(t, s, http.MethodGet, "/api/stories?q=light&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Stories []store.Record `json:"stories"`
		Count   int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/stories?limit=x", "").Code)

	w = do(t, s, http.MethodGet, "/api/stories/p1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Lighthouse")
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/stories/missing", "").Code)

	w = do(t, s, http.MethodPatch, "/api/stories/p1/status", `{"status":"published"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusPublished, ms.recs["p1"].Status)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPatch, "/api/stories/p1/status", `{"status":"lost"}`).Code)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/api/stories/p1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/api/stories/p1", "").Code)
}

func TestServer_Tools(t *testing.T) {
	s := newTestServer(t, &fakePipeline{}, newMemStore())

	w := do(t, s, http.MethodPost, "/tools/story-generate", `{"prompt":"a cat"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp tools.StoryToolResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Saved)

	w = do(t, s, http.MethodPost, "/tools/story_search", `{"query":"light"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Lighthouse")

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/tools/nope", `{}`).Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodPost, "/tools/story-generate", `{}`).Code)
}

func TestServer_InfoHealthMetrics(t *testing.T) {
	s := newTestServer(t, &fakePipeline{}, nil)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)

	w := do(t, s, http.MethodGet, "/api/info", "")
	require.Equal(t, http.StatusOK, w.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "storyweaver", info["name"])
	assert.Equal(t, false, info["persistence"])

	w = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "storyweaver_http_requests_total")
}
