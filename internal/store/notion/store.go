// Package notion persists stories as pages of a Notion database.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"storyweaver/internal/config"
	"storyweaver/internal/metrics"
	"storyweaver/internal/model"
	"storyweaver/internal/store"
)

// 数据库属性名与正文标题
const (
	propTitle      = "Title"
	propStatus     = "Status"
	propSetting    = "Setting"
	propCharacters = "Characters"
	propConflict   = "Conflict"
	propResolution = "Resolution"

	headingIdeas = "Generated Ideas"
	headingStory = "Complete Story"
)

// Store Notion 文档库
type Store struct {
	client     *Client
	databaseID string
}

var _ store.Store = (*Store)(nil)

// New validates cfg and builds the store. hc may be nil.
func New(cfg config.NotionConfig, hc *http.Client) (*Store, error) {
	var missing []string
	if strings.TrimSpace(cfg.Token) == "" {
		missing = append(missing, "token")
	}
	if strings.TrimSpace(cfg.DatabaseID) == "" {
		missing = append(missing, "database_id")
	}
	if len(missing) > 0 {
		return nil, &store.ConfigurationError{Backend: "notion", Missing: missing}
	}

	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	version := cfg.Version
	if version == "" {
		version = defaultVersion
	}

	return &Store{
		client:     &Client{BaseURL: base, Token: cfg.Token, Version: version, HTTPClient: hc},
		databaseID: cfg.DatabaseID,
	}, nil
}

func (s *Store) Upsert(ctx context.Context, state *model.StoryState) (string, error) {
	rec := store.RecordFromState(state)
	if state.NotionPageID != "" {
		err := s.client.patchJSON(ctx, "/v1/pages/"+url.PathEscape(state.NotionPageID),
			map[string]any{"properties": properties(rec, false)}, nil)
		if err != nil {
			return "", s.done("update", err)
		}
		return state.NotionPageID, s.done("update", nil)
	}

	body := map[string]any{
		"parent":     map[string]any{"database_id": s.databaseID},
		"properties": properties(rec, true),
		"children":   children(rec),
	}
	var created page
	if err := s.client.postJSON(ctx, "/v1/pages", body, &created); err != nil {
		return "", s.done("create", err)
	}
	if created.ID == "" {
		return "", s.done("create", errors.New("no page id in response"))
	}
	logrus.WithFields(logrus.Fields{"run_id": state.RunID, "page_id": created.ID}).Info("story saved to notion")
	return created.ID, s.done("create", nil)
}

func (s *Store) Query(ctx context.Context, f store.Filter, limit int) ([]store.Record, error) {
	body := map[string]any{
		"page_size": store.Limit(limit),
		"sorts":     []map[string]any{{"timestamp": "created_time", "direction": "descending"}},
	}
	if q := strings.TrimSpace(f.Text); q != "" {
		body["filter"] = map[string]any{
			"or": []map[string]any{
				{"property": propTitle, "title": map[string]any{"contains": q}},
				{"property": propSetting, "rich_text": map[string]any{"contains": q}},
				{"property": propCharacters, "rich_text": map[string]any{"contains": q}},
			},
		}
	}

	var resp queryResponse
	if err := s.client.postJSON(ctx, "/v1/databases/"+url.PathEscape(s.databaseID)+"/query", body, &resp); err != nil {
		return nil, s.done("query", err)
	}
	out := make([]store.Record, 0, len(resp.Results))
	for _, p := range resp.Results {
		out = append(out, toRecord(p))
	}
	return out, s.done("query", nil)
}

func (s *Store) Get(ctx context.Context, pageID string) (*store.Record, error) {
	var p page
	if err := s.client.get(ctx, "/v1/pages/"+url.PathEscape(pageID), &p); err != nil {
		return nil, s.done("get", notFound(err))
	}
	rec := toRecord(p)

	var blocks blockList
	if err := s.client.get(ctx, "/v1/blocks/"+url.PathEscape(pageID)+"/children?page_size=100", &blocks); err != nil {
		return nil, s.done("get", err)
	}
	rec.Ideas, rec.Story = bodyText(blocks.Results)
	return &rec, s.done("get", nil)
}

func (s *Store) UpdateStatus(ctx context.Context, pageID string, status model.Status) error {
	body := map[string]any{"properties": map[string]property{propStatus: selectProp(string(status))}}
	err := s.client.patchJSON(ctx, "/v1/pages/"+url.PathEscape(pageID), body, nil)
	return s.done("update_status", notFound(err))
}

// Archive moves the page to the Notion trash. Notion has no hard delete.
func (s *Store) Archive(ctx context.Context, pageID string) error {
	err := s.client.patchJSON(ctx, "/v1/pages/"+url.PathEscape(pageID), map[string]any{"archived": true}, nil)
	return s.done("archive", notFound(err))
}

// Ping checks the token and that the database is shared with the integration.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.get(ctx, "/v1/users/me", nil); err != nil {
		return s.done("ping", fmt.Errorf("token check: %w", err))
	}
	if err := s.client.get(ctx, "/v1/databases/"+url.PathEscape(s.databaseID), nil); err != nil {
		return s.done("ping", fmt.Errorf("database check: %w", err))
	}
	return s.done("ping", nil)
}

func (s *Store) done(op string, err error) error {
	metrics.StoreOpsTotal.WithLabelValues("notion", op, metrics.Outcome(err)).Inc()
	return store.Wrap(op, err)
}

func notFound(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", store.ErrNotFound, apiErr.Message)
	}
	return err
}

// properties maps a record onto database properties. Empty text is left out.
func properties(rec store.Record, withStatus bool) map[string]property {
	props := map[string]property{propTitle: titleProp(rec.Title)}
	if withStatus {
		props[propStatus] = selectProp(string(rec.Status))
	}
	for name, v := range map[string]string{
		propSetting:    rec.Setting,
		propCharacters: rec.Characters,
		propConflict:   rec.Conflict,
		propResolution: rec.Resolution,
	} {
		if v != "" {
			props[name] = richTextProp(v)
		}
	}
	return props
}

func children(rec store.Record) []block {
	blocks := []block{heading(headingIdeas)}
	if rec.Ideas != "" {
		blocks = append(blocks, paragraph(rec.Ideas))
	}
	return append(blocks, heading(headingStory), paragraph(rec.Story))
}

func toRecord(p page) store.Record {
	rec := store.Record{
		ID:         p.ID,
		URL:        p.URL,
		Title:      plain(p.Properties[propTitle].Title),
		Setting:    plain(p.Properties[propSetting].RichText),
		Characters: plain(p.Properties[propCharacters].RichText),
		Conflict:   plain(p.Properties[propConflict].RichText),
		Resolution: plain(p.Properties[propResolution].RichText),
		CreatedAt:  p.CreatedTime,
		UpdatedAt:  p.LastEditedTime,
	}
	if rec.Title == "" {
		rec.Title = "Untitled"
	}
	if sel := p.Properties[propStatus].Select; sel != nil {
		rec.Status = model.Status(sel.Name)
	}
	return rec
}

// bodyText collects the paragraphs under the ideas and story headings.
func bodyText(blocks []block) (ideas, story string) {
	var ideaParts, storyParts []string
	var current *[]string
	for _, b := range blocks {
		switch {
		case b.Heading1 != nil:
			switch plain(b.Heading1.RichText) {
			case headingIdeas:
				current = &ideaParts
			case headingStory:
				current = &storyParts
			default:
				current = nil
			}
		case b.Paragraph != nil && current != nil:
			*current = append(*current, plain(b.Paragraph.RichText))
		}
	}
	return strings.Join(ideaParts, "\n\n"), strings.Join(storyParts, "\n\n")
}
