// Package store defines the document store the pipeline persists finished
// stories into, plus the fixed mapping from pipeline state to stored record.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"storyweaver/internal/model"
)

const (
	// MaxTextLen is the longest text written into a single property or block.
	// It counts runes; Notion's 2000 limit counts UTF-16 units, so text made of
	// astral-plane characters (emoji) can still exceed it.
	MaxTextLen = 1900
	// TitleLen caps the title derived from the prompt.
	TitleLen = 100
	// DefaultLimit is used by Query when no positive limit is given.
	DefaultLimit = 10

	UntitledStory = "Untitled Story"
)

// ErrNotFound is wrapped by PersistError when the page does not exist.
var ErrNotFound = errors.New("story not found")

// Store 故事文档库
type Store interface {
	// Upsert creates a record for state, or updates the one named by
	// state.NotionPageID. Last writer wins.
	Upsert(ctx context.Context, state *model.StoryState) (string, error)
	Query(ctx context.Context, f Filter, limit int) ([]Record, error)
	Get(ctx context.Context, pageID string) (*Record, error)
	UpdateStatus(ctx context.Context, pageID string, status model.Status) error
	Archive(ctx context.Context, pageID string) error
	Ping(ctx context.Context) error
}

// Filter narrows Query. Text matches title, setting or characters.
type Filter struct {
	Text string
}

// Record 文档库中的一条故事记录
type Record struct {
	ID         string       `json:"id" yaml:"id"`
	URL        string       `json:"url,omitempty" yaml:"url,omitempty"`
	Title      string       `json:"title" yaml:"title"`
	Status     model.Status `json:"status" yaml:"status"`
	Setting    string       `json:"setting,omitempty" yaml:"setting,omitempty"`
	Characters string       `json:"characters,omitempty" yaml:"characters,omitempty"`
	Conflict   string       `json:"conflict,omitempty" yaml:"conflict,omitempty"`
	Resolution string       `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Ideas      string       `json:"ideas,omitempty" yaml:"ideas,omitempty"`
	Story      string       `json:"story,omitempty" yaml:"story,omitempty"`
	CreatedAt  time.Time    `json:"created_at,omitzero" yaml:"created_at,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

// PersistError 存储操作失败
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Wrap returns nil for a nil err, and a *PersistError for op otherwise.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistError{Op: op, Err: err}
}

// Truncate cuts s to at most n characters. Longer text keeps its first n-3
// characters followed by "...", so the result is exactly n long.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// Title derives the record title from the prompt.
func Title(prompt string) string {
	p := strings.TrimSpace(prompt)
	if p == "" {
		return UntitledStory
	}
	r := []rune(p)
	if len(r) > TitleLen {
		r = r[:TitleLen]
	}
	return string(r)
}

// RecordFromState applies the fixed state to record mapping. Fields the state
// does not carry stay empty.
func RecordFromState(state *model.StoryState) Record {
	text := func(f *model.Field) string {
		return Truncate(f.String(), MaxTextLen)
	}
	return Record{
		ID:         state.NotionPageID,
		Title:      Title(state.Prompt),
		Status:     model.StatusGenerated,
		Setting:    text(state.Setting),
		Characters: text(state.Characters),
		Conflict:   text(state.Conflict),
		Resolution: text(state.Resolution),
		Ideas:      text(state.Ideas),
		Story:      text(state.Story),
	}
}

// Matches reports whether r satisfies f. Backends without server side
// filtering use it.
func (f Filter) Matches(r Record) bool {
	q := strings.ToLower(strings.TrimSpace(f.Text))
	if q == "" {
		return true
	}
	for _, v := range []string{r.Title, r.Setting, r.Characters} {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

// Limit normalizes a caller supplied page size.
func Limit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

// ConfigurationError 存储后端配置不完整
type ConfigurationError struct {
	Backend string
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("store %q is missing: %s", e.Backend, strings.Join(e.Missing, ", "))
}
