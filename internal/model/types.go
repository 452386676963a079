package model

import (
	"fmt"
	"strings"
)

// Phase 流水线所处阶段
type Phase string

const (
	PhaseIdea    Phase = "idea"
	PhaseStory   Phase = "story"
	PhasePersist Phase = "persist"
	PhaseDone    Phase = "done"
)

// Status 故事在文档库中的状态
type Status string

const (
	StatusGenerated Status = "Generated"
	StatusDraft     Status = "Draft"
	StatusPublished Status = "Published"
)

// Statuses lists every status the document store accepts.
var Statuses = []Status{StatusGenerated, StatusDraft, StatusPublished}

// ParseStatus matches s case-insensitively against the known statuses.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q (want Generated, Draft or Published)", s)
}

// Field 单个生成字段：成功时为内容，失败时为错误信息
type Field struct {
	Content string `json:"content"`
	Err     string `json:"error,omitempty"`
	// Thing names what was being generated, used when rendering failures.
	Thing string `json:"thing,omitempty"`
}

// Success wraps generated content. Empty content is still a success.
func Success(content string) *Field {
	return &Field{Content: content}
}

// Failure records a failed generation of thing.
func Failure(thing, msg string) *Field {
	return &Field{Thing: thing, Err: msg}
}

// Failed reports whether the field holds an error instead of content.
func (f *Field) Failed() bool {
	return f != nil && f.Err != ""
}

// String renders the field the way it is shown to users and persisted.
func (f *Field) String() string {
	if f == nil {
		return ""
	}
	if f.Failed() {
		return fmt.Sprintf("Error generating %s: %s", f.Thing, f.Err)
	}
	return f.Content
}

// Usable returns the content only when the field was generated successfully.
func (f *Field) Usable() string {
	if f == nil || f.Failed() {
		return ""
	}
	return f.Content
}

// StoryState 一次流水线运行中共享的状态
type StoryState struct {
	RunID  string `json:"run_id"`
	Prompt string `json:"prompt"`

	Ideas *Field `json:"ideas,omitempty"`

	Setting    *Field `json:"setting,omitempty"`
	Characters *Field `json:"characters,omitempty"`
	Conflict   *Field `json:"conflict,omitempty"`
	Resolution *Field `json:"resolution,omitempty"`
	Story      *Field `json:"story,omitempty"`

	NotionPageID string `json:"notion_page_id,omitempty"`
	PersistError string `json:"persist_error,omitempty"`

	Phases []Phase `json:"phases"`
}

// NewStoryState starts a fresh state for one run.
func NewStoryState(runID, prompt string) *StoryState {
	return &StoryState{RunID: runID, Prompt: prompt}
}

// StateDelta 阶段产出的部分状态，只包含该阶段拥有的字段
type StateDelta struct {
	Ideas *Field

	Setting    *Field
	Characters *Field
	Conflict   *Field
	Resolution *Field
	Story      *Field
}

// Apply merges the non-nil fields of d into s. Prompt is never touched.
func (s *StoryState) Apply(d StateDelta) {
	if d.Ideas != nil {
		s.Ideas = d.Ideas
	}
	if d.Setting != nil {
		s.Setting = d.Setting
	}
	if d.Characters != nil {
		s.Characters = d.Characters
	}
	if d.Conflict != nil {
		s.Conflict = d.Conflict
	}
	if d.Resolution != nil {
		s.Resolution = d.Resolution
	}
	if d.Story != nil {
		s.Story = d.Story
	}
}

// Enter records that the pipeline reached phase p.
func (s *StoryState) Enter(p Phase) {
	s.Phases = append(s.Phases, p)
}

// Flatten renders the state as the flat key/value structure returned to front ends.
// Absent fields are omitted.
func (s *StoryState) Flatten() map[string]string {
	out := map[string]string{"prompt": s.Prompt}
	put := func(k string, f *Field) {
		if f != nil {
			out[k] = f.String()
		}
	}
	put("ideas", s.Ideas)
	put("setting", s.Setting)
	put("characters", s.Characters)
	put("conflict", s.Conflict)
	put("resolution", s.Resolution)
	put("story", s.Story)
	if s.NotionPageID != "" {
		out["notion_page_id"] = s.NotionPageID
	}
	if s.PersistError != "" {
		out["persist_error"] = s.PersistError
	}
	return out
}
