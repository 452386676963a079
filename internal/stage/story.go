package stage

import (
	"context"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/adk"

	"storyweaver/internal/llm"
	"storyweaver/internal/model"
	"storyweaver/internal/prompt"
)

// StoryStage 根据用户输入和点子生成完整故事及其结构化要素
type StoryStage struct {
	llm llm.Completer
}

var _ Stage = (*StoryStage)(nil)

func NewStoryStage(c llm.Completer) *StoryStage {
	return &StoryStage{llm: c}
}

func (s *StoryStage) Name() string { return "story" }

func (s *StoryStage) Run(ctx context.Context, state *model.StoryState) model.StateDelta {
	comp, err := s.llm.Complete(ctx, prompt.StoryV1, s.vars(state))
	return s.delta(state.RunID, comp, err)
}

func (s *StoryStage) RunAsync(ctx context.Context, state *model.StoryState) *adk.AsyncIterator[model.StateDelta] {
	iter := s.llm.CompleteAsync(ctx, prompt.StoryV1, s.vars(state))
	return runAsync(iter, func(comp llm.Completion, err error) model.StateDelta {
		return s.delta(state.RunID, comp, err)
	})
}

// vars passes failed or missing ideas on as empty text.
func (s *StoryStage) vars(state *model.StoryState) map[string]any {
	return map[string]any{
		"user_input": state.Prompt,
		"ideas":      state.Ideas.Usable(),
	}
}

func (s *StoryStage) delta(runID string, comp llm.Completion, err error) model.StateDelta {
	observe(s.Name(), runID, err)
	if err != nil {
		msg := errMessage(err)
		return model.StateDelta{
			Setting:    model.Failure(s.Name(), msg),
			Characters: model.Failure(s.Name(), msg),
			Conflict:   model.Failure(s.Name(), msg),
			Resolution: model.Failure(s.Name(), msg),
			Story:      model.Failure(s.Name(), msg),
		}
	}

	sec := parseStorySections(comp.Text)
	return model.StateDelta{
		Setting:    model.Success(sec.Setting),
		Characters: model.Success(sec.Characters),
		Conflict:   model.Success(sec.Conflict),
		Resolution: model.Success(sec.Resolution),
		Story:      model.Success(sec.Story),
	}
}

type storySections struct {
	Setting    string
	Characters string
	Conflict   string
	Resolution string
	Story      string
}

// headingRe matches "Setting:", "## Setting:", "**Setting:**", "**Setting**: text" and similar.
var headingRe = regexp.MustCompile(`(?i)^\s*#{0,6}\s*\**\s*(setting|characters|conflict|resolution|story)\s*\**\s*:\s*\**\s*(.*)$`)

// parseStorySections splits a reply into its labelled sections. Text before the
// first heading is dropped. Without a Story heading the whole reply is the story.
func parseStorySections(text string) storySections {
	parts := map[string][]string{}
	seen := map[string]bool{}
	current := ""
	for _, line := range strings.Split(text, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			current = strings.ToLower(m[1])
			seen[current] = true
			if rest := strings.TrimSpace(m[2]); rest != "" {
				parts[current] = append(parts[current], rest)
			}
			continue
		}
		if current != "" {
			parts[current] = append(parts[current], line)
		}
	}

	join := func(k string) string {
		return strings.TrimSpace(strings.Join(parts[k], "\n"))
	}
	sec := storySections{
		Setting:    join("setting"),
		Characters: join("characters"),
		Conflict:   join("conflict"),
		Resolution: join("resolution"),
		Story:      join("story"),
	}
	if !seen["story"] {
		sec.Story = strings.TrimSpace(text)
	}
	return sec
}
