package stage

import (
	"context"

	"github.com/cloudwego/eino/adk"

	"storyweaver/internal/llm"
	"storyweaver/internal/model"
	"storyweaver/internal/prompt"
)

// IdeaStage 根据用户输入生成故事点子
type IdeaStage struct {
	llm llm.Completer
}

var _ Stage = (*IdeaStage)(nil)

func NewIdeaStage(c llm.Completer) *IdeaStage {
	return &IdeaStage{llm: c}
}

func (s *IdeaStage) Name() string { return "ideas" }

func (s *IdeaStage) Run(ctx context.Context, state *model.StoryState) model.StateDelta {
	comp, err := s.llm.Complete(ctx, prompt.IdeaV1, s.vars(state))
	return s.delta(state.RunID, comp, err)
}

func (s *IdeaStage) RunAsync(ctx context.Context, state *model.StoryState) *adk.AsyncIterator[model.StateDelta] {
	iter := s.llm.CompleteAsync(ctx, prompt.IdeaV1, s.vars(state))
	return runAsync(iter, func(comp llm.Completion, err error) model.StateDelta {
		return s.delta(state.RunID, comp, err)
	})
}

func (s *IdeaStage) vars(state *model.StoryState) map[string]any {
	return map[string]any{"user_input": state.Prompt}
}

func (s *IdeaStage) delta(runID string, comp llm.Completion, err error) model.StateDelta {
	observe(s.Name(), runID, err)
	if err != nil {
		return model.StateDelta{Ideas: model.Failure(s.Name(), errMessage(err))}
	}
	return model.StateDelta{Ideas: model.Success(comp.Text)}
}
