// Package agent wires the generation stages and the document store into the
// story pipeline: idea -> story -> persist -> done over one shared state.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"storyweaver/internal/llm"
	"storyweaver/internal/metrics"
	"storyweaver/internal/model"
	"storyweaver/internal/stage"
	"storyweaver/internal/store"
)

// ErrEmptyPrompt is returned before any stage runs when the prompt is blank.
var ErrEmptyPrompt = errors.New("prompt must not be empty")

const (
	nodeIdea    = "idea"
	nodeStory   = "story"
	nodePersist = "persist"
)

// Request 流水线入参
type Request struct {
	Prompt string `json:"prompt" binding:"required"`
}

type options struct {
	async bool
}

// Option customizes a StoryPipeline.
type Option func(*options)

// WithAsyncStages runs each stage through its asynchronous entry point.
func WithAsyncStages() Option {
	return func(o *options) { o.async = true }
}

// StoryPipeline 故事生成流水线，构造后可并发调用
type StoryPipeline struct {
	idea   stage.Stage
	story  stage.Stage
	store  store.Store
	async  bool
	runner compose.Runnable[*model.StoryState, *model.StoryState]
}

// NewStoryPipeline compiles the pipeline graph. st may be nil, in which case
// the persist step is skipped.
func NewStoryPipeline(ctx context.Context, c llm.Completer, st store.Store, opts ...Option) (*StoryPipeline, error) {
	if c == nil {
		return nil, errors.New("completer is required")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	p := &StoryPipeline{
		idea:  stage.NewIdeaStage(c),
		story: stage.NewStoryStage(c),
		store: st,
		async: o.async,
	}

	g := compose.NewGraph[*model.StoryState, *model.StoryState]()
	if err := g.AddLambdaNode(nodeIdea, compose.InvokableLambda(p.stageNode(p.idea, model.PhaseIdea))); err != nil {
		return nil, fmt.Errorf("failed to add idea node: %w", err)
	}
	if err := g.AddLambdaNode(nodeStory, compose.InvokableLambda(p.stageNode(p.story, model.PhaseStory))); err != nil {
		return nil, fmt.Errorf("failed to add story node: %w", err)
	}
	if err := g.AddLambdaNode(nodePersist, compose.InvokableLambda(p.persist)); err != nil {
		return nil, fmt.Errorf("failed to add persist node: %w", err)
	}
	for _, e := range [][2]string{
		{compose.START, nodeIdea},
		{nodeIdea, nodeStory},
		{nodeStory, nodePersist},
		{nodePersist, compose.END},
	} {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("failed to add edge %s -> %s: %w", e[0], e[1], err)
		}
	}

	runner, err := g.Compile(ctx, compose.WithGraphName("story_pipeline"))
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph: %w", err)
	}
	p.runner = runner
	return p, nil
}

// Run executes one pipeline run. Stage and persistence failures are recorded in
// the returned state; an error is returned only for a blank prompt or when ctx
// ends, in which case the partial state is discarded.
func (p *StoryPipeline) Run(ctx context.Context, req Request) (*model.StoryState, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		metrics.PipelineRunsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyPrompt
	}

	state := model.NewStoryState(uuid.NewString(), req.Prompt)
	log := logrus.WithField("run_id", state.RunID)
	log.WithField("prompt", store.Title(req.Prompt)).Info("story pipeline started")
	start := time.Now()

	out, err := p.runner.Invoke(ctx, state)
	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.PipelineRunsTotal.WithLabelValues("cancelled").Inc()
		log.WithError(ctxErr).Warn("story pipeline cancelled")
		return nil, ctxErr
	}
	if err != nil {
		metrics.PipelineRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("story pipeline: %w", err)
	}

	out.Enter(model.PhaseDone)
	metrics.PipelineRunsTotal.WithLabelValues("done").Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	log.WithFields(logrus.Fields{
		"elapsed": time.Since(start).String(),
		"page_id": out.NotionPageID,
	}).Info("story pipeline done")
	return out, nil
}

// RunFlat runs the pipeline and returns the flat key/value view of the result.
func (p *StoryPipeline) RunFlat(ctx context.Context, prompt string) (map[string]string, error) {
	state, err := p.Run(ctx, Request{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	return state.Flatten(), nil
}

// Persistent reports whether finished runs are written to a store.
func (p *StoryPipeline) Persistent() bool {
	return p.store != nil
}

func (p *StoryPipeline) stageNode(s stage.Stage, phase model.Phase) func(context.Context, *model.StoryState) (*model.StoryState, error) {
	return func(ctx context.Context, state *model.StoryState) (*model.StoryState, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state.Enter(phase)
		state.Apply(p.execute(ctx, s, state))
		return state, nil
	}
}

func (p *StoryPipeline) execute(ctx context.Context, s stage.Stage, state *model.StoryState) model.StateDelta {
	if !p.async {
		return s.Run(ctx, state)
	}
	d, ok := s.RunAsync(ctx, state).Next()
	if !ok {
		logrus.WithFields(logrus.Fields{"run_id": state.RunID, "stage": s.Name()}).Warn("stage produced no result")
	}
	return d
}

func (p *StoryPipeline) persist(ctx context.Context, state *model.StoryState) (*model.StoryState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state.Enter(model.PhasePersist)
	if p.store == nil {
		return state, nil
	}

	id, err := p.store.Upsert(ctx, state)
	if err != nil {
		state.PersistError = err.Error()
		logrus.WithField("run_id", state.RunID).WithError(err).Warn("failed to persist story")
		return state, nil
	}
	state.NotionPageID = id
	return state, nil
}
