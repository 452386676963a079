package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/adk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyweaver/internal/llm"
	"storyweaver/internal/model"
	"storyweaver/internal/prompt"
	"storyweaver/internal/store"
)

const storyReply = "Setting: Greenhouse\nCharacters: Moss\nConflict: Drought\nResolution: Rain\nStory:\nMoss listened to the ferns."

type fakeCompleter struct {
	mu    sync.Mutex
	text  map[prompt.ID]string
	errs  map[prompt.ID]error
	order []prompt.ID
}

func (f *fakeCompleter) Complete(_ context.Context, id prompt.ID, _ map[string]any) (llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, id)
	if err := f.errs[id]; err != nil {
		return llm.Completion{}, &llm.CompletionError{Template: id, Err: err}
	}
	return llm.Completion{Text: f.text[id]}, nil
}

func (f *fakeCompleter) CompleteAsync(ctx context.Context, id prompt.ID, vars map[string]any) *adk.AsyncIterator[llm.Result] {
	iter, gen := adk.NewAsyncIteratorPair[llm.Result]()
	go func() {
		defer gen.Close()
		comp, err := f.Complete(ctx, id, vars)
		gen.Send(llm.Result{Completion: comp, Err: err})
	}()
	return iter
}

// fakeStore 只实现流水线需要的 Upsert
type fakeStore struct {
	store.Store

	err   error
	saved []*model.StoryState
}

func (f *fakeStore) Upsert(_ context.Context, state *model.StoryState) (string, error) {
	if f.err != nil {
		return "", &store.PersistError{Op: "create", Err: f.err}
	}
	f.saved = append(f.saved, state)
	return "page-123", nil
}

func okCompleter() *fakeCompleter {
	return &fakeCompleter{text: map[prompt.ID]string{
		prompt.IdeaV1:  "1. \"Moss\" - a cat who hears plants.",
		prompt.StoryV1: storyReply,
	}}
}

func newPipeline(t *testing.T, c llm.Completer, st store.Store, opts ...Option) *StoryPipeline {
	t.Helper()
	p, err := NewStoryPipeline(context.Background(), c, st, opts...)
	require.NoError(t, err)
	return p
}

func TestStoryPipeline_EndToEnd(t *testing.T) {
	fc := okCompleter()
	fs := &fakeStore{}
	p := newPipeline(t, fc, fs)

	state, err := p.Run(context.Background(), Request{Prompt: "A magical cat who can speak to plants"})
	require.NoError(t, err)

	assert.Equal(t, []model.Phase{model.PhaseIdea, model.PhaseStory, model.PhasePersist, model.PhaseDone}, state.Phases)
	assert.Equal(t, []prompt.ID{prompt.IdeaV1, prompt.StoryV1}, fc.order)
	assert.NotEmpty(t, state.RunID)
	assert.Equal(t, "A magical cat who can speak to plants", state.Prompt)
	assert.NotEmpty(t, state.Ideas.String())
	assert.Equal(t, "Moss listened to the ferns.", state.Story.String())
	assert.Equal(t, "Greenhouse", state.Setting.String())
	assert.Equal(t, "page-123", state.NotionPageID)
	assert.Empty(t, state.PersistError)
	require.Len(t, fs.saved, 1)
}

func TestStoryPipeline_IdeaFailureDoesNotStopStory(t *testing.T) {
	fc := okCompleter()
	fc.errs = map[prompt.ID]error{prompt.IdeaV1: errors.New("connection reset")}
	p := newPipeline(t, fc, nil)

	state, err := p.Run(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(state.Ideas.String(), "Error generating ideas: "))
	assert.False(t, state.Story.Failed())
	assert.Equal(t, []prompt.ID{prompt.IdeaV1, prompt.StoryV1}, fc.order)
}

func TestStoryPipeline_StoryFailureStillPersists(t *testing.T) {
	fc := okCompleter()
	fc.errs = map[prompt.ID]error{prompt.StoryV1: errors.New("quota exceeded")}
	fs := &fakeStore{}
	p := newPipeline(t, fc, fs)

	state, err := p.Run(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)

	assert.Equal(t, "Error generating story: quota exceeded", state.Story.String())
	assert.Equal(t, "Error generating story: quota exceeded", state.Setting.String())
	assert.Equal(t, "page-123", state.NotionPageID)
}

func TestStoryPipeline_FailingStore(t *testing.T) {
	p := newPipeline(t, okCompleter(), &fakeStore{err: errors.New("invalid token")})

	state, err := p.Run(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)

	assert.Empty(t, state.NotionPageID)
	assert.Contains(t, state.PersistError, "invalid token")
	assert.Equal(t, "Moss listened to the ferns.", state.Story.String())
	assert.Equal(t, model.PhaseDone, state.Phases[len(state.Phases)-1])
}

func TestStoryPipeline_NoStore(t *testing.T) {
	p := newPipeline(t, okCompleter(), nil)
	assert.False(t, p.Persistent())

	state, err := p.Run(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Empty(t, state.NotionPageID)
	assert.Empty(t, state.PersistError)
	assert.Contains(t, state.Phases, model.PhasePersist)
}

func TestStoryPipeline_EmptyPrompt(t *testing.T) {
	fc := okCompleter()
	p := newPipeline(t, fc, nil)

	_, err := p.Run(context.Background(), Request{Prompt: "  \n"})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, fc.order)
}

func TestStoryPipeline_Cancelled(t *testing.T) {
	fc := okCompleter()
	p := newPipeline(t, fc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := p.Run(ctx, Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, state)
	assert.Empty(t, fc.order)
}

func TestStoryPipeline_AsyncStagesMatchSync(t *testing.T) {
	syncState, err := newPipeline(t, okCompleter(), nil).Run(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	asyncState, err := newPipeline(t, okCompleter(), nil, WithAsyncStages()).Run(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)

	assert.Equal(t, syncState.Flatten(), asyncState.Flatten())
	assert.Equal(t, syncState.Phases, asyncState.Phases)
}

func TestStoryPipeline_RunFlat(t *testing.T) {
	p := newPipeline(t, okCompleter(), &fakeStore{})

	flat, err := p.RunFlat(context.Background(), "A magical cat")
	require.NoError(t, err)

	for _, k := range []string{"prompt", "ideas", "setting", "characters", "conflict", "resolution", "story", "notion_page_id"} {
		assert.Contains(t, flat, k)
	}
	assert.NotContains(t, flat, "persist_error")
	assert.Equal(t, "A magical cat", flat["prompt"])
}

func TestNewStoryPipeline_RequiresCompleter(t *testing.T) {
	_, err := NewStoryPipeline(context.Background(), nil, nil)
	assert.Error(t, err)
}
