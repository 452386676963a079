package stage

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/adk"

	"storyweaver/internal/llm"
	"storyweaver/internal/prompt"
)

type call struct {
	id   prompt.ID
	vars map[string]any
}

// fakeCompleter returns canned completions per template.
type fakeCompleter struct {
	mu    sync.Mutex
	text  map[prompt.ID]string
	errs  map[prompt.ID]error
	calls []call
}

func (f *fakeCompleter) Complete(_ context.Context, id prompt.ID, vars map[string]any) (llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{id: id, vars: vars})
	if err := f.errs[id]; err != nil {
		return llm.Completion{}, err
	}
	return llm.Completion{Text: f.text[id], FinishReason: "stop"}, nil
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
