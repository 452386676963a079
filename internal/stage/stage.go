// Package stage holds the generation stages of the story pipeline. Each stage
// issues one completion request and turns the outcome into a state delta.
// Stages never return errors: failures become data in their own fields.
package stage

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/adk"
	"github.com/sirupsen/logrus"

	"storyweaver/internal/llm"
	"storyweaver/internal/metrics"
	"storyweaver/internal/model"
)

// Stage 流水线中的单个生成阶段
type Stage interface {
	Name() string
	Run(ctx context.Context, state *model.StoryState) model.StateDelta
	RunAsync(ctx context.Context, state *model.StoryState) *adk.AsyncIterator[model.StateDelta]
}

// runAsync drives one asynchronous completion and converts its single result.
func runAsync(iter *adk.AsyncIterator[llm.Result], toDelta func(llm.Completion, error) model.StateDelta) *adk.AsyncIterator[model.StateDelta] {
	out, gen := adk.NewAsyncIteratorPair[model.StateDelta]()
	go func() {
		defer gen.Close()
		res, ok := iter.Next()
		if !ok {
			res = llm.Result{Err: errors.New("completion produced no result")}
		}
		gen.Send(toDelta(res.Completion, res.Err))
	}()
	return out
}

// errMessage extracts the user facing message of a stage failure.
func errMessage(err error) string {
	var ce *llm.CompletionError
	if errors.As(err, &ce) {
		return ce.Message()
	}
	return err.Error()
}

func observe(name, runID string, err error) {
	metrics.StageRunsTotal.WithLabelValues(name, metrics.Outcome(err)).Inc()
	log := logrus.WithFields(logrus.Fields{"run_id": runID, "stage": name})
	if err != nil {
		log.WithError(err).Warn("stage failed")
		return
	}
	log.Debug("stage completed")
}
