// Package observe hooks logging and metrics into eino component callbacks.
package observe

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
	"github.com/sirupsen/logrus"

	"storyweaver/internal/metrics"
)

type startTimeKey struct{}

// NewHandler 返回记录 LLM 调用日志与指标的 callback handler
func NewHandler(provider, modelName string) einocb.Handler {
	return cbtemplate.NewHandlerHelper().
		ChatModel(newChatModelCallbackHandler(provider, modelName)).
		Handler()
}

func newChatModelCallbackHandler(provider, modelName string) *cbtemplate.ModelCallbackHandler {
	return &cbtemplate.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			fields := logrus.Fields{"provider": provider, "model": modelName}
			if input != nil {
				fields["messages"] = len(input.Messages)
			}
			if info != nil {
				fields["node"] = info.Name
			}
			logrus.WithFields(fields).Debug("llm call started")
			return context.WithValue(ctx, startTimeKey{}, time.Now())
		},

		OnEnd: func(ctx context.Context, _ *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			metrics.LLMCallTotal.WithLabelValues(provider, modelName, "success").Inc()
			d := elapsedSeconds(ctx)
			if d > 0 {
				metrics.LLMCallDuration.WithLabelValues(provider, modelName).Observe(d)
			}

			fields := logrus.Fields{"provider": provider, "model": modelName, "seconds": d}
			if output != nil && output.TokenUsage != nil {
				metrics.LLMTokensUsed.WithLabelValues(provider, modelName, "prompt").Add(float64(output.TokenUsage.PromptTokens))
				metrics.LLMTokensUsed.WithLabelValues(provider, modelName, "completion").Add(float64(output.TokenUsage.CompletionTokens))
				fields["prompt_tokens"] = output.TokenUsage.PromptTokens
				fields["completion_tokens"] = output.TokenUsage.CompletionTokens
			}
			logrus.WithFields(fields).Info("llm call finished")
			return ctx
		},

		OnError: func(ctx context.Context, _ *einocb.RunInfo, err error) context.Context {
			metrics.LLMCallTotal.WithLabelValues(provider, modelName, "error").Inc()
			if d := elapsedSeconds(ctx); d > 0 {
				metrics.LLMCallDuration.WithLabelValues(provider, modelName).Observe(d)
			}
			logrus.WithFields(logrus.Fields{"provider": provider, "model": modelName}).
				WithError(err).Error("llm call failed")
			return ctx
		},
	}
}

func elapsedSeconds(ctx context.Context) float64 {
	start, ok := ctx.Value(startTimeKey{}).(time.Time)
	if !ok || start.IsZero() {
		return 0
	}
	return time.Since(start).Seconds()
}
