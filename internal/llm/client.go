// Package llm is the completion client adapter: one templated request per call
// against the configured chat backend.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"storyweaver/internal/config"
	"storyweaver/internal/prompt"
)

// 调用参数固定，不对调用方开放
const (
	MaxTokens           = 800
	Temperature float32 = 0.9
)

// Completion 归一化后的补全结果
type Completion struct {
	Text             string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Result pairs a completion with its error for the asynchronous path.
type Result struct {
	Completion Completion
	Err        error
}

// Completer is what the pipeline stages depend on.
type Completer interface {
	Complete(ctx context.Context, id prompt.ID, vars map[string]any) (Completion, error)
	CompleteAsync(ctx context.Context, id prompt.ID, vars map[string]any) *adk.AsyncIterator[Result]
}

type options struct {
	chatModel  model.BaseChatModel
	httpClient *http.Client
	prompts    *prompt.Registry
	handlers   []callbacks.Handler
}

// Option customizes a Client.
type Option func(*options)

// WithChatModel replaces the backend chat model, mostly for tests.
func WithChatModel(m model.BaseChatModel) Option {
	return func(o *options) { o.chatModel = m }
}

// WithHTTPClient sets the HTTP client used by the backend.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithPrompts shares a template registry between clients.
func WithPrompts(r *prompt.Registry) Option {
	return func(o *options) { o.prompts = r }
}

// WithCallbacks attaches eino callback handlers to every call.
func WithCallbacks(h ...callbacks.Handler) Option {
	return func(o *options) { o.handlers = append(o.handlers, h...) }
}

// Client 补全客户端，构造后不可变，可并发使用
type Client struct {
	apiType  string
	model    string
	prompts  *prompt.Registry
	runner   compose.Runnable[[]*schema.Message, *schema.Message]
	handlers []callbacks.Handler
}

var _ Completer = (*Client)(nil)

// New validates cfg and builds the client. Configuration problems surface here
// as *ConfigurationError, before any request is made.
func New(ctx context.Context, cfg config.LLMConfig, opts ...Option) (*Client, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.prompts == nil {
		o.prompts = prompt.NewRegistry()
	}
	if o.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		o.httpClient = &http.Client{Timeout: timeout}
	}

	chatModel := o.chatModel
	if chatModel == nil {
		var err error
		chatModel, err = newChatModel(ctx, cfg, o.httpClient)
		if err != nil {
			return nil, err
		}
	}

	graph := compose.NewGraph[[]*schema.Message, *schema.Message]()
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("failed to add chat model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "model"); err != nil {
		return nil, fmt.Errorf("failed to add edge: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("failed to add edge: %w", err)
	}
	runner, err := graph.Compile(ctx, compose.WithGraphName("completion"))
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph: %w", err)
	}

	return &Client{
		apiType:  strings.ToLower(cfg.APIType),
		model:    ModelName(cfg),
		prompts:  o.prompts,
		runner:   runner,
		handlers: o.handlers,
	}, nil
}

// APIType reports the backend in use.
func (c *Client) APIType() string { return c.apiType }

// Model reports the model or deployment name in use.
func (c *Client) Model() string { return c.model }

// Complete renders template id once with vars and issues exactly one completion
// request. Template problems return *prompt.TemplateError; everything else that
// goes wrong returns *CompletionError.
func (c *Client) Complete(ctx context.Context, id prompt.ID, vars map[string]any) (Completion, error) {
	msgs, err := c.prompts.Format(ctx, id, vars)
	if err != nil {
		return Completion{}, err
	}

	log := logrus.WithFields(logrus.Fields{"template": id, "api_type": c.apiType, "model": c.model})
	start := time.Now()

	invokeOpts := []compose.Option{
		compose.WithChatModelOption(model.WithMaxTokens(MaxTokens), model.WithTemperature(Temperature)),
	}
	if len(c.handlers) > 0 {
		invokeOpts = append(invokeOpts, compose.WithCallbacks(c.handlers...))
	}

	out, err := c.runner.Invoke(ctx, msgs, invokeOpts...)
	if err != nil {
		log.WithError(err).Warn("completion failed")
		return Completion{}, &CompletionError{Template: id, Err: err}
	}

	comp, err := toCompletion(out)
	if err != nil {
		log.WithError(err).Warn("completion unusable")
		return Completion{}, &CompletionError{Template: id, Err: err}
	}
	log.WithFields(logrus.Fields{
		"elapsed":       time.Since(start).String(),
		"finish_reason": comp.FinishReason,
		"chars":         len(comp.Text),
	}).Debug("completion done")
	return comp, nil
}

// CompleteAsync runs Complete on its own goroutine and yields exactly one Result.
func (c *Client) CompleteAsync(ctx context.Context, id prompt.ID, vars map[string]any) *adk.AsyncIterator[Result] {
	iter, gen := adk.NewAsyncIteratorPair[Result]()
	go func() {
		defer gen.Close()
		comp, err := c.Complete(ctx, id, vars)
		gen.Send(Result{Completion: comp, Err: err})
	}()
	return iter
}

var errEmptyResponse = errors.New("backend returned no message")

// toCompletion 将后端返回的消息转换为固定的内部结果，只在这里做一次
func toCompletion(msg *schema.Message) (Completion, error) {
	if msg == nil {
		return Completion{}, errEmptyResponse
	}
	comp := Completion{Text: strings.TrimSpace(msg.Content)}
	if meta := msg.ResponseMeta; meta != nil {
		comp.FinishReason = meta.FinishReason
		if meta.Usage != nil {
			comp.PromptTokens = meta.Usage.PromptTokens
			comp.CompletionTokens = meta.Usage.CompletionTokens
		}
	}
	return comp, nil
}
