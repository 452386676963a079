// Package prompt renders the fixed completion templates used by the pipeline stages.
package prompt

import (
	"context"
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

// ID 模板标识
type ID string

const (
	IdeaV1  ID = "idea_v1"
	StoryV1 ID = "story_v1"
)

// TemplateError is returned when a template cannot be loaded or rendered.
type TemplateError struct {
	ID  ID
	Err error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s: %v", e.ID, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

type entry struct {
	tpl  einoprompt.ChatTemplate
	vars []string
}

// Registry 缓存已加载的模板，可并发使用
type Registry struct {
	mu    sync.RWMutex
	cache map[ID]*entry
}

func NewRegistry() *Registry {
	return &Registry{cache: make(map[ID]*entry)}
}

// Format renders template id with vars into chat messages. Every placeholder the
// template references must be present in vars.
func (r *Registry) Format(ctx context.Context, id ID, vars map[string]any) ([]*schema.Message, error) {
	e, err := r.load(id)
	if err != nil {
		return nil, &TemplateError{ID: id, Err: err}
	}

	var missing []string
	for _, name := range e.vars {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &TemplateError{ID: id, Err: fmt.Errorf("missing variables: %s", strings.Join(missing, ", "))}
	}

	msgs, err := e.tpl.Format(ctx, vars)
	if err != nil {
		return nil, &TemplateError{ID: id, Err: err}
	}
	return msgs, nil
}

// Variables lists the placeholders template id expects.
func (r *Registry) Variables(id ID) ([]string, error) {
	e, err := r.load(id)
	if err != nil {
		return nil, &TemplateError{ID: id, Err: err}
	}
	return append([]string(nil), e.vars...), nil
}

func (r *Registry) load(id ID) (*entry, error) {
	r.mu.RLock()
	if e, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return e, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.cache[id]; ok {
		return e, nil
	}

	systemPath, userPath, err := resolveFiles(id)
	if err != nil {
		return nil, err
	}
	system, err := readEmbeddedText(systemPath)
	if err != nil {
		return nil, err
	}
	user, err := readEmbeddedText(userPath)
	if err != nil {
		return nil, err
	}

	e := &entry{
		tpl: einoprompt.FromMessages(
			schema.FString,
			schema.SystemMessage(system),
			schema.UserMessage(user),
		),
		vars: placeholders(system, user),
	}
	r.cache[id] = e
	return e, nil
}

func resolveFiles(id ID) (systemFile string, userFile string, err error) {
	switch id {
	case IdeaV1:
		return "templates/idea_v1.system.txt", "templates/idea_v1.user.txt", nil
	case StoryV1:
		return "templates/story_v1.system.txt", "templates/story_v1.user.txt", nil
	default:
		return "", "", fmt.Errorf("unknown prompt id: %s", id)
	}
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// placeholders collects the distinct {name} references in texts, sorted.
func placeholders(texts ...string) []string {
	seen := make(map[string]struct{})
	for _, t := range texts {
		for _, m := range placeholderRe.FindAllStringSubmatch(t, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
