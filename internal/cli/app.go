package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"storyweaver/internal/agent"
	"storyweaver/internal/config"
	"storyweaver/internal/llm"
	"storyweaver/internal/observe"
	"storyweaver/internal/store"
	"storyweaver/internal/store/notion"
	"storyweaver/internal/store/sqlite"
)

// App holds the dependencies shared by all commands. The factory fields are
// replaced in tests.
type App struct {
	ConfigPath string
	EnvFile    string
	Config     *config.Config

	Out io.Writer
	Err io.Writer

	NewCompleter func(ctx context.Context, cfg config.LLMConfig) (llm.Completer, error)
	NewStore     func(cfg config.StoreConfig) (store.Store, error)

	closers []io.Closer
}

// NewApp returns an App wired to the real backends.
func NewApp() *App {
	return &App{
		EnvFile:      ".env",
		Out:          os.Stdout,
		Err:          os.Stderr,
		NewCompleter: newCompleter,
		NewStore:     openStore,
	}
}

// init loads .env, the config file and sets up logging. A preset Config is kept.
func (a *App) init() error {
	if a.Config != nil {
		return nil
	}
	if a.EnvFile != "" {
		if err := godotenv.Load(a.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", a.EnvFile, err)
		}
	}
	cfg, err := config.Load(a.ConfigPath)
	if err != nil {
		return err
	}
	closer, err := config.InitLogging(cfg.Log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closer)
	a.Config = cfg
	return nil
}

// Close releases the store and the log file.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logrus.WithError(err).Warn("failed to close resource")
		}
	}
	a.closers = nil
}

// store opens the configured document store. It returns nil when persistence
// is disabled.
func (a *App) store() (store.Store, error) {
	st, err := a.NewStore(a.Config.Store)
	if err != nil {
		return nil, err
	}
	if c, ok := st.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	return st, nil
}

// requireStore is store for commands that cannot work without persistence.
func (a *App) requireStore() (store.Store, error) {
	st, err := a.store()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("persistence is disabled (store.backend is none)")
	}
	return st, nil
}

// pipeline builds the story pipeline. With save false nothing is persisted.
func (a *App) pipeline(ctx context.Context, save bool) (*agent.StoryPipeline, store.Store, error) {
	completer, err := a.NewCompleter(ctx, a.Config.LLM)
	if err != nil {
		return nil, nil, err
	}
	var st store.Store
	if save {
		if st, err = a.store(); err != nil {
			return nil, nil, err
		}
	}
	p, err := agent.NewStoryPipeline(ctx, completer, st)
	if err != nil {
		return nil, nil, err
	}
	return p, st, nil
}

func newCompleter(ctx context.Context, cfg config.LLMConfig) (llm.Completer, error) {
	return llm.New(ctx, cfg, llm.WithCallbacks(observe.NewHandler(cfg.APIType, llm.ModelName(cfg))))
}

// openStore 根据配置创建存储后端
func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "notion":
		return notion.New(cfg.Notion, nil)
	case "sqlite":
		return sqlite.New(cfg.SQLite)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want notion, sqlite or none)", cfg.Backend)
	}
}
