// Package server exposes the story pipeline and the document store over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"storyweaver/internal/agent"
	"storyweaver/internal/config"
	"storyweaver/internal/model"
	"storyweaver/internal/store"
)

// Pipeline 故事生成流水线
type Pipeline interface {
	Run(ctx context.Context, req agent.Request) (*model.StoryState, error)
}

// Deps 服务依赖，Store 为空时故事管理接口返回 503
type Deps struct {
	Pipeline Pipeline
	Store    store.Store
	Tools    []einotool.InvokableTool
	Info     map[string]any
}

// Server HTTP 服务
type Server struct {
	engine *gin.Engine
	cfg    config.ServerConfig
	deps   Deps
	tools  map[string]einotool.InvokableTool
}

// New builds the router. Tool names are resolved once here.
func New(ctx context.Context, cfg config.ServerConfig, deps Deps) (*Server, error) {
	s := &Server{
		engine: gin.New(),
		cfg:    cfg,
		deps:   deps,
		tools:  make(map[string]einotool.InvokableTool, len(deps.Tools)),
	}
	for _, t := range deps.Tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read tool info: %w", err)
		}
		s.tools[info.Name] = t
	}

	s.engine.Use(gin.Recovery(), requestLogger(), corsMiddleware(cfg.CORSOrigins))
	if cfg.MetricsEnabled {
		s.engine.Use(metricsMiddleware())
	}
	s.routes()
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/api/info", s.handleInfo)
	if s.cfg.MetricsEnabled {
		s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := s.engine.Group("/api/stories")
	api.POST("/generate", s.handleGenerate)
	api.GET("", s.handleList)
	api.GET("/:id", s.handleGet)
	api.PATCH("/:id/status", s.handleStatus)
	api.DELETE("/:id", s.handleDelete)

	s.engine.POST("/tools/:name", s.handleTool)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", s.cfg.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logrus.Info("server stopped")
	return nil
}

func (s *Server) handleInfo(c *gin.Context) {
	info := gin.H{}
	for k, v := range s.deps.Info {
		info[k] = v
	}
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	info["tools"] = names
	info["persistence"] = s.deps.Store != nil
	c.JSON(http.StatusOK, info)
}

// handleGenerate runs the pipeline and returns the flat result.
func (s *Server) handleGenerate(c *gin.Context) {
	var req agent.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: prompt is required"})
		return
	}

	state, err := s.deps.Pipeline.Run(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("X-Run-ID", state.RunID)
	c.JSON(http.StatusOK, state.Flatten())
}

func (s *Server) handleList(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	recs, err := s.deps.Store.Query(c.Request.Context(), store.Filter{Text: c.Query("q")}, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"stories": recs, "count": len(recs)})
}

func (s *Server) handleGet(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	rec, err := s.deps.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleStatus(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: status is required"})
		return
	}
	status, err := model.ParseStatus(body.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Store.UpdateStatus(c.Request.Context(), c.Param("id"), status); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": status})
}

func (s *Server) handleDelete(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	if err := s.deps.Store.Archive(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleTool 直接读取请求体作为工具的 JSON 参数
func (s *Server) handleTool(c *gin.Context) {
	name := strings.ReplaceAll(c.Param("name"), "-", "_")
	t, ok := s.tools[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown tool %q", name)})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := t.InvokableRun(c.Request.Context(), string(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("tool %s failed: %v", name, err)})
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(result))
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.deps.Store != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence is disabled"})
	return false
}

// writeError maps pipeline and store errors onto status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var pe *store.PersistError
	switch {
	case errors.Is(err, agent.ErrEmptyPrompt):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		status = 499
	case errors.As(err, &pe):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
