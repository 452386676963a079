// Package config 提供配置结构和加载功能
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config 应用配置根结构，进程启动时构造一次，显式传给各组件
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	LLM    LLMConfig    `mapstructure:"llm"`
	Store  StoreConfig  `mapstructure:"store"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// LLMConfig 补全后端配置
type LLMConfig struct {
	// APIType selects the backend: openai, azure or ark.
	APIType string `mapstructure:"api_type"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`

	// azure only
	APIBase        string `mapstructure:"api_base"`
	APIVersion     string `mapstructure:"api_version"`
	DeploymentName string `mapstructure:"deployment_name"`

	// ark only
	Region string `mapstructure:"region"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreConfig 持久化配置
type StoreConfig struct {
	// Backend is notion, sqlite or none.
	Backend string       `mapstructure:"backend"`
	Notion  NotionConfig `mapstructure:"notion"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
}

// NotionConfig Notion 数据库配置
type NotionConfig struct {
	Token      string        `mapstructure:"token"`
	DatabaseID string        `mapstructure:"database_id"`
	BaseURL    string        `mapstructure:"base_url"`
	Version    string        `mapstructure:"version"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// SQLiteConfig 本地存储配置
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	MetricsEnabled bool     `mapstructure:"metrics_enabled"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File, when set, receives log output instead of stderr.
	File string `mapstructure:"file"`
}

const envPrefix = "STORYWEAVER"

// legacyEnv maps config keys to the environment names used by existing .env files.
var legacyEnv = map[string][]string{
	"llm.api_type":             {"OPENAI_API_TYPE"},
	"llm.api_key":              {"OPENAI_API_KEY", "ARK_API_KEY"},
	"llm.model":                {"OPENAI_MODEL"},
	"llm.api_base":             {"OPENAI_API_BASE"},
	"llm.api_version":          {"OPENAI_API_VERSION"},
	"llm.deployment_name":      {"OPENAI_DEPLOYMENT_NAME"},
	"store.notion.token":       {"NOTION_TOKEN"},
	"store.notion.database_id": {"NOTION_DATABASE_ID"},
}

// Load 加载配置
// 按优先级：环境变量 -> 配置文件 -> 默认值。path 为空时在 . 和 ./configs 下查找 storyweaver.yaml
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("storyweaver")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	setDefaults(v)

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		timeToDateString,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.LLM.APIType = strings.ToLower(strings.TrimSpace(cfg.LLM.APIType))
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	// ark 的 model 是 endpoint id，没有合理的默认值
	if cfg.LLM.Model == "" && cfg.LLM.APIType == "openai" {
		cfg.LLM.Model = defaultOpenAIModel
	}
	return &cfg, nil
}

const defaultOpenAIModel = "gpt-4o"

// timeToDateString 将 YAML 解析出的日期（如 api_version: 2024-02-01）还原为字符串
func timeToDateString(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	if t, ok := data.(time.Time); ok {
		return t.Format(time.DateOnly), nil
	}
	return data, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "storyweaver")
	v.SetDefault("app.version", "v0.0.0")

	v.SetDefault("llm.api_type", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_base", "")
	v.SetDefault("llm.api_version", "")
	v.SetDefault("llm.deployment_name", "")
	v.SetDefault("llm.region", "cn-beijing")
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("store.backend", "notion")
	v.SetDefault("store.notion.token", "")
	v.SetDefault("store.notion.database_id", "")
	v.SetDefault("store.notion.base_url", "https://api.notion.com")
	v.SetDefault("store.notion.version", "2022-06-28")
	v.SetDefault("store.notion.timeout", "30s")
	v.SetDefault("store.sqlite.path", "storyweaver.db")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.metrics_enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}
