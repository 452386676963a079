package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// InitLogging 初始化日志，返回的 io.Closer 用于在退出时关闭日志文件
func InitLogging(cfg LogConfig) (io.Closer, error) {
	switch strings.ToLower(cfg.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.File == "" {
		logrus.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	logPath := filepath.Clean(cfg.File)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, err
	}
	logrus.SetOutput(logFile)
	return logFile, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
