package gobtcmini

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Logger abstracts logging behaviour used across the project.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggingConfig selects the zap preset and level used by ConfigureLogging.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Environment string `yaml:"environment"`
}

// ConfigureLogging builds the process-wide zap logger. Loggers created with
// NewLogger pick it up on their next call, including package-level ones.
func ConfigureLogging(cfg LoggingConfig) error {
	var zapConfig zap.Config
	if strings.EqualFold(cfg.Environment, "production") {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	levelName := strings.TrimSpace(cfg.Level)
	if levelName == "" {
		levelName = "info"
	}
	level, err := zap.ParseAtomicLevel(levelName)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zapConfig.Level = level
	zapConfig.InitialFields = map[string]any{
		"service": "btcmini",
	}

	built, err := zapConfig.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(built)
	return nil
}

// NewLogger returns a logger that writes entries tagged with the given name.
func NewLogger(tag string) Logger {
	return &zapLogger{tag: tag}
}

// NewDiscardLogger returns a logger that drops all log entries (useful in tests).
func NewDiscardLogger() Logger {
	return discardLogger{}
}

type zapLogger struct {
	tag string
}

func (l *zapLogger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	zap.L().Named(l.tag).Sugar().Infof(format, args...)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}
