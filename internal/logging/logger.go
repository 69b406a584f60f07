// Package logging provides structured logging capabilities for mokactl.
// It implements a centralized logging strategy with configurable log levels and
// output formats on top of zap's sugared key-value API.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// LogLevel represents the severity of log messages
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name into a LogLevel
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger provides structured logging with component context
type Logger struct {
	base      *zap.SugaredLogger // without the component field
	sugar     *zap.SugaredLogger
	level     zap.AtomicLevel
	component string
}

// Config represents logging configuration
type Config struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    string // "stdout", "stderr", "none", or file path
	Component string
}

// DefaultConfig returns a sensible default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:     InfoLevel,
		Format:    "text",
		Output:    "stderr",
		Component: "mokactl",
	}
}

// DefaultLogFile is where the TUI writes its logs so they stay off the
// alternate screen.
func DefaultLogFile() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "mokactl", "mokactl.log")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "mokactl.log")
	}
	return filepath.Join(home, ".local", "state", "mokactl", "mokactl.log")
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	level := zap.NewAtomicLevelAt(config.Level.zapLevel())

	if config.Output == "none" {
		return wrap(zap.NewNop(), level, config.Component), nil
	}

	// Determine output destination
	var output string
	switch config.Output {
	case "stdout", "":
		output = "stdout"
	case "stderr":
		output = "stderr"
	default:
		if err := os.MkdirAll(filepath.Dir(config.Output), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", config.Output, err)
		}
		output = config.Output
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoding := "json"
	if config.Format != "json" {
		encoding = "console"
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	zapConfig := zap.Config{
		Level:             level,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       []string{output},
		ErrorOutputPaths:  []string{output},
		DisableStacktrace: true,
	}

	zl, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger for %s: %w", output, err)
	}

	return wrap(zl, level, config.Component), nil
}

// NewTestLogger returns a debug-level logger that writes through t.
func NewTestLogger(t zaptest.TestingT) *Logger {
	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)
	return wrap(zaptest.NewLogger(t, zaptest.Level(level)), level, "test")
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return wrap(zap.NewNop(), zap.NewAtomicLevelAt(zapcore.ErrorLevel), "")
}

func wrap(zl *zap.Logger, level zap.AtomicLevel, component string) *Logger {
	base := zl.Sugar()
	sugar := base
	if component != "" {
		sugar = base.With("component", component)
	}
	return &Logger{base: base, sugar: sugar, level: level, component: component}
}

// Zap exposes the underlying zap logger for libraries that take one.
func (l *Logger) Zap() *zap.Logger {
	return l.sugar.Desugar()
}

// SetLevel changes the level of this logger and every logger derived from it.
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Component returns the component name attached to the logger.
func (l *Logger) Component() string {
	return l.component
}

// WithComponent creates a new logger for a specific component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		base:      l.base,
		sugar:     l.base.With("component", component),
		level:     l.level,
		component: component,
	}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	kv := redact([]interface{}{key, value})
	return &Logger{
		base:      l.base.With(kv...),
		sugar:     l.sugar.With(kv...),
		level:     l.level,
		component: l.component,
	}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	args = redact(args)
	return &Logger{
		base:      l.base.With(args...),
		sugar:     l.sugar.With(args...),
		level:     l.level,
		component: l.component,
	}
}

// Debug logs a debug level message
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.sugar.Debugw(msg, redact(args)...)
}

// Info logs an info level message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.sugar.Infow(msg, redact(args)...)
}

// Warn logs a warning level message
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.sugar.Warnw(msg, redact(args)...)
}

// Error logs an error level message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.sugar.Errorw(msg, redact(args)...)
}

// redact masks the values of sensitive keys in a key-value list
func redact(args []interface{}) []interface{} {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(key)
		if lower == "token" || strings.Contains(lower, "password") || strings.Contains(lower, "secret") {
			args[i+1] = "[REDACTED]"
		}
	}
	return args
}

// LogOperation logs the start and end of an operation with duration
func (l *Logger) LogOperation(operation string, fn func() error) error {
	start := time.Now()
	opLogger := l.WithField("operation", operation)

	opLogger.Debug("Operation starting")

	err := fn()
	duration := time.Since(start)

	if err != nil {
		opLogger.Error("Operation failed",
			"duration", duration,
			"error", err.Error())
		return err
	}

	opLogger.Info("Operation completed",
		"duration", duration)
	return nil
}

// LogConnectionAttempt logs connection attempt details
func (l *Logger) LogConnectionAttempt(address string, attempt int) {
	l.Info("Attempting connection",
		"address", address,
		"attempt", attempt)
}

// LogConnectionSuccess logs successful connection establishment
func (l *Logger) LogConnectionSuccess(address string, framing string, duration time.Duration) {
	l.Info("Connection established successfully",
		"address", address,
		"framing", framing,
		"connection_duration", duration)
}

// LogConnectionFailure logs connection failure with detailed context
func (l *Logger) LogConnectionFailure(address string, err error, duration time.Duration) {
	l.Warn("Connection failed",
		"address", address,
		"error", err.Error(),
		"attempt_duration", duration)
}

// LogStateChange logs connection state transitions
func (l *Logger) LogStateChange(from string, to string, attempt int, reason error) {
	args := []interface{}{
		"from", from,
		"to", to,
		"attempt", attempt,
	}
	if reason != nil {
		args = append(args, "reason", reason.Error())
	}
	l.Debug("Connection state change", args...)
}

// LogConfigLoad logs configuration loading operations
func (l *Logger) LogConfigLoad(configPath string, profileName string) {
	l.Debug("Loading configuration",
		"config_path", configPath,
		"profile", profileName)
}

// LogConfigError logs configuration-related errors
func (l *Logger) LogConfigError(operation string, err error) {
	l.Error("Configuration error",
		"operation", operation,
		"error", err.Error())
}

// LogHTTPRequest logs HTTP request details (without sensitive data)
func (l *Logger) LogHTTPRequest(method string, url string, statusCode int, duration time.Duration) {
	l.Debug("HTTP request completed",
		"method", method,
		"url", url,
		"status_code", statusCode,
		"duration", duration)
}

// LogUIStateChange logs user interface state transitions
func (l *Logger) LogUIStateChange(from string, to string, reason string) {
	l.Debug("UI state change",
		"from", from,
		"to", to,
		"reason", reason)
}

// LogHealthCheck logs appliance reachability probe results
func (l *Logger) LogHealthCheck(profile string, status string, responseTime time.Duration, err error) {
	fields := []interface{}{
		"profile", profile,
		"status", status,
		"response_time", responseTime,
	}

	if err != nil {
		fields = append(fields, "error", err.Error())
		l.Warn("Health check failed", fields...)
	} else {
		l.Debug("Health check completed", fields...)
	}
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger with the specified configuration
func InitGlobalLogger(config Config) error {
	logger, err := NewLogger(config)
	if err != nil {
		return fmt.Errorf("failed to initialize global logger: %w", err)
	}
	globalLogger = logger
	return nil
}

// SetGlobalLogger replaces the global logger, mainly for tests.
func SetGlobalLogger(logger *Logger) {
	globalLogger = logger
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		// Fallback to default configuration if not initialized
		logger, err := NewLogger(DefaultConfig())
		if err != nil {
			logger = NewNopLogger()
		}
		globalLogger = logger
	}
	return globalLogger
}

// Component-specific logger creators
func GetTransportLogger() *Logger {
	return GetGlobalLogger().WithComponent("transport")
}

func GetProtocolLogger() *Logger {
	return GetGlobalLogger().WithComponent("protocol")
}

func GetConfigLogger() *Logger {
	return GetGlobalLogger().WithComponent("config")
}

func GetUILogger() *Logger {
	return GetGlobalLogger().WithComponent("ui")
}

func GetHealthLogger() *Logger {
	return GetGlobalLogger().WithComponent("health")
}

func GetRecordingLogger() *Logger {
	return GetGlobalLogger().WithComponent("recording")
}

func GetHistoryLogger() *Logger {
	return GetGlobalLogger().WithComponent("history")
}
