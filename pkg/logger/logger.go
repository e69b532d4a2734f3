package logger

import (
    "context"
    "fmt"
    "os"
    "path/filepath"
    "time"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "gopkg.in/natefinch/lumberjack.v2"
)

// Field type
type Field = zapcore.Field

// Level type
type Level = zapcore.Level

const (
    DebugLevel Level = zapcore.DebugLevel
    InfoLevel  Level = zapcore.InfoLevel
    WarnLevel  Level = zapcore.WarnLevel
    ErrorLevel Level = zapcore.ErrorLevel
    FatalLevel Level = zapcore.FatalLevel
)

// Logger is the logging surface every component depends on.
type Logger interface {
    Debug(msg string, fields ...Field)
    Info(msg string, fields ...Field)
    Warn(msg string, fields ...Field)
    Error(msg string, fields ...Field)
    Fatal(msg string, fields ...Field)
    With(fields ...Field) Logger
    Named(name string) Logger
    Sync() error
}

// Config defines logger configuration
type Config struct {
    Level         string                 `json:"level" yaml:"level"`
    Encoding      string                 `json:"encoding" yaml:"encoding"`
    OutputPaths   []string               `json:"outputPaths" yaml:"outputPaths"`
    ErrorPaths    []string               `json:"errorPaths" yaml:"errorPaths"`
    MaxSize       int                    `json:"maxSize" yaml:"maxSize"` // MB
    MaxBackups    int                    `json:"maxBackups" yaml:"maxBackups"`
    MaxAge        int                    `json:"maxAge" yaml:"maxAge"` // days
    Compress      bool                   `json:"compress" yaml:"compress"`
    Development   bool                   `json:"development" yaml:"development"`
    InitialFields map[string]interface{} `json:"initialFields" yaml:"initialFields"`
}

type logger struct {
    zap *zap.Logger
}

// Option defines logger option function
type Option func(*Config)

// WithLevel sets logger level
func WithLevel(level string) Option {
    return func(c *Config) {
        c.Level = level
    }
}

// WithEncoding sets logger encoding ("json" or "console")
func WithEncoding(encoding string) Option {
    return func(c *Config) {
        c.Encoding = encoding
    }
}

// WithOutputPaths sets logger output paths
func WithOutputPaths(paths []string) Option {
    return func(c *Config) {
        c.OutputPaths = paths
    }
}

// WithErrorPaths sets the sinks that additionally receive error level entries.
func WithErrorPaths(paths []string) Option {
    return func(c *Config) {
        c.ErrorPaths = paths
    }
}

// WithDevelopment enables zap development mode (DPanic panics, stacktraces on warn).
func WithDevelopment(enabled bool) Option {
    return func(c *Config) {
        c.Development = enabled
    }
}

// WithInitialFields attaches fields to every entry.
func WithInitialFields(fields map[string]interface{}) Option {
    return func(c *Config) {
        for k, v := range fields {
            c.InitialFields[k] = v
        }
    }
}

// NewLogger creates a new logger instance
func NewLogger(opts ...Option) (Logger, error) {
    cfg := &Config{
        Level:         "info",
        Encoding:      "json",
        OutputPaths:   []string{"stdout", "logs/app.log"},
        ErrorPaths:    []string{"logs/error.log"},
        MaxSize:       100,
        MaxBackups:    3,
        MaxAge:        7,
        Compress:      true,
        InitialFields: make(map[string]interface{}),
    }

    for _, opt := range opts {
        opt(cfg)
    }

    for _, path := range append(append([]string{}, cfg.OutputPaths...), cfg.ErrorPaths...) {
        if !isStdStream(path) {
            if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
                return nil, fmt.Errorf("can't create log directory: %w", err)
            }
        }
    }

    encoderConfig := zapcore.EncoderConfig{
        TimeKey:        "timestamp",
        LevelKey:       "level",
        NameKey:        "logger",
        CallerKey:      "caller",
        FunctionKey:    zapcore.OmitKey,
        MessageKey:     "message",
        StacktraceKey:  "stacktrace",
        LineEnding:     zapcore.DefaultLineEnding,
        EncodeLevel:    zapcore.LowercaseLevelEncoder,
        EncodeTime:     zapcore.ISO8601TimeEncoder,
        EncodeDuration: zapcore.MillisDurationEncoder,
        EncodeCaller:   zapcore.ShortCallerEncoder,
    }

    level := zap.NewAtomicLevel()
    if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
        return nil, fmt.Errorf("can't parse log level: %w", err)
    }

    var cores []zapcore.Core
    for _, path := range cfg.OutputPaths {
        cores = append(cores, zapcore.NewCore(newEncoder(cfg.Encoding, encoderConfig), cfg.writer(path), level))
    }
    errorLevel := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
        return l >= zapcore.ErrorLevel && level.Enabled(l)
    })
    for _, path := range cfg.ErrorPaths {
        cores = append(cores, zapcore.NewCore(newEncoder(cfg.Encoding, encoderConfig), cfg.writer(path), errorLevel))
    }

    options := []zap.Option{
        zap.AddCaller(),
        zap.AddCallerSkip(1),
    }
    if cfg.Development {
        options = append(options, zap.Development())
    }
    if len(cfg.InitialFields) > 0 {
        fields := make([]zap.Field, 0, len(cfg.InitialFields))
        for k, v := range cfg.InitialFields {
            fields = append(fields, zap.Any(k, v))
        }
        options = append(options, zap.Fields(fields...))
    }

    return &logger{zap: zap.New(zapcore.NewTee(cores...), options...)}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
    return &logger{zap: zap.NewNop()}
}

func isStdStream(path string) bool {
    return path == "stdout" || path == "stderr"
}

func newEncoder(encoding string, ec zapcore.EncoderConfig) zapcore.Encoder {
    if encoding == "json" {
        return zapcore.NewJSONEncoder(ec)
    }
    return zapcore.NewConsoleEncoder(ec)
}

func (c *Config) writer(path string) zapcore.WriteSyncer {
    switch path {
    case "stdout":
        return zapcore.AddSync(os.Stdout)
    case "stderr":
        return zapcore.AddSync(os.Stderr)
    }
    return zapcore.AddSync(&lumberjack.Logger{
        Filename:   path,
        MaxSize:    c.MaxSize,
        MaxBackups: c.MaxBackups,
        MaxAge:     c.MaxAge,
        Compress:   c.Compress,
    })
}

// Various field constructors
func String(key string, val string) Field          { return zap.String(key, val) }
func Strings(key string, val []string) Field       { return zap.Strings(key, val) }
func Int(key string, val int) Field                { return zap.Int(key, val) }
func Int64(key string, val int64) Field            { return zap.Int64(key, val) }
func Float64(key string, val float64) Field        { return zap.Float64(key, val) }
func Bool(key string, val bool) Field              { return zap.Bool(key, val) }
func Any(key string, val interface{}) Field        { return zap.Any(key, val) }
func Error(err error) Field                        { return zap.Error(err) }
func Time(key string, val time.Time) Field         { return zap.Time(key, val) }
func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }
func Stack() Field                                 { return zap.Stack("stacktrace") }

func (l *logger) Debug(msg string, fields ...Field) {
    l.zap.Debug(msg, fields...)
}

func (l *logger) Info(msg string, fields ...Field) {
    l.zap.Info(msg, fields...)
}

func (l *logger) Warn(msg string, fields ...Field) {
    l.zap.Warn(msg, fields...)
}

func (l *logger) Error(msg string, fields ...Field) {
    l.zap.Error(msg, fields...)
}

func (l *logger) Fatal(msg string, fields ...Field) {
    l.zap.Fatal(msg, fields...)
}

func (l *logger) With(fields ...Field) Logger {
    return &logger{zap: l.zap.With(fields...)}
}

func (l *logger) Named(name string) Logger {
    return &logger{zap: l.zap.Named(name)}
}

func (l *logger) Sync() error {
    return l.zap.Sync()
}

type contextKey string

const (
    requestIDKey contextKey = "request_id"
    taskIDKey    contextKey = "task_id"
)

// WithRequestID stores a request id for FromContext.
func WithRequestID(ctx context.Context, id string) context.Context {
    return context.WithValue(ctx, requestIDKey, id)
}

// WithTaskID stores an async task id for FromContext.
func WithTaskID(ctx context.Context, id string) context.Context {
    return context.WithValue(ctx, taskIDKey, id)
}

// ContextLogger adds context support
type ContextLogger interface {
    Logger
    FromContext(ctx context.Context) Logger
}

type contextLogger struct {
    Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(l Logger) ContextLogger {
    return &contextLogger{Logger: l}
}

// FromContext returns a logger carrying the request and task ids found in ctx.
func (l *contextLogger) FromContext(ctx context.Context) Logger {
    fields := make([]Field, 0, 2)
    if requestID, ok := ctx.Value(requestIDKey).(string); ok {
        fields = append(fields, String("request_id", requestID))
    }
    if taskID, ok := ctx.Value(taskIDKey).(string); ok {
        fields = append(fields, String("task_id", taskID))
    }
    if len(fields) == 0 {
        return l.Logger
    }
    return l.With(fields...)
}
