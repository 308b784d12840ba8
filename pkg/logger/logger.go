package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sink receives a copy of every log line, e.g. an OTLP log exporter.
type Sink interface {
	Emit(ctx context.Context, level, msg string, fields map[string]interface{})
}

type Logger struct {
	root       zerolog.Logger
	zl         zerolog.Logger
	instanceID string
	fields     []Field
	ctx        context.Context
	shared     *shared
}

// shared is the state common to a logger and the loggers derived from it.
type shared struct {
	mu        sync.RWMutex
	level     zerolog.Level
	collector *LogCollector
	sinks     []Sink
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
	InstanceID string // default instanceId field
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	output, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return newWithWriter(cfg, output), nil
}

// NewWithWriter builds a logger writing to w; used by tests and embedders.
func NewWithWriter(cfg *Config, w io.Writer) *Logger {
	return newWithWriter(cfg, w)
}

func newWithWriter(cfg *Config, output io.Writer) *Logger {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	// {"instanceId": ..., "loglevel": ..., "logs": ...}
	zerolog.LevelFieldName = "loglevel"
	zerolog.MessageFieldName = "logs"

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: cfg.TimeFormat,
		}
	}

	level := parseLevel(cfg.Level)
	root := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(3).
		Logger()

	l := &Logger{root: root, shared: &shared{level: level}}
	return l.WithInstance(cfg.InstanceID)
}

// parseLevel falls back to trace, zerolog's own default, when s is empty or unknown.
func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.TraceLevel
	}
	return level
}

func openOutput(out string) (io.Writer, error) {
	switch out {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		file, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		return file, nil
	}
}

// WithInstance returns a logger whose lines carry instanceId=id.
// Fields added with With are kept.
func (l *Logger) WithInstance(id string) *Logger {
	ctx := l.root.With()
	if id != "" {
		ctx = ctx.Str("instanceId", id)
	}
	for _, f := range l.fields {
		key, value := f.GetKeyValue()
		ctx = ctx.Interface(key, value)
	}
	return &Logger{root: l.root, zl: ctx.Logger(), instanceID: id, fields: l.fields, ctx: l.ctx, shared: l.shared}
}

// With returns a logger that adds fields to every line.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		key, value := f.GetKeyValue()
		ctx = ctx.Interface(key, value)
	}
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(append(merged, l.fields...), fields...)
	return &Logger{root: l.root, zl: ctx.Logger(), instanceID: l.instanceID, fields: merged, ctx: l.ctx, shared: l.shared}
}

// WithContext returns a logger that hands ctx to its sinks, so exported
// records keep the trace and span of the request.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	out := *l
	out.ctx = ctx
	return &out
}

// InstanceID returns the instanceId attached to this logger.
func (l *Logger) InstanceID() string { return l.instanceID }

func (l *Logger) addToCollector(level, msg string, fields []Field) {
	l.shared.mu.RLock()
	collector := l.shared.collector
	l.shared.mu.RUnlock()
	if collector == nil {
		return
	}

	// skip: this function -> Error -> user code
	_, file, line, ok := runtime.Caller(2)
	var caller string
	if ok {
		parts := strings.Split(file, "mlass")
		caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
	} else {
		caller = "unknown"
	}

	fieldMap := toMap(fields)
	if l.instanceID != "" {
		fieldMap["instanceId"] = l.instanceID
	}
	collector.AddLog(level, msg, fieldMap, caller)
}

func (l *Logger) emit(level zerolog.Level, msg string, fields []Field) {
	l.shared.mu.RLock()
	sinks := l.shared.sinks
	threshold := l.shared.level
	l.shared.mu.RUnlock()
	if len(sinks) == 0 || level < threshold {
		return
	}
	fieldMap := toMap(append(append([]Field(nil), l.fields...), fields...))
	if l.instanceID != "" {
		fieldMap["instanceId"] = l.instanceID
	}
	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, s := range sinks {
		s.Emit(ctx, level.String(), msg, fieldMap)
	}
}

func toMap(fields []Field) map[string]interface{} {
	m := make(map[string]interface{}, len(fields)+1)
	for _, field := range fields {
		key, value := field.GetKeyValue()
		m[key] = value
	}
	return m
}

// --- Logger methods ---

func (l *Logger) Info(msg string, fields ...Field) {
	event := l.zl.Info()
	for _, field := range fields {
		field.AddTo(event)
	}
	event.Msg(msg)
	l.emit(zerolog.InfoLevel, msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	event := l.zl.Error()
	for _, field := range fields {
		field.AddTo(event)
	}
	event.Msg(msg)
	l.emit(zerolog.ErrorLevel, msg, fields)

	l.addToCollector("error", msg, fields)
}

func (l *Logger) Debug(msg string, fields ...Field) {
	event := l.zl.Debug()
	for _, field := range fields {
		field.AddTo(event)
	}
	event.Msg(msg)
	l.emit(zerolog.DebugLevel, msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	event := l.zl.Warn()
	for _, field := range fields {
		field.AddTo(event)
	}
	event.Msg(msg)
	l.emit(zerolog.WarnLevel, msg, fields)
}

// AddCollector starts aggregating error lines; any previous collector is closed.
func (l *Logger) AddCollector(config *CollectionConfig) {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	if l.shared.collector != nil {
		l.shared.collector.Close()
	}
	l.shared.collector = NewLogCollector(config)
}

func (l *Logger) RemoveCollector() {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	if l.shared.collector != nil {
		l.shared.collector.Close()
		l.shared.collector = nil
	}
}

// AddSink mirrors every subsequent log line to s.
func (l *Logger) AddSink(s Sink) {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	l.shared.sinks = append(l.shared.sinks, s)
}

// Field types for structured logging.
type Field interface {
	AddTo(event *zerolog.Event)
	GetKeyValue() (string, interface{})
}

type StringField struct {
	Key   string
	Value string
}

func (f StringField) AddTo(event *zerolog.Event) {
	event.Str(f.Key, f.Value)
}

func (f StringField) GetKeyValue() (string, interface{}) {
	return f.Key, f.Value
}

type IntField struct {
	Key   string
	Value int
}

func (f IntField) AddTo(event *zerolog.Event) {
	event.Int(f.Key, f.Value)
}

func (f IntField) GetKeyValue() (string, interface{}) {
	return f.Key, f.Value
}

type Int64Field struct {
	Key   string
	Value int64
}

func (f Int64Field) AddTo(event *zerolog.Event) {
	event.Int64(f.Key, f.Value)
}

func (f Int64Field) GetKeyValue() (string, interface{}) {
	return f.Key, f.Value
}

type Float64Field struct {
	Key   string
	Value float64
}

func (f Float64Field) AddTo(event *zerolog.Event) {
	event.Float64(f.Key, f.Value)
}

func (f Float64Field) GetKeyValue() (string, interface{}) {
	return f.Key, f.Value
}

type ErrorField struct {
	Key   string
	Value error
}

func (f ErrorField) AddTo(event *zerolog.Event) {
	event.Err(f.Value)
}

func (f ErrorField) GetKeyValue() (string, interface{}) {
	if f.Value == nil {
		return f.Key, nil
	}
	return f.Key, f.Value.Error()
}

type AnyField struct {
	Key   string
	Value interface{}
}

func (f AnyField) AddTo(event *zerolog.Event) {
	event.Interface(f.Key, f.Value)
}

func (f AnyField) GetKeyValue() (string, interface{}) {
	return f.Key, f.Value
}

type BoolField struct {
	Key   string
	Value bool
}

func (f BoolField) AddTo(event *zerolog.Event) {
	event.Bool(f.Key, f.Value)
}

func (f BoolField) GetKeyValue() (string, interface{}) {
	return f.Key, f.Value
}

// --- Field constructors ---

func String(key, value string) Field {
	return StringField{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return IntField{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Int64Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Float64Field{Key: key, Value: value}
}

func Error(err error) Field {
	return ErrorField{Key: "error", Value: err}
}

func Any(key string, value interface{}) Field {
	return AnyField{Key: key, Value: value}
}

// Duration logs whole milliseconds.
func Duration(key string, value time.Duration) Field {
	return Int64Field{Key: key, Value: value.Milliseconds()}
}

func Bool(key string, v bool) Field {
	return BoolField{Key: key, Value: v}
}
