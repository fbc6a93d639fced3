package logger

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
	Service    string // stamped on every line as "service"
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		output = file
	}

	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: cfg.TimeFormat}
	}

	zctx := zerolog.New(output).Level(level).With().Timestamp().CallerWithSkipFrameCount(3)
	if cfg.Service != "" {
		zctx = zctx.Str("service", cfg.Service)
	}
	return &Logger{zl: zctx.Logger()}, nil
}

// Nop discards everything; used by tests and as the default for optional loggers.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger carrying fields on every line. The child shares the collector.
func (l *Logger) With(fields ...Field) *Logger {
	zctx := l.zl.With()
	for _, f := range fields {
		k, v := f.GetKeyValue()
		zctx = zctx.Interface(k, v)
	}
	return &Logger{zl: zctx.Logger(), collector: l.collector}
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.write(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.write(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.write(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.write(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func (l *Logger) write(event *zerolog.Event, msg string, fields []Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		f.AddTo(event)
	}
	event.Msg(msg)
}

func (l *Logger) collect(level, msg string, fields []Field) {
	if l.collector == nil {
		return
	}

	// skip: collect -> Error -> caller
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		parts := strings.Split(file, "TeeRelay")
		caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
	}

	fieldMap := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		k, v := f.GetKeyValue()
		fieldMap[k] = v
	}
	l.collector.AddLog(level, msg, fieldMap, caller)
}

// AddCollector aggregates error lines and ships them through cfg.Publisher.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if l.collector != nil {
		l.collector.Close()
	}
	l.collector = NewLogCollector(cfg)
}

func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

// Field is a typed key/value attached to a log line.
type Field interface {
	AddTo(event *zerolog.Event)
	GetKeyValue() (string, interface{})
}

type field struct {
	key   string
	value interface{}
	add   func(e *zerolog.Event)
}

func (f field) AddTo(e *zerolog.Event) { f.add(e) }

func (f field) GetKeyValue() (string, interface{}) { return f.key, f.value }

func String(key, value string) Field {
	return field{key, value, func(e *zerolog.Event) { e.Str(key, value) }}
}

func Int(key string, value int) Field {
	return field{key, value, func(e *zerolog.Event) { e.Int(key, value) }}
}

func Int64(key string, value int64) Field {
	return field{key, value, func(e *zerolog.Event) { e.Int64(key, value) }}
}

func Uint64(key string, value uint64) Field {
	return field{key, value, func(e *zerolog.Event) { e.Uint64(key, value) }}
}

func Bool(key string, value bool) Field {
	return field{key, value, func(e *zerolog.Event) { e.Bool(key, value) }}
}

// Duration logs milliseconds.
func Duration(key string, value time.Duration) Field {
	ms := value.Milliseconds()
	return field{key, ms, func(e *zerolog.Event) { e.Int64(key, ms) }}
}

func Error(err error) Field {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return field{"error", msg, func(e *zerolog.Event) { e.Err(err) }}
}

func Any(key string, value interface{}) Field {
	return field{key, value, func(e *zerolog.Event) { e.Interface(key, value) }}
}

func Strings(key string, value []string) Field {
	return field{key, value, func(e *zerolog.Event) { e.Strs(key, value) }}
}

// Hex logs bytes as a hex string, truncated to 32 bytes.
func Hex(key string, value []byte) Field {
	if len(value) > 32 {
		value = value[:32]
	}
	s := hex.EncodeToString(value)
	return field{key, s, func(e *zerolog.Event) { e.Str(key, s) }}
}
