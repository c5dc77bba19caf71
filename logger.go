package mysmtp

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
	"sync"
)

// Logger defines the logging interface used by the engine and server.
type Logger interface {
	// Debug logs a debug message with optional attributes.
	Debug(ctx context.Context, msg string, attrs ...LogAttr)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, attrs ...LogAttr)

	// Warn logs a warning message.
	Warn(ctx context.Context, msg string, attrs ...LogAttr)

	// Error logs an error message.
	Error(ctx context.Context, msg string, attrs ...LogAttr)

	// WithAttrs returns a new Logger with the given attributes added.
	WithAttrs(attrs ...LogAttr) Logger

	// WithSession returns a new Logger with session context.
	WithSession(sessionID SessionID) Logger
}

// LogAttr is a key-value pair for structured logging.
type LogAttr struct {
	Key   LogAttrKey
	Value LogAttrValue
}

// LogAttrKey is the key of a log attribute.
type LogAttrKey = string

// LogAttrValue is the value of a log attribute.
type LogAttrValue = any

// Attr creates a log attribute.
func Attr(key LogAttrKey, value LogAttrValue) LogAttr {
	return LogAttr{Key: key, Value: value}
}

// Common attribute keys.
const (
	AttrSessionID   LogAttrKey = "session_id"
	AttrRemoteAddr  LogAttrKey = "remote_addr"
	AttrClientID    LogAttrKey = "client_id"
	AttrCommand     LogAttrKey = "command"
	AttrState       LogAttrKey = "state"
	AttrError       LogAttrKey = "error"
	AttrReplyCode   LogAttrKey = "reply_code"
	AttrSender      LogAttrKey = "sender"
	AttrRecipient   LogAttrKey = "recipient"
	AttrMessageID   LogAttrKey = "message_id"
	AttrMessages    LogAttrKey = "messages"
	AttrMessageSize LogAttrKey = "message_size"
)

// LogLevel represents a logging level.
type LogLevel int

const (
	// LogLevelDebug is the debug level.
	LogLevelDebug LogLevel = iota

	// LogLevelInfo is the info level.
	LogLevelInfo

	// LogLevelWarn is the warning level.
	LogLevelWarn

	// LogLevelError is the error level.
	LogLevelError
)

// String returns the level name.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a level name such as "debug" or "WARN".
// Unknown names yield LogLevelInfo and false.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LogLevelDebug, true
	case "INFO":
		return LogLevelInfo, true
	case "WARN", "WARNING":
		return LogLevelWarn, true
	case "ERROR":
		return LogLevelError, true
	default:
		return LogLevelInfo, false
	}
}

// NullLogger is a Logger that discards all messages.
type NullLogger struct{}

func (NullLogger) Debug(_ context.Context, _ string, _ ...LogAttr) {}
func (NullLogger) Info(_ context.Context, _ string, _ ...LogAttr)  {}
func (NullLogger) Warn(_ context.Context, _ string, _ ...LogAttr)  {}
func (NullLogger) Error(_ context.Context, _ string, _ ...LogAttr) {}
func (n NullLogger) WithAttrs(_ ...LogAttr) Logger                 { return n }
func (n NullLogger) WithSession(_ SessionID) Logger                { return n }

// StdLogger wraps the standard library logger.
type StdLogger struct {
	logger *log.Logger
	level  LogLevel
	attrs  []LogAttr
}

// NewStdLogger creates a StdLogger writing to the given writer.
func NewStdLogger(w io.Writer, level LogLevel) *StdLogger {
	return &StdLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

// Debug logs a debug message.
func (l *StdLogger) Debug(ctx context.Context, msg string, attrs ...LogAttr) {
	if l.level <= LogLevelDebug {
		l.log(LogLevelDebug, msg, attrs)
	}
}

// Info logs an info message.
func (l *StdLogger) Info(ctx context.Context, msg string, attrs ...LogAttr) {
	if l.level <= LogLevelInfo {
		l.log(LogLevelInfo, msg, attrs)
	}
}

// Warn logs a warning message.
func (l *StdLogger) Warn(ctx context.Context, msg string, attrs ...LogAttr) {
	if l.level <= LogLevelWarn {
		l.log(LogLevelWarn, msg, attrs)
	}
}

// Error logs an error message.
func (l *StdLogger) Error(ctx context.Context, msg string, attrs ...LogAttr) {
	if l.level <= LogLevelError {
		l.log(LogLevelError, msg, attrs)
	}
}

func (l *StdLogger) log(level LogLevel, msg string, attrs []LogAttr) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	for _, attr := range l.attrs {
		fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
	}
	for _, attr := range attrs {
		fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
	}
	l.logger.Print(b.String())
}

// WithAttrs returns a new logger with added attributes.
func (l *StdLogger) WithAttrs(attrs ...LogAttr) Logger {
	newLogger := &StdLogger{
		logger: l.logger,
		level:  l.level,
		attrs:  make([]LogAttr, len(l.attrs)+len(attrs)),
	}
	copy(newLogger.attrs, l.attrs)
	copy(newLogger.attrs[len(l.attrs):], attrs)
	return newLogger
}

// WithSession returns a new logger with session context.
func (l *StdLogger) WithSession(sessionID SessionID) Logger {
	return l.WithAttrs(Attr(AttrSessionID, sessionID))
}

// SlogLogger adapts a *slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps logger. A nil logger uses slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Debug logs a debug message.
func (l *SlogLogger) Debug(ctx context.Context, msg string, attrs ...LogAttr) {
	l.logger.LogAttrs(ctx, slog.LevelDebug, msg, slogAttrs(attrs)...)
}

// Info logs an info message.
func (l *SlogLogger) Info(ctx context.Context, msg string, attrs ...LogAttr) {
	l.logger.LogAttrs(ctx, slog.LevelInfo, msg, slogAttrs(attrs)...)
}

// Warn logs a warning message.
func (l *SlogLogger) Warn(ctx context.Context, msg string, attrs ...LogAttr) {
	l.logger.LogAttrs(ctx, slog.LevelWarn, msg, slogAttrs(attrs)...)
}

// Error logs an error message.
func (l *SlogLogger) Error(ctx context.Context, msg string, attrs ...LogAttr) {
	l.logger.LogAttrs(ctx, slog.LevelError, msg, slogAttrs(attrs)...)
}

// WithAttrs returns a new logger with added attributes.
func (l *SlogLogger) WithAttrs(attrs ...LogAttr) Logger {
	args := make([]any, 0, len(attrs))
	for _, a := range slogAttrs(attrs) {
		args = append(args, a)
	}
	return &SlogLogger{logger: l.logger.With(args...)}
}

// WithSession returns a new logger with session context.
func (l *SlogLogger) WithSession(sessionID SessionID) Logger {
	return l.WithAttrs(Attr(AttrSessionID, sessionID))
}

// SlogLevel maps a LogLevel to the corresponding slog.Level.
func SlogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func slogAttrs(attrs []LogAttr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if err, ok := a.Value.(error); ok {
			out = append(out, slog.String(a.Key, err.Error()))
			continue
		}
		out = append(out, slog.Any(a.Key, a.Value))
	}
	return out
}

// TranscriptLogger logs the raw conversation.
// This is useful for debugging and testing.
type TranscriptLogger interface {
	// LogInput logs input from the client.
	LogInput(data []byte)

	// LogOutput logs output to the client.
	LogOutput(data []byte)
}

// WriterTranscriptLogger writes transcripts to an io.Writer.
// It is safe for use by concurrent sessions.
type WriterTranscriptLogger struct {
	Writer io.Writer

	mu sync.Mutex
}

// LogInput logs client input.
func (l *WriterTranscriptLogger) LogInput(data []byte) {
	l.write("C: ", data)
}

// LogOutput logs server output.
func (l *WriterTranscriptLogger) LogOutput(data []byte) {
	l.write("S: ", data)
}

func (l *WriterTranscriptLogger) write(prefix string, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Writer.Write([]byte(prefix))
	l.Writer.Write(data)
}
