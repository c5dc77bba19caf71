package mysmtp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestStdLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(&buf, LogLevelWarn)
	ctx := context.Background()

	logger.Debug(ctx, "hidden debug")
	logger.Info(ctx, "hidden info")
	logger.Warn(ctx, "shown warn", Attr(AttrRecipient, "bob"))
	logger.Error(ctx, "shown error", Attr(AttrError, errors.New("disk full")))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below the level were written:\n%s", out)
	}
	for _, want := range []string{"[WARN] shown warn recipient=bob", "[ERROR] shown error error=disk full"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestStdLogger_WithSession(t *testing.T) {
	var buf bytes.Buffer
	base := NewStdLogger(&buf, LogLevelDebug)
	logger := base.WithSession("abc").WithAttrs(Attr(AttrClientID, "c1"))

	logger.Info(context.Background(), "hello", Attr(AttrCommand, "HELO"))
	base.Info(context.Background(), "plain")

	out := buf.String()
	if !strings.Contains(out, "[INFO] hello session_id=abc client_id=c1 command=HELO") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "plain session_id") {
		t.Error("WithSession modified the parent logger")
	}
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: SlogLevel(LogLevelInfo)})
	logger := NewSlogLogger(slog.New(handler)).WithSession("s-1")

	logger.Debug(context.Background(), "hidden")
	logger.Info(context.Background(), "message stored",
		Attr(AttrMessageID, 7),
		Attr(AttrError, errors.New("boom")))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message written at info level:\n%s", out)
	}
	for _, want := range []string{"level=INFO", `msg="message stored"`, "session_id=s-1", "message_id=7", "error=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", LogLevelDebug, true},
		{"INFO", LogLevelInfo, true},
		{" warn ", LogLevelWarn, true},
		{"warning", LogLevelWarn, true},
		{"Error", LogLevelError, true},
		{"trace", LogLevelInfo, false},
		{"", LogLevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLogLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[LogLevel]slog.Level{
		LogLevelDebug: slog.LevelDebug,
		LogLevelInfo:  slog.LevelInfo,
		LogLevelWarn:  slog.LevelWarn,
		LogLevelError: slog.LevelError,
	}
	for in, want := range tests {
		if got := SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestWriterTranscriptLogger(t *testing.T) {
	var buf bytes.Buffer
	tl := &WriterTranscriptLogger{Writer: &buf}

	tl.LogOutput([]byte("200 OK host ready\r\n"))
	tl.LogInput([]byte("HELO c\r\n"))

	want := "S: 200 OK host ready\r\nC: HELO c\r\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestPipeConn_Close(t *testing.T) {
	var out bytes.Buffer
	conn := WrapPipe(strings.NewReader("x"), &out)

	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("expected read on closed conn to fail")
	}
	if _, err := conn.Write([]byte("y")); err == nil {
		t.Error("expected write on closed conn to fail")
	}
}

func TestIsTimeout(t *testing.T) {
	if !isTimeout(ErrDeadlineExceeded) {
		t.Error("ErrDeadlineExceeded should be a timeout")
	}
	if isTimeout(errors.New("other")) {
		t.Error("plain error should not be a timeout")
	}
	if got := disconnectReason(ErrDeadlineExceeded); got != DisconnectTimeout {
		t.Errorf("disconnectReason = %v, want Timeout", got)
	}
	if got := disconnectReason(ErrTooManyErrors); got != DisconnectResourceLimit {
		t.Errorf("disconnectReason = %v, want ResourceLimit", got)
	}
}
