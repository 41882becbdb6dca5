package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected logger to be enabled")
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	output := buf.String()
	if output == "" {
		t.Error("Expected log output, got empty string")
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", output)
	}
}

func TestWithContext(t *testing.T) {
	log := New()
	ctx := WithContext(context.Background(), log)

	if ctx.Value(LoggerKey) == nil {
		t.Error("Expected logger in context, got nil")
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	testLog := NewWithWriter(buf)
	ctx := WithContext(context.Background(), testLog)

	log := FromContext(ctx)
	log.Info().Msg("round trip")

	if !strings.Contains(buf.String(), "round trip") {
		t.Errorf("Expected context logger to be returned, output: %s", buf.String())
	}
}

func TestFromContextWithoutLogger(t *testing.T) {
	log := FromContext(context.Background())
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected fallback logger to be enabled")
	}
}
