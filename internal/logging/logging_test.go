package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupWithWriterLevels(t *testing.T) {
	var buf bytes.Buffer

	logger := SetupWithWriter("development", &buf)
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level in development, got %s", logger.GetLevel())
	}

	logger = SetupWithWriter("staging", &buf)
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level outside development, got %s", logger.GetLevel())
	}

	logger.Debug().Msg("hidden")
	logger.Info().Str("session_code", "123456789").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatal("debug message should be filtered at info level")
	}
	if !strings.Contains(out, `"session_code":"123456789"`) {
		t.Fatalf("expected structured field in additional writer, got %q", out)
	}
}
