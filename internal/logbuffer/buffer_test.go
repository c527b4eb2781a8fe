package logbuffer

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func TestBufferWrapsAround(t *testing.T) {
	b := New(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Add(LogEntry{Message: msg, Level: "info"})
	}

	all := b.GetAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Message != "b" || all[2].Message != "d" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if stats := b.Stats(); stats.Count != 3 || stats.LevelCount["info"] != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestWriterCapturesZerologLines(t *testing.T) {
	b := New(10)
	var fallback bytes.Buffer
	logger := zerolog.New(NewWriter(b, &fallback)).With().Timestamp().Logger()

	logger.Info().Str("component", "session").Str("session_code", "123456789").Int("port", 50000).Msg("session created")
	logger.Warn().Str("component", "signaling").Msg("invalid signaling message")
	logger.Info().Str("component", "session").Str("session_code", "987654321").Msg("session ended")

	if fallback.Len() == 0 {
		t.Fatal("expected lines to be copied to fallback writer")
	}

	got := b.Query(QueryParams{SessionCode: "123456789"})
	if len(got) != 1 || got[0].Component != "session" || got[0].Fields["port"] != float64(50000) {
		t.Fatalf("unexpected session query result %+v", got)
	}

	got = b.Query(QueryParams{Level: "warn"})
	if len(got) != 1 || got[0].Message != "invalid signaling message" {
		t.Fatalf("unexpected level query result %+v", got)
	}

	got = b.Query(QueryParams{Component: "session", Limit: 1})
	if len(got) != 1 || got[0].Message != "session ended" {
		t.Fatalf("expected newest session entry first, got %+v", got)
	}

	if got := b.Query(QueryParams{Search: "SIGNALING"}); len(got) != 1 {
		t.Fatalf("expected case-insensitive search to match one entry, got %d", len(got))
	}
}

func TestWriterIgnoresNonJSON(t *testing.T) {
	b := New(10)
	w := NewWriter(b, nil)
	n, err := w.Write([]byte("plain text\n"))
	if err != nil || n != len("plain text\n") {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if len(b.GetAll()) != 0 {
		t.Fatal("non-JSON line should not be captured")
	}
}
