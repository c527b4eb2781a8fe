package retention

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/friendsincode/relaydesk/internal/models"
	"github.com/friendsincode/relaydesk/internal/session"
	"github.com/friendsincode/relaydesk/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func seed(t *testing.T, store *session.MemoryStore, code string, state models.SessionState, disconnected time.Time) {
	t.Helper()
	sess := &models.Session{
		ID:        uuid.NewString(),
		Code:      code,
		OwnerID:   "T1",
		State:     models.SessionPending,
		Port:      50000,
		CreatedAt: disconnected.Add(-time.Hour),
		UpdatedAt: disconnected.Add(-time.Hour),
	}
	if err := store.Insert(context.Background(), sess); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if state.IsTerminal() {
		if _, err := store.UpdateState(context.Background(), code, models.SourcesFor(state), state, disconnected); err != nil {
			t.Fatalf("finish: %v", err)
		}
	}
}

func TestRunOnceArchivesExpiredSessions(t *testing.T) {
	store := session.NewMemoryStore()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	seed(t, store, "100000001", models.SessionClosed, now.Add(-40*24*time.Hour))
	seed(t, store, "100000002", models.SessionClosed, now.Add(-31*24*time.Hour))
	seed(t, store, "100000003", models.SessionClosed, now.Add(-time.Hour))
	seed(t, store, "100000004", models.SessionPending, now.Add(-60*24*time.Hour))

	dir := t.TempDir()
	objects, err := storage.NewFSStore(dir)
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}

	a := NewArchiver(store, objects, 30*24*time.Hour, zerolog.Nop())
	a.now = func() time.Time { return now }
	a.batchSize = 1

	n, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 archived sessions, got %d", n)
	}

	remaining, _ := store.List(context.Background(), session.ListFilter{})
	if len(remaining) != 2 {
		t.Fatalf("expected recent and live sessions to remain, got %d", len(remaining))
	}

	files, err := filepath.Glob(filepath.Join(dir, "sessions", "2026", "03", "04", "*.jsonl"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected one archive object per batch, got %v", files)
	}

	codes := map[string]bool{}
	for _, f := range files {
		data, _ := os.ReadFile(f)
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			var rec record
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				t.Fatalf("decode line: %v", err)
			}
			codes[rec.Code] = true
		}
	}
	if !codes["100000001"] || !codes["100000002"] {
		t.Fatalf("unexpected archived codes %v", codes)
	}
}

func TestRunOnceNothingToDo(t *testing.T) {
	objects, _ := storage.NewFSStore(t.TempDir())
	a := NewArchiver(session.NewMemoryStore(), objects, time.Hour, zerolog.Nop())
	n, err := a.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected no work, got %d, %v", n, err)
	}
}
