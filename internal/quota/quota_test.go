package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/friendsincode/relaydesk/internal/cache"
	"github.com/friendsincode/relaydesk/internal/db"
	"github.com/friendsincode/relaydesk/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.Open(sqlite.Open(":memory:"), true)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })
	return database
}

func TestParseStatic(t *testing.T) {
	s, err := Parse([]byte("technicians:\n  alice: 3\n  bob: 20\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	limit, err := s.Lookup(context.Background(), "alice")
	if err != nil {
		t.Fatalf("lookup alice: %v", err)
	}
	if limit.MaxSessions != 3 || !limit.Active {
		t.Fatalf("unexpected limit %+v", limit)
	}

	if _, err := s.Lookup(context.Background(), "carol"); !errors.Is(err, ErrNoLimit) {
		t.Fatalf("expected ErrNoLimit for unlisted technician, got %v", err)
	}
}

func TestParseStaticRejectsOutOfBoundsQuota(t *testing.T) {
	for _, doc := range []string{
		"technicians:\n  alice: 0\n",
		"technicians:\n  alice: 51\n",
		"technicians: [",
	} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("expected error for %q", doc)
		}
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(t.TempDir() + "/missing.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestChainOrder(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	tech := &models.Technician{
		ID:          uuid.NewString(),
		Email:       "tech@example.com",
		Role:        models.RoleTech,
		MaxSessions: models.QuotaPtr(2),
		Active:      true,
	}
	overridden := &models.Technician{ID: uuid.NewString(), Email: "over@example.com", Role: models.RoleTech, Active: true}
	plain := &models.Technician{ID: uuid.NewString(), Email: "plain@example.com", Role: models.RoleTech, Active: true}
	for _, row := range []*models.Technician{tech, overridden, plain} {
		if err := database.Create(row).Error; err != nil {
			t.Fatalf("create technician: %v", err)
		}
	}

	static := &Static{Technicians: map[string]int{tech.ID: 7, overridden.ID: 5, "external": 4}}
	chain := NewChain(3, NewTechnicianSource(database), static)

	cases := []struct {
		name string
		id   string
		want int
	}{
		{"technician row wins", tech.ID, 2},
		{"override for registered technician without quota", overridden.ID, 5},
		{"default for registered technician without quota", plain.ID, 3},
		{"override for unknown technician", "external", 4},
		{"default", "nobody", 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			limit, err := chain.Lookup(ctx, tc.id)
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if limit.MaxSessions != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, limit.MaxSessions)
			}
		})
	}
}

func TestTechnicianSourceReportsDisabled(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	tech := &models.Technician{ID: uuid.NewString(), Email: "off@example.com", Role: models.RoleTech}
	if err := database.Create(tech).Error; err != nil {
		t.Fatalf("create technician: %v", err)
	}
	// Active carries a default of true, so disabling needs an explicit update.
	if err := database.Model(tech).Update("active", false).Error; err != nil {
		t.Fatalf("disable technician: %v", err)
	}

	limit, err := NewTechnicianSource(database).Lookup(ctx, tech.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if limit.Active {
		t.Fatal("expected disabled technician")
	}

	// A disabled row without its own quota must not be masked by later sources.
	chained, err := NewChain(3, NewTechnicianSource(database), &Static{Technicians: map[string]int{tech.ID: 4}}).Lookup(ctx, tech.ID)
	if err != nil {
		t.Fatalf("chain lookup: %v", err)
	}
	if chained.Active {
		t.Fatal("expected chain to report the technician as disabled")
	}
}

type countingSource struct {
	calls int
	limit Limit
}

func (c *countingSource) Lookup(context.Context, string) (Limit, error) {
	c.calls++
	return c.limit, nil
}

func TestCachedPassesThroughWhenCacheDisabled(t *testing.T) {
	next := &countingSource{limit: Limit{MaxSessions: 3, Active: true}}
	cached := NewCached(next, cache.Disabled(zerolog.Nop()), zerolog.Nop())

	for i := 0; i < 2; i++ {
		limit, err := cached.Lookup(context.Background(), "alice")
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if limit.MaxSessions != 3 {
			t.Fatalf("expected 3, got %d", limit.MaxSessions)
		}
	}
	if next.calls != 2 {
		t.Fatalf("expected every lookup to reach the source, got %d calls", next.calls)
	}

	cached.Invalidate(context.Background(), "alice")
}

func TestFixed(t *testing.T) {
	limit, err := Fixed(1).Lookup(context.Background(), "anyone")
	if err != nil || limit.MaxSessions != 1 || !limit.Active {
		t.Fatalf("unexpected result %+v, %v", limit, err)
	}
}
