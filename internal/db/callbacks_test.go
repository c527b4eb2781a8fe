package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/relaydesk/internal/models"
	"github.com/friendsincode/relaydesk/internal/telemetry"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := Open(sqlite.Open(":memory:"), true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = Close(database) })
	return database
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCallbacksCountDuplicateKeys(t *testing.T) {
	database := openTestDB(t)
	duplicates := telemetry.DatabaseErrorsTotal.WithLabelValues("create", "duplicate_key")
	before := counterValue(t, duplicates)

	first := models.Technician{ID: uuid.NewString(), Email: "dup@example.com", Role: models.RoleTech, Active: true}
	if err := database.Create(&first).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	second := models.Technician{ID: uuid.NewString(), Email: "dup@example.com", Role: models.RoleTech, Active: true}
	if err := database.Create(&second).Error; !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected duplicated key error, got %v", err)
	}

	if got := counterValue(t, duplicates) - before; got != 1 {
		t.Fatalf("expected one duplicate_key error recorded, got %v", got)
	}
}

func TestCallbacksIgnoreRecordNotFound(t *testing.T) {
	database := openTestDB(t)
	queryErrors := telemetry.DatabaseErrorsTotal.WithLabelValues("query", "query_error")
	before := counterValue(t, queryErrors)

	var tech models.Technician
	err := database.First(&tech, "id = ?", "missing").Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
	if got := counterValue(t, queryErrors) - before; got != 0 {
		t.Fatalf("record not found must not count as a query error, got %v", got)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{gorm.ErrRecordNotFound, ""},
		{fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), "duplicate_key"},
		{context.Canceled, "canceled"},
		{context.DeadlineExceeded, "canceled"},
		{errors.New("no such table"), "query_error"},
	}
	for _, tc := range cases {
		if got := classifyError(tc.err); got != tc.want {
			t.Errorf("classifyError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
