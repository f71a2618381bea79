package analytics

import (
	"context"
	"math"
	"testing"
	"time"

	"aurox-gatekeeper/internal/storage"
)

func TestReport(t *testing.T) {
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	now := time.Now()
	for _, entry := range []struct{ level, event string }{
		{"INFO", "verify_success"},
		{"INFO", "verify_success"},
		{"INFO", "verify_success"},
		{"WARN", "verify_failed"},
		{"WARN", "spam_breach"},
	} {
		if err := store.AddAuditLog(ctx, storage.AuditLog{GuildID: "g1", Level: entry.level, Event: entry.event, CreatedAt: now}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	report, err := New(store).Report(ctx, "g1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 5 || report.ByLevel["WARN"] != 2 || report.ByEvent["verify_success"] != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if rate := report.SuccessRate("verify_success", "verify_failed", "verify_expired"); math.Abs(rate-0.75) > 1e-9 {
		t.Fatalf("unexpected success rate %v", rate)
	}
}
