package warnings

import (
	"context"
	"errors"
	"testing"
	"time"

	"aurox-gatekeeper/internal/platform/platformtest"
	"aurox-gatekeeper/internal/settings"
	"aurox-gatekeeper/internal/storage"

	"go.uber.org/zap"
)

type recordingAudit struct {
	events []string
}

func (r *recordingAudit) Log(ctx context.Context, level, guildID, userID, event, details string) {
	r.events = append(r.events, event)
}

func newModule(t *testing.T, threshold int) (*Module, *platformtest.Fake, *recordingAudit) {
	t.Helper()
	db, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := settings.New(db, settings.Defaults{}, zap.NewNop(), nil)
	fake := platformtest.New("bot")
	rec := &recordingAudit{}
	m := New(fake, store, rec, threshold, 10*time.Minute, zap.NewNop())
	m.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return m, fake, rec
}

func TestTimeoutAtThreshold(t *testing.T) {
	m, fake, rec := newModule(t, 3)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		result, err := m.Warn(ctx, "g1", "u1", "mod", "spam")
		if err != nil {
			t.Fatalf("warn %d: %v", i, err)
		}
		if result.Count != i || result.TimedOut {
			t.Fatalf("warn %d: unexpected result %+v", i, result)
		}
	}

	result, err := m.Warn(ctx, "g1", "u1", "mod", "")
	if err != nil {
		t.Fatalf("warn 3: %v", err)
	}
	if !result.TimedOut || result.Count != 3 || result.Warning.Reason != "No reason given" {
		t.Fatalf("expected timeout on third warning, got %+v", result)
	}
	want := time.Unix(1_700_000_000, 0).Add(10 * time.Minute)
	if len(fake.TimedOut) != 1 || !fake.TimedOut[0].Until.Equal(want) {
		t.Fatalf("unexpected timeout calls %+v", fake.TimedOut)
	}
	if rec.events[len(rec.events)-1] != "warn_timeout" {
		t.Fatalf("expected timeout audit, got %v", rec.events)
	}
}

func TestZeroThresholdNeverTimesOut(t *testing.T) {
	m, fake, _ := newModule(t, 0)
	for i := 0; i < 5; i++ {
		if _, err := m.Warn(context.Background(), "g1", "u1", "mod", "x"); err != nil {
			t.Fatalf("warn: %v", err)
		}
	}
	if len(fake.TimedOut) != 0 {
		t.Fatalf("threshold zero must not time out")
	}
}

func TestTimeoutFailureIsReported(t *testing.T) {
	m, fake, _ := newModule(t, 1)
	fake.TimeoutErr = platformtest.Forbidden("timeout")

	result, err := m.Warn(context.Background(), "g1", "u1", "mod", "x")
	if err != nil {
		t.Fatalf("warning should still be stored: %v", err)
	}
	if result.TimedOut || result.TimeoutErr == nil || !errors.Is(result.TimeoutErr, fake.TimeoutErr) {
		t.Fatalf("expected timeout error, got %+v", result)
	}
}

func TestListAndClear(t *testing.T) {
	m, _, rec := newModule(t, 0)
	ctx := context.Background()
	_, _ = m.Warn(ctx, "g1", "u1", "mod", "a")
	_, _ = m.Warn(ctx, "g1", "u1", "mod", "b")
	_, _ = m.Warn(ctx, "g1", "u2", "mod", "c")

	list, err := m.List(ctx, "g1", "u1")
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %v %d", err, len(list))
	}
	removed, err := m.Clear(ctx, "g1", "u1", "mod")
	if err != nil || removed != 2 {
		t.Fatalf("clear: %v %d", err, removed)
	}
	if list, _ := m.List(ctx, "g1", "u1"); len(list) != 0 {
		t.Fatalf("expected no warnings left")
	}
	if other, _ := m.List(ctx, "g1", "u2"); len(other) != 1 {
		t.Fatalf("other member's warnings must remain")
	}
	if rec.events[len(rec.events)-1] != "warns_cleared" {
		t.Fatalf("expected clear audit, got %v", rec.events)
	}
}
