package audit

import (
	"context"
	"testing"
	"time"

	"aurox-gatekeeper/internal/storage"

	"go.uber.org/zap"
)

func TestLogPersists(t *testing.T) {
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := NewLogger(store, zap.NewNop())
	logger.Log(context.Background(), LevelWarn, "g1", "u1", EventSpamBreach, "6 messages")

	logs, err := store.ListAuditLogs(context.Background(), "g1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != EventSpamBreach || logs[0].Level != LevelWarn {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestLogWithoutStore(t *testing.T) {
	logger := NewLogger(nil, nil)
	logger.Log(context.Background(), LevelInfo, "g1", "", EventPromptSent, "")
}
