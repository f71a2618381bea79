package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"aurox-gatekeeper/internal/platform"
	"aurox-gatekeeper/internal/platform/platformtest"
	"aurox-gatekeeper/internal/settings"
	"aurox-gatekeeper/internal/storage"

	"go.uber.org/zap"
)

func ptr[T any](v T) *T { return &v }

type publisherHarness struct {
	publisher *Publisher
	settings  *settings.Store
	fake      *platformtest.Fake
	clock     *fakeClock
	audit     *nopAudit
}

func newPublisherHarness(t *testing.T) *publisherHarness {
	t.Helper()
	db, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := settings.New(db, settings.Defaults{
		Prompt:   "Click Verify to start.",
		Title:    "VERIFICATION SECTION",
		Color:    0x0099FF,
		PingText: "@here",
		Spam:     settings.SpamConfig{MessageLimit: 5, Window: 10 * time.Second},
	}, zap.NewNop(), nil)

	fake := platformtest.New("bot")
	perms := platform.PermViewChannel | platform.PermSendMessages | platform.PermEmbedLinks
	fake.AddTextChannel("g1", "c1", perms)
	fake.AddTextChannel("g1", "c2", perms)

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	rec := &nopAudit{}
	return &publisherHarness{
		publisher: NewPublisher(fake, store, rec, 10*24*time.Hour, zap.NewNop()).WithClock(clock),
		settings:  store,
		fake:      fake,
		clock:     clock,
		audit:     rec,
	}
}

func (h *publisherHarness) enable(t *testing.T, channelID string) {
	t.Helper()
	if _, err := h.settings.UpdateVerify(context.Background(), "g1", settings.VerifyPatch{Enabled: ptr(true), ChannelID: ptr(channelID)}); err != nil {
		t.Fatalf("enable: %v", err)
	}
}

func TestPublishSendsDefaultPrompt(t *testing.T) {
	h := newPublisherHarness(t)
	h.enable(t, "c1")

	result, err := h.publisher.Publish(context.Background(), "g1", false)
	if err != nil || result != PublishSent {
		t.Fatalf("publish: %v %v", result, err)
	}
	if len(h.fake.Sent) != 1 {
		t.Fatalf("expected one prompt, got %d", len(h.fake.Sent))
	}
	sent := h.fake.Sent[0]
	if sent.ChannelID != "c1" || sent.Prompt.Content != "@here" || sent.Prompt.Title != "VERIFICATION SECTION" ||
		sent.Prompt.ButtonID != VerifyButtonID || sent.Prompt.ButtonLabel != "Verify" || sent.Prompt.Color != 0x0099FF {
		t.Fatalf("unexpected prompt %+v", sent)
	}
	cfg := h.settings.Verify("g1")
	if cfg.MessageID != sent.MessageID || !cfg.LastSent.Equal(h.clock.Now()) {
		t.Fatalf("prompt not persisted: %+v", cfg)
	}
}

func TestPublishKeepsExistingMessage(t *testing.T) {
	h := newPublisherHarness(t)
	h.enable(t, "c1")
	ctx := context.Background()

	if _, err := h.publisher.Publish(ctx, "g1", false); err != nil {
		t.Fatalf("publish: %v", err)
	}
	result, err := h.publisher.Publish(ctx, "g1", true)
	if err != nil || result != PublishKept || len(h.fake.Sent) != 1 {
		t.Fatalf("expected existing prompt to be kept, got %v %v sent=%d", result, err, len(h.fake.Sent))
	}
}

func TestPublishDebounce(t *testing.T) {
	h := newPublisherHarness(t)
	h.enable(t, "c1")
	ctx := context.Background()

	if _, err := h.publisher.Publish(ctx, "g1", false); err != nil {
		t.Fatalf("publish: %v", err)
	}
	first := h.fake.Sent[0]
	if err := h.fake.DeleteMessage(ctx, first.ChannelID, first.MessageID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	h.clock.Set(h.clock.Now().Add(24 * time.Hour))
	if result, _ := h.publisher.Publish(ctx, "g1", false); result != PublishDebounced {
		t.Fatalf("expected debounce, got %v", result)
	}

	h.clock.Set(h.clock.Now().Add(10 * 24 * time.Hour))
	if result, _ := h.publisher.Publish(ctx, "g1", false); result != PublishSent {
		t.Fatalf("expected resend after window, got %v", result)
	}
	if len(h.fake.Sent) != 2 {
		t.Fatalf("expected two prompts, got %d", len(h.fake.Sent))
	}
}

func TestPublishDisabledOrBrokenChannel(t *testing.T) {
	h := newPublisherHarness(t)
	ctx := context.Background()

	if result, err := h.publisher.Publish(ctx, "g1", true); result != PublishDisabled || err != nil {
		t.Fatalf("expected disabled, got %v %v", result, err)
	}

	h.enable(t, "c1")
	h.fake.ChannelPerms["c1"] = platform.PermViewChannel
	_, err := h.publisher.Publish(ctx, "g1", true)
	var cerr *ConfigError
	if !errors.As(err, &cerr) || cerr.Reason != msgChannelPerms {
		t.Fatalf("expected permission config error, got %v", err)
	}
	if len(h.fake.Sent) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestPublishAllContinuesPastFailures(t *testing.T) {
	h := newPublisherHarness(t)
	ctx := context.Background()
	h.fake.AddTextChannel("g2", "c9", platform.PermViewChannel)
	if _, err := h.settings.UpdateVerify(ctx, "g2", settings.VerifyPatch{Enabled: ptr(true), ChannelID: ptr("c9")}); err != nil {
		t.Fatalf("enable g2: %v", err)
	}
	h.enable(t, "c1")

	if err := h.publisher.PublishAll(ctx); err != nil {
		t.Fatalf("publish all: %v", err)
	}
	if len(h.fake.Sent) != 1 || h.fake.Sent[0].ChannelID != "c1" {
		t.Fatalf("expected only g1 to publish, got %+v", h.fake.Sent)
	}
}

func TestReconfigureChannelMovesPrompt(t *testing.T) {
	h := newPublisherHarness(t)
	ctx := context.Background()

	cfg, err := h.publisher.Reconfigure(ctx, "g1", "admin", settings.VerifyPatch{Enabled: ptr(true), ChannelID: ptr("c1")})
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if len(h.fake.Sent) != 1 || cfg.MessageID != h.fake.Sent[0].MessageID {
		t.Fatalf("enabling should publish, got %+v", cfg)
	}
	old := h.fake.Sent[0]

	cfg, err = h.publisher.Reconfigure(ctx, "g1", "admin", settings.VerifyPatch{ChannelID: ptr("c2")})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(h.fake.Deleted) != 1 || h.fake.Deleted[0] != old.ChannelID+":"+old.MessageID {
		t.Fatalf("old prompt should be deleted, got %v", h.fake.Deleted)
	}
	if len(h.fake.Sent) != 2 || h.fake.Sent[1].ChannelID != "c2" || cfg.MessageID != h.fake.Sent[1].MessageID {
		t.Fatalf("prompt should be sent to new channel, got %+v", h.fake.Sent)
	}
}

func TestReconfigureDisableRetractsPrompt(t *testing.T) {
	h := newPublisherHarness(t)
	ctx := context.Background()
	if _, err := h.publisher.Reconfigure(ctx, "g1", "admin", settings.VerifyPatch{Enabled: ptr(true), ChannelID: ptr("c1")}); err != nil {
		t.Fatalf("enable: %v", err)
	}

	cfg, err := h.publisher.Reconfigure(ctx, "g1", "admin", settings.VerifyPatch{Enabled: ptr(false)})
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if cfg.Enabled || cfg.MessageID != "" || !cfg.LastSent.IsZero() {
		t.Fatalf("expected cleared prompt state, got %+v", cfg)
	}
	if len(h.fake.Deleted) != 1 || len(h.fake.Sent) != 1 {
		t.Fatalf("expected one delete and no new send, got deleted=%v sent=%d", h.fake.Deleted, len(h.fake.Sent))
	}
}

func TestReconfigureRolesOnlyKeepsPrompt(t *testing.T) {
	h := newPublisherHarness(t)
	ctx := context.Background()
	if _, err := h.publisher.Reconfigure(ctx, "g1", "admin", settings.VerifyPatch{Enabled: ptr(true), ChannelID: ptr("c1")}); err != nil {
		t.Fatalf("enable: %v", err)
	}

	if _, err := h.publisher.Reconfigure(ctx, "g1", "admin", settings.VerifyPatch{RolesOnVerify: ptr([]string{"Member"})}); err != nil {
		t.Fatalf("roles: %v", err)
	}
	if len(h.fake.Deleted) != 0 || len(h.fake.Sent) != 1 {
		t.Fatalf("role change must not touch the prompt")
	}
}

func TestReconfigureRejectsInvalid(t *testing.T) {
	h := newPublisherHarness(t)
	_, err := h.publisher.Reconfigure(context.Background(), "g1", "admin", settings.VerifyPatch{Enabled: ptr(true)})
	if !errors.Is(err, settings.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if len(h.fake.Sent) != 0 {
		t.Fatalf("nothing should be sent")
	}
}
