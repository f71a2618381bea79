package antispam

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"aurox-gatekeeper/internal/platform/platformtest"
	"aurox-gatekeeper/internal/settings"

	"go.uber.org/zap"
)

type staticSettings struct {
	cfg settings.SpamConfig
}

func (s staticSettings) Spam(string) settings.SpamConfig { return s.cfg }

type recordingAudit struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingAudit) Log(ctx context.Context, level, guildID, userID, event, details string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func TestDetectorBreachThenFreshWindow(t *testing.T) {
	detector := NewDetector()
	base := time.UnixMilli(0)
	limit, window := 5, 10*time.Second

	for i := 0; i < 5; i++ {
		res := detector.Observe("g1", "u1", base.Add(time.Duration(i)*time.Second), Message{ChannelID: "c1", MessageID: strconv.Itoa(i)}, limit, window)
		if res.Verdict != Clear {
			t.Fatalf("message %d: expected clear, got %v", i, res.Verdict)
		}
	}

	res := detector.Observe("g1", "u1", base.Add(5*time.Second), Message{ChannelID: "c1", MessageID: "5"}, limit, window)
	if res.Verdict != Breach || res.Count != 6 || len(res.Burst) != 6 {
		t.Fatalf("expected breach with 6 messages, got %+v", res)
	}
	res = detector.Observe("g1", "u1", base.Add(5500*time.Millisecond), Message{ChannelID: "c1", MessageID: "6"}, limit, window)
	if res.Verdict != Clear || res.Count != 1 {
		t.Fatalf("expected clear with one message, got %+v", res)
	}
}

func TestDetectorKeysArePerGuildMember(t *testing.T) {
	detector := NewDetector()
	now := time.Now()
	detector.Observe("g1", "u1", now, Message{}, 1, time.Minute)
	res := detector.Observe("g2", "u1", now, Message{}, 1, time.Minute)
	if res.Verdict != Clear {
		t.Fatalf("windows must not be shared across guilds")
	}
}

func TestDetectorOldMessagesExpire(t *testing.T) {
	detector := NewDetector()
	base := time.UnixMilli(0)
	for i := 0; i < 10; i++ {
		res := detector.Observe("g1", "u1", base.Add(time.Duration(i)*3*time.Second), Message{}, 3, 5*time.Second)
		if res.Verdict != Clear {
			t.Fatalf("slow messages should never breach, got %+v at %d", res, i)
		}
	}
}

func TestDetectorConcurrentBreachReportedOnce(t *testing.T) {
	detector := NewDetector()
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	breaches := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := detector.Observe("g1", "u1", now, Message{MessageID: strconv.Itoa(i)}, 5, time.Minute)
			if res.Verdict == Breach {
				mu.Lock()
				breaches++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if breaches != 1 {
		t.Fatalf("expected exactly one breach, got %d", breaches)
	}
}

func TestDetectorPrune(t *testing.T) {
	detector := NewDetector()
	base := time.Now()
	detector.Observe("g1", "u1", base, Message{}, 5, time.Minute)
	detector.Observe("g1", "u2", base.Add(9*time.Minute), Message{}, 5, time.Minute)

	if removed := detector.Prune(base.Add(11*time.Minute), 10*time.Minute); removed != 1 {
		t.Fatalf("expected one idle window pruned, got %d", removed)
	}
	if detector.Len() != 1 {
		t.Fatalf("expected one window left, got %d", detector.Len())
	}
}

func TestDetectorPruneDoesNotLoseMessages(t *testing.T) {
	detector := NewDetector()
	at := time.Unix(1_700_000_000, 0)
	const senders = 50

	stop := make(chan struct{})
	pruned := make(chan struct{})
	go func() {
		defer close(pruned)
		for {
			select {
			case <-stop:
				return
			default:
				detector.Prune(at, 0)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			detector.Observe("g1", "u1", at, Message{MessageID: strconv.Itoa(i)}, 1000, time.Minute)
		}(i)
	}
	wg.Wait()
	close(stop)
	<-pruned

	res := detector.Observe("g1", "u1", at, Message{MessageID: "last"}, 1000, time.Minute)
	if res.Count != senders+1 {
		t.Fatalf("expected %d messages in the window, got %d", senders+1, res.Count)
	}
}

func TestModuleRemediatesBurst(t *testing.T) {
	fake := platformtest.New("bot")
	rec := &recordingAudit{}
	module := New(fake, staticSettings{settings.SpamConfig{MessageLimit: 2, Window: 10 * time.Second}}, rec, zap.NewNop())

	base := time.Now()
	events := []Event{
		{GuildID: "g1", ChannelID: "c1", MessageID: "m1", UserID: "u1", At: base},
		{GuildID: "g1", ChannelID: "c2", MessageID: "m2", UserID: "u1", At: base.Add(time.Second)},
		{GuildID: "g1", ChannelID: "c1", MessageID: "m3", UserID: "u1", At: base.Add(2 * time.Second)},
	}
	var res Result
	var rem Remediation
	for _, ev := range events {
		res, rem = module.HandleMessage(context.Background(), ev)
	}

	if res.Verdict != Breach {
		t.Fatalf("expected breach, got %+v", res)
	}
	if rem.Deleted != 3 || rem.DeleteFailed != 0 || !rem.Kicked {
		t.Fatalf("unexpected remediation %+v", rem)
	}
	if len(fake.Deleted) != 1 || fake.Deleted[0] != "c1:m3" {
		t.Fatalf("expected trigger message deleted, got %v", fake.Deleted)
	}
	if len(fake.BulkDeleted) != 2 {
		t.Fatalf("expected one bulk delete per channel, got %v", fake.BulkDeleted)
	}
	if len(fake.Kicked) != 1 || fake.Kicked[0] != "g1:u1" {
		t.Fatalf("expected member kicked, got %v", fake.Kicked)
	}
	if len(rec.events) != 1 || rec.events[0] != "spam_breach" {
		t.Fatalf("expected one audit event, got %v", rec.events)
	}
}

func TestModuleKickFailureStillResetsWindow(t *testing.T) {
	fake := platformtest.New("bot")
	fake.KickErr = errors.New("missing permissions")
	fake.BulkErr = errors.New("too old")
	module := New(fake, staticSettings{settings.SpamConfig{MessageLimit: 1, Window: 10 * time.Second}}, &recordingAudit{}, zap.NewNop())

	base := time.Now()
	module.HandleMessage(context.Background(), Event{GuildID: "g1", ChannelID: "c1", MessageID: "m1", UserID: "u1", At: base})
	_, rem := module.HandleMessage(context.Background(), Event{GuildID: "g1", ChannelID: "c1", MessageID: "m2", UserID: "u1", At: base.Add(time.Second)})

	if rem.Kicked || rem.KickErr == nil || rem.DeleteFailed != 1 || rem.Deleted != 1 {
		t.Fatalf("unexpected remediation %+v", rem)
	}
	res, _ := module.HandleMessage(context.Background(), Event{GuildID: "g1", ChannelID: "c1", MessageID: "m3", UserID: "u1", At: base.Add(2 * time.Second)})
	if res.Verdict != Clear || res.Count != 1 {
		t.Fatalf("window should restart after breach, got %+v", res)
	}
}

func TestModuleIgnoresBots(t *testing.T) {
	fake := platformtest.New("bot")
	module := New(fake, staticSettings{settings.SpamConfig{MessageLimit: 1, Window: time.Minute}}, &recordingAudit{}, zap.NewNop())
	for i := 0; i < 5; i++ {
		res, _ := module.HandleMessage(context.Background(), Event{GuildID: "g1", UserID: "b1", Bot: true, At: time.Now()})
		if res.Verdict != Clear {
			t.Fatalf("bots must be ignored")
		}
	}
}
