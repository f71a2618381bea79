package roles

import (
	"context"
	"errors"
	"testing"

	"aurox-gatekeeper/internal/platform"
	"aurox-gatekeeper/internal/platform/platformtest"

	"go.uber.org/zap"
)

var guildRoles = []platform.Role{
	{ID: "1", Name: "A"},
	{ID: "2", Name: "B"},
	{ID: "3", Name: "C"},
}

func TestPlanDelta(t *testing.T) {
	ops := Plan(guildRoles, []string{"A", "B"}, []string{"B", "C"})

	want := []struct {
		action Action
		id     string
	}{
		{ActionRemove, "1"},
		{ActionAdd, "2"},
		{ActionAdd, "3"},
	}
	if len(ops) != len(want) {
		t.Fatalf("expected %d ops, got %+v", len(want), ops)
	}
	for i, w := range want {
		if ops[i].Action != w.action || ops[i].Role.ID != w.id {
			t.Fatalf("op %d = %s %s, want %s %s", i, ops[i].Action, ops[i].Role.ID, w.action, w.id)
		}
	}
}

func TestPlanKeepsJoinRoleNamedByID(t *testing.T) {
	ops := Plan(guildRoles, []string{"A"}, []string{"1"})
	if len(ops) != 1 || ops[0].Action != ActionAdd {
		t.Fatalf("join role listed by id in verify roles must not be removed: %+v", ops)
	}
}

func TestPlanUnresolved(t *testing.T) {
	ops := Plan(guildRoles, []string{"Ghost"}, []string{"Missing"})
	if len(ops) != 2 || ops[0].Status != StatusUnresolved || ops[1].Status != StatusUnresolved {
		t.Fatalf("expected unresolved ops, got %+v", ops)
	}
}

func TestResolvePrefersID(t *testing.T) {
	roles := []platform.Role{{ID: "10", Name: "20"}, {ID: "20", Name: "Other"}}
	role, ok := Resolve(roles, "20")
	if !ok || role.ID != "20" {
		t.Fatalf("expected id match first, got %+v", role)
	}
}

func newFake() *platformtest.Fake {
	fake := platformtest.New("bot")
	fake.GuildRoles["g1"] = guildRoles
	fake.SetGuildPerms("g1", "bot", platform.PermManageRoles)
	fake.AddMember(platform.Member{GuildID: "g1", UserID: "u1", RoleIDs: []string{"1", "2"}})
	return fake
}

func TestReconcileAppliesAndContinuesOnFailure(t *testing.T) {
	fake := newFake()
	fake.AddRoleErr["2"] = platformtest.Forbidden("add role")
	rec := New(fake, zap.NewNop())

	summary, err := rec.Reconcile(context.Background(), "g1", "u1", []string{"A", "B"}, []string{"B", "C"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if summary.Count(StatusApplied) != 2 || summary.Count(StatusFailed) != 1 || !summary.Failed() {
		t.Fatalf("unexpected summary %+v", summary)
	}
	roles := fake.MemberRoles("g1", "u1")
	if len(roles) != 2 || roles[0] != "2" || roles[1] != "3" {
		t.Fatalf("unexpected member roles %v", roles)
	}
}

func TestReconcileRequiresManageRoles(t *testing.T) {
	fake := newFake()
	fake.SetGuildPerms("g1", "bot", platform.PermSendMessages)
	rec := New(fake, zap.NewNop())

	if _, err := rec.Reconcile(context.Background(), "g1", "u1", nil, []string{"C"}); !errors.Is(err, ErrMissingManageRoles) {
		t.Fatalf("expected ErrMissingManageRoles, got %v", err)
	}
	if len(fake.Added) != 0 {
		t.Fatalf("no roles should change without permission")
	}
}

func TestGrant(t *testing.T) {
	fake := newFake()
	rec := New(fake, zap.NewNop())

	summary, err := rec.Grant(context.Background(), "g1", "u1", []string{"C", "Nope"})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if summary.Count(StatusApplied) != 1 || summary.Count(StatusUnresolved) != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}
