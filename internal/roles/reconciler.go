package roles

import (
	"context"
	"errors"
	"fmt"

	"aurox-gatekeeper/internal/platform"

	"go.uber.org/zap"
)

var ErrMissingManageRoles = errors.New("bot lacks manage roles permission")

type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

type Status string

const (
	StatusApplied    Status = "applied"
	StatusFailed     Status = "failed"
	StatusUnresolved Status = "unresolved"
)

// Op is one planned role change. Ref is the configured reference (an id or
// a name); Role is what it resolved to.
type Op struct {
	Action Action
	Ref    string
	Role   platform.Role
	Status Status
	Err    error
}

type Summary struct {
	Ops []Op
}

func (s Summary) Count(status Status) int {
	n := 0
	for _, op := range s.Ops {
		if op.Status == status {
			n++
		}
	}
	return n
}

func (s Summary) Failed() bool {
	return s.Count(StatusFailed) > 0
}

type Platform interface {
	BotUserID() string
	GuildPermissions(ctx context.Context, guildID, userID string) (platform.Permission, error)
	Roles(ctx context.Context, guildID string) ([]platform.Role, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
}

type Reconciler struct {
	platform Platform
	logger   *zap.Logger
}

func New(p Platform, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{platform: p, logger: logger}
}

// Resolve finds a role by id first, then by exact name.
func Resolve(guildRoles []platform.Role, ref string) (platform.Role, bool) {
	for _, role := range guildRoles {
		if role.ID == ref {
			return role, true
		}
	}
	for _, role := range guildRoles {
		if role.Name == ref {
			return role, true
		}
	}
	return platform.Role{}, false
}

// Plan computes the verification delta: every join role not named (by id or
// name) in onVerify is removed, then every verify role is added. Removals come
// first. References that match no guild role are reported as unresolved.
func Plan(guildRoles []platform.Role, onJoin, onVerify []string) []Op {
	keep := make(map[string]struct{}, len(onVerify))
	for _, ref := range onVerify {
		keep[ref] = struct{}{}
	}

	var ops []Op
	for _, ref := range onJoin {
		role, ok := Resolve(guildRoles, ref)
		if !ok {
			ops = append(ops, Op{Action: ActionRemove, Ref: ref, Status: StatusUnresolved})
			continue
		}
		_, keepID := keep[role.ID]
		_, keepName := keep[role.Name]
		if keepID || keepName {
			continue
		}
		ops = append(ops, Op{Action: ActionRemove, Ref: ref, Role: role})
	}
	for _, ref := range onVerify {
		role, ok := Resolve(guildRoles, ref)
		if !ok {
			ops = append(ops, Op{Action: ActionAdd, Ref: ref, Status: StatusUnresolved})
			continue
		}
		ops = append(ops, Op{Action: ActionAdd, Ref: ref, Role: role})
	}
	return ops
}

// Reconcile applies the verification delta to a member. A failing role does
// not stop the others; the summary records each outcome.
func (r *Reconciler) Reconcile(ctx context.Context, guildID, userID string, onJoin, onVerify []string) (Summary, error) {
	guildRoles, err := r.prepare(ctx, guildID)
	if err != nil {
		return Summary{}, err
	}
	return r.apply(ctx, guildID, userID, Plan(guildRoles, onJoin, onVerify)), nil
}

// Grant adds the referenced roles, used for join roles.
func (r *Reconciler) Grant(ctx context.Context, guildID, userID string, refs []string) (Summary, error) {
	if len(refs) == 0 {
		return Summary{}, nil
	}
	guildRoles, err := r.prepare(ctx, guildID)
	if err != nil {
		return Summary{}, err
	}
	return r.apply(ctx, guildID, userID, Plan(guildRoles, nil, refs)), nil
}

func (r *Reconciler) prepare(ctx context.Context, guildID string) ([]platform.Role, error) {
	perm, err := r.platform.GuildPermissions(ctx, guildID, r.platform.BotUserID())
	if err != nil {
		return nil, fmt.Errorf("bot permissions: %w", err)
	}
	if !perm.Has(platform.PermManageRoles) {
		return nil, ErrMissingManageRoles
	}
	guildRoles, err := r.platform.Roles(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("guild roles: %w", err)
	}
	return guildRoles, nil
}

func (r *Reconciler) apply(ctx context.Context, guildID, userID string, ops []Op) Summary {
	for i := range ops {
		op := &ops[i]
		if op.Status == StatusUnresolved {
			r.logger.Warn("role not found",
				zap.String("guild_id", guildID),
				zap.String("ref", op.Ref),
				zap.String("action", string(op.Action)),
			)
			continue
		}

		var err error
		if op.Action == ActionAdd {
			err = r.platform.AddRole(ctx, guildID, userID, op.Role.ID)
		} else {
			err = r.platform.RemoveRole(ctx, guildID, userID, op.Role.ID)
		}
		if err != nil {
			op.Status = StatusFailed
			op.Err = err
			r.logger.Warn("role change failed",
				zap.String("guild_id", guildID),
				zap.String("user_id", userID),
				zap.String("role_id", op.Role.ID),
				zap.String("action", string(op.Action)),
				zap.Error(err),
			)
			continue
		}
		op.Status = StatusApplied
	}
	return Summary{Ops: ops}
}
