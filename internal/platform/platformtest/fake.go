// Package platformtest provides an in-memory platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aurox-gatekeeper/internal/platform"
)

type RoleCall struct {
	GuildID string
	UserID  string
	RoleID  string
}

type SentPrompt struct {
	ChannelID string
	MessageID string
	Prompt    platform.Prompt
}

type TimeoutCall struct {
	GuildID string
	UserID  string
	Until   time.Time
}

type Fake struct {
	mu sync.Mutex

	BotID        string
	Channels     map[string]platform.Channel
	ChannelPerms map[string]platform.Permission
	GuildPerms   map[string]platform.Permission
	Members      map[string]platform.Member
	GuildRoles   map[string][]platform.Role
	Messages     map[string]bool

	AddRoleErr    map[string]error
	RemoveRoleErr map[string]error
	SendErr       error
	DeleteErr     error
	BulkErr       error
	KickErr       error
	TimeoutErr    error

	Added       []RoleCall
	Removed     []RoleCall
	Sent        []SentPrompt
	Deleted     []string
	BulkDeleted [][]string
	Kicked      []string
	TimedOut    []TimeoutCall

	nextID int
}

func New(botID string) *Fake {
	return &Fake{
		BotID:         botID,
		Channels:      make(map[string]platform.Channel),
		ChannelPerms:  make(map[string]platform.Permission),
		GuildPerms:    make(map[string]platform.Permission),
		Members:       make(map[string]platform.Member),
		GuildRoles:    make(map[string][]platform.Role),
		Messages:      make(map[string]bool),
		AddRoleErr:    make(map[string]error),
		RemoveRoleErr: make(map[string]error),
	}
}

func NotFound(op string) error {
	return &platform.Error{Kind: platform.KindNotFound, Op: op, Err: fmt.Errorf("unknown")}
}

func Forbidden(op string) error {
	return &platform.Error{Kind: platform.KindForbidden, Op: op, Err: fmt.Errorf("missing access")}
}

func memberKey(guildID, userID string) string {
	return guildID + ":" + userID
}

func (f *Fake) AddMember(member platform.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Members[memberKey(member.GuildID, member.UserID)] = member
}

func (f *Fake) SetGuildPerms(guildID, userID string, perm platform.Permission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GuildPerms[memberKey(guildID, userID)] = perm
}

func (f *Fake) AddTextChannel(guildID, channelID string, botPerm platform.Permission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Channels[channelID] = platform.Channel{ID: channelID, GuildID: guildID, Name: channelID, Text: true}
	f.ChannelPerms[channelID] = botPerm
}

func (f *Fake) MemberRoles(guildID, userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Members[memberKey(guildID, userID)].RoleIDs...)
}

func (f *Fake) BotUserID() string {
	return f.BotID
}

func (f *Fake) Channel(ctx context.Context, channelID string) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.Channels[channelID]
	if !ok {
		return platform.Channel{}, NotFound("channel")
	}
	return ch, nil
}

func (f *Fake) ChannelPermissions(ctx context.Context, channelID, userID string) (platform.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Channels[channelID]; !ok {
		return 0, NotFound("channel permissions")
	}
	return f.ChannelPerms[channelID], nil
}

func (f *Fake) GuildPermissions(ctx context.Context, guildID, userID string) (platform.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.GuildPerms[memberKey(guildID, userID)], nil
}

func (f *Fake) Member(ctx context.Context, guildID, userID string) (platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.Members[memberKey(guildID, userID)]
	if !ok {
		return platform.Member{}, NotFound("guild member")
	}
	member.RoleIDs = append([]string(nil), member.RoleIDs...)
	return member, nil
}

func (f *Fake) Roles(ctx context.Context, guildID string) ([]platform.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Role(nil), f.GuildRoles[guildID]...), nil
}

func (f *Fake) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.AddRoleErr[roleID]; err != nil {
		return err
	}
	f.Added = append(f.Added, RoleCall{guildID, userID, roleID})
	key := memberKey(guildID, userID)
	member := f.Members[key]
	for _, id := range member.RoleIDs {
		if id == roleID {
			return nil
		}
	}
	member.RoleIDs = append(member.RoleIDs, roleID)
	f.Members[key] = member
	return nil
}

func (f *Fake) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.RemoveRoleErr[roleID]; err != nil {
		return err
	}
	f.Removed = append(f.Removed, RoleCall{guildID, userID, roleID})
	key := memberKey(guildID, userID)
	member := f.Members[key]
	kept := member.RoleIDs[:0]
	for _, id := range member.RoleIDs {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	member.RoleIDs = kept
	f.Members[key] = member
	return nil
}

func (f *Fake) SendPrompt(ctx context.Context, channelID string, prompt platform.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.Messages[memberKey(channelID, id)] = true
	f.Sent = append(f.Sent, SentPrompt{ChannelID: channelID, MessageID: id, Prompt: prompt})
	return id, nil
}

func (f *Fake) MessageExists(ctx context.Context, channelID, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Messages[memberKey(channelID, messageID)], nil
}

func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.Messages, memberKey(channelID, messageID))
	f.Deleted = append(f.Deleted, memberKey(channelID, messageID))
	return nil
}

func (f *Fake) BulkDeleteMessages(ctx context.Context, channelID string, messageIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BulkErr != nil {
		return f.BulkErr
	}
	f.BulkDeleted = append(f.BulkDeleted, append([]string(nil), messageIDs...))
	return nil
}

func (f *Fake) Kick(ctx context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.KickErr != nil {
		return f.KickErr
	}
	f.Kicked = append(f.Kicked, memberKey(guildID, userID))
	return nil
}

func (f *Fake) Timeout(ctx context.Context, guildID, userID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TimeoutErr != nil {
		return f.TimeoutErr
	}
	f.TimedOut = append(f.TimedOut, TimeoutCall{guildID, userID, until})
	return nil
}
