package platform

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const bulkDeleteLimit = 100

var permissionBits = []struct {
	discord int64
	perm    Permission
}{
	{discordgo.PermissionViewChannel, PermViewChannel},
	{discordgo.PermissionSendMessages, PermSendMessages},
	{discordgo.PermissionEmbedLinks, PermEmbedLinks},
	{discordgo.PermissionAttachFiles, PermAttachFiles},
	{discordgo.PermissionReadMessageHistory, PermReadHistory},
	{discordgo.PermissionManageMessages, PermManageMessages},
	{discordgo.PermissionManageRoles, PermManageRoles},
	{discordgo.PermissionManageServer, PermManageGuild},
	{discordgo.PermissionKickMembers, PermKickMembers},
	{discordgo.PermissionModerateMembers, PermModerateMembers},
	{discordgo.PermissionAdministrator, PermAdministrator},
}

// FromDiscord converts a Discord permission bitfield. Administrator implies everything.
func FromDiscord(bits int64) Permission {
	if bits&discordgo.PermissionAdministrator != 0 {
		return PermAll
	}
	var perm Permission
	for _, bit := range permissionBits {
		if bits&bit.discord != 0 {
			perm |= bit.perm
		}
	}
	return perm
}

// Discord implements the platform calls on top of a discordgo session,
// preferring the gateway state cache over REST where it can.
type Discord struct {
	session *discordgo.Session
}

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

func (d *Discord) BotUserID() string {
	if d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

func (d *Discord) Channel(ctx context.Context, channelID string) (Channel, error) {
	ch, err := d.session.State.Channel(channelID)
	if err != nil || ch == nil {
		ch, err = d.session.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			return Channel{}, Wrap("channel", err)
		}
	}
	return Channel{
		ID:      ch.ID,
		GuildID: ch.GuildID,
		Name:    ch.Name,
		Text:    ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews,
	}, nil
}

func (d *Discord) ChannelPermissions(ctx context.Context, channelID, userID string) (Permission, error) {
	bits, err := d.session.State.UserChannelPermissions(userID, channelID)
	if err != nil {
		bits, err = d.session.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
		if err != nil {
			return 0, Wrap("channel permissions", err)
		}
	}
	return FromDiscord(bits), nil
}

func (d *Discord) GuildPermissions(ctx context.Context, guildID, userID string) (Permission, error) {
	guild, err := d.guild(ctx, guildID)
	if err != nil {
		return 0, err
	}
	if guild.OwnerID == userID {
		return PermAll, nil
	}
	member, err := d.member(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}

	roles := guild.Roles
	if len(roles) == 0 {
		roles, err = d.session.GuildRoles(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return 0, Wrap("guild roles", err)
		}
	}

	var bits int64
	roleMap := make(map[string]*discordgo.Role, len(roles))
	for _, role := range roles {
		roleMap[role.ID] = role
		if role.ID == guild.ID {
			bits |= role.Permissions
		}
	}
	for _, roleID := range member.Roles {
		if role := roleMap[roleID]; role != nil {
			bits |= role.Permissions
		}
	}
	return FromDiscord(bits), nil
}

func (d *Discord) Member(ctx context.Context, guildID, userID string) (Member, error) {
	member, err := d.member(ctx, guildID, userID)
	if err != nil {
		return Member{}, err
	}
	return convertMember(guildID, member), nil
}

func (d *Discord) Roles(ctx context.Context, guildID string) ([]Role, error) {
	roles, err := d.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, Wrap("guild roles", err)
	}
	result := make([]Role, 0, len(roles))
	for _, role := range roles {
		result = append(result, Role{ID: role.ID, Name: role.Name, Managed: role.Managed, Position: role.Position})
	}
	return result, nil
}

func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return Wrap("add role", d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return Wrap("remove role", d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (d *Discord) SendPrompt(ctx context.Context, channelID string, prompt Prompt) (string, error) {
	embed := &discordgo.MessageEmbed{
		Title:       prompt.Title,
		Description: prompt.Description,
		Color:       prompt.Color,
	}
	if prompt.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: prompt.ImageURL}
	}
	msg, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: prompt.Content,
		Embeds:  []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{CustomID: prompt.ButtonID, Label: prompt.ButtonLabel, Style: discordgo.PrimaryButton},
			}},
		},
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeEveryone},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", Wrap("send prompt", err)
	}
	return msg.ID, nil
}

func (d *Discord) MessageExists(ctx context.Context, channelID, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	_, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	err = Wrap("fetch message", err)
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return Wrap("delete message", d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

// BulkDeleteMessages removes messageIDs in batches of at most 100. A single
// id goes through the plain delete endpoint, which bulk delete rejects.
func (d *Discord) BulkDeleteMessages(ctx context.Context, channelID string, messageIDs []string) error {
	for start := 0; start < len(messageIDs); start += bulkDeleteLimit {
		end := start + bulkDeleteLimit
		if end > len(messageIDs) {
			end = len(messageIDs)
		}
		batch := messageIDs[start:end]
		var err error
		if len(batch) == 1 {
			err = d.session.ChannelMessageDelete(channelID, batch[0], discordgo.WithContext(ctx))
		} else {
			err = d.session.ChannelMessagesBulkDelete(channelID, batch, discordgo.WithContext(ctx))
		}
		if err != nil {
			return Wrap("bulk delete", err)
		}
	}
	return nil
}

func (d *Discord) Kick(ctx context.Context, guildID, userID, reason string) error {
	return Wrap("kick", d.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx)))
}

func (d *Discord) Timeout(ctx context.Context, guildID, userID string, until time.Time) error {
	return Wrap("timeout", d.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx)))
}

func (d *Discord) guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	guild, err := d.session.State.Guild(guildID)
	if err == nil && guild != nil {
		return guild, nil
	}
	guild, err = d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, Wrap("guild", err)
	}
	return guild, nil
}

func (d *Discord) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	member, err := d.session.State.Member(guildID, userID)
	if err == nil && member != nil {
		return member, nil
	}
	member, err = d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, Wrap("guild member", err)
	}
	return member, nil
}

func convertMember(guildID string, member *discordgo.Member) Member {
	result := Member{GuildID: guildID, RoleIDs: append([]string(nil), member.Roles...)}
	if member.User != nil {
		result.UserID = member.User.ID
		result.Username = member.User.Username
		result.Bot = member.User.Bot
		result.AvatarURL = member.User.AvatarURL("256")
	}
	return result
}

// Wrap classifies a discordgo error into one of the closed error kinds.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) ErrorKind {
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return KindNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Response == nil {
		return KindOther
	}
	switch status := rest.Response.StatusCode; {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusForbidden, status == http.StatusUnauthorized:
		return KindForbidden
	case status == http.StatusTooManyRequests, status >= 500:
		return KindTransient
	default:
		return KindOther
	}
}
