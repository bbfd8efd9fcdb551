package clanbot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"net/http"
	"sync"
)

const guildMembersPageSize = 1000

// GuildResourceProvider is the directory service the clan lifecycle acts on:
// roles, channels, member role assignment and direct messages.
//
// Single-resource lookups (Role, Channel, Member) return nil with a nil
// error when the resource doesn't exist, so callers can treat absence as
// a normal outcome rather than an error path.
type GuildResourceProvider interface {
	// BotUserID returns the user ID of the bot itself
	BotUserID(ctx context.Context) (string, error)

	Role(ctx context.Context, guildID, roleID string) (*discordgo.Role, error)
	Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	RoleCreate(ctx context.Context, guildID string, params *discordgo.RoleParams) (
		*discordgo.Role,
		error,
	)
	RoleEdit(ctx context.Context, guildID, roleID string, params *discordgo.RoleParams) (
		*discordgo.Role,
		error,
	)
	RoleDelete(ctx context.Context, guildID, roleID string) error

	// RoleReorder sets the positions of the given roles. Roles not
	// included keep their relative order.
	RoleReorder(ctx context.Context, guildID string, roles []*discordgo.Role) error

	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	ChannelCreate(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (
		*discordgo.Channel,
		error,
	)
	ChannelEdit(ctx context.Context, channelID string, data *discordgo.ChannelEdit) (
		*discordgo.Channel,
		error,
	)
	ChannelDelete(ctx context.Context, channelID string) error
	ChannelPermissionSet(
		ctx context.Context,
		channelID string,
		targetID string,
		targetType discordgo.PermissionOverwriteType,
		allow int64,
		deny int64,
	) error

	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	MemberRoleAdd(ctx context.Context, guildID, userID, roleID string) error
	MemberRoleRemove(ctx context.Context, guildID, userID, roleID string) error

	// RoleMemberIDs returns the IDs of guild members holding roleID
	RoleMemberIDs(ctx context.Context, guildID, roleID string) ([]string, error)

	// SendDirectMessage opens (or reuses) a DM channel with the user and
	// sends the message there
	SendDirectMessage(ctx context.Context, userID string, msg *discordgo.MessageSend) (
		*discordgo.Message,
		error,
	)
	EditMessage(ctx context.Context, edit *discordgo.MessageEdit) (*discordgo.Message, error)
}

// isNotFound reports whether err is a discord REST error for a resource
// which doesn't exist
func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownRole,
			discordgo.ErrCodeUnknownChannel,
			discordgo.ErrCodeUnknownMember,
			discordgo.ErrCodeUnknownUser,
			discordgo.ErrCodeUnknownMessage:
			return true
		}
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// isMissingPermissions reports whether err is a discord REST error caused
// by the bot lacking permissions, or sitting too low in the role hierarchy
func isMissingPermissions(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeMissingPermissions {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden
}

// isDMBlocked reports whether err means the user doesn't accept direct
// messages from the bot
func isDMBlocked(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	return restErr.Message != nil &&
		restErr.Message.Code == discordgo.ErrCodeCannotSendMessagesToThisUser
}

// discordProvider implements GuildResourceProvider with the discord REST API
type discordProvider struct {
	session *discordgo.Session
	logger  *slog.Logger

	mu        sync.Mutex
	botUserID string
}

func newDiscordProvider(session *discordgo.Session, logger *slog.Logger) *discordProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &discordProvider{
		session: session,
		logger:  logger.With(loggerNameKey, "guild_provider"),
	}
}

func (p *discordProvider) BotUserID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.botUserID != "" {
		return p.botUserID, nil
	}
	if p.session.State != nil && p.session.State.User != nil && p.session.State.User.ID != "" {
		p.botUserID = p.session.State.User.ID
		return p.botUserID, nil
	}
	u, err := p.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("error getting bot user: %w", err)
	}
	p.botUserID = u.ID
	return p.botUserID, nil
}

func (p *discordProvider) Role(ctx context.Context, guildID, roleID string) (
	*discordgo.Role,
	error,
) {
	if roleID == "" {
		return nil, nil
	}
	roles, err := p.Roles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if r.ID == roleID {
			return r, nil
		}
	}
	return nil, nil
}

func (p *discordProvider) Roles(ctx context.Context, guildID string) (
	[]*discordgo.Role,
	error,
) {
	return p.session.GuildRoles(guildID, discordgo.WithContext(ctx))
}

func (p *discordProvider) RoleCreate(
	ctx context.Context,
	guildID string,
	params *discordgo.RoleParams,
) (*discordgo.Role, error) {
	role, err := p.session.GuildRoleCreate(guildID, params, discordgo.WithContext(ctx))
	if err == nil {
		p.logger.InfoContext(ctx, "created role", "guild_id", guildID, "role_id", role.ID)
	}
	return role, err
}

func (p *discordProvider) RoleEdit(
	ctx context.Context,
	guildID string,
	roleID string,
	params *discordgo.RoleParams,
) (*discordgo.Role, error) {
	return p.session.GuildRoleEdit(guildID, roleID, params, discordgo.WithContext(ctx))
}

func (p *discordProvider) RoleDelete(ctx context.Context, guildID, roleID string) error {
	err := p.session.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx))
	if err == nil {
		p.logger.InfoContext(ctx, "deleted role", "guild_id", guildID, "role_id", roleID)
	}
	return err
}

func (p *discordProvider) RoleReorder(
	ctx context.Context,
	guildID string,
	roles []*discordgo.Role,
) error {
	_, err := p.session.GuildRoleReorder(guildID, roles, discordgo.WithContext(ctx))
	return err
}

func (p *discordProvider) Channel(ctx context.Context, channelID string) (
	*discordgo.Channel,
	error,
) {
	if channelID == "" {
		return nil, nil
	}
	ch, err := p.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return ch, nil
}

func (p *discordProvider) ChannelCreate(
	ctx context.Context,
	guildID string,
	data discordgo.GuildChannelCreateData,
) (*discordgo.Channel, error) {
	ch, err := p.session.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx))
	if err == nil {
		p.logger.InfoContext(
			ctx,
			"created channel",
			"guild_id", guildID,
			"channel_id", ch.ID,
			"name", ch.Name,
		)
	}
	return ch, err
}

func (p *discordProvider) ChannelEdit(
	ctx context.Context,
	channelID string,
	data *discordgo.ChannelEdit,
) (*discordgo.Channel, error) {
	return p.session.ChannelEdit(channelID, data, discordgo.WithContext(ctx))
}

func (p *discordProvider) ChannelDelete(ctx context.Context, channelID string) error {
	_, err := p.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	if err == nil {
		p.logger.InfoContext(ctx, "deleted channel", "channel_id", channelID)
	}
	return err
}

func (p *discordProvider) ChannelPermissionSet(
	ctx context.Context,
	channelID string,
	targetID string,
	targetType discordgo.PermissionOverwriteType,
	allow int64,
	deny int64,
) error {
	return p.session.ChannelPermissionSet(
		channelID,
		targetID,
		targetType,
		allow,
		deny,
		discordgo.WithContext(ctx),
	)
}

func (p *discordProvider) Member(ctx context.Context, guildID, userID string) (
	*discordgo.Member,
	error,
) {
	m, err := p.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (p *discordProvider) MemberRoleAdd(ctx context.Context, guildID, userID, roleID string) error {
	return p.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (p *discordProvider) MemberRoleRemove(
	ctx context.Context,
	guildID string,
	userID string,
	roleID string,
) error {
	return p.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (p *discordProvider) RoleMemberIDs(ctx context.Context, guildID, roleID string) (
	[]string,
	error,
) {
	var ids []string
	after := ""
	for {
		members, err := p.session.GuildMembers(
			guildID,
			after,
			guildMembersPageSize,
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m.User == nil {
				continue
			}
			if memberHasRole(m, roleID) {
				ids = append(ids, m.User.ID)
			}
		}
		if len(members) < guildMembersPageSize {
			return ids, nil
		}
		last := members[len(members)-1]
		if last.User == nil {
			return ids, nil
		}
		after = last.User.ID
	}
}

func (p *discordProvider) SendDirectMessage(
	ctx context.Context,
	userID string,
	msg *discordgo.MessageSend,
) (*discordgo.Message, error) {
	ch, err := p.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error opening dm channel: %w", err)
	}
	return p.session.ChannelMessageSendComplex(ch.ID, msg, discordgo.WithContext(ctx))
}

func (p *discordProvider) EditMessage(ctx context.Context, edit *discordgo.MessageEdit) (
	*discordgo.Message,
	error,
) {
	return p.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
}

// memberHasRole reports whether the member currently holds roleID
func memberHasRole(m *discordgo.Member, roleID string) bool {
	if m == nil || roleID == "" {
		return false
	}
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}
