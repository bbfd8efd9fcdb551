package clanbot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	cascadeRoleDelete    = "role_delete"
	cascadeChannelDelete = "channel_delete"
)

// SetSystem configures the guild's supporter role and clan category
func (s *ClanService) SetSystem(ctx context.Context, guildID, roleID, categoryID string) (
	system *ClanSystem,
	err error,
) {
	const op = "set clan system"
	defer func() { s.metrics.observeOperation(op, err) }()

	existing, err := s.repo.GetSystem(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, preconditionError(op, msgSystemExists)
	}

	role, err := s.provider.Role(ctx, guildID, roleID)
	if err != nil {
		return nil, externalError(op, err)
	}
	if err = usableRole(op, guildID, role); err != nil {
		return nil, err
	}
	used, err := s.repo.GetByRole(ctx, guildID, roleID)
	if err != nil {
		return nil, err
	}
	if len(used) > 0 {
		return nil, validationError(op, msgRoleAlreadyUsed)
	}

	category, err := s.provider.Channel(ctx, categoryID)
	if err != nil {
		return nil, externalError(op, err)
	}
	if category == nil || category.GuildID != guildID ||
		category.Type != discordgo.ChannelTypeGuildCategory {
		return nil, validationError(op, "That channel isn't a category in this server!")
	}

	system = &ClanSystem{GuildID: guildID, RoleID: role.ID, CategoryID: category.ID}
	if err = s.repo.CreateSystem(ctx, system); err != nil {
		return nil, err
	}
	s.log(ctx).InfoContext(ctx, "clan system set", "system", system)
	return system, nil
}

// usableRole rejects roles that don't exist, @everyone, and roles managed
// by an integration
func usableRole(op string, guildID string, role *discordgo.Role) error {
	switch {
	case role == nil:
		return validationError(op, "That role doesn't exist!")
	case role.ID == guildID:
		return validationError(op, "The @everyone role can't be used!")
	case role.Managed:
		return validationError(op, "%s is managed by an integration and can't be used!", roleMention(role.ID))
	}
	return nil
}

// ClearSystem removes the guild's ClanSystem. Existing clans are kept.
func (s *ClanService) ClearSystem(ctx context.Context, guildID string) (err error) {
	const op = "clear clan system"
	defer func() { s.metrics.observeOperation(op, err) }()

	deleted, err := s.repo.ClearSystem(ctx, guildID)
	if err != nil {
		return err
	}
	if !deleted {
		return preconditionError(op, msgNoSystem)
	}
	s.log(ctx).InfoContext(ctx, "clan system cleared", "guild_id", guildID)
	return nil
}

// SystemInfo is the guild's clan configuration and clan count
type SystemInfo struct {
	System    ClanSystem
	ClanCount int64
}

func (i SystemInfo) Embed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Clan system",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Supporter role", Value: roleMention(i.System.RoleID), Inline: true},
			{Name: "Category", Value: channelMention(i.System.CategoryID), Inline: true},
			{Name: "Clans", Value: fmt.Sprintf("%d", i.ClanCount), Inline: true},
		},
	}
}

// SystemInfo returns the guild's ClanSystem, after checking its role and
// category still exist
func (s *ClanService) SystemInfo(ctx context.Context, guildID string) (SystemInfo, error) {
	system, err := s.gate.ResolveSystem(ctx, guildID)
	if err != nil {
		return SystemInfo{}, err
	}
	count, err := s.repo.CountByGuild(ctx, guildID)
	if err != nil {
		return SystemInfo{}, err
	}
	return SystemInfo{System: *system, ClanCount: count}, nil
}

// AssignRoles makes existing roles the owner and clan roles of memberID's
// clan. Any clan the member already owns is replaced by one named after
// the owner role, with no channels.
func (s *ClanService) AssignRoles(
	ctx context.Context,
	guildID string,
	memberID string,
	ownerRoleID string,
	clanRoleID string,
) (clan *Clan, err error) {
	const op = "assign clan roles"
	defer func() { s.metrics.observeOperation(op, err) }()

	system, err := s.gate.ResolveSystem(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if ownerRoleID == clanRoleID {
		return nil, validationError(op, "The owner role and the clan role must be different!")
	}

	m, err := s.provider.Member(ctx, guildID, memberID)
	if err != nil {
		return nil, externalError(op, err)
	}
	if m == nil {
		return nil, preconditionError(op, msgTargetNotMember)
	}
	if m.User != nil && m.User.Bot {
		return nil, preconditionError(op, msgTargetBot)
	}

	var ownerRole *discordgo.Role
	for _, id := range []string{ownerRoleID, clanRoleID} {
		role, e := s.provider.Role(ctx, guildID, id)
		if e != nil {
			return nil, externalError(op, e)
		}
		if e = usableRole(op, guildID, role); e != nil {
			return nil, e
		}
		if id == system.RoleID {
			return nil, validationError(op, msgRoleAlreadyUsed)
		}
		used, e := s.repo.GetByRole(ctx, guildID, id)
		if e != nil {
			return nil, e
		}
		for _, c := range used {
			if c.OwnerID != memberID {
				return nil, validationError(op, msgRoleAlreadyUsed)
			}
		}
		if id == ownerRoleID {
			ownerRole = role
		}
	}
	err = s.gate.Check(ctx, guildID, []*discordgo.Member{m}, ownerRoleID, clanRoleID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockClan(guildID, memberID)
	defer unlock()

	for _, roleID := range []string{system.RoleID, ownerRoleID} {
		if memberHasRole(m, roleID) {
			continue
		}
		if err = s.provider.MemberRoleAdd(ctx, guildID, memberID, roleID); err != nil {
			return nil, directoryError(op, err)
		}
	}

	clan = &Clan{
		GuildID:     guildID,
		OwnerID:     memberID,
		Name:        ownerRole.Name,
		OwnerRoleID: ownerRoleID,
		ClanRoleID:  clanRoleID,
	}
	if err = s.repo.Replace(ctx, clan); err != nil {
		return nil, err
	}
	s.invalidate(ctx, guildID, memberID)
	s.log(ctx).InfoContext(ctx, "assigned clan roles", "clan", clan)
	return clan, nil
}

// AssignChannels sets existing channels as memberID's clan channels. Each
// channel must be of the matching type and sit under the clan category.
func (s *ClanService) AssignChannels(
	ctx context.Context,
	guildID string,
	memberID string,
	textChannelID string,
	voiceChannelID string,
) (clan *Clan, err error) {
	const op = "assign clan channels"
	defer func() { s.metrics.observeOperation(op, err) }()

	if textChannelID == "" && voiceChannelID == "" {
		return nil, validationError(op, "Provide at least one channel!")
	}
	system, err := s.gate.ResolveSystem(ctx, guildID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockClan(guildID, memberID)
	defer unlock()

	clan, err = s.requireClan(ctx, op, guildID, memberID, msgMemberNoClan)
	if err != nil {
		return nil, err
	}

	assign := map[ChannelKind]string{
		ChannelKindText:  textChannelID,
		ChannelKindVoice: voiceChannelID,
	}
	for _, kind := range []ChannelKind{ChannelKindText, ChannelKindVoice} {
		id := assign[kind]
		if id == "" {
			continue
		}
		ch, e := s.provider.Channel(ctx, id)
		if e != nil {
			return nil, externalError(op, e)
		}
		if ch == nil || ch.GuildID != guildID {
			return nil, validationError(op, "The %s channel provided doesn't exist!", kind)
		}
		if ch.Type != kind.discordType() {
			return nil, validationError(op, "%s isn't a %s channel!", channelMention(ch.ID), kind)
		}
		if ch.ParentID != system.CategoryID {
			return nil, validationError(
				op,
				"The %s channel provided is not from %s",
				kind,
				channelMention(system.CategoryID),
			)
		}
	}

	if textChannelID != "" {
		if err = s.repo.UpdateTextChannel(ctx, guildID, memberID, &textChannelID); err != nil {
			return nil, err
		}
		clan.TextChannelID = &textChannelID
	}
	if voiceChannelID != "" {
		if err = s.repo.UpdateVoiceChannel(ctx, guildID, memberID, &voiceChannelID); err != nil {
			return nil, err
		}
		clan.VoiceChannelID = &voiceChannelID
	}
	s.log(ctx).InfoContext(ctx, "assigned clan channels", "clan", clan)
	return clan, nil
}

// AdminDelete tears down ownerID's clan without confirmation
func (s *ClanService) AdminDelete(ctx context.Context, guildID, ownerID string) (
	clan *Clan,
	err error,
) {
	const op = "admin delete clan"
	defer func() { s.metrics.observeOperation(op, err) }()
	return s.deleteOwned(ctx, op, guildID, ownerID, msgMemberNoClan)
}

// AdminTransfer moves ownership of currentOwnerID's clan to newOwnerID.
// Unlike TransferOwnership, the new owner doesn't have to be a member of
// the clan, and the previous owner may have left the guild.
func (s *ClanService) AdminTransfer(
	ctx context.Context,
	guildID string,
	currentOwnerID string,
	newOwnerID string,
) (clan *Clan, err error) {
	const op = "admin transfer ownership"
	defer func() { s.metrics.observeOperation(op, err) }()

	if currentOwnerID == newOwnerID {
		return nil, validationError(op, "The current owner and the new owner must be different!")
	}
	target, err := s.provider.Member(ctx, guildID, newOwnerID)
	if err != nil {
		return nil, externalError(op, err)
	}
	if target == nil {
		return nil, preconditionError(op, msgTargetNotMember)
	}
	if target.User != nil && target.User.Bot {
		return nil, preconditionError(op, msgTargetBot)
	}

	unlock := s.lockClan(guildID, currentOwnerID, newOwnerID)
	defer unlock()

	clan, err = s.requireClan(ctx, op, guildID, currentOwnerID, msgMemberNoClan)
	if err != nil {
		return nil, err
	}
	if err = s.requireNoClan(ctx, op, guildID, newOwnerID); err != nil {
		return nil, err
	}
	if _, _, err = s.clanRoles(ctx, op, clan); err != nil {
		return nil, err
	}
	previous, err := s.provider.Member(ctx, guildID, currentOwnerID)
	if err != nil {
		return nil, externalError(op, err)
	}
	members := []*discordgo.Member{target}
	if previous != nil {
		members = append(members, previous)
	}
	err = s.gate.Check(ctx, guildID, members, clan.OwnerRoleID, clan.ClanRoleID)
	if err != nil {
		return nil, err
	}
	if err = s.swapOwnership(ctx, op, clan, newOwnerID); err != nil {
		return nil, err
	}
	return clan, nil
}

// HandleRoleDeleted reacts to a role being deleted outside the bot. The
// supporter role takes the ClanSystem with it, and either role of a clan
// takes that clan's row with it. The clan's remaining roles and channels
// are left alone.
func (s *ClanService) HandleRoleDeleted(ctx context.Context, guildID, roleID string) error {
	logger := s.log(ctx)

	systemDeleted, err := s.repo.DeleteSystemByRole(ctx, guildID, roleID)
	if err != nil {
		return err
	}
	if systemDeleted {
		logger.WarnContext(
			ctx,
			"supporter role deleted, removed clan system",
			"guild_id", guildID,
			"role_id", roleID,
		)
		s.metrics.observeCascade(cascadeRoleDelete, "system", 1)
	}

	clans, err := s.repo.DeleteByRole(ctx, guildID, roleID)
	if err != nil {
		return err
	}
	for _, c := range clans {
		logger.WarnContext(ctx, "clan role deleted, removed clan", "clan", c, "role_id", roleID)
		s.invalidate(ctx, c.GuildID, c.OwnerID)
	}
	s.metrics.observeCascade(cascadeRoleDelete, "clan", len(clans))
	return nil
}

// HandleChannelDeleted reacts to a channel being deleted outside the bot.
// The clan category takes the ClanSystem with it, and a clan channel only
// clears the matching column.
func (s *ClanService) HandleChannelDeleted(ctx context.Context, guildID, channelID string) error {
	logger := s.log(ctx)

	systemDeleted, err := s.repo.DeleteSystemByCategory(ctx, guildID, channelID)
	if err != nil {
		return err
	}
	if systemDeleted {
		logger.WarnContext(
			ctx,
			"clan category deleted, removed clan system",
			"guild_id", guildID,
			"category_id", channelID,
		)
		s.metrics.observeCascade(cascadeChannelDelete, "system", 1)
	}

	clans, err := s.repo.ClearChannelReference(ctx, guildID, channelID)
	if err != nil {
		return err
	}
	for _, c := range clans {
		logger.InfoContext(ctx, "clan channel deleted, cleared reference", "clan", c, "channel_id", channelID)
	}
	s.metrics.observeCascade(cascadeChannelDelete, "channel", len(clans))
	return nil
}

func (s *ClanService) ListSystems(ctx context.Context) ([]ClanSystem, error) {
	return s.repo.ListSystems(ctx)
}

// ListClans lists the clans of one guild, or of every guild when guildID
// is empty
func (s *ClanService) ListClans(ctx context.Context, guildID string) ([]Clan, error) {
	if guildID == "" {
		return s.repo.ListClans(ctx)
	}
	return s.repo.ListByGuild(ctx, guildID)
}

func (s *ClanService) GetSystem(ctx context.Context, guildID string) (*ClanSystem, error) {
	return s.repo.GetSystem(ctx, guildID)
}

func (s *ClanService) logCascadeError(ctx context.Context, msg string, err error, args ...any) {
	s.log(ctx).ErrorContext(ctx, msg, append([]any{tint.Err(err)}, args...)...)
	s.metrics.observeFailure("cascade")
}
