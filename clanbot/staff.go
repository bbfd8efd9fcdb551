package clanbot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
)

const (
	staffTextAllow  = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory
	staffVoiceAllow = discordgo.PermissionViewChannel | discordgo.PermissionVoiceConnect
)

// staffAllow returns the permissions granted to staff viewer roles on a
// clan channel of the given kind
func staffAllow(kind ChannelKind) int64 {
	if kind == ChannelKindVoice {
		return staffVoiceAllow
	}
	return staffTextAllow
}

// existingStaffRoles filters the configured staff viewer roles down to
// the ones that exist in the guild. Unknown roles are logged and skipped.
func existingStaffRoles(
	ctx context.Context,
	provider GuildResourceProvider,
	guildID string,
	staffRoleIDs []string,
	logger *slog.Logger,
) []string {
	if len(staffRoleIDs) == 0 {
		return nil
	}
	roles, err := provider.Roles(ctx, guildID)
	if err != nil {
		logger.WarnContext(ctx, "unable to list roles for staff viewers", tint.Err(err))
		return nil
	}
	known := make(map[string]bool, len(roles))
	for _, r := range roles {
		known[r.ID] = true
	}

	ids := make([]string, 0, len(staffRoleIDs))
	for _, id := range staffRoleIDs {
		if !known[id] {
			logger.WarnContext(
				ctx,
				"skipping unknown staff viewer role",
				"guild_id", guildID,
				"role_id", id,
			)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// channelOverwrites returns the permission overwrites for a new clan
// channel: hidden from @everyone, visible to the clan, manageable by the
// owner role, and visible to staff viewer roles
func channelOverwrites(
	kind ChannelKind,
	guildID string,
	ownerRoleID string,
	clanRoleID string,
	staffRoleIDs []string,
) []*discordgo.PermissionOverwrite {
	clanAllow := int64(discordgo.PermissionViewChannel)
	ownerAllow := int64(discordgo.PermissionViewChannel | discordgo.PermissionManageChannels)
	if kind == ChannelKindVoice {
		clanAllow |= discordgo.PermissionVoiceConnect
		ownerAllow |= discordgo.PermissionVoiceConnect
	}

	overwrites := []*discordgo.PermissionOverwrite{
		{
			// @everyone shares the guild's ID
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
		{
			ID:    clanRoleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: clanAllow,
		},
		{
			ID:    ownerRoleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: ownerAllow,
		},
	}
	for _, id := range staffRoleIDs {
		overwrites = append(
			overwrites, &discordgo.PermissionOverwrite{
				ID:    id,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Allow: staffAllow(kind),
			},
		)
	}
	return overwrites
}

// ensureStaffAccess grants staff viewer roles access to an existing
// channel. Failures are logged, not returned.
func ensureStaffAccess(
	ctx context.Context,
	provider GuildResourceProvider,
	channelID string,
	kind ChannelKind,
	staffRoleIDs []string,
	logger *slog.Logger,
) {
	for _, id := range staffRoleIDs {
		err := provider.ChannelPermissionSet(
			ctx,
			channelID,
			id,
			discordgo.PermissionOverwriteTypeRole,
			staffAllow(kind),
			0,
		)
		if err != nil {
			logger.ErrorContext(
				ctx,
				"unable to grant staff viewer access",
				tint.Err(err),
				"channel_id", channelID,
				"role_id", id,
			)
		}
	}
}
