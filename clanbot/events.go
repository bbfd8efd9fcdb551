package clanbot

import (
	"context"
	"github.com/bwmarrin/discordgo"
)

const msgIconUpdated = "Your clan icon was updated!"

// onRoleDelete removes whatever depended on a deleted role: the guild's
// clan setup if it was the supporter role, or the clan it belonged to
func (b *ClanBot) onRoleDelete(ctx context.Context, e *discordgo.GuildRoleDelete) {
	if e == nil || e.GuildID == "" || e.RoleID == "" {
		return
	}
	if err := b.service.HandleRoleDeleted(ctx, e.GuildID, e.RoleID); err != nil {
		b.service.logCascadeError(
			ctx,
			"error handling role deletion",
			err,
			"guild_id", e.GuildID,
			"role_id", e.RoleID,
		)
	}
}

// onChannelDelete removes the guild's clan setup if its category was
// deleted, and clears references to a deleted clan channel
func (b *ClanBot) onChannelDelete(ctx context.Context, e *discordgo.ChannelDelete) {
	if e == nil || e.Channel == nil || e.GuildID == "" {
		return
	}
	if err := b.service.HandleChannelDeleted(ctx, e.GuildID, e.ID); err != nil {
		b.service.logCascadeError(
			ctx,
			"error handling channel deletion",
			err,
			"guild_id", e.GuildID,
			"channel_id", e.ID,
		)
	}
}

// onMessageCreate picks up icon images sent by direct message. Messages
// from users without an open icon session are ignored.
func (b *ClanBot) onMessageCreate(ctx context.Context, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	handled, err := b.service.HandleIconMessage(ctx, m.Message)
	if !handled {
		return
	}
	reply := msgIconUpdated
	if err != nil {
		b.reportError(ctx, "set clan icon", err, "message_id", m.ID, "user_id", m.Author.ID)
		reply = UserMessage(err)
	}
	b.service.notify(ctx, m.Author.ID, reply)
}
