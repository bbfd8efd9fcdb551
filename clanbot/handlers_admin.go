package clanbot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
)

// handleAdminCommand runs a /clan-admin subcommand. Every subcommand is
// answered ephemerally.
func (b *ClanBot) handleAdminCommand(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	path, options := commandOptions(i.ApplicationCommandData())
	actor := actorFromInteraction(i)
	op := "clan-admin " + strings.Join(path, " ")

	if err := handler.Respond(ctx, deferredResponse(true)); err != nil {
		return
	}

	authorizeOp := OpAdminMisc
	if len(path) > 0 && path[0] == subcommandSet {
		authorizeOp = OpAdminSet
	}
	if _, err := b.service.Gate().Authorize(ctx, actor, authorizeOp); err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}

	var reply *discordgo.WebhookEdit
	var err error
	switch strings.Join(path, " ") {
	case subcommandSet:
		reply, err = b.adminSet(ctx, actor, options)
	case subcommandClear:
		err = b.service.ClearSystem(ctx, actor.GuildID)
		reply = messageEdit(
			"The clan setup was removed. Existing clans were kept.",
			nil,
			nil,
		)
	case subcommandInfo:
		var info SystemInfo
		info, err = b.service.SystemInfo(ctx, actor.GuildID)
		reply = messageEdit("", []*discordgo.MessageEmbed{info.Embed()}, nil)
	case subcommandAssign + " " + subcommandRoles:
		reply, err = b.adminAssignRoles(ctx, actor, options)
	case subcommandAssign + " " + subcommandChannels:
		reply, err = b.adminAssignChannels(ctx, actor, options)
	case subcommandDelete:
		var clan *Clan
		clan, err = b.service.AdminDelete(ctx, actor.GuildID, optionString(options, optionOwner))
		if err == nil {
			reply = messageEdit(fmt.Sprintf("**%s** was deleted.", clan.Name), nil, nil)
		}
	case subcommandTransfer:
		var clan *Clan
		clan, err = b.service.AdminTransfer(
			ctx,
			actor.GuildID,
			optionString(options, optionCurrentOwner),
			optionString(options, optionNewOwner),
		)
		if err == nil {
			reply = messageEdit(
				fmt.Sprintf("**%s** now belongs to %s!", clan.Name, userMention(clan.OwnerID)),
				nil,
				nil,
			)
		}
	default:
		handler.Logger().WarnContext(ctx, "unknown subcommand", "path", path)
		err = fmt.Errorf("unknown subcommand: %v", path)
	}

	if err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	_, _ = handler.Edit(ctx, reply)
}

func (b *ClanBot) adminSet(
	ctx context.Context,
	actor Actor,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) (*discordgo.WebhookEdit, error) {
	system, err := b.service.SetSystem(
		ctx,
		actor.GuildID,
		optionString(options, optionRole),
		optionString(options, optionCategory),
	)
	if err != nil {
		return nil, err
	}
	return messageEdit(
		fmt.Sprintf(
			"Clans are set up! Members with %s can create clans, with channels under %s.",
			roleMention(system.RoleID),
			channelMention(system.CategoryID),
		),
		nil,
		nil,
	), nil
}

func (b *ClanBot) adminAssignRoles(
	ctx context.Context,
	actor Actor,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) (*discordgo.WebhookEdit, error) {
	clan, err := b.service.AssignRoles(
		ctx,
		actor.GuildID,
		optionString(options, optionMember),
		optionString(options, optionOwnerRole),
		optionString(options, optionClanRole),
	)
	if err != nil {
		return nil, err
	}
	return messageEdit(
		fmt.Sprintf(
			"%s now owns **%s** (%s / %s).",
			userMention(clan.OwnerID),
			clan.Name,
			roleMention(clan.OwnerRoleID),
			roleMention(clan.ClanRoleID),
		),
		nil,
		nil,
	), nil
}

func (b *ClanBot) adminAssignChannels(
	ctx context.Context,
	actor Actor,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) (*discordgo.WebhookEdit, error) {
	clan, err := b.service.AssignChannels(
		ctx,
		actor.GuildID,
		optionString(options, optionMember),
		optionString(options, optionTextChannel),
		optionString(options, optionVoiceChannel),
	)
	if err != nil {
		return nil, err
	}
	var channels []string
	if id := stringPointerValue(clan.TextChannelID); id != "" {
		channels = append(channels, channelMention(id))
	}
	if id := stringPointerValue(clan.VoiceChannelID); id != "" {
		channels = append(channels, channelMention(id))
	}
	return messageEdit(
		fmt.Sprintf("**%s** now uses %s.", clan.Name, strings.Join(channels, " and ")),
		nil,
		nil,
	), nil
}
