package clanbot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
)

// actionPurposes maps each component and modal action to the purpose of
// the session its custom_id must reference
var actionPurposes = map[string]SessionPurpose{
	actionMenuCreate:    PurposeMenu,
	actionMenuModify:    PurposeMenu,
	actionMenuDelete:    PurposeMenu,
	actionModifyName:    PurposeMenu,
	actionModifyColor:   PurposeMenu,
	actionModifyIcon:    PurposeMenu,
	actionModifyText:    PurposeMenu,
	actionModifyVoice:   PurposeMenu,
	actionModifyOwner:   PurposeMenu,
	actionModifyBack:    PurposeMenu,
	actionCreateSubmit:  PurposeCreate,
	actionRenameSubmit:  PurposeRename,
	actionColorSubmit:   PurposeColor,
	actionTransferPick:  PurposeTransfer,
	actionDeleteConfirm: PurposeDelete,
	actionDeleteCancel:  PurposeDelete,
	actionLeavePick:     PurposeLeave,
	actionLeaveConfirm:  PurposeLeave,
	actionLeaveCancel:   PurposeLeave,
}

func (b *ClanBot) handleClanCommand(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	path, options := commandOptions(i.ApplicationCommandData())
	actor := actorFromInteraction(i)
	if len(path) == 0 {
		_ = handler.Respond(ctx, ephemeralResponse(DefaultDiscordErrorMessage))
		return
	}

	switch path[0] {
	case subcommandMenu:
		b.clanMenu(ctx, handler, actor)
	case subcommandInvite:
		b.clanInvite(ctx, handler, actor, optionString(options, optionMember))
	case subcommandKick:
		b.clanKick(ctx, handler, actor, optionString(options, optionMember))
	case subcommandLeave:
		b.clanLeave(ctx, handler, actor)
	case subcommandDetails:
		b.clanDetails(ctx, handler, actor, optionString(options, optionClanName))
	case subcommandRecreate:
		b.clanRecreateChannels(ctx, handler, actor)
	default:
		handler.Logger().WarnContext(ctx, "unknown subcommand", "path", path)
		_ = handler.Respond(ctx, ephemeralResponse(DefaultDiscordErrorMessage))
	}
}

// clanMenu opens the main menu. The menu session is bound to the actor's
// clan, if they own one, so it closes when the clan is deleted or
// transferred elsewhere.
func (b *ClanBot) clanMenu(ctx context.Context, handler InteractionHandler, actor Actor) {
	const op = "clan menu"
	if err := handler.Respond(ctx, deferredResponse(true)); err != nil {
		return
	}
	if _, err := b.service.Gate().Authorize(ctx, actor, OpMenu); err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	clan, err := b.service.GetClan(ctx, actor.GuildID, actor.UserID)
	if err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}

	opts := SessionOptions{
		UserID:  actor.UserID,
		GuildID: actor.GuildID,
		Purpose: PurposeMenu,
		Timeout: b.config.Clan.MenuTimeout,
		OnEnd:   b.disableOnEnd(ctx, handler),
	}
	if clan != nil {
		opts.OwnerID = clan.OwnerID
	}
	menu := b.sessions.Open(opts)
	_, _ = handler.Edit(ctx, b.mainMenu(ctx, menu.ID, clan, ""))
}

// clanDisplay renders the clan embed. Missing resources are shown as
// such, so a failed lookup still renders.
func (b *ClanBot) clanDisplay(ctx context.Context, clan *Clan) *discordgo.MessageEmbed {
	view, err := b.service.View(ctx, clan)
	if err != nil {
		b.reportError(ctx, "view clan", err, "clan", clan)
	}
	return renderClan(view).Embed()
}

func (b *ClanBot) mainMenu(
	ctx context.Context,
	menuID string,
	clan *Clan,
	status string,
) *discordgo.WebhookEdit {
	if clan == nil {
		return messageEdit(
			status,
			[]*discordgo.MessageEmbed{noClanEmbed()},
			mainMenuComponents(menuID, false),
		)
	}
	return messageEdit(
		status,
		[]*discordgo.MessageEmbed{b.clanDisplay(ctx, clan)},
		mainMenuComponents(menuID, true),
	)
}

func (b *ClanBot) modifyMenu(
	ctx context.Context,
	menuID string,
	clan *Clan,
	status string,
) *discordgo.WebhookEdit {
	return messageEdit(
		status,
		[]*discordgo.MessageEmbed{b.clanDisplay(ctx, clan), modifyMenuEmbed()},
		modifyMenuComponents(menuID),
	)
}

// handleComponent routes a button press or select menu choice. Every
// custom_id carries the session it belongs to; presses on a session
// that's gone, or belongs to someone else, are refused.
func (b *ClanBot) handleComponent(ctx context.Context, handler InteractionHandler, customID string) {
	i := handler.GetInteraction()
	actor := actorFromInteraction(i)
	logger := handler.Logger()

	action, sessionID, err := decodeCustomID(customID)
	if err != nil {
		logger.WarnContext(ctx, "unrecognized component", "custom_id", customID)
		_ = handler.Respond(ctx, ephemeralResponse(DefaultDiscordErrorMessage))
		return
	}

	switch action {
	case actionInviteAccept, actionInviteDeny:
		b.answerInvite(ctx, handler, action == actionInviteAccept, sessionID, actor.UserID)
		return
	}

	session, err := b.sessions.Claim(sessionID, actor.UserID)
	if err == nil && session.Purpose != actionPurposes[action] {
		err = timeoutError("claim session")
	}
	if err != nil {
		_ = handler.Respond(ctx, ephemeralResponse(UserMessage(err)))
		return
	}

	if session.Purpose == PurposeMenu {
		if allowed, retryAt := b.sessions.CooldownAllow(actor.UserID); !allowed {
			_ = handler.Respond(
				ctx,
				ephemeralResponse(
					fmt.Sprintf("The buttons are on cooldown! Try again <t:%d:R>.", retryAt.Unix()),
				),
			)
			return
		}
	}

	switch action {
	case actionMenuCreate:
		b.openPrompt(
			ctx, handler, actor, session, PurposeCreate, func(promptID string) *discordgo.InteractionResponse {
				return textModal(
					newCustomID(actionCreateSubmit, promptID),
					"Create your clan",
					inputClanName,
					"Clan name",
					"My clan",
					"",
					ClanNameMinLength,
					ClanNameMaxLength,
				)
			},
		)
	case actionMenuModify, actionModifyBack:
		b.switchMenu(ctx, handler, actor, session, action == actionMenuModify)
	case actionMenuDelete:
		b.confirmDelete(ctx, handler, actor)
	case actionModifyName:
		b.openRenamePrompt(ctx, handler, actor, session)
	case actionModifyColor:
		b.openPrompt(
			ctx, handler, actor, session, PurposeColor, func(promptID string) *discordgo.InteractionResponse {
				return textModal(
					newCustomID(actionColorSubmit, promptID),
					"Clan color",
					inputClanColor,
					"Hex color",
					"#5865F2",
					"",
					6,
					7,
				)
			},
		)
	case actionModifyText, actionModifyVoice:
		kind, purpose := ChannelKindText, PurposeTextChannel
		if action == actionModifyVoice {
			kind, purpose = ChannelKindVoice, PurposeVoiceChannel
		}
		b.openPrompt(
			ctx, handler, actor, session, purpose, func(promptID string) *discordgo.InteractionResponse {
				return textModal(
					newCustomID(actionChannelSubmit, promptID),
					fmt.Sprintf("Clan %s channel", kind),
					inputChannelName,
					"Channel name",
					"",
					"",
					ChannelNameMinLength,
					ChannelNameMaxLength,
				)
			},
		)
	case actionModifyIcon:
		b.beginIcon(ctx, handler, actor)
	case actionModifyOwner:
		b.pickNewOwner(ctx, handler, actor)
	case actionTransferPick:
		b.transferTo(ctx, handler, actor, session, i.MessageComponentData().Values)
	case actionDeleteConfirm:
		b.deleteConfirmed(ctx, handler, actor, session)
	case actionDeleteCancel, actionLeaveCancel:
		if !session.Complete() {
			_ = handler.Respond(ctx, ephemeralResponse(msgTimeout))
			return
		}
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseUpdateMessage,
				Data: &discordgo.InteractionResponseData{
					Content:    "Cancelled.",
					Embeds:     []*discordgo.MessageEmbed{},
					Components: []discordgo.MessageComponent{},
				},
			},
		)
	case actionLeavePick:
		b.leavePicked(ctx, handler, actor, session, i.MessageComponentData().Values)
	case actionLeaveConfirm:
		b.leaveConfirmed(ctx, handler, actor, session)
	default:
		logger.WarnContext(ctx, "unhandled component action", "action", action)
		_ = handler.Respond(ctx, ephemeralResponse(DefaultDiscordErrorMessage))
	}
}

// openPrompt opens a prompt session tied to the menu, and responds with
// the modal built for it
func (b *ClanBot) openPrompt(
	ctx context.Context,
	handler InteractionHandler,
	actor Actor,
	menu *Session,
	purpose SessionPurpose,
	modal func(promptID string) *discordgo.InteractionResponse,
) {
	prompt := b.sessions.Open(
		SessionOptions{
			UserID:  actor.UserID,
			GuildID: actor.GuildID,
			OwnerID: menu.OwnerID,
			Purpose: purpose,
			Timeout: b.config.Clan.PromptTimeout,
			Data:    menu.ID,
		},
	)
	if err := handler.Respond(ctx, modal(prompt.ID)); err != nil {
		prompt.Cancel()
	}
}

func (b *ClanBot) openRenamePrompt(
	ctx context.Context,
	handler InteractionHandler,
	actor Actor,
	menu *Session,
) {
	clan, err := b.service.GetClan(ctx, actor.GuildID, actor.UserID)
	if err != nil || clan == nil {
		if err == nil {
			err = preconditionError("rename clan", msgNoClan)
		}
		b.reportError(ctx, "rename clan", err, interactionTargets(handler.GetInteraction())...)
		_ = handler.Respond(ctx, ephemeralResponse(UserMessage(err)))
		return
	}
	b.openPrompt(
		ctx, handler, actor, menu, PurposeRename, func(promptID string) *discordgo.InteractionResponse {
			return textModal(
				newCustomID(actionRenameSubmit, promptID),
				"Rename your clan",
				inputClanName,
				"Clan name",
				"",
				clan.Name,
				ClanNameMinLength,
				ClanNameMaxLength,
			)
		},
	)
}

// switchMenu moves between the main menu and the modify menu
func (b *ClanBot) switchMenu(
	ctx context.Context,
	handler InteractionHandler,
	actor Actor,
	menu *Session,
	modify bool,
) {
	if err := handler.Respond(ctx, deferredUpdate()); err != nil {
		return
	}
	clan, err := b.service.GetClan(ctx, actor.GuildID, actor.UserID)
	if err != nil {
		b.followupError(ctx, handler, "clan menu", err)
		return
	}
	if clan == nil || !modify {
		_, _ = handler.Edit(ctx, b.mainMenu(ctx, menu.ID, clan, ""))
		return
	}
	_, _ = handler.Edit(ctx, b.modifyMenu(ctx, menu.ID, clan, ""))
}

// handleModalSubmit applies a submitted create, rename, color or channel
// modal, then re-renders the menu the modal was opened from
func (b *ClanBot) handleModalSubmit(
	ctx context.Context,
	handler InteractionHandler,
	data discordgo.ModalSubmitInteractionData,
) {
	actor := actorFromInteraction(handler.GetInteraction())
	action, sessionID, err := decodeCustomID(data.CustomID)
	if err != nil {
		handler.Logger().WarnContext(ctx, "unrecognized modal", "custom_id", data.CustomID)
		_ = handler.Respond(ctx, ephemeralResponse(DefaultDiscordErrorMessage))
		return
	}

	prompt, err := b.sessions.Claim(sessionID, actor.UserID)
	if err == nil {
		expected, known := actionPurposes[action]
		switch {
		case action == actionChannelSubmit:
			if prompt.Purpose != PurposeTextChannel && prompt.Purpose != PurposeVoiceChannel {
				err = timeoutError("claim session")
			}
		case !known || prompt.Purpose != expected:
			err = timeoutError("claim session")
		}
	}
	if err == nil && !prompt.Complete() {
		err = timeoutError("claim session")
	}
	var menu *Session
	if err == nil {
		menuID, _ := prompt.Data.(string)
		var ok bool
		if menu, ok = b.sessions.Get(menuID); !ok {
			err = timeoutError("claim session")
		}
	}
	if err != nil {
		_ = handler.Respond(ctx, ephemeralResponse(UserMessage(err)))
		return
	}

	if err = handler.Respond(ctx, deferredUpdate()); err != nil {
		return
	}

	authorizeOp := OpModify
	if action == actionCreateSubmit {
		authorizeOp = OpCreate
	}
	system, err := b.service.Gate().Authorize(ctx, actor, authorizeOp)
	if err != nil {
		b.followupError(ctx, handler, string(authorizeOp), err)
		return
	}

	switch action {
	case actionCreateSubmit:
		clan, createErr := b.service.CreateClan(ctx, actor, system, modalTextValue(data, inputClanName))
		if createErr != nil {
			b.followupError(ctx, handler, "create clan", createErr)
			return
		}
		_, _ = handler.Edit(
			ctx,
			b.mainMenu(ctx, menu.ID, clan, fmt.Sprintf("Created **%s**!", clan.Name)),
		)
	case actionRenameSubmit:
		clan, renameErr := b.service.RenameClan(ctx, actor, modalTextValue(data, inputClanName))
		if renameErr != nil {
			b.followupError(ctx, handler, "rename clan", renameErr)
			return
		}
		_, _ = handler.Edit(
			ctx,
			b.modifyMenu(ctx, menu.ID, clan, fmt.Sprintf("Your clan is now named **%s**!", clan.Name)),
		)
	case actionColorSubmit:
		color, colorErr := b.service.SetColor(ctx, actor, modalTextValue(data, inputClanColor))
		if colorErr != nil {
			b.followupError(ctx, handler, "set clan color", colorErr)
			return
		}
		b.refreshModifyMenu(
			ctx,
			handler,
			actor,
			menu,
			fmt.Sprintf("Your clan's color is now %s!", formatHexColor(color)),
		)
	case actionChannelSubmit:
		kind := ChannelKindText
		if prompt.Purpose == PurposeVoiceChannel {
			kind = ChannelKindVoice
		}
		ch, created, channelErr := b.service.SetChannelName(
			ctx,
			actor,
			system,
			kind,
			modalTextValue(data, inputChannelName),
		)
		if channelErr != nil {
			b.followupError(ctx, handler, "set channel name", channelErr)
			return
		}
		status := fmt.Sprintf("Renamed your %s channel to %s!", kind, channelMention(ch.ID))
		if created {
			status = fmt.Sprintf("Created your %s channel %s!", kind, channelMention(ch.ID))
		}
		b.refreshModifyMenu(ctx, handler, actor, menu, status)
	}
}

func (b *ClanBot) refreshModifyMenu(
	ctx context.Context,
	handler InteractionHandler,
	actor Actor,
	menu *Session,
	status string,
) {
	clan, err := b.service.GetClan(ctx, actor.GuildID, actor.UserID)
	if err != nil || clan == nil {
		_, _ = handler.Edit(ctx, b.mainMenu(ctx, menu.ID, clan, status))
		return
	}
	_, _ = handler.Edit(ctx, b.modifyMenu(ctx, menu.ID, clan, status))
}

// beginIcon asks for the icon image in direct messages. The menu is left
// as-is; the result is reported in the DM conversation.
func (b *ClanBot) beginIcon(ctx context.Context, handler InteractionHandler, actor Actor) {
	if err := handler.Respond(ctx, deferredUpdate()); err != nil {
		return
	}
	session, err := b.service.BeginIconSubmission(ctx, actor)
	if err != nil {
		b.followupError(ctx, handler, "begin icon submission", err)
		return
	}
	_, _ = handler.Followup(
		ctx, &discordgo.WebhookParams{
			Content: fmt.Sprintf(
				"Check your direct messages! Send the image there <t:%d:R>.",
				session.ExpiresAt.Unix(),
			),
			Flags: discordgo.MessageFlagsEphemeral,
		},
	)
}

func (b *ClanBot) pickNewOwner(ctx context.Context, handler InteractionHandler, actor Actor) {
	clan, err := b.service.GetClan(ctx, actor.GuildID, actor.UserID)
	if err != nil || clan == nil {
		if err == nil {
			err = preconditionError("transfer ownership", msgNoClan)
		}
		b.reportError(ctx, "transfer ownership", err, interactionTargets(handler.GetInteraction())...)
		_ = handler.Respond(ctx, ephemeralResponse(UserMessage(err)))
		return
	}
	pick := b.sessions.Open(
		SessionOptions{
			UserID:  actor.UserID,
			GuildID: actor.GuildID,
			OwnerID: clan.OwnerID,
			Purpose: PurposeTransfer,
			Timeout: b.config.Clan.TransferTimeout,
			OnEnd:   b.disableOnEnd(ctx, handler),
		},
	)
	err = handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: fmt.Sprintf(
					"Who should own **%s**? They must already be a member of it.",
					clan.Name,
				),
				Components: transferSelectComponents(pick.ID),
				Flags:      discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		pick.Cancel()
	}
}

func (b *ClanBot) transferTo(
	ctx context.Context,
	handler InteractionHandler,
	actor Actor,
	pick *Session,
	values []string,
) {
	const op = "transfer ownership"
	if len(values) != 1 {
		_ = handler.Respond(ctx, ephemeralResponse(DefaultDiscordErrorMessage))
		return
	}
	if !pick.Complete() {
		_ = handler.Respond(ctx, ephemeralResponse(msgTimeout))
		return
	}
	if err := handler.Respond(ctx, deferredUpdate()); err != nil {
		return
	}
	if _, err := b.service.Gate().Authorize(ctx, actor, OpModify); err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	clan, err := b.service.TransferOwnership(ctx, actor, values[0])
	if err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	_, _ = handler.Edit(
		ctx,
		messageEdit(
			fmt.Sprintf("**%s** now belongs to %s!", clan.Name, userMention(clan.OwnerID)),
			nil,
			nil,
		),
	)
}

func (b *ClanBot) confirmDelete(ctx context.Context, handler InteractionHandler, actor Actor) {
	clan, err := b.service.GetClan(ctx, actor.GuildID, actor.UserID)
	if err != nil || clan == nil {
		if err == nil {
			err = preconditionError("delete clan", msgNoClan)
		}
		b.reportError(ctx, "delete clan", err, interactionTargets(handler.GetInteraction())...)
		_ = handler.Respond(ctx, ephemeralResponse(UserMessage(err)))
		return
	}
	confirm := b.sessions.Open(
		SessionOptions{
			UserID:  actor.UserID,
			GuildID: actor.GuildID,
			OwnerID: clan.OwnerID,
			Purpose: PurposeDelete,
			Timeout: b.config.Clan.PromptTimeout,
			OnEnd:   b.disableOnEnd(ctx, handler),
		},
	)
	err = handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds:     []*discordgo.MessageEmbed{deleteConfirmEmbed(clan.Name)},
				Components: confirmComponents(actionDeleteConfirm, actionDeleteCancel, confirm.ID),
				Flags:      discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		confirm.Cancel()
	}
}

func (b *ClanBot) deleteConfirmed(
	ctx context.Context,
	handler InteractionHandler,
	actor Actor,
	confirm *Session,
) {
	const op = "delete clan"
	if !confirm.Complete() {
		_ = handler.Respond(ctx, ephemeralResponse(msgTimeout))
		return
	}
	if err := handler.Respond(ctx, deferredUpdate()); err != nil {
		return
	}
	if _, err := b.service.Gate().Authorize(ctx, actor, OpDelete); err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	clan, err := b.service.DeleteClan(ctx, actor)
	if err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	_, _ = handler.Edit(ctx, messageEdit(fmt.Sprintf("**%s** was deleted.", clan.Name), nil, nil))
}

func (b *ClanBot) clanInvite(
	ctx context.Context,
	handler InteractionHandler,
	actor Actor,
	targetID string,
) {
	const op = "invite member"
	if err := handler.Respond(ctx, deferredResponse(true)); err != nil {
		return
	}
	if _, err := b.service.Gate().Authorize(ctx, actor, OpInvite); err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	clan, err := b.service.Invite(ctx, actor, targetID)
	if err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	_, _ = handler.Edit(
		ctx,
		messageEdit(
			fmt.Sprintf("Invited %s to **%s**!", userMention(targetID), clan.Name),
			nil,
			nil,
		),
	)
}

// answerInvite accepts or denies an invite from its DM. If the invite was
// already answered or expired, the DM is left alone.
func (b *ClanBot) answerInvite(
	ctx context.Context,
	handler InteractionHandler,
	accept bool,
	sessionID string,
	userID string,
) {
	if err := handler.Respond(ctx, deferredUpdate()); err != nil {
		return
	}
	var reply string
	var err error
	op := "deny invite"
	if accept {
		op = "accept invite"
		reply, err = b.service.AcceptInvite(ctx, sessionID, userID)
	} else {
		reply, err = b.service.DenyInvite(ctx, sessionID, userID)
	}
	switch {
	case errors.Is(err, ErrTimeout):
		b.followupError(ctx, handler, op, err)
	case err != nil:
		b.replyError(ctx, handler, op, err)
	default:
		_, _ = handler.Edit(ctx, messageEdit(reply, nil, nil))
	}
}

func (b *ClanBot) clanKick(
	ctx context.Context,
	handler InteractionHandler,
	actor Actor,
	targetID string,
) {
	const op = "kick member"
	if err := handler.Respond(ctx, deferredResponse(true)); err != nil {
		return
	}
	if _, err := b.service.Gate().Authorize(ctx, actor, OpKick); err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	clan, err := b.service.Kick(ctx, actor, targetID)
	if err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	_, _ = handler.Edit(
		ctx,
		messageEdit(
			fmt.Sprintf("Removed %s from **%s**.", userMention(targetID), clan.Name),
			nil,
			nil,
		),
	)
}

// clanLeave asks the actor which clans to leave. With a single clan, it
// goes straight to the confirmation.
func (b *ClanBot) clanLeave(ctx context.Context, handler InteractionHandler, actor Actor) {
	const op = "leave clan"
	if err := handler.Respond(ctx, deferredResponse(true)); err != nil {
		return
	}
	if _, err := b.service.Gate().Authorize(ctx, actor, OpLeave); err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	clans, err := b.service.LeaveOptions(ctx, actor)
	if err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}

	if len(clans) == 1 {
		confirm := b.openLeaveSession(ctx, handler, actor, []string{clans[0].ClanRoleID})
		_, _ = handler.Edit(
			ctx,
			messageEdit(
				leaveQuestion(clans),
				nil,
				confirmComponents(actionLeaveConfirm, actionLeaveCancel, confirm.ID),
			),
		)
		return
	}
	pick := b.openLeaveSession(ctx, handler, actor, nil)
	_, _ = handler.Edit(
		ctx,
		messageEdit("Which clans do you want to leave?", nil, leaveSelectComponents(pick.ID, clans)),
	)
}

func (b *ClanBot) openLeaveSession(
	ctx context.Context,
	handler InteractionHandler,
	actor Actor,
	roleIDs []string,
) *Session {
	return b.sessions.Open(
		SessionOptions{
			UserID:  actor.UserID,
			GuildID: actor.GuildID,
			Purpose: PurposeLeave,
			Timeout: b.config.Clan.PromptTimeout,
			Data:    roleIDs,
			OnEnd:   b.disableOnEnd(ctx, handler),
		},
	)
}

func leaveQuestion(clans []Clan) string {
	names := make([]string, 0, len(clans))
	for _, c := range clans {
		names = append(names, fmt.Sprintf("**%s**", c.Name))
	}
	return fmt.Sprintf("Are you sure you want to leave %s?", strings.Join(names, ", "))
}

// leavePicked replaces the clan selection with a confirmation for the
// chosen clans
func (b *ClanBot) leavePicked(
	ctx context.Context,
	handler InteractionHandler,
	actor Actor,
	pick *Session,
	roleIDs []string,
) {
	const op = "leave clan"
	// confirmation sessions carry the role IDs; selections don't
	if picked, _ := pick.Data.([]string); len(picked) > 0 || len(roleIDs) == 0 {
		_ = handler.Respond(ctx, ephemeralResponse(DefaultDiscordErrorMessage))
		return
	}
	clans, err := b.repo.GetClansByRoleIDs(ctx, actor.GuildID, roleIDs)
	if err != nil || len(clans) == 0 {
		if err == nil {
			err = preconditionError(op, "You aren't in a clan!")
		}
		b.reportError(ctx, op, err, interactionTargets(handler.GetInteraction())...)
		_ = handler.Respond(ctx, ephemeralResponse(UserMessage(err)))
		return
	}
	if !pick.Complete() {
		_ = handler.Respond(ctx, ephemeralResponse(msgTimeout))
		return
	}
	confirm := b.openLeaveSession(ctx, handler, actor, roleIDs)
	err = handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Content:    leaveQuestion(clans),
				Components: confirmComponents(actionLeaveConfirm, actionLeaveCancel, confirm.ID),
			},
		},
	)
	if err != nil {
		confirm.Cancel()
	}
}

func (b *ClanBot) leaveConfirmed(
	ctx context.Context,
	handler InteractionHandler,
	actor Actor,
	confirm *Session,
) {
	const op = "leave clan"
	roleIDs, ok := confirm.Data.([]string)
	if !ok || len(roleIDs) == 0 {
		_ = handler.Respond(ctx, ephemeralResponse(DefaultDiscordErrorMessage))
		return
	}
	if !confirm.Complete() {
		_ = handler.Respond(ctx, ephemeralResponse(msgTimeout))
		return
	}
	if err := handler.Respond(ctx, deferredUpdate()); err != nil {
		return
	}
	left, err := b.service.Leave(ctx, actor, roleIDs)
	if err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	names := make([]string, 0, len(left))
	for _, c := range left {
		names = append(names, fmt.Sprintf("**%s**", c.Name))
	}
	_, _ = handler.Edit(
		ctx,
		messageEdit(fmt.Sprintf("You left %s.", strings.Join(names, ", ")), nil, nil),
	)
}

// clanDetails shows a clan publicly, by name
func (b *ClanBot) clanDetails(
	ctx context.Context,
	handler InteractionHandler,
	actor Actor,
	clanName string,
) {
	const op = "clan details"
	if _, err := b.service.Gate().Authorize(ctx, actor, OpDetails); err != nil {
		b.reportError(ctx, op, err, interactionTargets(handler.GetInteraction())...)
		_ = handler.Respond(ctx, ephemeralResponse(UserMessage(err)))
		return
	}
	if err := handler.Respond(ctx, deferredResponse(false)); err != nil {
		return
	}
	model, err := b.service.Details(ctx, actor.GuildID, clanName)
	if err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	_, _ = handler.Edit(ctx, messageEdit("", []*discordgo.MessageEmbed{model.Embed()}, nil))
}

func (b *ClanBot) clanRecreateChannels(ctx context.Context, handler InteractionHandler, actor Actor) {
	const op = "recreate channels"
	if err := handler.Respond(ctx, deferredResponse(true)); err != nil {
		return
	}
	system, err := b.service.Gate().Authorize(ctx, actor, OpRecreate)
	if err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	results, err := b.service.RecreateChannels(ctx, actor, system)
	if err != nil {
		b.replyError(ctx, handler, op, err)
		return
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, r.String())
	}
	_, _ = handler.Edit(ctx, messageEdit(strings.Join(lines, "\n"), nil, nil))
}
