package clanbot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"sync"
	"time"
)

const (
	msgTargetSelf      = "You can not target yourself with such commands!"
	msgTargetBot       = "You can not target bots with such commands!"
	msgTargetNotMember = "That user isn't a member of this server!"
	msgTargetNotInClan = "That member isn't in your clan!"
	msgTargetOwnsClan  = "That member already owns a clan!"
	msgMemberNoClan    = "That member doesn't own a clan!"
	msgInviteGone      = "That clan no longer exists!"

	notifyTimeout = 10 * time.Second
)

// member fetches a guild member who is the target of an operation,
// rejecting the actor themselves, bots and non-members
func (s *ClanService) member(ctx context.Context, op string, actor Actor, userID string) (
	*discordgo.Member,
	error,
) {
	if userID == actor.UserID {
		return nil, preconditionError(op, msgTargetSelf)
	}
	m, err := s.provider.Member(ctx, actor.GuildID, userID)
	if err != nil {
		return nil, externalError(op, err)
	}
	if m == nil {
		return nil, preconditionError(op, msgTargetNotMember)
	}
	if m.User != nil && m.User.Bot {
		return nil, preconditionError(op, msgTargetBot)
	}
	return m, nil
}

// notify sends a best-effort direct message. Failures are logged.
func (s *ClanService) notify(ctx context.Context, userID string, content string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	_, err := s.provider.SendDirectMessage(ctx, userID, &discordgo.MessageSend{Content: content})
	if err != nil {
		s.log(ctx).WarnContext(ctx, "unable to notify user", tint.Err(err), "user_id", userID)
	}
}

// inviteData is carried by invite sessions. The DM message is recorded
// after the session opens, so access goes through the mutex.
type inviteData struct {
	ClanName   string
	ClanRoleID string

	mu        sync.Mutex
	channelID string
	messageID string
}

func (d *inviteData) setMessage(m *discordgo.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channelID = m.ChannelID
	d.messageID = m.ID
}

func (d *inviteData) message() (channelID string, messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channelID, d.messageID
}

// Invite sends targetID a direct message inviting them to the actor's
// clan. The invite stays open for the configured invite timeout, and is
// answered with AcceptInvite or DenyInvite.
func (s *ClanService) Invite(ctx context.Context, actor Actor, targetID string) (
	clan *Clan,
	err error,
) {
	const op = "invite member"
	defer func() { s.metrics.observeOperation(op, err) }()

	clan, err = s.requireOwned(ctx, op, actor.GuildID, actor.UserID)
	if err != nil {
		return nil, err
	}
	target, err := s.member(ctx, op, actor, targetID)
	if err != nil {
		return nil, err
	}
	if memberHasRole(target, clan.ClanRoleID) {
		return nil, preconditionError(op, "That member is already in your clan!")
	}
	if err = s.gate.Check(ctx, clan.GuildID, []*discordgo.Member{target}, clan.ClanRoleID); err != nil {
		return nil, err
	}

	data := &inviteData{ClanName: clan.Name, ClanRoleID: clan.ClanRoleID}
	session := s.sessions.Open(
		SessionOptions{
			UserID:  targetID,
			GuildID: clan.GuildID,
			OwnerID: clan.OwnerID,
			Purpose: PurposeInvite,
			Scope:   clanLockKey(clan.GuildID, clan.OwnerID),
			Timeout: s.config.InviteTimeout,
			Data:    data,
			OnEnd:   s.inviteEnded,
		},
	)

	msg, err := s.provider.SendDirectMessage(
		ctx, targetID, &discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{inviteEmbed(clan.Name, clan.OwnerID)},
			Components: inviteComponents(session.ID),
		},
	)
	if err != nil {
		session.Cancel()
		if isDMBlocked(err) {
			return nil, preconditionError(
				op,
				"I couldn't send %s a direct message. They may have DMs disabled.",
				userMention(targetID),
			)
		}
		return nil, externalError(op, err)
	}
	data.setMessage(msg)

	s.log(ctx).InfoContext(
		ctx,
		"sent clan invite",
		"clan", clan,
		"target_id", targetID,
		"session", session,
	)
	return clan, nil
}

// inviteEnded strips the buttons from an invite that expired or was
// cancelled. Answered invites are updated by the interaction response.
func (s *ClanService) inviteEnded(session *Session, state SessionState) {
	if state == SessionCompleted {
		return
	}
	data, ok := session.Data.(*inviteData)
	if !ok {
		return
	}
	channelID, messageID := data.message()
	if messageID == "" {
		return
	}

	content := fmt.Sprintf("This invitation to **%s** has expired.", data.ClanName)
	if state == SessionCancelled {
		content = fmt.Sprintf("This invitation to **%s** is no longer valid.", data.ClanName)
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	_, err := s.provider.EditMessage(
		ctx, &discordgo.MessageEdit{
			ID:         messageID,
			Channel:    channelID,
			Content:    &content,
			Embeds:     &[]*discordgo.MessageEmbed{},
			Components: &[]discordgo.MessageComponent{},
		},
	)
	if err != nil && !isNotFound(err) {
		s.logger.Warn("unable to close invite message", tint.Err(err), "session", session)
	}
}

// claimInvite ends the invite session, returning its data. Only the first
// answer to an invite gets past this.
func (s *ClanService) claimInvite(op string, sessionID string, userID string) (
	*Session,
	*inviteData,
	error,
) {
	session, err := s.sessions.Claim(sessionID, userID)
	if err != nil {
		return nil, nil, err
	}
	data, ok := session.Data.(*inviteData)
	if !ok || session.Purpose != PurposeInvite {
		return nil, nil, timeoutError(op)
	}
	if !session.Complete() {
		return nil, nil, timeoutError(op)
	}
	return session, data, nil
}

// AcceptInvite grants the clan role to the invited user and notifies the
// clan owner. It returns the message to show the invited user.
func (s *ClanService) AcceptInvite(ctx context.Context, sessionID string, userID string) (
	reply string,
	err error,
) {
	const op = "accept invite"
	defer func() { s.metrics.observeOperation(op, err) }()

	session, data, err := s.claimInvite(op, sessionID, userID)
	if err != nil {
		return "", err
	}

	err = func() error {
		unlock := s.lockClan(session.GuildID, session.OwnerID)
		defer unlock()

		clan, e := s.repo.GetByOwner(ctx, session.GuildID, session.OwnerID)
		if e != nil {
			return e
		}
		if clan == nil || clan.ClanRoleID != data.ClanRoleID {
			return preconditionError(op, msgInviteGone)
		}
		m, e := s.provider.Member(ctx, session.GuildID, userID)
		if e != nil {
			return externalError(op, e)
		}
		if m == nil {
			return preconditionError(op, "You're no longer a member of that server!")
		}
		if memberHasRole(m, clan.ClanRoleID) {
			return preconditionError(op, "You're already a member of **%s**!", clan.Name)
		}
		if e = s.gate.Check(ctx, session.GuildID, []*discordgo.Member{m}, clan.ClanRoleID); e != nil {
			return e
		}
		if e = s.provider.MemberRoleAdd(ctx, session.GuildID, userID, clan.ClanRoleID); e != nil {
			return directoryError(op, e)
		}
		return nil
	}()
	if err != nil {
		return "", err
	}

	s.log(ctx).InfoContext(ctx, "clan invite accepted", "session", session)
	s.notify(
		ctx,
		session.OwnerID,
		fmt.Sprintf("%s accepted your invitation to join **%s**!", userMention(userID), data.ClanName),
	)
	return fmt.Sprintf("You joined **%s**!", data.ClanName), nil
}

// DenyInvite closes the invite without changing membership, and notifies
// the clan owner
func (s *ClanService) DenyInvite(ctx context.Context, sessionID string, userID string) (
	reply string,
	err error,
) {
	const op = "deny invite"
	defer func() { s.metrics.observeOperation(op, err) }()

	session, data, err := s.claimInvite(op, sessionID, userID)
	if err != nil {
		return "", err
	}
	s.log(ctx).InfoContext(ctx, "clan invite denied", "session", session)
	s.notify(
		ctx,
		session.OwnerID,
		fmt.Sprintf("%s declined your invitation to join **%s**.", userMention(userID), data.ClanName),
	)
	return fmt.Sprintf("You declined the invitation to **%s**.", data.ClanName), nil
}

// Kick removes the clan role from a member of the actor's clan
func (s *ClanService) Kick(ctx context.Context, actor Actor, targetID string) (
	clan *Clan,
	err error,
) {
	const op = "kick member"
	defer func() { s.metrics.observeOperation(op, err) }()

	unlock := s.lockClan(actor.GuildID, actor.UserID)
	defer unlock()

	clan, err = s.requireOwned(ctx, op, actor.GuildID, actor.UserID)
	if err != nil {
		return nil, err
	}
	target, err := s.member(ctx, op, actor, targetID)
	if err != nil {
		return nil, err
	}
	if !memberHasRole(target, clan.ClanRoleID) {
		return nil, preconditionError(op, msgTargetNotInClan)
	}
	err = s.gate.Check(ctx, clan.GuildID, []*discordgo.Member{target}, clan.ClanRoleID)
	if err != nil {
		return nil, err
	}
	if err = s.provider.MemberRoleRemove(ctx, clan.GuildID, targetID, clan.ClanRoleID); err != nil {
		return nil, directoryError(op, err)
	}
	s.log(ctx).InfoContext(ctx, "kicked clan member", "clan", clan, "target_id", targetID)
	return clan, nil
}

// LeaveOptions returns the clans the actor can leave: every clan whose
// clan role they hold, except the one they own
func (s *ClanService) LeaveOptions(ctx context.Context, actor Actor) ([]Clan, error) {
	_, options, err := s.leaveOptions(ctx, actor)
	return options, err
}

func (s *ClanService) leaveOptions(ctx context.Context, actor Actor) (
	*discordgo.Member,
	[]Clan,
	error,
) {
	const op = "leave clan"
	m, err := s.provider.Member(ctx, actor.GuildID, actor.UserID)
	if err != nil {
		return nil, nil, externalError(op, err)
	}
	if m == nil {
		return nil, nil, preconditionError(op, msgTargetNotMember)
	}

	clans, err := s.repo.GetClansByRoleIDs(ctx, actor.GuildID, m.Roles)
	if err != nil {
		return nil, nil, err
	}
	var owned *Clan
	options := make([]Clan, 0, len(clans))
	for i := range clans {
		if clans[i].OwnerID == actor.UserID {
			owned = &clans[i]
			continue
		}
		options = append(options, clans[i])
	}

	if len(options) > 0 {
		return m, options, nil
	}
	if owned == nil {
		owned, err = s.repo.GetByOwner(ctx, actor.GuildID, actor.UserID)
		if err != nil {
			return nil, nil, err
		}
	}
	if owned != nil {
		return nil, nil, preconditionError(
			op,
			"You own **%s**! Transfer ownership or delete it instead of leaving.",
			owned.Name,
		)
	}
	return nil, nil, preconditionError(op, "You aren't in a clan!")
}

// Leave removes the clan roles of the chosen clans from the actor. Only
// clans returned by LeaveOptions can be left.
func (s *ClanService) Leave(ctx context.Context, actor Actor, clanRoleIDs []string) (
	left []Clan,
	err error,
) {
	const op = "leave clan"
	defer func() { s.metrics.observeOperation(op, err) }()

	if len(clanRoleIDs) == 0 {
		return nil, validationError(op, "Select at least one clan to leave!")
	}
	m, options, err := s.leaveOptions(ctx, actor)
	if err != nil {
		return nil, err
	}
	byRole := make(map[string]Clan, len(options))
	for _, c := range options {
		byRole[c.ClanRoleID] = c
	}

	chosen := make([]Clan, 0, len(clanRoleIDs))
	roleIDs := make([]string, 0, len(clanRoleIDs))
	for _, id := range clanRoleIDs {
		c, ok := byRole[id]
		if !ok {
			return nil, preconditionError(op, "You aren't a member of that clan!")
		}
		chosen = append(chosen, c)
		roleIDs = append(roleIDs, id)
	}
	if err = s.gate.Check(ctx, actor.GuildID, []*discordgo.Member{m}, roleIDs...); err != nil {
		return nil, err
	}

	for _, c := range chosen {
		if e := s.provider.MemberRoleRemove(ctx, actor.GuildID, actor.UserID, c.ClanRoleID); e != nil {
			return left, directoryError(op, e)
		}
		left = append(left, c)
	}
	s.log(ctx).InfoContext(ctx, "member left clans", "count", len(left))
	return left, nil
}

// TransferOwnership makes newOwnerID, a current member of the actor's
// clan, its owner
func (s *ClanService) TransferOwnership(ctx context.Context, actor Actor, newOwnerID string) (
	clan *Clan,
	err error,
) {
	const op = "transfer ownership"
	defer func() { s.metrics.observeOperation(op, err) }()

	target, err := s.member(ctx, op, actor, newOwnerID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockClan(actor.GuildID, actor.UserID, newOwnerID)
	defer unlock()

	clan, err = s.requireOwned(ctx, op, actor.GuildID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !memberHasRole(target, clan.ClanRoleID) {
		return nil, preconditionError(op, msgTargetNotInClan)
	}
	if err = s.requireNoClan(ctx, op, actor.GuildID, newOwnerID); err != nil {
		return nil, err
	}

	previous, err := s.provider.Member(ctx, actor.GuildID, actor.UserID)
	if err != nil {
		return nil, externalError(op, err)
	}
	members := []*discordgo.Member{target}
	if previous != nil {
		members = append(members, previous)
	}
	err = s.gate.Check(ctx, clan.GuildID, members, clan.OwnerRoleID, clan.ClanRoleID)
	if err != nil {
		return nil, err
	}

	if err = s.swapOwnership(ctx, op, clan, newOwnerID); err != nil {
		return nil, err
	}
	return clan, nil
}

func (s *ClanService) requireNoClan(ctx context.Context, op, guildID, userID string) error {
	owned, err := s.repo.GetByOwner(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if owned != nil {
		return preconditionError(op, msgTargetOwnsClan)
	}
	return nil
}

type transferStep struct {
	name string
	// tolerateMissing treats an unknown member as done, for a previous
	// owner who has left the guild
	tolerateMissing bool
	apply           func(ctx context.Context) error
}

// swapOwnership moves the owner role from the current owner to
// newOwnerID and the clan role the other way, then updates the owner
// column. The column is only written once every role change succeeded.
// The caller holds the locks for both owners.
func (s *ClanService) swapOwnership(
	ctx context.Context,
	op string,
	clan *Clan,
	newOwnerID string,
) error {
	logger := s.log(ctx)
	guildID := clan.GuildID
	previousOwnerID := clan.OwnerID

	steps := []transferStep{
		{
			name:            "removed the owner role from the previous owner",
			tolerateMissing: true,
			apply: func(ctx context.Context) error {
				return s.provider.MemberRoleRemove(ctx, guildID, previousOwnerID, clan.OwnerRoleID)
			},
		},
		{
			name:            "gave the clan role to the previous owner",
			tolerateMissing: true,
			apply: func(ctx context.Context) error {
				return s.provider.MemberRoleAdd(ctx, guildID, previousOwnerID, clan.ClanRoleID)
			},
		},
		{
			name: "gave the owner role to the new owner",
			apply: func(ctx context.Context) error {
				return s.provider.MemberRoleAdd(ctx, guildID, newOwnerID, clan.OwnerRoleID)
			},
		},
		{
			name: "removed the clan role from the new owner",
			apply: func(ctx context.Context) error {
				return s.provider.MemberRoleRemove(ctx, guildID, newOwnerID, clan.ClanRoleID)
			},
		},
	}

	completed := make([]string, 0, len(steps))
	for _, step := range steps {
		err := step.apply(ctx)
		if err != nil && !(step.tolerateMissing && isNotFound(err)) {
			transferErr := &TransferError{Completed: completed, Failed: step.name, Err: err}
			logger.ErrorContext(
				ctx,
				"ownership transfer interrupted, roles need reconciling",
				tint.Err(transferErr),
				"clan", clan,
				"new_owner_id", newOwnerID,
				"completed", completed,
				"failed", step.name,
			)
			s.metrics.observeFailure("partial_transfer")
			return transferErr
		}
		completed = append(completed, step.name)
	}

	if err := s.repo.UpdateOwner(ctx, guildID, previousOwnerID, newOwnerID); err != nil {
		logger.ErrorContext(
			ctx,
			"roles swapped but owner not stored",
			tint.Err(err),
			"clan", clan,
			"new_owner_id", newOwnerID,
		)
		return err
	}
	s.invalidate(ctx, guildID, previousOwnerID)
	clan.OwnerID = newOwnerID
	logger.InfoContext(
		ctx,
		"transferred clan ownership",
		"clan", clan,
		"previous_owner_id", previousOwnerID,
	)
	return nil
}
