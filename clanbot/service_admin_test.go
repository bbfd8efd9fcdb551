package clanbot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestSetSystem(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.SetSystem(ctx, testGuildID, testSupporter, testCategoryID)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, msgSystemExists, UserMessage(err))

	require.NoError(t, f.service.ClearSystem(ctx, testGuildID))
	err = f.service.ClearSystem(ctx, testGuildID)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, msgNoSystem, UserMessage(err))

	patrons := f.provider.addRole("patrons", 4)
	category := f.provider.addChannel("guilds", discordgo.ChannelTypeGuildCategory, "")
	system, err := f.service.SetSystem(ctx, testGuildID, patrons.ID, category.ID)
	require.NoError(t, err)
	assert.Equal(t, patrons.ID, system.RoleID)
	assert.Equal(t, category.ID, system.CategoryID)

	stored, err := f.service.GetSystem(ctx, testGuildID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, patrons.ID, stored.RoleID)

	systems, err := f.service.ListSystems(ctx)
	require.NoError(t, err)
	require.Len(t, systems, 1)
}

func TestSetSystem_Rejected(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	clan := f.createClan(t, testOwnerID, "Knights")
	require.NoError(t, f.service.ClearSystem(ctx, testGuildID))

	managed := f.provider.addRole("integration", 4)
	f.provider.mu.Lock()
	f.provider.roles[managed.ID].Managed = true
	f.provider.mu.Unlock()
	text := f.provider.addChannel("general", discordgo.ChannelTypeGuildText, "")

	testCases := []struct {
		name       string
		roleID     string
		categoryID string
		message    string
	}{
		{
			name:       "everyone",
			roleID:     testGuildID,
			categoryID: testCategoryID,
			message:    "The @everyone role can't be used!",
		},
		{
			name:       "unknown role",
			roleID:     "100000000000000777",
			categoryID: testCategoryID,
			message:    "That role doesn't exist!",
		},
		{
			name:       "managed role",
			roleID:     managed.ID,
			categoryID: testCategoryID,
			message:    roleMention(managed.ID) + " is managed by an integration and can't be used!",
		},
		{
			name:       "clan role",
			roleID:     clan.ClanRoleID,
			categoryID: testCategoryID,
			message:    msgRoleAlreadyUsed,
		},
		{
			name:       "not a category",
			roleID:     testSupporter,
			categoryID: text.ID,
			message:    "That channel isn't a category in this server!",
		},
		{
			name:       "unknown category",
			roleID:     testSupporter,
			categoryID: "100000000000000778",
			message:    "That channel isn't a category in this server!",
		},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				_, err := f.service.SetSystem(ctx, testGuildID, tc.roleID, tc.categoryID)
				require.ErrorIs(t, err, ErrValidation)
				assert.Equal(t, tc.message, UserMessage(err))
			},
		)
	}

	system, err := f.service.GetSystem(ctx, testGuildID)
	require.NoError(t, err)
	assert.Nil(t, system)
}

func TestSystemInfo(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	f.createClan(t, testOwnerID, "Knights")
	f.createClan(t, testOtherID, "Templars")

	info, err := f.service.SystemInfo(ctx, testGuildID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.ClanCount)
	assert.Equal(t, testSupporter, info.System.RoleID)

	embed := info.Embed()
	assert.Equal(t, "Clan system", embed.Title)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, roleMention(testSupporter), embed.Fields[0].Value)
	assert.Equal(t, channelMention(testCategoryID), embed.Fields[1].Value)
	assert.Equal(t, "2", embed.Fields[2].Value)

	require.NoError(t, f.provider.ChannelDelete(ctx, testCategoryID))
	_, err = f.service.SystemInfo(ctx, testGuildID)
	require.ErrorIs(t, err, ErrResourceStale)
	assert.Equal(t, msgReconfigure, UserMessage(err))
}

func TestAssignRoles(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	ownerRole := f.provider.addRole("Hospitallers", 6)
	clanRole := f.provider.addRole("Hospitallers members", 5)

	clan, err := f.service.AssignRoles(ctx, testGuildID, testMemberID, ownerRole.ID, clanRole.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hospitallers", clan.Name)
	assert.Nil(t, clan.TextChannelID)
	assert.Nil(t, clan.VoiceChannelID)

	roles := f.provider.memberRoles(testMemberID)
	assert.Contains(t, roles, testSupporter)
	assert.Contains(t, roles, ownerRole.ID)
	assert.NotContains(t, roles, clanRole.ID)

	stored := f.clan(t, testMemberID)
	require.NotNil(t, stored)
	assert.Equal(t, ownerRole.ID, stored.OwnerRoleID)
	assert.Equal(t, clanRole.ID, stored.ClanRoleID)

	// reassigning the same roles to the same member is allowed
	_, err = f.service.AssignRoles(ctx, testGuildID, testMemberID, ownerRole.ID, clanRole.ID)
	require.NoError(t, err)
}

func TestAssignRoles_ReplacesExistingClan(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	previous := f.createClan(t, testOwnerID, "Knights")
	ownerRole := f.provider.addRole("Templars", 6)
	clanRole := f.provider.addRole("Templars members", 5)

	menu := f.sessions.Open(
		SessionOptions{
			UserID:  testOwnerID,
			GuildID: testGuildID,
			OwnerID: testOwnerID,
			Purpose: PurposeMenu,
			Timeout: time.Minute,
		},
	)

	_, err := f.service.AssignRoles(ctx, testGuildID, testOwnerID, ownerRole.ID, clanRole.ID)
	require.NoError(t, err)

	stored := f.clan(t, testOwnerID)
	require.NotNil(t, stored)
	assert.Equal(t, "Templars", stored.Name)
	assert.Equal(t, ownerRole.ID, stored.OwnerRoleID)
	assert.Nil(t, stored.TextChannelID)
	assert.Equal(t, SessionCancelled, menu.State())

	// the previous clan's roles are left in place
	assert.NotNil(t, f.provider.role(previous.OwnerRoleID))
}

func TestAssignRoles_Rejected(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	knights := f.createClan(t, testOwnerID, "Knights")
	ownerRole := f.provider.addRole("Templars", 6)
	clanRole := f.provider.addRole("Templars members", 5)
	high := f.provider.addRole("above the bot", testBotRoleTop+1)
	const botID = "100000000000000020"
	f.provider.addMember(botID, true)

	testCases := []struct {
		name      string
		memberID  string
		ownerRole string
		clanRole  string
		wantIs    error
		message   string
	}{
		{
			name:      "same role",
			memberID:  testMemberID,
			ownerRole: ownerRole.ID,
			clanRole:  ownerRole.ID,
			wantIs:    ErrValidation,
			message:   "The owner role and the clan role must be different!",
		},
		{
			name:      "supporter role",
			memberID:  testMemberID,
			ownerRole: testSupporter,
			clanRole:  clanRole.ID,
			wantIs:    ErrValidation,
			message:   msgRoleAlreadyUsed,
		},
		{
			name:      "another owner's role",
			memberID:  testMemberID,
			ownerRole: ownerRole.ID,
			clanRole:  knights.ClanRoleID,
			wantIs:    ErrValidation,
			message:   msgRoleAlreadyUsed,
		},
		{
			name:      "everyone",
			memberID:  testMemberID,
			ownerRole: testGuildID,
			clanRole:  clanRole.ID,
			wantIs:    ErrValidation,
			message:   "The @everyone role can't be used!",
		},
		{
			name:      "bot member",
			memberID:  botID,
			ownerRole: ownerRole.ID,
			clanRole:  clanRole.ID,
			wantIs:    ErrPrecondition,
			message:   msgTargetBot,
		},
		{
			name:      "unknown member",
			memberID:  "100000000000000077",
			ownerRole: ownerRole.ID,
			clanRole:  clanRole.ID,
			wantIs:    ErrPrecondition,
			message:   msgTargetNotMember,
		},
		{
			name:      "role above the bot",
			memberID:  testMemberID,
			ownerRole: high.ID,
			clanRole:  clanRole.ID,
			wantIs:    ErrHierarchyTooLow,
			message:   msgHierarchyFix,
		},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				_, err := f.service.AssignRoles(ctx, testGuildID, tc.memberID, tc.ownerRole, tc.clanRole)
				require.ErrorIs(t, err, tc.wantIs)
				assert.Equal(t, tc.message, UserMessage(err))
			},
		)
	}
	assert.Nil(t, f.clan(t, testMemberID))
}

func TestAssignChannels(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	f.createClan(t, testOwnerID, "Knights")

	text := f.provider.addChannel("round-table", discordgo.ChannelTypeGuildText, testCategoryID)
	voice := f.provider.addChannel("war-room", discordgo.ChannelTypeGuildVoice, testCategoryID)
	outside := f.provider.addChannel("general", discordgo.ChannelTypeGuildText, "")

	clan, err := f.service.AssignChannels(ctx, testGuildID, testOwnerID, text.ID, "")
	require.NoError(t, err)
	assert.Equal(t, text.ID, stringPointerValue(clan.TextChannelID))

	stored := f.clan(t, testOwnerID)
	assert.Equal(t, text.ID, stringPointerValue(stored.TextChannelID))
	voiceBefore := stringPointerValue(stored.VoiceChannelID)
	assert.NotEmpty(t, voiceBefore)

	_, err = f.service.AssignChannels(ctx, testGuildID, testOwnerID, "", voice.ID)
	require.NoError(t, err)
	assert.Equal(t, voice.ID, stringPointerValue(f.clan(t, testOwnerID).VoiceChannelID))

	testCases := []struct {
		name     string
		memberID string
		text     string
		voice    string
		wantIs   error
		message  string
	}{
		{
			name:     "nothing provided",
			memberID: testOwnerID,
			wantIs:   ErrValidation,
			message:  "Provide at least one channel!",
		},
		{
			name:     "no clan",
			memberID: testMemberID,
			text:     text.ID,
			wantIs:   ErrPrecondition,
			message:  msgMemberNoClan,
		},
		{
			name:     "wrong type",
			memberID: testOwnerID,
			voice:    text.ID,
			wantIs:   ErrValidation,
			message:  channelMention(text.ID) + " isn't a voice channel!",
		},
		{
			name:     "outside category",
			memberID: testOwnerID,
			text:     outside.ID,
			wantIs:   ErrValidation,
			message:  "The text channel provided is not from " + channelMention(testCategoryID),
		},
		{
			name:     "unknown channel",
			memberID: testOwnerID,
			text:     "100000000000000777",
			wantIs:   ErrValidation,
			message:  "The text channel provided doesn't exist!",
		},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				_, err := f.service.AssignChannels(ctx, testGuildID, tc.memberID, tc.text, tc.voice)
				require.ErrorIs(t, err, tc.wantIs)
				assert.Equal(t, tc.message, UserMessage(err))
			},
		)
	}
}

func TestAdminDelete(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	clan := f.createClan(t, testOwnerID, "Knights")

	_, err := f.service.AdminDelete(ctx, testGuildID, testMemberID)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, msgMemberNoClan, UserMessage(err))

	deleted, err := f.service.AdminDelete(ctx, testGuildID, testOwnerID)
	require.NoError(t, err)
	assert.Equal(t, clan.ClanRoleID, deleted.ClanRoleID)
	assert.Nil(t, f.clan(t, testOwnerID))
	assert.Nil(t, f.provider.role(clan.OwnerRoleID))
	assert.Nil(t, f.provider.role(clan.ClanRoleID))
}

func TestAdminDelete_RoleAboveBot(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	clan := f.createClan(t, testOwnerID, "Knights")
	f.provider.setRolePosition(clan.ClanRoleID, testBotRoleTop)

	_, err := f.service.AdminDelete(context.Background(), testGuildID, testOwnerID)
	require.ErrorIs(t, err, ErrHierarchyTooLow)
	assert.NotNil(t, f.clan(t, testOwnerID))
	assert.NotNil(t, f.provider.role(clan.ClanRoleID))
	assert.NotNil(t, f.provider.role(clan.OwnerRoleID))
}

func TestAdminTransfer(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	clan := f.createClan(t, testOwnerID, "Knights")

	_, err := f.service.AdminTransfer(ctx, testGuildID, testOwnerID, testOwnerID)
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.service.AdminTransfer(ctx, testGuildID, testMemberID, testOtherID)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, msgMemberNoClan, UserMessage(err))

	// the new owner doesn't need to be in the clan
	transferred, err := f.service.AdminTransfer(ctx, testGuildID, testOwnerID, testOtherID)
	require.NoError(t, err)
	assert.Equal(t, testOtherID, transferred.OwnerID)
	assert.Nil(t, f.clan(t, testOwnerID))
	require.NotNil(t, f.clan(t, testOtherID))

	assert.Contains(t, f.provider.memberRoles(testOtherID), clan.OwnerRoleID)
	assert.NotContains(t, f.provider.memberRoles(testOwnerID), clan.OwnerRoleID)
	assert.Contains(t, f.provider.memberRoles(testOwnerID), clan.ClanRoleID)
}

func TestAdminTransfer_PreviousOwnerLeft(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	clan := f.createClan(t, testOwnerID, "Knights")

	f.provider.mu.Lock()
	delete(f.provider.members, testOwnerID)
	f.provider.mu.Unlock()

	_, err := f.service.AdminTransfer(ctx, testGuildID, testOwnerID, testMemberID)
	require.NoError(t, err)
	stored := f.clan(t, testMemberID)
	require.NotNil(t, stored)
	assert.Equal(t, clan.OwnerRoleID, stored.OwnerRoleID)
	assert.Contains(t, f.provider.memberRoles(testMemberID), clan.OwnerRoleID)
}

func TestAdminTransfer_PreviousOwnerAboveBot(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	clan := f.createClan(t, testOwnerID, "Knights")
	mod := f.provider.addRole("moderators", testBotRoleTop+1)
	f.provider.addMember(testOwnerID, false, testSupporter, mod.ID, clan.OwnerRoleID)

	_, err := f.service.AdminTransfer(context.Background(), testGuildID, testOwnerID, testMemberID)
	require.ErrorIs(t, err, ErrHierarchyTooLow)
	assert.NotNil(t, f.clan(t, testOwnerID))
	assert.Contains(t, f.provider.memberRoles(testOwnerID), clan.OwnerRoleID)
	assert.NotContains(t, f.provider.memberRoles(testMemberID), clan.OwnerRoleID)
}

func TestAdminTransfer_NewOwnerHasClan(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	f.createClan(t, testOwnerID, "Knights")
	f.createClan(t, testOtherID, "Templars")

	_, err := f.service.AdminTransfer(ctx, testGuildID, testOwnerID, testOtherID)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, msgTargetOwnsClan, UserMessage(err))
}

func TestHandleRoleDeleted(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	knights := f.createClan(t, testOwnerID, "Knights")
	templars := f.createClan(t, testOtherID, "Templars")

	menu := f.sessions.Open(
		SessionOptions{
			UserID:  testOwnerID,
			GuildID: testGuildID,
			OwnerID: testOwnerID,
			Purpose: PurposeMenu,
			Timeout: time.Minute,
		},
	)

	require.NoError(t, f.provider.RoleDelete(ctx, testGuildID, knights.ClanRoleID))
	require.NoError(t, f.service.HandleRoleDeleted(ctx, testGuildID, knights.ClanRoleID))
	assert.Nil(t, f.clan(t, testOwnerID))
	assert.NotNil(t, f.clan(t, testOtherID))
	assert.Equal(t, SessionCancelled, menu.State())

	// the clan's other resources are left for staff to clean up
	assert.NotNil(t, f.provider.role(knights.OwnerRoleID))
	assert.NotNil(t, f.provider.channel(*knights.TextChannelID))

	require.NoError(t, f.service.HandleRoleDeleted(ctx, testGuildID, testSupporter))
	system, err := f.service.GetSystem(ctx, testGuildID)
	require.NoError(t, err)
	assert.Nil(t, system)
	assert.NotNil(t, f.clan(t, testOtherID))

	require.NoError(t, f.service.HandleRoleDeleted(ctx, testGuildID, templars.OwnerRoleID))
	assert.Nil(t, f.clan(t, testOtherID))

	// roles the bot doesn't track are ignored
	require.NoError(t, f.service.HandleRoleDeleted(ctx, testGuildID, "100000000000000777"))
}

func TestHandleChannelDeleted(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	clan := f.createClan(t, testOwnerID, "Knights")

	require.NoError(t, f.service.HandleChannelDeleted(ctx, testGuildID, *clan.TextChannelID))
	stored := f.clan(t, testOwnerID)
	require.NotNil(t, stored)
	assert.Nil(t, stored.TextChannelID)
	assert.Equal(t, *clan.VoiceChannelID, stringPointerValue(stored.VoiceChannelID))

	require.NoError(t, f.service.HandleChannelDeleted(ctx, testGuildID, testCategoryID))
	system, err := f.service.GetSystem(ctx, testGuildID)
	require.NoError(t, err)
	assert.Nil(t, system)
	assert.NotNil(t, f.clan(t, testOwnerID))
}

func TestListClans(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()
	f.createClan(t, testOtherID, "Templars")
	f.createClan(t, testOwnerID, "Knights")

	clans, err := f.service.ListClans(ctx, testGuildID)
	require.NoError(t, err)
	require.Len(t, clans, 2)
	assert.Equal(t, "Knights", clans[0].Name)
	assert.Equal(t, "Templars", clans[1].Name)

	all, err := f.service.ListClans(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := f.service.ListClans(ctx, "100000000000000999")
	require.NoError(t, err)
	assert.Empty(t, none)
}
