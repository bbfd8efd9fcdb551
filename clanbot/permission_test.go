package clanbot

import (
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestPermissionGate_Authorize(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	gate := NewPermissionGate(f.repo, f.provider)
	ctx := context.Background()

	admin := Actor{
		GuildID:     testGuildID,
		UserID:      testMemberID,
		Permissions: discordgo.PermissionAdministrator,
	}
	supporter := testActor(testOwnerID, testSupporter)
	member := testActor(testMemberID)

	testCases := []struct {
		name    string
		actor   Actor
		op      Operation
		wantErr error
		system  bool
	}{
		{name: "admin may use admin commands", actor: admin, op: OpAdminSet},
		{name: "admin misc", actor: admin, op: OpAdminMisc},
		{
			name:    "non-admin rejected from admin commands",
			actor:   supporter,
			op:      OpAdminMisc,
			wantErr: ErrPrecondition,
		},
		{name: "supporter may create", actor: supporter, op: OpCreate, system: true},
		{name: "supporter may open menu", actor: supporter, op: OpMenu, system: true},
		{
			name:    "member without supporter role",
			actor:   member,
			op:      OpInvite,
			wantErr: ErrPrecondition,
		},
		{name: "leave doesn't need supporter", actor: member, op: OpLeave, system: true},
		{name: "details doesn't need supporter", actor: member, op: OpDetails, system: true},
		{
			name:    "outside a guild",
			actor:   Actor{UserID: testOwnerID, Roles: []string{testSupporter}},
			op:      OpMenu,
			wantErr: ErrPrecondition,
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				system, err := gate.Authorize(ctx, tc.actor, tc.op)
				if tc.wantErr != nil {
					require.ErrorIs(t, err, tc.wantErr)
					assert.Nil(t, system)
					return
				}
				require.NoError(t, err)
				if tc.system {
					require.NotNil(t, system)
					assert.Equal(t, testSupporter, system.RoleID)
				} else {
					assert.Nil(t, system)
				}
			},
		)
	}
}

func TestPermissionGate_Authorize_SupporterMessage(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	gate := NewPermissionGate(f.repo, f.provider)

	_, err := gate.Authorize(context.Background(), testActor(testMemberID), OpKick)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(
		t,
		"You need the <@&"+testSupporter+"> role to use this command!",
		UserMessage(err),
	)
}

func TestPermissionGate_ResolveSystem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run(
		"no system", func(t *testing.T) {
			f := newServiceFixture(t)
			_, err := f.repo.ClearSystem(ctx, testGuildID)
			require.NoError(t, err)

			gate := NewPermissionGate(f.repo, f.provider)
			_, err = gate.Authorize(ctx, testActor(testOwnerID, testSupporter), OpMenu)
			require.ErrorIs(t, err, ErrPrecondition)
			assert.Equal(t, msgNoSystem, UserMessage(err))
		},
	)

	t.Run(
		"supporter role deleted", func(t *testing.T) {
			f := newServiceFixture(t)
			require.NoError(t, f.provider.RoleDelete(ctx, testGuildID, testSupporter))

			gate := NewPermissionGate(f.repo, f.provider)
			_, err := gate.ResolveSystem(ctx, testGuildID)
			require.ErrorIs(t, err, ErrResourceStale)
			assert.Equal(t, msgReconfigure, UserMessage(err))
		},
	)

	t.Run(
		"category deleted", func(t *testing.T) {
			f := newServiceFixture(t)
			require.NoError(t, f.provider.ChannelDelete(ctx, testCategoryID))

			gate := NewPermissionGate(f.repo, f.provider)
			_, err := gate.ResolveSystem(ctx, testGuildID)
			require.ErrorIs(t, err, ErrResourceStale)
		},
	)

	t.Run(
		"lookup failure", func(t *testing.T) {
			f := newServiceFixture(t)
			f.provider.failOn("Role", assert.AnError)

			gate := NewPermissionGate(f.repo, f.provider)
			_, err := gate.ResolveSystem(ctx, testGuildID)
			require.ErrorIs(t, err, ErrExternalOperation)
			require.ErrorIs(t, err, assert.AnError)
			assert.Equal(t, DefaultDiscordErrorMessage, UserMessage(err))
		},
	)
}

func TestPermissionGate_Check(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	gate := NewPermissionGate(f.repo, f.provider)
	ctx := context.Background()

	below := f.provider.addRole("below", 5)
	above := f.provider.addRole("above", testBotRoleTop+1)
	level := f.provider.addRole("level", testBotRoleTop)

	require.NoError(t, gate.CheckRoles(ctx, testGuildID, below.ID, testSupporter))

	err := gate.CheckRoles(ctx, testGuildID, below.ID, above.ID)
	require.ErrorIs(t, err, ErrHierarchyTooLow)
	assert.Equal(t, msgHierarchyFix, UserMessage(err))

	err = gate.CheckRoles(ctx, testGuildID, level.ID)
	require.ErrorIs(t, err, ErrHierarchyTooLow)

	err = gate.CheckRoles(ctx, testGuildID, "200000000000009999")
	require.ErrorIs(t, err, ErrResourceStale)

	low := &discordgo.Member{Roles: []string{below.ID}}
	high := &discordgo.Member{Roles: []string{below.ID, above.ID}}
	require.NoError(t, gate.Check(ctx, testGuildID, []*discordgo.Member{low}))

	err = gate.Check(ctx, testGuildID, []*discordgo.Member{low, high}, below.ID)
	require.ErrorIs(t, err, ErrHierarchyTooLow)

	f.provider.failOn("Roles", errors.New("gateway hiccup"))
	err = gate.CheckRoles(ctx, testGuildID, below.ID)
	require.ErrorIs(t, err, ErrExternalOperation)
}

func TestActor(t *testing.T) {
	t.Parallel()
	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			GuildID: testGuildID,
			Member:  testMember(testOwnerID, testSupporter),
		},
	}
	i.Member.Permissions = discordgo.PermissionAdministrator

	actor := actorFromInteraction(i)
	assert.Equal(t, testGuildID, actor.GuildID)
	assert.Equal(t, testOwnerID, actor.UserID)
	assert.True(t, actor.HasRole(testSupporter))
	assert.False(t, actor.HasRole(testBotRoleID))
	assert.True(t, actor.IsAdmin())

	dm := actorFromInteraction(
		&discordgo.InteractionCreate{
			Interaction: &discordgo.Interaction{User: &discordgo.User{ID: testMemberID}},
		},
	)
	assert.Equal(t, testMemberID, dm.UserID)
	assert.Empty(t, dm.GuildID)
	assert.False(t, dm.IsAdmin())
}
