package clanbot

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func newTestRepository(t testing.TB) ClanRepository {
	t.Helper()
	return NewClanRepository(NewDatabase(setupTestDB(t), nil, false), nil)
}

func testClan(ownerID, name, ownerRoleID, clanRoleID string) *Clan {
	return &Clan{
		GuildID:        testGuildID,
		OwnerID:        ownerID,
		Name:           name,
		OwnerRoleID:    ownerRoleID,
		ClanRoleID:     clanRoleID,
		TextChannelID:  stringPointer(ownerRoleID + "1"),
		VoiceChannelID: stringPointer(ownerRoleID + "2"),
	}
}

func TestRepository_System(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	system, err := repo.GetSystem(ctx, testGuildID)
	require.NoError(t, err)
	assert.Nil(t, system)

	require.NoError(
		t,
		repo.CreateSystem(
			ctx,
			&ClanSystem{GuildID: testGuildID, RoleID: testSupporter, CategoryID: testCategoryID},
		),
	)

	system, err = repo.GetSystem(ctx, testGuildID)
	require.NoError(t, err)
	require.NotNil(t, system)
	assert.Equal(t, testSupporter, system.RoleID)
	assert.Equal(t, testCategoryID, system.CategoryID)
	assert.NotZero(t, system.CreatedAt)

	err = repo.CreateSystem(
		ctx,
		&ClanSystem{GuildID: testGuildID, RoleID: "100000000000000077", CategoryID: "100000000000000078"},
	)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, msgSystemExists, UserMessage(err))

	systems, err := repo.ListSystems(ctx)
	require.NoError(t, err)
	assert.Len(t, systems, 1)

	deleted, err := repo.DeleteSystemByRole(ctx, testGuildID, "100000000000000077")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = repo.DeleteSystemByCategory(ctx, testGuildID, testCategoryID)
	require.NoError(t, err)
	assert.True(t, deleted)

	cleared, err := repo.ClearSystem(ctx, testGuildID)
	require.NoError(t, err)
	assert.False(t, cleared)

	require.NoError(
		t,
		repo.CreateSystem(
			ctx,
			&ClanSystem{GuildID: testGuildID, RoleID: testSupporter, CategoryID: testCategoryID},
		),
	)
	deleted, err = repo.DeleteSystemByRole(ctx, testGuildID, testSupporter)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestRepository_Clan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	clan, err := repo.GetByOwner(ctx, testGuildID, testOwnerID)
	require.NoError(t, err)
	assert.Nil(t, clan)

	knights := testClan(testOwnerID, "Knights", "200000000000000010", "200000000000000020")
	require.NoError(t, repo.Create(ctx, knights))
	assert.NotZero(t, knights.ID)

	rogues := testClan(testOtherID, "Rogues", "200000000000000030", "200000000000000040")
	require.NoError(t, repo.Create(ctx, rogues))

	clan, err = repo.GetByOwner(ctx, testGuildID, testOwnerID)
	require.NoError(t, err)
	require.NotNil(t, clan)
	assert.Equal(t, "Knights", clan.Name)
	assert.Equal(t, "2000000000000000101", *clan.TextChannelID)

	roleID, err := repo.GetRoleByOwner(ctx, testGuildID, testOwnerID)
	require.NoError(t, err)
	assert.Equal(t, knights.OwnerRoleID, roleID)

	roleID, err = repo.GetRoleByOwner(ctx, testGuildID, testMemberID)
	require.NoError(t, err)
	assert.Empty(t, roleID)

	ownerID, err := repo.GetOwnerByName(ctx, testGuildID, "Rogues")
	require.NoError(t, err)
	assert.Equal(t, testOtherID, ownerID)

	ownerID, err = repo.GetOwnerByName(ctx, testGuildID, "Pirates")
	require.NoError(t, err)
	assert.Empty(t, ownerID)

	clans, err := repo.GetByRole(ctx, testGuildID, rogues.ClanRoleID)
	require.NoError(t, err)
	require.Len(t, clans, 1)
	assert.Equal(t, testOtherID, clans[0].OwnerID)

	count, err := repo.CountByGuild(ctx, testGuildID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	clans, err = repo.ListByGuild(ctx, testGuildID)
	require.NoError(t, err)
	require.Len(t, clans, 2)
	assert.Equal(t, "Knights", clans[0].Name)
	assert.Equal(t, "Rogues", clans[1].Name)

	clans, err = repo.ListClans(ctx)
	require.NoError(t, err)
	assert.Len(t, clans, 2)

	deleted, err := repo.Delete(ctx, testGuildID, testOwnerID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, testGuildID, testOwnerID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRepository_CreateConflicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(
		t,
		repo.Create(ctx, testClan(testOwnerID, "Knights", "200000000000000010", "200000000000000020")),
	)

	err := repo.Create(
		ctx,
		testClan(testOwnerID, "Knights II", "200000000000000030", "200000000000000040"),
	)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, msgClanExists, UserMessage(err))

	// same owner in a different guild is fine
	elsewhere := testClan(testOwnerID, "Knights", "200000000000000050", "200000000000000060")
	elsewhere.GuildID = "100000000000000999"
	require.NoError(t, repo.Create(ctx, elsewhere))

	err = repo.Create(
		ctx,
		testClan(testOtherID, "Rogues", "200000000000000070", "200000000000000070"),
	)
	require.ErrorIs(t, err, ErrValidation)
}

func TestRepository_GetClansByRoleIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	knights := testClan(testOwnerID, "Knights", "200000000000000010", "200000000000000020")
	rogues := testClan(testOtherID, "Rogues", "200000000000000030", "200000000000000040")
	require.NoError(t, repo.Create(ctx, knights))
	require.NoError(t, repo.Create(ctx, rogues))

	clans, err := repo.GetClansByRoleIDs(ctx, testGuildID, nil)
	require.NoError(t, err)
	assert.NotNil(t, clans)
	assert.Empty(t, clans)

	// owner roles don't count as membership
	clans, err = repo.GetClansByRoleIDs(
		ctx,
		testGuildID,
		[]string{knights.OwnerRoleID, rogues.ClanRoleID, testSupporter},
	)
	require.NoError(t, err)
	require.Len(t, clans, 1)
	assert.Equal(t, "Rogues", clans[0].Name)

	clans, err = repo.GetClansByRoleIDs(
		ctx,
		testGuildID,
		[]string{knights.ClanRoleID, rogues.ClanRoleID},
	)
	require.NoError(t, err)
	require.Len(t, clans, 2)
	assert.Equal(t, "Knights", clans[0].Name)
}

func TestRepository_Updates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	knights := testClan(testOwnerID, "Knights", "200000000000000010", "200000000000000020")
	require.NoError(t, repo.Create(ctx, knights))
	require.NoError(
		t,
		repo.Create(ctx, testClan(testOtherID, "Rogues", "200000000000000030", "200000000000000040")),
	)

	require.NoError(t, repo.UpdateName(ctx, testGuildID, testOwnerID, "Paladins"))
	require.NoError(t, repo.UpdateTextChannel(ctx, testGuildID, testOwnerID, nil))
	require.NoError(
		t,
		repo.UpdateVoiceChannel(ctx, testGuildID, testOwnerID, stringPointer("200000000000000099")),
	)

	clan, err := repo.GetByOwner(ctx, testGuildID, testOwnerID)
	require.NoError(t, err)
	require.NotNil(t, clan)
	assert.Equal(t, "Paladins", clan.Name)
	assert.Nil(t, clan.TextChannelID)
	assert.Equal(t, "200000000000000099", stringPointerValue(clan.VoiceChannelID))

	err = repo.UpdateName(ctx, testGuildID, testMemberID, "Nobody")
	require.ErrorIs(t, err, ErrClanNotFound)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, msgNoClan, UserMessage(err))

	err = repo.UpdateOwner(ctx, testGuildID, testOwnerID, testOtherID)
	require.ErrorIs(t, err, ErrPrecondition)

	require.NoError(t, repo.UpdateOwner(ctx, testGuildID, testOwnerID, testMemberID))
	clan, err = repo.GetByOwner(ctx, testGuildID, testMemberID)
	require.NoError(t, err)
	require.NotNil(t, clan)
	assert.Equal(t, knights.OwnerRoleID, clan.OwnerRoleID)

	err = repo.UpdateOwner(ctx, testGuildID, testOwnerID, testMemberID)
	require.ErrorIs(t, err, ErrClanNotFound)
}

func TestRepository_Replace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(
		t,
		repo.Create(ctx, testClan(testOwnerID, "Knights", "200000000000000010", "200000000000000020")),
	)
	rogues := testClan(testOtherID, "Rogues", "200000000000000030", "200000000000000040")
	require.NoError(t, repo.Create(ctx, rogues))

	replacement := testClan(testOwnerID, "Paladins", "200000000000000050", "200000000000000060")
	require.NoError(t, repo.Replace(ctx, replacement))

	clan, err := repo.GetByOwner(ctx, testGuildID, testOwnerID)
	require.NoError(t, err)
	require.NotNil(t, clan)
	assert.Equal(t, "Paladins", clan.Name)
	assert.Equal(t, "200000000000000050", clan.OwnerRoleID)

	count, err := repo.CountByGuild(ctx, testGuildID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// roles belonging to another clan are rejected, and the existing
	// clan is left alone
	conflict := testClan(testOwnerID, "Thieves", rogues.OwnerRoleID, "200000000000000070")
	err = repo.Replace(ctx, conflict)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, msgRoleAlreadyUsed, UserMessage(err))

	clan, err = repo.GetByOwner(ctx, testGuildID, testOwnerID)
	require.NoError(t, err)
	require.NotNil(t, clan)
	assert.Equal(t, "Paladins", clan.Name)
}

func TestRepository_DeleteByRole(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	knights := testClan(testOwnerID, "Knights", "200000000000000010", "200000000000000020")
	rogues := testClan(testOtherID, "Rogues", "200000000000000030", "200000000000000040")
	require.NoError(t, repo.Create(ctx, knights))
	require.NoError(t, repo.Create(ctx, rogues))

	deleted, err := repo.DeleteByRole(ctx, testGuildID, "200000000000000099")
	require.NoError(t, err)
	assert.Empty(t, deleted)

	deleted, err = repo.DeleteByRole(ctx, testGuildID, knights.ClanRoleID)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, testOwnerID, deleted[0].OwnerID)

	clan, err := repo.GetByOwner(ctx, testGuildID, testOwnerID)
	require.NoError(t, err)
	assert.Nil(t, clan)

	clan, err = repo.GetByOwner(ctx, testGuildID, testOtherID)
	require.NoError(t, err)
	assert.NotNil(t, clan)
}

func TestRepository_ClearChannelReference(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	knights := testClan(testOwnerID, "Knights", "200000000000000010", "200000000000000020")
	require.NoError(t, repo.Create(ctx, knights))

	updated, err := repo.ClearChannelReference(ctx, testGuildID, "200000000000000099")
	require.NoError(t, err)
	assert.Empty(t, updated)

	updated, err = repo.ClearChannelReference(ctx, testGuildID, *knights.VoiceChannelID)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, testOwnerID, updated[0].OwnerID)

	clan, err := repo.GetByOwner(ctx, testGuildID, testOwnerID)
	require.NoError(t, err)
	require.NotNil(t, clan)
	assert.Nil(t, clan.VoiceChannelID)
	assert.Equal(t, *knights.TextChannelID, stringPointerValue(clan.TextChannelID))
}
