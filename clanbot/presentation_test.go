package clanbot

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestRenderClan(t *testing.T) {
	t.Parallel()
	clan := Clan{GuildID: testGuildID, OwnerID: testOwnerID, Name: "Knights"}

	t.Run(
		"all resources present", func(t *testing.T) {
			d := renderClan(
				ClanView{
					Clan:            clan,
					OwnerRole:       &discordgo.Role{ID: "200000000000000001"},
					ClanRole:        &discordgo.Role{ID: "200000000000000002", Color: 0x00FF00},
					TextChannel:     &discordgo.Channel{ID: "200000000000000003"},
					VoiceChannel:    &discordgo.Channel{ID: "200000000000000004"},
					ClanRoleHolders: 3,
				},
			)
			assert.Equal(t, "Knights", d.Name)
			assert.Equal(t, 4, d.MemberCount)
			assert.Equal(t, "<@&200000000000000001>", d.OwnerRole)
			assert.Equal(t, "<@&200000000000000002>", d.ClanRole)
			assert.Equal(t, "#00FF00", d.ColorHex)
			assert.Equal(t, "<#200000000000000003>", d.TextChannel)
			assert.Equal(t, "<#200000000000000004>", d.VoiceChannel)

			embed := d.Embed()
			assert.Equal(t, "Clan Knights", embed.Title)
			assert.Equal(t, fmt.Sprintf("Owned by <@%s>", testOwnerID), embed.Description)
			assert.Equal(t, 0x00FF00, embed.Color)
			require.Len(t, embed.Fields, 6)
			assert.Equal(t, "4", embed.Fields[0].Value)
		},
	)

	t.Run(
		"missing resources", func(t *testing.T) {
			d := renderClan(ClanView{Clan: clan})
			assert.Equal(t, 1, d.MemberCount)
			for _, v := range []string{
				d.OwnerRole,
				d.ClanRole,
				d.ColorHex,
				d.TextChannel,
				d.VoiceChannel,
			} {
				assert.Equal(t, displayNone, v)
			}
			assert.Equal(t, colorEmbedDefault, d.Embed().Color)
		},
	)
}

func TestHexColor(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		input    string
		expected int
		wantErr  bool
	}{
		{input: "#00FF00", expected: 0x00FF00},
		{input: "ff0000", expected: 0xFF0000},
		{input: " #5865f2 ", expected: 0x5865F2},
		{input: "#000000", expected: 0},
		{input: "#FFF", wantErr: true},
		{input: "#GGGGGG", wantErr: true},
		{input: "", wantErr: true},
		{input: "#00FF00FF", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(
			tc.input, func(t *testing.T) {
				got, err := parseHexColor(tc.input)
				if tc.wantErr {
					require.ErrorIs(t, err, ErrValidation)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.expected, got)
			},
		)
	}

	assert.Equal(t, "#00FF00", formatHexColor(0x00FF00))
	assert.Equal(t, "#000000", formatHexColor(0))
	assert.Equal(t, "#ABCDEF", formatHexColor(0x7FABCDEF))
}

func TestMainMenuComponents(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		hasClan bool
	}{
		{name: "without clan", hasClan: false},
		{name: "with clan", hasClan: true},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				rows := mainMenuComponents("session", tc.hasClan)
				require.Len(t, rows, 1)
				buttons := rows[0].(discordgo.ActionsRow).Components
				require.Len(t, buttons, 3)

				disabled := map[string]bool{}
				for _, c := range buttons {
					b := c.(discordgo.Button)
					action, sessionID, err := decodeCustomID(b.CustomID)
					require.NoError(t, err)
					assert.Equal(t, "session", sessionID)
					disabled[action] = b.Disabled
				}
				assert.Equal(t, tc.hasClan, disabled[actionMenuCreate])
				assert.Equal(t, !tc.hasClan, disabled[actionMenuModify])
				assert.Equal(t, !tc.hasClan, disabled[actionMenuDelete])
			},
		)
	}
}

func TestModifyMenuComponents(t *testing.T) {
	t.Parallel()
	rows := modifyMenuComponents("session")
	require.Len(t, rows, 2)
	assert.Len(t, rows[0].(discordgo.ActionsRow).Components, 5)
	assert.Len(t, rows[1].(discordgo.ActionsRow).Components, 2)
	assert.Equal(
		t,
		newCustomID(actionModifyBack, "session"),
		findCustomID(t, rows, actionModifyBack),
	)
}

func TestLeaveSelectComponents(t *testing.T) {
	t.Parallel()
	var clans []Clan
	for i := 0; i < 30; i++ {
		clans = append(
			clans, Clan{
				Name:       fmt.Sprintf("Clan %d", i),
				ClanRoleID: fmt.Sprintf("3000000000000000%02d", i),
			},
		)
	}

	rows := leaveSelectComponents("session", clans)
	require.Len(t, rows, 1)
	menu := rows[0].(discordgo.ActionsRow).Components[0].(discordgo.SelectMenu)
	require.Len(t, menu.Options, discordMaxSelectOptions)
	assert.Equal(t, discordMaxSelectOptions, menu.MaxValues)
	assert.Equal(t, "Clan 0", menu.Options[0].Label)
	assert.Equal(t, "300000000000000000", menu.Options[0].Value)
	assert.Equal(t, newCustomID(actionLeavePick, "session"), menu.CustomID)
}

func TestDisableComponents(t *testing.T) {
	t.Parallel()
	rows := []discordgo.MessageComponent{
		&discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				&discordgo.Button{Label: "pointer", CustomID: "a:b"},
				discordgo.Button{Label: "value", CustomID: "c:d"},
			},
		},
	}
	rows = append(rows, transferSelectComponents("session")...)

	disabled := disableComponents(rows)
	require.Len(t, disabled, 2)

	first := disabled[0].(discordgo.ActionsRow)
	require.Len(t, first.Components, 2)
	for _, c := range first.Components {
		assert.True(t, c.(discordgo.Button).Disabled)
	}

	menu := disabled[1].(discordgo.ActionsRow).Components[0].(discordgo.SelectMenu)
	assert.True(t, menu.Disabled)

	// the originals aren't modified
	assert.False(t, rows[0].(*discordgo.ActionsRow).Components[0].(*discordgo.Button).Disabled)
	assert.False(
		t,
		rows[1].(discordgo.ActionsRow).Components[0].(discordgo.SelectMenu).Disabled,
	)
}

func TestTextModal(t *testing.T) {
	t.Parallel()
	resp := textModal(
		newCustomID(actionRenameSubmit, "session"),
		"Rename the clan with a really long title that won't fit",
		inputClanName,
		"Clan name",
		"Knights",
		"Knights",
		ClanNameMinLength,
		ClanNameMaxLength,
	)
	assert.Equal(t, discordgo.InteractionResponseModal, resp.Type)
	assert.Len(t, []rune(resp.Data.Title), discordModalTitleMaxLength)

	input := resp.Data.Components[0].(discordgo.ActionsRow).Components[0].(discordgo.TextInput)
	assert.Equal(t, inputClanName, input.CustomID)
	assert.Equal(t, "Knights", input.Value)
	assert.Equal(t, ClanNameMaxLength, input.MaxLength)
	assert.True(t, input.Required)
}

func TestMentions(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "<@1>", userMention("1"))
	assert.Equal(t, "<@&2>", roleMention("2"))
	assert.Equal(t, "<#3>", channelMention("3"))
}
