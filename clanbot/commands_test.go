package clanbot

import (
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"regexp"
	"testing"
)

// discord's naming rule for commands and options
var commandNamePattern = regexp.MustCompile(`^[-_\p{Ll}\p{N}]{1,32}$`)

func walkOptions(
	t *testing.T,
	options []*discordgo.ApplicationCommandOption,
	visit func(opt *discordgo.ApplicationCommandOption),
) {
	t.Helper()
	for _, opt := range options {
		visit(opt)
		walkOptions(t, opt.Options, visit)
	}
}

func TestApplicationCommands(t *testing.T) {
	t.Parallel()
	commands := applicationCommands()
	require.Len(t, commands, 2)

	for _, cmd := range commands {
		assert.Regexp(t, commandNamePattern, cmd.Name)
		assert.NotEmpty(t, cmd.Description)
		require.NotNil(t, cmd.DMPermission)
		assert.False(t, *cmd.DMPermission)

		walkOptions(
			t, cmd.Options, func(opt *discordgo.ApplicationCommandOption) {
				assert.Regexp(t, commandNamePattern, opt.Name)
				assert.NotEmpty(t, opt.Description, opt.Name)
				assert.LessOrEqual(t, len(opt.Description), 100, opt.Name)
			},
		)
	}
}

func TestAppCommandClan(t *testing.T) {
	t.Parallel()
	cmd := appCommandClan()
	assert.Equal(t, CommandClan, cmd.Name)
	assert.Nil(t, cmd.DefaultMemberPermissions)

	var names []string
	for _, opt := range cmd.Options {
		assert.Equal(t, discordgo.ApplicationCommandOptionSubCommand, opt.Type)
		names = append(names, opt.Name)
	}
	assert.ElementsMatch(
		t,
		[]string{
			subcommandMenu,
			subcommandInvite,
			subcommandKick,
			subcommandLeave,
			subcommandDetails,
			subcommandRecreate,
		},
		names,
	)
}

func TestAppCommandClanAdmin(t *testing.T) {
	t.Parallel()
	cmd := appCommandClanAdmin()
	assert.Equal(t, CommandClanAdmin, cmd.Name)
	require.NotNil(t, cmd.DefaultMemberPermissions)
	assert.Equal(t, int64(discordgo.PermissionAdministrator), *cmd.DefaultMemberPermissions)

	var assign *discordgo.ApplicationCommandOption
	for _, opt := range cmd.Options {
		if opt.Name == subcommandAssign {
			assign = opt
		}
	}
	require.NotNil(t, assign)
	assert.Equal(t, discordgo.ApplicationCommandOptionSubCommandGroup, assign.Type)
	require.Len(t, assign.Options, 2)
	assert.Equal(t, subcommandRoles, assign.Options[0].Name)
	assert.Equal(t, subcommandChannels, assign.Options[1].Name)

	// both channels are optional, so either can be assigned alone
	for _, opt := range assign.Options[1].Options {
		if opt.Type == discordgo.ApplicationCommandOptionChannel {
			assert.False(t, opt.Required, opt.Name)
		}
	}
}
