package clanbot

import (
	"github.com/bwmarrin/discordgo"
)

const (
	CommandClan      = "clan"
	CommandClanAdmin = "clan-admin"

	subcommandMenu       = "menu"
	subcommandInvite     = "invite"
	subcommandKick       = "kick"
	subcommandLeave      = "leave"
	subcommandDetails    = "details"
	subcommandRecreate   = "recreate-channels"
	subcommandSet        = "set"
	subcommandClear      = "clear"
	subcommandInfo       = "info"
	subcommandAssign     = "assign"
	subcommandRoles      = "roles"
	subcommandChannels   = "channels"
	subcommandDelete     = "delete"
	subcommandTransfer   = "transfer-ownership"
	optionMember         = "member"
	optionClanName       = "clan-name"
	optionRole           = "role"
	optionCategory       = "category"
	optionOwnerRole      = "owner-role"
	optionClanRole       = "clan-role"
	optionTextChannel    = "text-channel"
	optionVoiceChannel   = "voice-channel"
	optionOwner          = "owner"
	optionCurrentOwner   = "current-owner"
	optionNewOwner       = "new-owner"
	discordAdminPermBits = int64(discordgo.PermissionAdministrator)
)

// applicationCommands returns every command the bot registers
func applicationCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		appCommandClan(),
		appCommandClanAdmin(),
	}
}

func memberOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        name,
		Description: description,
		Required:    true,
	}
}

func appCommandClan() *discordgo.ApplicationCommand {
	dmPermission := false
	minNameLength := ClanNameMinLength
	return &discordgo.ApplicationCommand{
		Name:         CommandClan,
		Type:         discordgo.ChatApplicationCommand,
		Description:  "Manage your clan",
		DMPermission: &dmPermission,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandMenu,
				Description: "Open the clan menu",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandInvite,
				Description: "Invite a member to your clan",
				Options: []*discordgo.ApplicationCommandOption{
					memberOption(optionMember, "The member to invite"),
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandKick,
				Description: "Remove a member from your clan",
				Options: []*discordgo.ApplicationCommandOption{
					memberOption(optionMember, "The member to kick"),
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandLeave,
				Description: "Leave a clan you're a member of",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandDetails,
				Description: "Show a clan's details",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        optionClanName,
						Description: "The clan's name",
						Required:    true,
						MinLength:   &minNameLength,
						MaxLength:   ClanNameMaxLength,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandRecreate,
				Description: "Recreate your clan's missing channels",
			},
		},
	}
}

func appCommandClanAdmin() *discordgo.ApplicationCommand {
	dmPermission := false
	adminPerms := discordAdminPermBits
	return &discordgo.ApplicationCommand{
		Name:                     CommandClanAdmin,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Configure and manage clans on this server",
		DMPermission:             &dmPermission,
		DefaultMemberPermissions: &adminPerms,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandSet,
				Description: "Set the supporter role and clan category",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionRole,
						Name:        optionRole,
						Description: "Role required to use clan commands",
						Required:    true,
					},
					{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         optionCategory,
						Description:  "Category clan channels are created in",
						Required:     true,
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildCategory},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandClear,
				Description: "Remove the clan setup (existing clans are kept)",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandInfo,
				Description: "Show the clan setup",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
				Name:        subcommandAssign,
				Description: "Register existing roles or channels as a clan",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        subcommandRoles,
						Description: "Make a member the owner of a clan built on existing roles",
						Options: []*discordgo.ApplicationCommandOption{
							memberOption(optionMember, "The clan owner"),
							{
								Type:        discordgo.ApplicationCommandOptionRole,
								Name:        optionOwnerRole,
								Description: "The clan's owner role",
								Required:    true,
							},
							{
								Type:        discordgo.ApplicationCommandOptionRole,
								Name:        optionClanRole,
								Description: "The clan's member role",
								Required:    true,
							},
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        subcommandChannels,
						Description: "Attach existing channels to a member's clan",
						Options: []*discordgo.ApplicationCommandOption{
							memberOption(optionMember, "The clan owner"),
							{
								Type:         discordgo.ApplicationCommandOptionChannel,
								Name:         optionTextChannel,
								Description:  "The clan's text channel",
								ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
							},
							{
								Type:         discordgo.ApplicationCommandOptionChannel,
								Name:         optionVoiceChannel,
								Description:  "The clan's voice channel",
								ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice},
							},
						},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandDelete,
				Description: "Delete a member's clan",
				Options: []*discordgo.ApplicationCommandOption{
					memberOption(optionOwner, "The clan owner"),
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandTransfer,
				Description: "Transfer a clan to a new owner",
				Options: []*discordgo.ApplicationCommandOption{
					memberOption(optionCurrentOwner, "The current clan owner"),
					memberOption(optionNewOwner, "The new clan owner"),
				},
			},
		},
	}
}
