package clanbot

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strconv"
	"strings"
)

const (
	displayNone = "none"

	discordMaxButtonsPerActionRow = 5
	discordMaxSelectOptions       = 25
	discordModalTitleMaxLength    = 45

	colorEmbedDefault = 0x5865F2
	colorEmbedWarning = 0xFEE75C
)

// component custom_id actions. Each is paired with a session ID by
// newCustomID.
const (
	actionMenuCreate  = "menu_create"
	actionMenuModify  = "menu_modify"
	actionMenuDelete  = "menu_delete"
	actionModifyName  = "modify_name"
	actionModifyColor = "modify_color"
	actionModifyIcon  = "modify_icon"
	actionModifyText  = "modify_text"
	actionModifyVoice = "modify_voice"
	actionModifyOwner = "modify_owner"
	actionModifyBack  = "modify_back"

	actionCreateSubmit  = "create_submit"
	actionRenameSubmit  = "rename_submit"
	actionColorSubmit   = "color_submit"
	actionChannelSubmit = "channel_submit"
	actionTransferPick  = "transfer_pick"
	actionDeleteConfirm = "delete_confirm"
	actionDeleteCancel  = "delete_cancel"
	actionLeaveConfirm  = "leave_confirm"
	actionLeaveCancel   = "leave_cancel"
	actionLeavePick     = "leave_pick"
	actionInviteAccept  = "invite_accept"
	actionInviteDeny    = "invite_deny"

	inputClanName    = "clan_name"
	inputClanColor   = "clan_color"
	inputChannelName = "channel_name"
)

// ClanView is a clan with its directory resources, as fetched for one
// render. Any resource may be nil if it no longer exists.
type ClanView struct {
	Clan         Clan
	OwnerRole    *discordgo.Role
	ClanRole     *discordgo.Role
	TextChannel  *discordgo.Channel
	VoiceChannel *discordgo.Channel

	// ClanRoleHolders is the number of members holding the clan role
	ClanRoleHolders int
}

// DisplayModel is the rendered summary of a clan
type DisplayModel struct {
	Name         string
	OwnerID      string
	MemberCount  int
	OwnerRole    string
	ClanRole     string
	Color        int
	ColorHex     string
	TextChannel  string
	VoiceChannel string
}

// renderClan summarizes a clan. The owner doesn't hold the clan role, so
// they're added to the member count.
func renderClan(v ClanView) DisplayModel {
	d := DisplayModel{
		Name:         v.Clan.Name,
		OwnerID:      v.Clan.OwnerID,
		MemberCount:  v.ClanRoleHolders + 1,
		OwnerRole:    displayNone,
		ClanRole:     displayNone,
		ColorHex:     displayNone,
		TextChannel:  displayNone,
		VoiceChannel: displayNone,
	}
	if v.OwnerRole != nil {
		d.OwnerRole = roleMention(v.OwnerRole.ID)
	}
	if v.ClanRole != nil {
		d.ClanRole = roleMention(v.ClanRole.ID)
		d.Color = v.ClanRole.Color
		d.ColorHex = formatHexColor(v.ClanRole.Color)
	}
	if v.TextChannel != nil {
		d.TextChannel = channelMention(v.TextChannel.ID)
	}
	if v.VoiceChannel != nil {
		d.VoiceChannel = channelMention(v.VoiceChannel.ID)
	}
	return d
}

// Embed renders the display model as a discord embed
func (d DisplayModel) Embed() *discordgo.MessageEmbed {
	color := d.Color
	if color == 0 {
		color = colorEmbedDefault
	}
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Clan %s", d.Name),
		Description: fmt.Sprintf("Owned by %s", userMention(d.OwnerID)),
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Members", Value: strconv.Itoa(d.MemberCount), Inline: true},
			{Name: "Owner role", Value: d.OwnerRole, Inline: true},
			{Name: "Clan role", Value: d.ClanRole, Inline: true},
			{Name: "Color", Value: d.ColorHex, Inline: true},
			{Name: "Voice", Value: d.VoiceChannel, Inline: true},
			{Name: "Text", Value: d.TextChannel, Inline: true},
		},
	}
}

func noClanEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "You don't have a clan yet!",
		Description: "Use the `Create clan` button and follow the steps to make one.",
		Color:       colorEmbedDefault,
	}
}

func modifyMenuEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Clan manager",
		Color: colorEmbedDefault,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Name", Value: "Rename the clan and both of its roles"},
			{Name: "Color", Value: "Change the clan role color"},
			{Name: "Icon", Value: "Change the clan role icon"},
			{Name: "Text channel", Value: "Rename or recreate the text channel"},
			{Name: "Voice channel", Value: "Rename or recreate the voice channel"},
			{Name: "Transfer ownership", Value: "Give the clan to one of its members"},
		},
	}
}

func deleteConfirmEmbed(clanName string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Deleting a clan is permanent!",
		Description: fmt.Sprintf(
			"Deleting **%s** removes both clan roles and both clan channels. Are you sure?",
			clanName,
		),
		Color: colorEmbedWarning,
	}
}

func inviteEmbed(clanName, ownerID string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("You've been invited to join the clan **%s**", clanName),
		Description: fmt.Sprintf("%s invited you. Do you accept?", userMention(ownerID)),
		Color:       colorEmbedDefault,
	}
}

// mainMenuComponents builds the main menu buttons. Create is only enabled
// without a clan, modify and delete only with one.
func mainMenuComponents(sessionID string, hasClan bool) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Create clan",
					Style:    discordgo.SuccessButton,
					CustomID: newCustomID(actionMenuCreate, sessionID),
					Disabled: hasClan,
				},
				discordgo.Button{
					Label:    "Modify clan",
					Style:    discordgo.PrimaryButton,
					CustomID: newCustomID(actionMenuModify, sessionID),
					Disabled: !hasClan,
				},
				discordgo.Button{
					Label:    "Delete clan",
					Style:    discordgo.DangerButton,
					CustomID: newCustomID(actionMenuDelete, sessionID),
					Disabled: !hasClan,
				},
			},
		},
	}
}

func modifyMenuComponents(sessionID string) []discordgo.MessageComponent {
	buttons := []discordgo.MessageComponent{
		discordgo.Button{
			Label:    "Name",
			Style:    discordgo.SecondaryButton,
			CustomID: newCustomID(actionModifyName, sessionID),
		},
		discordgo.Button{
			Label:    "Color",
			Style:    discordgo.SecondaryButton,
			CustomID: newCustomID(actionModifyColor, sessionID),
		},
		discordgo.Button{
			Label:    "Icon",
			Style:    discordgo.SecondaryButton,
			CustomID: newCustomID(actionModifyIcon, sessionID),
		},
		discordgo.Button{
			Label:    "Text channel",
			Style:    discordgo.SecondaryButton,
			CustomID: newCustomID(actionModifyText, sessionID),
		},
		discordgo.Button{
			Label:    "Voice channel",
			Style:    discordgo.SecondaryButton,
			CustomID: newCustomID(actionModifyVoice, sessionID),
		},
		discordgo.Button{
			Label:    "Transfer ownership",
			Style:    discordgo.DangerButton,
			CustomID: newCustomID(actionModifyOwner, sessionID),
		},
		discordgo.Button{
			Label:    "Back",
			Style:    discordgo.PrimaryButton,
			CustomID: newCustomID(actionModifyBack, sessionID),
		},
	}
	return actionRows(buttons...)
}

func confirmComponents(
	confirmAction string,
	cancelAction string,
	sessionID string,
) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Confirm",
					Style:    discordgo.DangerButton,
					CustomID: newCustomID(confirmAction, sessionID),
				},
				discordgo.Button{
					Label:    "Cancel",
					Style:    discordgo.SecondaryButton,
					CustomID: newCustomID(cancelAction, sessionID),
				},
			},
		},
	}
}

func inviteComponents(sessionID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Accept",
					Style:    discordgo.SuccessButton,
					CustomID: newCustomID(actionInviteAccept, sessionID),
				},
				discordgo.Button{
					Label:    "Deny",
					Style:    discordgo.DangerButton,
					CustomID: newCustomID(actionInviteDeny, sessionID),
				},
			},
		},
	}
}

// leaveSelectComponents offers the clans the actor may leave. Only
// membership clans are passed in, never the clan the actor owns.
func leaveSelectComponents(sessionID string, clans []Clan) []discordgo.MessageComponent {
	if len(clans) > discordMaxSelectOptions {
		clans = clans[:discordMaxSelectOptions]
	}
	options := make([]discordgo.SelectMenuOption, 0, len(clans))
	for _, c := range clans {
		options = append(
			options, discordgo.SelectMenuOption{
				Label: truncate(c.Name, 100),
				Value: c.ClanRoleID,
			},
		)
	}
	minValues := 1
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    newCustomID(actionLeavePick, sessionID),
					Placeholder: "Select the clans to leave",
					MinValues:   &minValues,
					MaxValues:   len(options),
					Options:     options,
				},
			},
		},
	}
}

func transferSelectComponents(sessionID string) []discordgo.MessageComponent {
	minValues := 1
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.UserSelectMenu,
					CustomID:    newCustomID(actionTransferPick, sessionID),
					Placeholder: "Select the clan member to make the new owner",
					MinValues:   &minValues,
					MaxValues:   1,
				},
			},
		},
	}
}

// actionRows splits components into rows of at most five
func actionRows(components ...discordgo.MessageComponent) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for _, chunk := range chunkItems(discordMaxButtonsPerActionRow, components...) {
		rows = append(rows, discordgo.ActionsRow{Components: chunk})
	}
	return rows
}

// disableComponents returns a copy of the rows with every button and
// select menu disabled
func disableComponents(rows []discordgo.MessageComponent) []discordgo.MessageComponent {
	disabled := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		var components []discordgo.MessageComponent
		switch r := row.(type) {
		case discordgo.ActionsRow:
			components = r.Components
		case *discordgo.ActionsRow:
			components = r.Components
		default:
			disabled = append(disabled, row)
			continue
		}
		newRow := discordgo.ActionsRow{
			Components: make([]discordgo.MessageComponent, 0, len(components)),
		}
		for _, c := range components {
			switch v := c.(type) {
			case discordgo.Button:
				v.Disabled = true
				newRow.Components = append(newRow.Components, v)
			case *discordgo.Button:
				b := *v
				b.Disabled = true
				newRow.Components = append(newRow.Components, b)
			case discordgo.SelectMenu:
				v.Disabled = true
				newRow.Components = append(newRow.Components, v)
			case *discordgo.SelectMenu:
				m := *v
				m.Disabled = true
				newRow.Components = append(newRow.Components, m)
			default:
				newRow.Components = append(newRow.Components, c)
			}
		}
		disabled = append(disabled, newRow)
	}
	return disabled
}

// textModal returns a modal with a single short text input
func textModal(
	customID string,
	title string,
	inputID string,
	label string,
	placeholder string,
	value string,
	minLength int,
	maxLength int,
) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: customID,
			Title:    truncate(title, discordModalTitleMaxLength),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    inputID,
							Label:       label,
							Style:       discordgo.TextInputShort,
							Placeholder: placeholder,
							Value:       value,
							Required:    true,
							MinLength:   minLength,
							MaxLength:   maxLength,
						},
					},
				},
			},
		},
	}
}

// parseHexColor parses "#RRGGBB" or "RRGGBB"
func parseHexColor(s string) (int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, validationError("parse color", "Invalid hex color! Use the format #RRGGBB.")
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, validationError("parse color", "Invalid hex color! Use the format #RRGGBB.")
	}
	return int(v), nil
}

func formatHexColor(c int) string {
	return fmt.Sprintf("#%06X", c&0xFFFFFF)
}

func userMention(id string) string {
	return fmt.Sprintf("<@%s>", id)
}

func roleMention(id string) string {
	return fmt.Sprintf("<@&%s>", id)
}

func channelMention(id string) string {
	return fmt.Sprintf("<#%s>", id)
}
