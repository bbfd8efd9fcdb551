//nolint:lll // struct tags can't be split
package clanbot

import (
	"encoding/json"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
)

const (
	tableClanSystem = "clansystem"
	tableClan       = "clan"

	columnGuild        = "guild"
	columnRole         = "role"
	columnCategory     = "category"
	columnOwner        = "owner"
	columnClanName     = "clanname"
	columnOwnerRole    = "ownerrole"
	columnClanRole     = "clanrole"
	columnTextChannel  = "textchannel"
	columnVoiceChannel = "voicechannel"
)

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// ModelUnixTime is an embeddable model with Unix millisecond timestamps
// for creation and update.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

// ClanSystem is the per-guild clan configuration: the supporter role
// gating self-service clan commands, and the category clan channels
// are created under.
type ClanSystem struct {
	ModelUintID
	ModelUnixTime
	GuildID    string `gorm:"column:guild;uniqueIndex;not null" json:"guild_id"`
	RoleID     string `gorm:"column:role;uniqueIndex;not null" json:"role_id"`
	CategoryID string `gorm:"column:category;uniqueIndex;not null" json:"category_id"`
}

func (ClanSystem) TableName() string {
	return tableClanSystem
}

func (s ClanSystem) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", s.GuildID),
		slog.String("role_id", s.RoleID),
		slog.String("category_id", s.CategoryID),
	)
}

// Clan is a member-owned group: an owner role, a membership role and
// optional text/voice channels. An owner has at most one clan per guild.
type Clan struct {
	ModelUintID
	ModelUnixTime
	GuildID        string  `gorm:"column:guild;not null;uniqueIndex:idx_clan_guild_owner" json:"guild_id"`
	OwnerID        string  `gorm:"column:owner;not null;uniqueIndex:idx_clan_guild_owner" json:"owner_id"`
	Name           string  `gorm:"column:clanname;not null;index" json:"name"`
	OwnerRoleID    string  `gorm:"column:ownerrole;not null;uniqueIndex" json:"owner_role_id"`
	ClanRoleID     string  `gorm:"column:clanrole;not null;uniqueIndex" json:"clan_role_id"`
	TextChannelID  *string `gorm:"column:textchannel" json:"text_channel_id"`
	VoiceChannelID *string `gorm:"column:voicechannel" json:"voice_channel_id"`
}

func (Clan) TableName() string {
	return tableClan
}

func (c Clan) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", c.GuildID),
		slog.String("owner_id", c.OwnerID),
		slog.String("name", c.Name),
		slog.String("owner_role_id", c.OwnerRoleID),
		slog.String("clan_role_id", c.ClanRoleID),
		slog.String("text_channel_id", stringPointerValue(c.TextChannelID)),
		slog.String("voice_channel_id", stringPointerValue(c.VoiceChannelID)),
	)
}

// ChannelID returns the stored channel ID for the given kind
func (c Clan) ChannelID(kind ChannelKind) *string {
	if kind == ChannelKindVoice {
		return c.VoiceChannelID
	}
	return c.TextChannelID
}

// ChannelKind distinguishes a clan's text and voice channels
type ChannelKind string

const (
	ChannelKindText  ChannelKind = "text"
	ChannelKindVoice ChannelKind = "voice"
)

func (k ChannelKind) column() string {
	if k == ChannelKindVoice {
		return columnVoiceChannel
	}
	return columnTextChannel
}

func (k ChannelKind) discordType() discordgo.ChannelType {
	if k == ChannelKindVoice {
		return discordgo.ChannelTypeGuildVoice
	}
	return discordgo.ChannelTypeGuildText
}

// InteractionLog records every interaction received from the gateway
type InteractionLog struct {
	ModelUintID
	InteractionID string `json:"interaction_id" gorm:"not null"`
	Type          string `json:"type" gorm:"type:string"`
	Command       string `json:"command" gorm:"type:string"`
	UserID        string `json:"user_id" gorm:"not null;index"`
	Username      string `json:"username" gorm:"type:string"`
	GuildID       string `json:"guild_id" gorm:"type:string;index"`
	ChannelID     string `json:"channel_id" gorm:"type:string"`
	Payload       string `json:"payload" gorm:"type:string"`
	CreatedAt     int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
) (*InteractionLog, error) {
	p, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}

	interactionLog := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		UserID:        u.ID,
		Username:      u.String(),
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Payload:       string(p),
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		interactionLog.Command = i.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		interactionLog.Command = i.MessageComponentData().CustomID
	case discordgo.InteractionModalSubmit:
		interactionLog.Command = i.ModalSubmitData().CustomID
	}
	return interactionLog, nil
}

// APICredential is a named bearer token accepted by the status API.
// Only the argon2id hash of the token is stored.
type APICredential struct {
	ModelUintID
	ModelUnixTime
	Name      string `json:"name" gorm:"uniqueIndex;not null"`
	TokenHash string `json:"-" gorm:"not null" log:"[redacted]"`
}

func (c APICredential) LogValue() slog.Value {
	return structToSlogValue(c)
}
