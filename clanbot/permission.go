package clanbot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
)

// Operation names a clan command the gate can authorize
type Operation string

const (
	OpMenu      Operation = "menu"
	OpCreate    Operation = "create"
	OpModify    Operation = "modify"
	OpDelete    Operation = "delete"
	OpInvite    Operation = "invite"
	OpKick      Operation = "kick"
	OpLeave     Operation = "leave"
	OpDetails   Operation = "details"
	OpRecreate  Operation = "recreate_channels"
	OpAdminSet  Operation = "admin_set"
	OpAdminMisc Operation = "admin"
)

// requiresAdmin reports whether op is an administrative operation
func (op Operation) requiresAdmin() bool {
	return op == OpAdminSet || op == OpAdminMisc
}

// requiresSupporter reports whether op needs the supporter role
func (op Operation) requiresSupporter() bool {
	return !op.requiresAdmin() && op != OpLeave && op != OpDetails
}

// Actor is the member invoking an operation, as seen in the interaction
type Actor struct {
	GuildID     string
	UserID      string
	Roles       []string
	Permissions int64
}

// HasRole reports whether the actor held roleID when the interaction
// was created
func (a Actor) HasRole(roleID string) bool {
	for _, r := range a.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool {
	return a.Permissions&discordgo.PermissionAdministrator != 0
}

// actorFromInteraction builds an Actor from a guild interaction. DM
// interactions have no member, so only the user ID is set.
func actorFromInteraction(i *discordgo.InteractionCreate) Actor {
	actor := Actor{GuildID: i.GuildID}
	if u := getDiscordUser(i); u != nil {
		actor.UserID = u.ID
	}
	if i.Member != nil {
		actor.Roles = i.Member.Roles
		actor.Permissions = i.Member.Permissions
	}
	return actor
}

// PermissionGate decides whether an actor may invoke an operation, and
// checks the bot's role hierarchy before role mutations
type PermissionGate struct {
	repo     ClanRepository
	provider GuildResourceProvider
}

func NewPermissionGate(repo ClanRepository, provider GuildResourceProvider) *PermissionGate {
	return &PermissionGate{repo: repo, provider: provider}
}

// Authorize checks that the actor may invoke op. For self-service
// operations, the guild's ClanSystem is returned once its supporter role
// and category are confirmed to still exist.
func (g *PermissionGate) Authorize(ctx context.Context, actor Actor, op Operation) (
	*ClanSystem,
	error,
) {
	opName := fmt.Sprintf("authorize %s", op)
	if actor.GuildID == "" {
		return nil, preconditionError(opName, "This command can only be used in a server!")
	}

	if op.requiresAdmin() {
		if !actor.IsAdmin() {
			return nil, preconditionError(
				opName,
				"You need the Administrator permission to use this command!",
			)
		}
		return nil, nil
	}

	system, err := g.ResolveSystem(ctx, actor.GuildID)
	if err != nil {
		return nil, err
	}
	if op.requiresSupporter() && !actor.HasRole(system.RoleID) {
		return nil, preconditionError(
			opName,
			"You need the <@&%s> role to use this command!",
			system.RoleID,
		)
	}
	return system, nil
}

// ResolveSystem returns the guild's ClanSystem, after checking that its
// supporter role and category still exist
func (g *PermissionGate) ResolveSystem(ctx context.Context, guildID string) (
	*ClanSystem,
	error,
) {
	const op = "resolve system"
	system, err := g.repo.GetSystem(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if system == nil {
		return nil, preconditionError(op, msgNoSystem)
	}

	role, err := g.provider.Role(ctx, guildID, system.RoleID)
	if err != nil {
		return nil, externalError(op, err)
	}
	if role == nil {
		return nil, staleError(op, msgReconfigure)
	}
	category, err := g.provider.Channel(ctx, system.CategoryID)
	if err != nil {
		return nil, externalError(op, err)
	}
	if category == nil {
		return nil, staleError(op, msgReconfigure)
	}
	return system, nil
}

// roleHierarchy is a snapshot of the guild's roles and the position of
// the bot's highest role
type roleHierarchy struct {
	botTop int
	roles  map[string]*discordgo.Role
}

// Hierarchy fetches the current role hierarchy for the guild
func (g *PermissionGate) Hierarchy(ctx context.Context, guildID string) (
	*roleHierarchy,
	error,
) {
	const op = "role hierarchy"
	botID, err := g.provider.BotUserID(ctx)
	if err != nil {
		return nil, externalError(op, err)
	}
	botMember, err := g.provider.Member(ctx, guildID, botID)
	if err != nil {
		return nil, externalError(op, err)
	}
	if botMember == nil {
		return nil, externalError(op, errors.New("bot is not a member of the guild"))
	}
	roles, err := g.provider.Roles(ctx, guildID)
	if err != nil {
		return nil, externalError(op, err)
	}

	h := &roleHierarchy{roles: make(map[string]*discordgo.Role, len(roles))}
	for _, r := range roles {
		h.roles[r.ID] = r
	}
	h.botTop = h.highest(botMember.Roles)
	return h, nil
}

// highest returns the highest position among roleIDs, or 0 (@everyone)
func (h *roleHierarchy) highest(roleIDs []string) int {
	top := 0
	for _, id := range roleIDs {
		if r, ok := h.roles[id]; ok && r.Position > top {
			top = r.Position
		}
	}
	return top
}

// canManageRole reports whether the role exists and sits below the bot's
// highest role
func (h *roleHierarchy) canManageRole(roleID string) bool {
	r, ok := h.roles[roleID]
	return ok && r.Position < h.botTop
}

// canManageMember reports whether every role the member holds sits below
// the bot's highest role
func (h *roleHierarchy) canManageMember(m *discordgo.Member) bool {
	if m == nil {
		return false
	}
	return h.highest(m.Roles) < h.botTop
}

// CheckRoles returns ErrHierarchyTooLow if any role can't be managed by
// the bot
func (g *PermissionGate) CheckRoles(ctx context.Context, guildID string, roleIDs ...string) error {
	return g.Check(ctx, guildID, nil, roleIDs...)
}

// CheckRemovable is like CheckRoles, but roles which no longer exist are
// skipped. Used before tearing resources down, where a missing role is
// already gone.
func (g *PermissionGate) CheckRemovable(ctx context.Context, guildID string, roleIDs ...string) error {
	const op = "check hierarchy"
	h, err := g.Hierarchy(ctx, guildID)
	if err != nil {
		return err
	}
	for _, id := range roleIDs {
		if _, exists := h.roles[id]; exists && !h.canManageRole(id) {
			return hierarchyError(
				op,
				fmt.Errorf("role %s is at or above the bot's highest role", id),
			)
		}
	}
	return nil
}

// Check fetches the hierarchy once and verifies that every role exists and
// sits below the bot's highest role, and that every member's highest role
// does too. A missing role is reported as ErrResourceStale.
func (g *PermissionGate) Check(
	ctx context.Context,
	guildID string,
	members []*discordgo.Member,
	roleIDs ...string,
) error {
	const op = "check hierarchy"
	h, err := g.Hierarchy(ctx, guildID)
	if err != nil {
		return err
	}
	for _, id := range roleIDs {
		if _, exists := h.roles[id]; !exists {
			return staleError(op, msgReconfigure)
		}
		if !h.canManageRole(id) {
			return hierarchyError(
				op,
				fmt.Errorf("role %s is at or above the bot's highest role", id),
			)
		}
	}
	for _, m := range members {
		if !h.canManageMember(m) {
			return hierarchyError(
				op,
				errors.New("member's highest role is at or above the bot's highest role"),
			)
		}
	}
	return nil
}
