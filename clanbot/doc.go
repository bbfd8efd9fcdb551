// Package clanbot implements a Discord bot that lets members of a guild
// run self-service "clans".
//
// A clan is a pair of roles (an owner role and a membership role) plus an
// optional text and voice channel, created under a category configured by
// a guild administrator. The clan row in the database is the source of
// truth; the roles and channels are mirrored, disposable objects on the
// Discord side.
//
// Key components of the package:
//
//   - ClanBot: owns the gateway session, database, API server and the
//     lifecycle of Run/shutdown.
//   - ClanRepository: persistence for ClanSystem and Clan rows.
//   - ClanService: the lifecycle orchestrator (create, modify, transfer,
//     invite, kick, leave, delete, recreate channels, cascades).
//   - SessionManager: time-boxed interactive sessions (menus, modals,
//     select prompts, DM approval flows) and per-user button cooldowns.
//   - PermissionGate: administrator, supporter and role hierarchy checks.
//   - GuildResourceProvider: the Discord REST surface the orchestrator
//     depends on (roles, channels, members, direct messages).
//
// The bot supports two commands:
//
//   - /clan: menu, invite, kick, leave, details, channel.
//   - /clan-admin: set, clear, info, assign roles, assign channels,
//     delete, transfer-ownership.
package clanbot
