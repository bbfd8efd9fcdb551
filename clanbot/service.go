package clanbot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	msgIconBoostLevel = "I couldn't set the icon. This server may not have the boost level needed for role icons."
	msgAlreadyExists  = "already exists"
)

// ClanService drives the clan lifecycle: every operation that mutates a
// clan, its roles or its channels goes through here.
//
// Mutating operations hold a lock on the (guild, owner) pair for the
// duration of their directory and database calls, so two flows against
// the same clan can't interleave. Locks are never held while waiting on
// user input.
type ClanService struct {
	repo     ClanRepository
	provider GuildResourceProvider
	gate     *PermissionGate
	sessions *SessionManager
	notifier DBNotifier
	icons    *iconFetcher
	config   *ClanConfig
	locks    *keyedMutex
	logger   *slog.Logger
	metrics  *metrics
}

// NewClanService returns a ClanService. The notifier may be nil, in which
// case clan invalidations only reach this process's sessions.
func NewClanService(
	repo ClanRepository,
	provider GuildResourceProvider,
	sessions *SessionManager,
	notifier DBNotifier,
	config *ClanConfig,
	icons *iconFetcher,
	logger *slog.Logger,
) *ClanService {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = DefaultClanConfig()
	}
	if icons == nil {
		icons = newIconFetcher(nil, config.IconMaxBytes)
	}
	return &ClanService{
		repo:     repo,
		provider: provider,
		gate:     NewPermissionGate(repo, provider),
		sessions: sessions,
		notifier: notifier,
		icons:    icons,
		config:   config,
		locks:    newKeyedMutex(),
		logger:   logger.With(loggerNameKey, "clan_service"),
	}
}

func (s *ClanService) Gate() *PermissionGate {
	return s.gate
}

func (s *ClanService) log(ctx context.Context) *slog.Logger {
	return contextLoggerOr(ctx, s.logger)
}

// keyedMutex is a set of mutexes created on demand, one per key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*keyedLock{}}
}

// Lock acquires the locks for every key, in sorted order so callers
// locking overlapping sets can't deadlock. The returned func releases them.
func (k *keyedMutex) Lock(keys ...string) func() {
	keys = dedupeSorted(keys)
	held := make([]*keyedLock, 0, len(keys))
	for _, key := range keys {
		k.mu.Lock()
		l, ok := k.locks[key]
		if !ok {
			l = &keyedLock{}
			k.locks[key] = l
		}
		l.refs++
		k.mu.Unlock()

		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			l := held[i]
			l.mu.Unlock()

			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, keys[i])
			}
			k.mu.Unlock()
		}
	}
}

func dedupeSorted(keys []string) []string {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)
	out := sorted[:0]
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		out = append(out, key)
	}
	return out
}

func clanLockKey(guildID, ownerID string) string {
	return guildID + ":" + ownerID
}

func (s *ClanService) lockClan(guildID string, ownerIDs ...string) func() {
	keys := make([]string, 0, len(ownerIDs))
	for _, id := range ownerIDs {
		keys = append(keys, clanLockKey(guildID, id))
	}
	return s.locks.Lock(keys...)
}

// directoryError classifies a failed directory call
func directoryError(op string, err error) error {
	if isMissingPermissions(err) {
		return hierarchyError(op, err)
	}
	return externalError(op, err)
}

// invalidate cancels sessions bound to the clan, here and (through the
// notifier) on other instances
func (s *ClanService) invalidate(ctx context.Context, guildID, ownerID string) {
	if s.notifier != nil {
		s.notifier.ClanInvalidated(ctx, guildID, ownerID)
		return
	}
	if s.sessions != nil {
		s.sessions.InvalidateClan(guildID, ownerID)
	}
}

// ValidateClanName trims the name and checks its length
func ValidateClanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < ClanNameMinLength || n > ClanNameMaxLength {
		return "", validationError(
			"validate clan name",
			"The clan name must be between %d and %d characters!",
			ClanNameMinLength,
			ClanNameMaxLength,
		)
	}
	return name, nil
}

// ValidateChannelName trims the name and checks its length
func ValidateChannelName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < ChannelNameMinLength || n > ChannelNameMaxLength {
		return "", validationError(
			"validate channel name",
			"The channel name must be between %d and %d characters!",
			ChannelNameMinLength,
			ChannelNameMaxLength,
		)
	}
	return name, nil
}

// requireOwned returns the clan owned by the actor, or a precondition
// error if they don't own one
func (s *ClanService) requireOwned(ctx context.Context, op string, guildID, ownerID string) (
	*Clan,
	error,
) {
	return s.requireClan(ctx, op, guildID, ownerID, msgNoClan)
}

// requireClan returns the clan owned by ownerID, or a precondition error
// with the given message
func (s *ClanService) requireClan(
	ctx context.Context,
	op string,
	guildID string,
	ownerID string,
	missing string,
) (*Clan, error) {
	clan, err := s.repo.GetByOwner(ctx, guildID, ownerID)
	if err != nil {
		return nil, err
	}
	if clan == nil {
		return nil, preconditionError(op, missing)
	}
	return clan, nil
}

// GetClan returns the clan owned by ownerID, or nil
func (s *ClanService) GetClan(ctx context.Context, guildID, ownerID string) (*Clan, error) {
	return s.repo.GetByOwner(ctx, guildID, ownerID)
}

// clanRoles fetches both of the clan's roles. A role that no longer
// exists makes the clan stale.
func (s *ClanService) clanRoles(ctx context.Context, op string, clan *Clan) (
	ownerRole *discordgo.Role,
	clanRole *discordgo.Role,
	err error,
) {
	roles, err := s.provider.Roles(ctx, clan.GuildID)
	if err != nil {
		return nil, nil, externalError(op, err)
	}
	for _, r := range roles {
		switch r.ID {
		case clan.OwnerRoleID:
			ownerRole = r
		case clan.ClanRoleID:
			clanRole = r
		}
	}
	if ownerRole == nil || clanRole == nil {
		return nil, nil, staleError(op, msgReconfigure)
	}
	return ownerRole, clanRole, nil
}

// CreateClan creates a clan owned by the actor. Roles are created and
// positioned first, then assigned, then channels are created, and the
// row is written last. If the roles can't be positioned or assigned,
// they're deleted again and nothing is written. Channel failures after
// that point leave the channel unset.
func (s *ClanService) CreateClan(
	ctx context.Context,
	actor Actor,
	system *ClanSystem,
	name string,
) (clan *Clan, err error) {
	const op = "create clan"
	defer func() { s.metrics.observeOperation(op, err) }()
	logger := s.log(ctx)

	name, err = ValidateClanName(name)
	if err != nil {
		return nil, err
	}

	unlock := s.lockClan(actor.GuildID, actor.UserID)
	defer unlock()

	existing, err := s.repo.GetByOwner(ctx, actor.GuildID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, preconditionError(op, msgClanExists)
	}

	member, err := s.provider.Member(ctx, actor.GuildID, actor.UserID)
	if err != nil {
		return nil, externalError(op, err)
	}
	if member == nil {
		return nil, preconditionError(op, "You're no longer a member of this server!")
	}

	h, err := s.gate.Hierarchy(ctx, actor.GuildID)
	if err != nil {
		return nil, err
	}
	if !h.canManageMember(member) {
		return nil, hierarchyError(op, errors.New("member's highest role is at or above the bot's"))
	}
	if h.botTop < 3 {
		return nil, hierarchyError(op, errors.New("no room below the bot's highest role"))
	}

	ownerRole, err := s.provider.RoleCreate(ctx, actor.GuildID, &discordgo.RoleParams{Name: name})
	if err != nil {
		return nil, directoryError(op, err)
	}
	clanRole, err := s.provider.RoleCreate(ctx, actor.GuildID, &discordgo.RoleParams{Name: name})
	if err != nil {
		s.rollbackRoles(ctx, actor.GuildID, ownerRole.ID)
		return nil, directoryError(op, err)
	}

	err = s.provider.RoleReorder(
		ctx, actor.GuildID, []*discordgo.Role{
			{ID: ownerRole.ID, Position: h.botTop - 1},
			{ID: clanRole.ID, Position: h.botTop - 2},
		},
	)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"unable to position clan roles, rolling back",
			tint.Err(err),
			"owner_role_id", ownerRole.ID,
			"clan_role_id", clanRole.ID,
		)
		s.rollbackRoles(ctx, actor.GuildID, ownerRole.ID, clanRole.ID)
		return nil, hierarchyError(op, err)
	}

	if err = s.provider.MemberRoleAdd(ctx, actor.GuildID, actor.UserID, ownerRole.ID); err != nil {
		s.rollbackRoles(ctx, actor.GuildID, ownerRole.ID, clanRole.ID)
		return nil, directoryError(op, err)
	}

	if system != nil && !memberHasRole(member, system.RoleID) {
		if e := s.provider.MemberRoleAdd(ctx, actor.GuildID, actor.UserID, system.RoleID); e != nil {
			logger.WarnContext(ctx, "unable to add supporter role to new owner", tint.Err(e))
		}
	}

	clan = &Clan{
		GuildID:     actor.GuildID,
		OwnerID:     actor.UserID,
		Name:        name,
		OwnerRoleID: ownerRole.ID,
		ClanRoleID:  clanRole.ID,
	}

	// past this point, failures leave the channel unset instead of
	// rolling back the roles
	if system != nil {
		category, catErr := s.provider.Channel(ctx, system.CategoryID)
		switch {
		case catErr != nil:
			logger.ErrorContext(ctx, "unable to resolve clan category", tint.Err(catErr))
		case category == nil:
			logger.WarnContext(ctx, "clan category no longer exists", "category_id", system.CategoryID)
		default:
			staff := existingStaffRoles(ctx, s.provider, actor.GuildID, s.config.StaffViewerRoleIDs, logger)
			for _, kind := range []ChannelKind{ChannelKindText, ChannelKindVoice} {
				ch, chErr := s.createChannel(ctx, clan, category.ID, kind, defaultChannelName(name, kind), staff)
				if chErr != nil {
					logger.ErrorContext(ctx, "unable to create clan channel", tint.Err(chErr), "kind", kind)
					continue
				}
				if kind == ChannelKindVoice {
					clan.VoiceChannelID = &ch.ID
				} else {
					clan.TextChannelID = &ch.ID
				}
			}
		}
	}

	if err = s.repo.Create(ctx, clan); err != nil {
		logger.ErrorContext(
			ctx,
			"unable to persist new clan, directory resources left behind",
			tint.Err(err),
			"clan", clan,
		)
		return nil, err
	}
	logger.InfoContext(ctx, "created clan", "clan", clan)
	return clan, nil
}

// rollbackRoles deletes roles created earlier in a flow which failed
func (s *ClanService) rollbackRoles(ctx context.Context, guildID string, roleIDs ...string) {
	for _, id := range roleIDs {
		if err := s.provider.RoleDelete(ctx, guildID, id); err != nil && !isNotFound(err) {
			s.log(ctx).ErrorContext(
				ctx,
				"unable to roll back created role",
				tint.Err(err),
				"guild_id", guildID,
				"role_id", id,
			)
		}
	}
}

func defaultChannelName(clanName string, kind ChannelKind) string {
	return fmt.Sprintf("%s-%s", clanName, kind)
}

func (s *ClanService) createChannel(
	ctx context.Context,
	clan *Clan,
	categoryID string,
	kind ChannelKind,
	name string,
	staffRoleIDs []string,
) (*discordgo.Channel, error) {
	return s.provider.ChannelCreate(
		ctx, clan.GuildID, discordgo.GuildChannelCreateData{
			Name:     name,
			Type:     kind.discordType(),
			ParentID: categoryID,
			PermissionOverwrites: channelOverwrites(
				kind,
				clan.GuildID,
				clan.OwnerRoleID,
				clan.ClanRoleID,
				staffRoleIDs,
			),
		},
	)
}

// RenameClan renames both clan roles, then the clan row
func (s *ClanService) RenameClan(ctx context.Context, actor Actor, name string) (
	clan *Clan,
	err error,
) {
	const op = "rename clan"
	defer func() { s.metrics.observeOperation(op, err) }()

	name, err = ValidateClanName(name)
	if err != nil {
		return nil, err
	}

	unlock := s.lockClan(actor.GuildID, actor.UserID)
	defer unlock()

	clan, err = s.requireOwned(ctx, op, actor.GuildID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err = s.gate.CheckRoles(ctx, clan.GuildID, clan.OwnerRoleID, clan.ClanRoleID); err != nil {
		return nil, err
	}
	for _, roleID := range []string{clan.OwnerRoleID, clan.ClanRoleID} {
		_, err = s.provider.RoleEdit(ctx, clan.GuildID, roleID, &discordgo.RoleParams{Name: name})
		if err != nil {
			return nil, directoryError(op, err)
		}
	}
	if err = s.repo.UpdateName(ctx, clan.GuildID, clan.OwnerID, name); err != nil {
		return nil, err
	}
	clan.Name = name
	return clan, nil
}

// SetColor sets the color of both clan roles from a hex string
func (s *ClanService) SetColor(ctx context.Context, actor Actor, hex string) (
	color int,
	err error,
) {
	const op = "set clan color"
	defer func() { s.metrics.observeOperation(op, err) }()

	color, err = parseHexColor(hex)
	if err != nil {
		return 0, err
	}

	unlock := s.lockClan(actor.GuildID, actor.UserID)
	defer unlock()

	clan, err := s.requireOwned(ctx, op, actor.GuildID, actor.UserID)
	if err != nil {
		return 0, err
	}
	if err = s.gate.CheckRoles(ctx, clan.GuildID, clan.OwnerRoleID, clan.ClanRoleID); err != nil {
		return 0, err
	}
	for _, roleID := range []string{clan.OwnerRoleID, clan.ClanRoleID} {
		_, err = s.provider.RoleEdit(ctx, clan.GuildID, roleID, &discordgo.RoleParams{Color: &color})
		if err != nil {
			return 0, directoryError(op, err)
		}
	}
	return color, nil
}

// SetIcon validates the submitted image and sets it as the owner role's
// icon. Nothing is stored, so a failure can simply be retried.
func (s *ClanService) SetIcon(
	ctx context.Context,
	guildID string,
	ownerID string,
	attachments []*discordgo.MessageAttachment,
) (err error) {
	const op = "set clan icon"
	defer func() { s.metrics.observeOperation(op, err) }()

	clan, err := s.requireOwned(ctx, op, guildID, ownerID)
	if err != nil {
		return err
	}
	icon, err := s.icons.Fetch(ctx, attachments)
	if err != nil {
		return err
	}

	unlock := s.lockClan(guildID, ownerID)
	defer unlock()

	if err = s.gate.CheckRoles(ctx, guildID, clan.OwnerRoleID); err != nil {
		return err
	}
	_, err = s.provider.RoleEdit(ctx, guildID, clan.OwnerRoleID, &discordgo.RoleParams{Icon: &icon})
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && !isMissingPermissions(err) {
			return &ClanError{Kind: ErrPrecondition, Op: op, Message: msgIconBoostLevel, Err: err}
		}
		return directoryError(op, err)
	}
	return nil
}

// SetChannelName renames the clan's channel of the given kind. If the
// channel is unset or no longer exists, a new one is created under the
// clan category instead.
func (s *ClanService) SetChannelName(
	ctx context.Context,
	actor Actor,
	system *ClanSystem,
	kind ChannelKind,
	name string,
) (ch *discordgo.Channel, created bool, err error) {
	op := fmt.Sprintf("set %s channel name", kind)
	defer func() { s.metrics.observeOperation(op, err) }()
	logger := s.log(ctx)

	name, err = ValidateChannelName(name)
	if err != nil {
		return nil, false, err
	}

	unlock := s.lockClan(actor.GuildID, actor.UserID)
	defer unlock()

	clan, err := s.requireOwned(ctx, op, actor.GuildID, actor.UserID)
	if err != nil {
		return nil, false, err
	}
	staff := existingStaffRoles(ctx, s.provider, clan.GuildID, s.config.StaffViewerRoleIDs, logger)

	if id := stringPointerValue(clan.ChannelID(kind)); id != "" {
		existing, fetchErr := s.provider.Channel(ctx, id)
		if fetchErr != nil {
			return nil, false, externalError(op, fetchErr)
		}
		if existing != nil {
			ch, err = s.provider.ChannelEdit(ctx, existing.ID, &discordgo.ChannelEdit{Name: name})
			if err != nil {
				return nil, false, directoryError(op, err)
			}
			ensureStaffAccess(ctx, s.provider, ch.ID, kind, staff, logger)
			return ch, false, nil
		}
	}

	ch, err = s.recreateChannel(ctx, op, clan, system, kind, name, staff)
	if err != nil {
		return nil, false, err
	}
	return ch, true, nil
}

// recreateChannel creates a channel for the clan and stores its ID
func (s *ClanService) recreateChannel(
	ctx context.Context,
	op string,
	clan *Clan,
	system *ClanSystem,
	kind ChannelKind,
	name string,
	staff []string,
) (*discordgo.Channel, error) {
	if system == nil {
		return nil, preconditionError(op, msgNoSystem)
	}
	category, err := s.provider.Channel(ctx, system.CategoryID)
	if err != nil {
		return nil, externalError(op, err)
	}
	if category == nil {
		return nil, staleError(op, msgReconfigure)
	}
	if err = s.gate.CheckRoles(ctx, clan.GuildID, clan.OwnerRoleID, clan.ClanRoleID); err != nil {
		return nil, err
	}

	ch, err := s.createChannel(ctx, clan, category.ID, kind, name, staff)
	if err != nil {
		return nil, directoryError(op, err)
	}
	if kind == ChannelKindVoice {
		err = s.repo.UpdateVoiceChannel(ctx, clan.GuildID, clan.OwnerID, &ch.ID)
	} else {
		err = s.repo.UpdateTextChannel(ctx, clan.GuildID, clan.OwnerID, &ch.ID)
	}
	if err != nil {
		s.log(ctx).ErrorContext(
			ctx,
			"unable to store recreated channel",
			tint.Err(err),
			"channel_id", ch.ID,
		)
		return nil, err
	}
	return ch, nil
}

// ChannelResult is the outcome of recreating one clan channel
type ChannelResult struct {
	Kind          ChannelKind
	ChannelID     string
	AlreadyExists bool
}

func (r ChannelResult) String() string {
	if r.AlreadyExists {
		return fmt.Sprintf("The %s channel %s %s.", r.Kind, channelMention(r.ChannelID), msgAlreadyExists)
	}
	return fmt.Sprintf("Created the %s channel %s.", r.Kind, channelMention(r.ChannelID))
}

// RecreateChannels creates whichever of the clan's channels are unset or
// no longer exist. Channels that still exist are left alone, so repeated
// calls are harmless.
func (s *ClanService) RecreateChannels(ctx context.Context, actor Actor, system *ClanSystem) (
	results []ChannelResult,
	err error,
) {
	const op = "recreate channels"
	defer func() { s.metrics.observeOperation(op, err) }()
	logger := s.log(ctx)

	unlock := s.lockClan(actor.GuildID, actor.UserID)
	defer unlock()

	clan, err := s.requireOwned(ctx, op, actor.GuildID, actor.UserID)
	if err != nil {
		return nil, err
	}

	var staff []string
	for _, kind := range []ChannelKind{ChannelKindText, ChannelKindVoice} {
		if id := stringPointerValue(clan.ChannelID(kind)); id != "" {
			existing, fetchErr := s.provider.Channel(ctx, id)
			if fetchErr != nil {
				return results, externalError(op, fetchErr)
			}
			if existing != nil {
				results = append(
					results,
					ChannelResult{Kind: kind, ChannelID: existing.ID, AlreadyExists: true},
				)
				continue
			}
		}
		if staff == nil {
			staff = existingStaffRoles(ctx, s.provider, clan.GuildID, s.config.StaffViewerRoleIDs, logger)
		}
		ch, createErr := s.recreateChannel(
			ctx,
			op,
			clan,
			system,
			kind,
			defaultChannelName(clan.Name, kind),
			staff,
		)
		if createErr != nil {
			return results, createErr
		}
		if kind == ChannelKindVoice {
			clan.VoiceChannelID = &ch.ID
		} else {
			clan.TextChannelID = &ch.ID
		}
		results = append(results, ChannelResult{Kind: kind, ChannelID: ch.ID})
	}
	return results, nil
}

// DeleteClan tears down the actor's clan and deletes its row
func (s *ClanService) DeleteClan(ctx context.Context, actor Actor) (clan *Clan, err error) {
	const op = "delete clan"
	defer func() { s.metrics.observeOperation(op, err) }()
	return s.deleteOwned(ctx, op, actor.GuildID, actor.UserID, msgNoClan)
}

func (s *ClanService) deleteOwned(ctx context.Context, op, guildID, ownerID, missing string) (
	*Clan,
	error,
) {
	unlock := s.lockClan(guildID, ownerID)
	defer unlock()

	clan, err := s.requireClan(ctx, op, guildID, ownerID, missing)
	if err != nil {
		return nil, err
	}
	if err = s.gate.CheckRemovable(ctx, guildID, clan.OwnerRoleID, clan.ClanRoleID); err != nil {
		return nil, err
	}
	if teardownErr := s.teardown(ctx, clan); teardownErr != nil {
		s.log(ctx).WarnContext(
			ctx,
			"clan resources not fully removed",
			tint.Err(teardownErr),
			"clan", clan,
		)
	}
	if _, err = s.repo.Delete(ctx, guildID, ownerID); err != nil {
		return nil, err
	}
	s.invalidate(ctx, guildID, ownerID)
	s.log(ctx).InfoContext(ctx, "deleted clan", "clan", clan)
	return clan, nil
}

// teardown deletes both roles and both channels of the clan. Each delete
// runs independently, and resources which are already gone are ignored.
func (s *ClanService) teardown(ctx context.Context, clan *Clan) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err == nil || isNotFound(err) {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, roleID := range []string{clan.OwnerRoleID, clan.ClanRoleID} {
		roleID := roleID
		g.Go(
			func() error {
				record(s.provider.RoleDelete(ctx, clan.GuildID, roleID))
				return nil
			},
		)
	}
	for _, channelID := range []*string{clan.TextChannelID, clan.VoiceChannelID} {
		if channelID == nil || *channelID == "" {
			continue
		}
		channelID := channelID
		g.Go(
			func() error {
				record(s.provider.ChannelDelete(ctx, *channelID))
				return nil
			},
		)
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// View fetches the directory resources needed to render the clan
func (s *ClanService) View(ctx context.Context, clan *Clan) (ClanView, error) {
	const op = "view clan"
	view := ClanView{Clan: *clan}

	roles, err := s.provider.Roles(ctx, clan.GuildID)
	if err != nil {
		return view, externalError(op, err)
	}
	for _, r := range roles {
		switch r.ID {
		case clan.OwnerRoleID:
			view.OwnerRole = r
		case clan.ClanRoleID:
			view.ClanRole = r
		}
	}

	if clan.TextChannelID != nil {
		if view.TextChannel, err = s.provider.Channel(ctx, *clan.TextChannelID); err != nil {
			return view, externalError(op, err)
		}
	}
	if clan.VoiceChannelID != nil {
		if view.VoiceChannel, err = s.provider.Channel(ctx, *clan.VoiceChannelID); err != nil {
			return view, externalError(op, err)
		}
	}

	if view.ClanRole != nil {
		holders, countErr := s.provider.RoleMemberIDs(ctx, clan.GuildID, clan.ClanRoleID)
		if countErr != nil {
			return view, externalError(op, countErr)
		}
		view.ClanRoleHolders = len(holders)
	}
	return view, nil
}

// Details finds a clan by name and renders it
func (s *ClanService) Details(ctx context.Context, guildID, clanName string) (
	DisplayModel,
	error,
) {
	const op = "clan details"
	ownerID, err := s.repo.GetOwnerByName(ctx, guildID, strings.TrimSpace(clanName))
	if err != nil {
		return DisplayModel{}, err
	}
	if ownerID == "" {
		return DisplayModel{}, preconditionError(op, "There's no clan named **%s**!", clanName)
	}
	owner, err := s.provider.Member(ctx, guildID, ownerID)
	if err != nil {
		return DisplayModel{}, externalError(op, err)
	}
	if owner == nil {
		return DisplayModel{}, preconditionError(
			op,
			"The owner of **%s** is no longer in this server!",
			clanName,
		)
	}
	clan, err := s.repo.GetByOwner(ctx, guildID, ownerID)
	if err != nil {
		return DisplayModel{}, err
	}
	if clan == nil {
		return DisplayModel{}, preconditionError(op, "There's no clan named **%s**!", clanName)
	}
	view, err := s.View(ctx, clan)
	if err != nil {
		return DisplayModel{}, err
	}
	return renderClan(view), nil
}

// BeginIconSubmission asks the clan owner for an icon image in direct
// messages, opening the session the DM reply is matched against. A
// previous icon session for the same user is replaced.
func (s *ClanService) BeginIconSubmission(ctx context.Context, actor Actor) (
	session *Session,
	err error,
) {
	const op = "begin icon submission"
	clan, err := s.requireOwned(ctx, op, actor.GuildID, actor.UserID)
	if err != nil {
		return nil, err
	}

	userID := actor.UserID
	session = s.sessions.Open(
		SessionOptions{
			UserID:  userID,
			GuildID: clan.GuildID,
			OwnerID: clan.OwnerID,
			Purpose: PurposeIcon,
			Timeout: s.config.IconTimeout,
			OnEnd: func(_ *Session, state SessionState) {
				if state == SessionExpired {
					s.notify(context.Background(), userID, msgTimeout)
				}
			},
		},
	)

	_, err = s.provider.SendDirectMessage(
		ctx, userID, &discordgo.MessageSend{
			Content: fmt.Sprintf(
				"Send the image for **%s**'s icon here, <t:%d:R>. PNG, JPEG, GIF or WEBP, under %dKB.",
				clan.Name,
				session.ExpiresAt.Unix(),
				s.config.IconMaxBytes/1024,
			),
		},
	)
	if err != nil {
		session.Cancel()
		if isDMBlocked(err) {
			return nil, preconditionError(
				op,
				"I couldn't send you a direct message! Allow DMs from server members and try again.",
			)
		}
		return nil, externalError(op, err)
	}
	return session, nil
}

// HandleIconMessage applies the icon from a direct message, if the author
// has an open icon session. It returns false when there's no session, in
// which case the message is ignored.
func (s *ClanService) HandleIconMessage(ctx context.Context, m *discordgo.Message) (
	handled bool,
	err error,
) {
	if m == nil || m.Author == nil || m.Author.Bot || m.GuildID != "" {
		return false, nil
	}
	session, ok := s.sessions.Find(m.Author.ID, PurposeIcon, "")
	if !ok || !session.Complete() {
		return false, nil
	}
	return true, s.SetIcon(ctx, session.GuildID, session.OwnerID, m.Attachments)
}
