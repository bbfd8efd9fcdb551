package clanbot

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"log/slog"
)

const (
	msgNoClan          = "You don't own a clan!"
	msgNoSystem        = "No setup found! Ask an administrator to run /clan-admin set."
	msgSystemExists    = "A clan system is already set up for this server. Clear it first."
	msgClanExists      = "You already own a clan!"
	msgRoleAlreadyUsed = "One of those roles already belongs to another clan, or to the clan system."
)

// ErrClanNotFound is wrapped by update operations which didn't match a row
var ErrClanNotFound = errors.New("clan not found")

// ClanRepository is the persistence boundary for ClanSystem and Clan rows.
// Lookups return nil (or an empty slice) with a nil error when nothing
// matches. Store failures are returned as ErrStorage.
type ClanRepository interface {
	GetSystem(ctx context.Context, guildID string) (*ClanSystem, error)
	CreateSystem(ctx context.Context, system *ClanSystem) error
	ClearSystem(ctx context.Context, guildID string) (bool, error)
	DeleteSystemByRole(ctx context.Context, guildID, roleID string) (bool, error)
	DeleteSystemByCategory(ctx context.Context, guildID, categoryID string) (bool, error)
	ListSystems(ctx context.Context) ([]ClanSystem, error)

	GetByOwner(ctx context.Context, guildID, ownerID string) (*Clan, error)
	GetRoleByOwner(ctx context.Context, guildID, ownerID string) (string, error)
	GetClansByRoleIDs(ctx context.Context, guildID string, roleIDs []string) ([]Clan, error)
	GetOwnerByName(ctx context.Context, guildID, name string) (string, error)
	GetByRole(ctx context.Context, guildID, roleID string) ([]Clan, error)
	CountByGuild(ctx context.Context, guildID string) (int64, error)
	ListByGuild(ctx context.Context, guildID string) ([]Clan, error)
	ListClans(ctx context.Context) ([]Clan, error)

	Create(ctx context.Context, clan *Clan) error
	Replace(ctx context.Context, clan *Clan) error
	Delete(ctx context.Context, guildID, ownerID string) (bool, error)
	UpdateName(ctx context.Context, guildID, ownerID, name string) error
	UpdateTextChannel(ctx context.Context, guildID, ownerID string, channelID *string) error
	UpdateVoiceChannel(ctx context.Context, guildID, ownerID string, channelID *string) error
	UpdateOwner(ctx context.Context, guildID, ownerID, newOwnerID string) error

	DeleteByRole(ctx context.Context, guildID, roleID string) ([]Clan, error)
	ClearChannelReference(ctx context.Context, guildID, channelID string) ([]Clan, error)
}

type gormClanRepository struct {
	db     DBI
	logger *slog.Logger
}

// NewClanRepository returns a ClanRepository backed by the given database
func NewClanRepository(db DBI, logger *slog.Logger) ClanRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &gormClanRepository{
		db:     db,
		logger: logger.With(loggerNameKey, "clan_repository"),
	}
}

func (r *gormClanRepository) read(ctx context.Context) *gorm.DB {
	return r.db.DB().WithContext(ctx)
}

// first runs a single-row lookup, treating a missing row as absence
func first[T any](tx *gorm.DB, query any, args ...any) (*T, error) {
	var row T
	err := tx.Where(query, args...).Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *gormClanRepository) GetSystem(ctx context.Context, guildID string) (
	*ClanSystem,
	error,
) {
	system, err := first[ClanSystem](r.read(ctx), columnGuild+" = ?", guildID)
	if err != nil {
		return nil, storageError("get system", err)
	}
	return system, nil
}

func (r *gormClanRepository) CreateSystem(ctx context.Context, system *ClanSystem) error {
	if _, err := r.db.Create(ctx, system); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &ClanError{
				Kind:    ErrPrecondition,
				Op:      "create system",
				Message: msgSystemExists,
				Err:     err,
			}
		}
		return storageError("create system", err)
	}
	return nil
}

func (r *gormClanRepository) ClearSystem(ctx context.Context, guildID string) (bool, error) {
	rows, err := r.db.Delete(ctx, &ClanSystem{}, columnGuild+" = ?", guildID)
	if err != nil {
		return false, storageError("clear system", err)
	}
	return rows > 0, nil
}

func (r *gormClanRepository) DeleteSystemByRole(
	ctx context.Context,
	guildID string,
	roleID string,
) (bool, error) {
	rows, err := r.db.Delete(
		ctx,
		&ClanSystem{},
		columnGuild+" = ? AND "+columnRole+" = ?",
		guildID,
		roleID,
	)
	if err != nil {
		return false, storageError("delete system by role", err)
	}
	return rows > 0, nil
}

func (r *gormClanRepository) DeleteSystemByCategory(
	ctx context.Context,
	guildID string,
	categoryID string,
) (bool, error) {
	rows, err := r.db.Delete(
		ctx,
		&ClanSystem{},
		columnGuild+" = ? AND "+columnCategory+" = ?",
		guildID,
		categoryID,
	)
	if err != nil {
		return false, storageError("delete system by category", err)
	}
	return rows > 0, nil
}

func (r *gormClanRepository) ListSystems(ctx context.Context) ([]ClanSystem, error) {
	var systems []ClanSystem
	if err := r.read(ctx).Order(columnGuild).Find(&systems).Error; err != nil {
		return nil, storageError("list systems", err)
	}
	return systems, nil
}

func (r *gormClanRepository) GetByOwner(
	ctx context.Context,
	guildID string,
	ownerID string,
) (*Clan, error) {
	clan, err := first[Clan](
		r.read(ctx),
		columnGuild+" = ? AND "+columnOwner+" = ?",
		guildID,
		ownerID,
	)
	if err != nil {
		return nil, storageError("get clan by owner", err)
	}
	return clan, nil
}

// GetRoleByOwner returns the owner role ID of the owner's clan, or an
// empty string if they don't own one
func (r *gormClanRepository) GetRoleByOwner(
	ctx context.Context,
	guildID string,
	ownerID string,
) (string, error) {
	var roleIDs []string
	err := r.read(ctx).
		Model(&Clan{}).
		Where(columnGuild+" = ? AND "+columnOwner+" = ?", guildID, ownerID).
		Limit(1).
		Pluck(columnOwnerRole, &roleIDs).Error
	if err != nil {
		return "", storageError("get role by owner", err)
	}
	if len(roleIDs) == 0 {
		return "", nil
	}
	return roleIDs[0], nil
}

// GetClansByRoleIDs returns the clans whose membership role is one of
// roleIDs. This is how membership is derived from a member's roles.
func (r *gormClanRepository) GetClansByRoleIDs(
	ctx context.Context,
	guildID string,
	roleIDs []string,
) ([]Clan, error) {
	if len(roleIDs) == 0 {
		return []Clan{}, nil
	}
	var clans []Clan
	err := r.read(ctx).
		Where(columnGuild+" = ? AND "+columnClanRole+" IN ?", guildID, roleIDs).
		Order(columnClanName).
		Find(&clans).Error
	if err != nil {
		return nil, storageError("get clans by role ids", err)
	}
	return clans, nil
}

// GetOwnerByName returns the owner ID of the clan with the given name, or
// an empty string if there's no match. Names aren't unique, so the oldest
// matching clan wins.
func (r *gormClanRepository) GetOwnerByName(
	ctx context.Context,
	guildID string,
	name string,
) (string, error) {
	var owners []string
	err := r.read(ctx).
		Model(&Clan{}).
		Where(columnGuild+" = ? AND "+columnClanName+" = ?", guildID, name).
		Order("id").
		Limit(1).
		Pluck(columnOwner, &owners).Error
	if err != nil {
		return "", storageError("get owner by name", err)
	}
	if len(owners) == 0 {
		return "", nil
	}
	return owners[0], nil
}

// GetByRole returns clans referencing roleID as either their owner role
// or their clan role
func (r *gormClanRepository) GetByRole(
	ctx context.Context,
	guildID string,
	roleID string,
) ([]Clan, error) {
	var clans []Clan
	err := r.read(ctx).
		Where(
			columnGuild+" = ? AND ("+columnOwnerRole+" = ? OR "+columnClanRole+" = ?)",
			guildID,
			roleID,
			roleID,
		).
		Find(&clans).Error
	if err != nil {
		return nil, storageError("get clan by role", err)
	}
	return clans, nil
}

func (r *gormClanRepository) CountByGuild(ctx context.Context, guildID string) (
	int64,
	error,
) {
	var count int64
	err := r.read(ctx).
		Model(&Clan{}).
		Where(columnGuild+" = ?", guildID).
		Count(&count).Error
	if err != nil {
		return 0, storageError("count clans", err)
	}
	return count, nil
}

func (r *gormClanRepository) ListByGuild(ctx context.Context, guildID string) (
	[]Clan,
	error,
) {
	var clans []Clan
	err := r.read(ctx).
		Where(columnGuild+" = ?", guildID).
		Order(columnClanName).
		Find(&clans).Error
	if err != nil {
		return nil, storageError("list clans", err)
	}
	return clans, nil
}

func (r *gormClanRepository) ListClans(ctx context.Context) ([]Clan, error) {
	var clans []Clan
	if err := r.read(ctx).Order(columnGuild).Order("id").Find(&clans).Error; err != nil {
		return nil, storageError("list all clans", err)
	}
	return clans, nil
}

func (r *gormClanRepository) Create(ctx context.Context, clan *Clan) error {
	if clan.OwnerRoleID == clan.ClanRoleID {
		return validationError("create clan", "The owner role and clan role must be different!")
	}
	if _, err := r.db.Create(ctx, clan); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &ClanError{
				Kind:    ErrPrecondition,
				Op:      "create clan",
				Message: msgClanExists,
				Err:     err,
			}
		}
		return storageError("create clan", err)
	}
	return nil
}

// Replace deletes any existing clan for the owner and inserts clan in
// the same transaction
func (r *gormClanRepository) Replace(ctx context.Context, clan *Clan) error {
	if clan.OwnerRoleID == clan.ClanRoleID {
		return validationError("replace clan", "The owner role and clan role must be different!")
	}
	err := r.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if e := tx.Where(
				columnGuild+" = ? AND "+columnOwner+" = ?",
				clan.GuildID,
				clan.OwnerID,
			).Delete(&Clan{}).Error; e != nil {
				return e
			}
			return tx.Create(clan).Error
		},
	)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &ClanError{
				Kind:    ErrPrecondition,
				Op:      "replace clan",
				Message: msgRoleAlreadyUsed,
				Err:     err,
			}
		}
		return storageError("replace clan", err)
	}
	return nil
}

func (r *gormClanRepository) Delete(
	ctx context.Context,
	guildID string,
	ownerID string,
) (bool, error) {
	rows, err := r.db.Delete(
		ctx,
		&Clan{},
		columnGuild+" = ? AND "+columnOwner+" = ?",
		guildID,
		ownerID,
	)
	if err != nil {
		return false, storageError("delete clan", err)
	}
	return rows > 0, nil
}

func (r *gormClanRepository) updateOwned(
	ctx context.Context,
	op string,
	guildID string,
	ownerID string,
	values map[string]any,
) error {
	rows, err := r.db.UpdatesWhere(
		ctx,
		&Clan{},
		values,
		columnGuild+" = ? AND "+columnOwner+" = ?",
		guildID,
		ownerID,
	)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &ClanError{
				Kind:    ErrPrecondition,
				Op:      op,
				Message: "That member already owns a clan!",
				Err:     err,
			}
		}
		return storageError(op, err)
	}
	if rows == 0 {
		return &ClanError{
			Kind:    ErrPrecondition,
			Op:      op,
			Message: msgNoClan,
			Err:     ErrClanNotFound,
		}
	}
	return nil
}

func (r *gormClanRepository) UpdateName(
	ctx context.Context,
	guildID string,
	ownerID string,
	name string,
) error {
	return r.updateOwned(
		ctx,
		"update clan name",
		guildID,
		ownerID,
		map[string]any{columnClanName: name},
	)
}

func (r *gormClanRepository) updateChannel(
	ctx context.Context,
	kind ChannelKind,
	guildID string,
	ownerID string,
	channelID *string,
) error {
	return r.updateOwned(
		ctx,
		fmt.Sprintf("update %s channel", kind),
		guildID,
		ownerID,
		map[string]any{kind.column(): channelID},
	)
}

func (r *gormClanRepository) UpdateTextChannel(
	ctx context.Context,
	guildID string,
	ownerID string,
	channelID *string,
) error {
	return r.updateChannel(ctx, ChannelKindText, guildID, ownerID, channelID)
}

func (r *gormClanRepository) UpdateVoiceChannel(
	ctx context.Context,
	guildID string,
	ownerID string,
	channelID *string,
) error {
	return r.updateChannel(ctx, ChannelKindVoice, guildID, ownerID, channelID)
}

func (r *gormClanRepository) UpdateOwner(
	ctx context.Context,
	guildID string,
	ownerID string,
	newOwnerID string,
) error {
	return r.updateOwned(
		ctx,
		"update clan owner",
		guildID,
		ownerID,
		map[string]any{columnOwner: newOwnerID},
	)
}

// DeleteByRole deletes every clan referencing roleID, returning the rows
// that were removed
func (r *gormClanRepository) DeleteByRole(
	ctx context.Context,
	guildID string,
	roleID string,
) ([]Clan, error) {
	var deleted []Clan
	err := r.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			cond := columnGuild + " = ? AND (" + columnOwnerRole + " = ? OR " + columnClanRole + " = ?)"
			if e := tx.Where(cond, guildID, roleID, roleID).Find(&deleted).Error; e != nil {
				return e
			}
			if len(deleted) == 0 {
				return nil
			}
			return tx.Where(cond, guildID, roleID, roleID).Delete(&Clan{}).Error
		},
	)
	if err != nil {
		return nil, storageError("delete clans by role", err)
	}
	return deleted, nil
}

// ClearChannelReference nulls the text or voice channel column of any
// clan referencing channelID, returning the clans that were updated
func (r *gormClanRepository) ClearChannelReference(
	ctx context.Context,
	guildID string,
	channelID string,
) ([]Clan, error) {
	var updated []Clan
	err := r.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			for _, kind := range []ChannelKind{ChannelKindText, ChannelKindVoice} {
				var clans []Clan
				cond := columnGuild + " = ? AND " + kind.column() + " = ?"
				if e := tx.Where(cond, guildID, channelID).Find(&clans).Error; e != nil {
					return e
				}
				if len(clans) == 0 {
					continue
				}
				if e := tx.Model(&Clan{}).
					Where(cond, guildID, channelID).
					Update(kind.column(), nil).Error; e != nil {
					return e
				}
				updated = append(updated, clans...)
			}
			return nil
		},
	)
	if err != nil {
		return nil, storageError("clear channel reference", err)
	}
	return updated, nil
}
