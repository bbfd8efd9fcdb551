package clanbot

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"log/slog"
	"strings"
	"time"
)

const (
	postgresNotifyChannelClanInvalidated = "clanbot_clan_invalidated"
	recordSeparator                      = "\x1e"
	notifierRetryInterval                = 5 * time.Second
)

// DBNotifier tells bot instances that a clan row was deleted or changed
// owner, so prompts bound to the old row can be cancelled.
type DBNotifier interface {
	// ID returns the identifier for this notifier. Instances use it to
	// filter out their own notifications.
	ID() string

	// ClanInvalidated applies the invalidation locally, and broadcasts it
	// to other instances where the database supports it
	ClanInvalidated(ctx context.Context, guildID, ownerID string) bool

	// Listen blocks, receiving invalidations from other instances until
	// ctx is cancelled
	Listen(ctx context.Context) error
}

// invalidateFunc is called for every invalidation, local or remote
type invalidateFunc func(guildID, ownerID string)

func newDBNotifier(
	databaseType string,
	db DBI,
	dsn string,
	onInvalidate invalidateFunc,
	logger *slog.Logger,
) (DBNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(loggerNameKey, "db_notifier")

	switch databaseType {
	case dbTypeSQLite:
		return &sqliteNotifier{
			logger:       log,
			notifyID:     notifyID,
			onInvalidate: onInvalidate,
		}, nil
	case dbTypePostgres:
		return &postgresNotifier{
			logger:       log,
			notifyID:     notifyID,
			db:           db,
			dsn:          dsn,
			onInvalidate: onInvalidate,
		}, nil
	default:
		return nil, errors.New("invalid database type")
	}
}

// sqliteNotifier only serves the local process, since a sqlite database
// isn't shared between bot instances
type sqliteNotifier struct {
	logger       *slog.Logger
	notifyID     string
	onInvalidate invalidateFunc
}

func (s *sqliteNotifier) ID() string {
	return s.notifyID
}

func (s *sqliteNotifier) ClanInvalidated(_ context.Context, guildID, ownerID string) bool {
	s.logger.Debug("clan invalidated", "guild_id", guildID, "owner_id", ownerID)
	if s.onInvalidate != nil {
		s.onInvalidate(guildID, ownerID)
	}
	return true
}

func (s *sqliteNotifier) Listen(ctx context.Context) error {
	s.logger.Debug("listener called, nothing to listen for")
	<-ctx.Done()
	return nil
}

type postgresNotifier struct {
	logger       *slog.Logger
	notifyID     string
	db           DBI
	dsn          string
	onInvalidate invalidateFunc
}

func (p *postgresNotifier) ID() string {
	return p.notifyID
}

func (p *postgresNotifier) ClanInvalidated(ctx context.Context, guildID, ownerID string) bool {
	if p.onInvalidate != nil {
		p.onInvalidate(guildID, ownerID)
	}

	msg := newClanInvalidatedMessage(p.ID(), guildID, ownerID)
	notifyErr := p.db.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		postgresNotifyChannelClanInvalidated,
		msg,
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(
			ctx,
			"error sending clan invalidation",
			tint.Err(notifyErr),
			"guild_id", guildID,
			"owner_id", ownerID,
		)
		return false
	}
	p.logger.DebugContext(
		ctx,
		"sent clan invalidation",
		"pg_notify_id", p.ID(),
		"guild_id", guildID,
		"owner_id", ownerID,
	)
	return true
}

func (p *postgresNotifier) Listen(ctx context.Context) error {
	channel := postgresNotifyChannelClanInvalidated
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "starting db listener")

	config, err := pgxpool.ParseConfig(p.dsn)
	if err != nil {
		logger.ErrorContext(ctx, "error parsing database config", tint.Err(err))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		logger.ErrorContext(ctx, "error creating connection pool", tint.Err(err))
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error acquiring connection", tint.Err(err))
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel)); err != nil {
		logger.ErrorContext(ctx, "error setting up listener", tint.Err(err))
		return err
	}
	logger.InfoContext(ctx, "started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			if ctx.Err() != nil {
				break
			}
			logger.ErrorContext(ctx, "error waiting for notification", tint.Err(e))
			select {
			case <-ctx.Done():
			case <-time.After(notifierRetryInterval):
			}
			continue
		}

		notifierID, guildID, ownerID, ok := parseClanInvalidatedMessage(notification.Payload)
		if !ok {
			logger.Warn("received malformed notification", "payload", notification.Payload)
			continue
		}
		if notifierID == p.ID() {
			continue
		}
		logger.InfoContext(
			ctx,
			"received clan invalidation",
			"guild_id", guildID,
			"owner_id", ownerID,
		)
		if p.onInvalidate != nil {
			p.onInvalidate(guildID, ownerID)
		}
	}
	return nil
}

func newClanInvalidatedMessage(notifierID, guildID, ownerID string) string {
	return strings.Join([]string{notifierID, guildID, ownerID}, recordSeparator)
}

func parseClanInvalidatedMessage(s string) (notifierID, guildID, ownerID string, ok bool) {
	parts := strings.Split(s, recordSeparator)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
