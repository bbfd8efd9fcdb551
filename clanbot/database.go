package clanbot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
		"pragma busy_timeout = 5000;",
	}
	dbOperationTimeout = 30 * time.Second
)

// allModels is the set of tables managed by AutoMigrate
var allModels = []any{
	&ClanSystem{},
	&Clan{},
	&InteractionLog{},
	&APICredential{},
}

// DBI is the write interface used by the bot. Reads go directly
// through DB().
type DBI interface {
	DB() *gorm.DB
	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Updates(ctx context.Context, model any, values any) (rowsAffected int64, err error)
	Update(ctx context.Context, model any, column string, value any) (
		rowsAffected int64,
		err error,
	)
	UpdatesWhere(
		ctx context.Context,
		model any,
		values map[string]any,
		query any,
		conds ...any,
	) (rowsAffected int64, err error)
	Delete(ctx context.Context, value any, conds ...any) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) (err error)
}

// database wraps a gorm.DB for write operations. When concurrent writes
// are disabled (sqlite), writes are serialized with a mutex. Every write
// gets dbOperationTimeout if the context doesn't already have a deadline.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewDatabase initializes a new DBI wrapping the given connection.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) lock() func() {
	if d.enableConcurrentWrites {
		return func() {}
	}
	d.mu.Lock()
	return d.mu.Unlock
}

func withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	defer d.lock()()
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	defer d.lock()()
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Update(
	ctx context.Context,
	model any,
	column string,
	value any,
) (rowsAffected int64, err error) {
	defer d.lock()()
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(model).Update(column, value)
	return rv.RowsAffected, rv.Error
}

func (d *database) UpdatesWhere(
	ctx context.Context,
	model any,
	values map[string]any,
	query any,
	conds ...any,
) (rowsAffected int64, err error) {
	defer d.lock()()
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(model).Where(query, conds...).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(
	ctx context.Context,
	value any,
	conds ...any,
) (rowsAffected int64, err error) {
	defer d.lock()()
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) (err error) {
	defer d.lock()()
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

// CreateDB opens the database and runs migrations. It's used by the
// `init` command and by tests.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := newLogHandler(slog.LevelWarn)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := openDB(ctx, databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}
	if err = migrate(ctx, db); err != nil {
		return db, err
	}
	return db, nil
}

// openDB opens a connection and, for sqlite, applies the connection
// limits and pragmas.
func openDB(
	ctx context.Context,
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return nil, err
	}
	if databaseType != dbTypeSQLite {
		return db, nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
	sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

	pragmaErrors := make([]error, 0, len(sqliteExecPragma))
	for _, p := range sqliteExecPragma {
		pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
	}
	if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
		return nil, pragmaErr
	}
	return db, nil
}

func migrate(ctx context.Context, db *gorm.DB) error {
	txn := db.WithContext(ctx).Begin()
	if err := txn.Migrator().AutoMigrate(allModels...); err != nil {
		txn.Rollback()
		return fmt.Errorf("error migrating database: %w", err)
	}
	if err := txn.Commit().Error; err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), gormConfig)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), gormConfig)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
