package clanbot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const shutdownAnnouncementInterval = 10 * time.Second

var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// ClanBot is the main application. It owns the gateway connection, the
// database, the in-memory sessions and the status API.
//
// Create one with New, then call Run. Run blocks until the context is
// cancelled (or Stop is called), then shuts down gracefully.
type ClanBot struct {
	config *Config

	db       *gorm.DB
	writeDB  DBI
	repo     ClanRepository
	provider GuildResourceProvider
	sessions *SessionManager
	service  *ClanService
	notifier DBNotifier
	discord  *Discord
	api      *API
	metrics  *metrics

	logger     *slog.Logger
	logHandler slog.Handler

	runMu         sync.Mutex
	signalStop    chan struct{}
	signalReady   chan struct{}
	eventShutdown chan struct{}
	startedAt     time.Time

	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New creates a ClanBot from the given config. Nothing is opened or
// connected until Run is called.
func New(config *Config) (*ClanBot, error) {
	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
	default:
		return nil, fmt.Errorf("invalid database type: %q", config.DatabaseType)
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Clan == nil {
		config.Clan = DefaultClanConfig()
	}

	handler := newLogHandler(config.LogLevel)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	discordgoLogHandler := newLogHandler(config.Discord.DiscordGoLogLevel)
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		discordgoLogHandler.WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	b := &ClanBot{
		config:        config,
		logger:        logger,
		logHandler:    handler,
		metrics:       newMetrics(),
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	b.discord = newDiscord(config.Discord, b.metrics)
	b.discord.logger = slog.New(newLogHandler(config.Discord.LogLevel)).With(
		loggerNameKey,
		"discord",
	)
	config.Discord.httpClient = config.HTTPClient

	b.sessions = NewSessionManager(config.Clan.ButtonCooldown, logger)
	b.sessions.metrics = b.metrics

	var errs []error
	api, err := newAPI(b, config.API)
	if err != nil {
		errs = append(errs, err)
	}
	b.api = api

	return b, errors.Join(errs...)
}

// ValidateConfig validates the bot's config against its binding tags
func (b *ClanBot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// RegisterSlashCommands overwrites the bot's registered application
// commands, creating a session to do so if needed.
func (b *ClanBot) RegisterSlashCommands(ctx context.Context) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	if b.discord.session == nil {
		session, err := b.discord.newSession()
		if err != nil {
			return nil, err
		}
		b.discord.session = session
	}
	return b.discord.registerCommands(discordgo.WithContext(ctx))
}

// Stop signals a running bot to shut down
func (b *ClanBot) Stop() {
	if b.signalStop == nil {
		return
	}
	select {
	case b.signalStop <- struct{}{}:
	default:
	}
}

// Run opens the database, connects to the discord gateway and registers
// commands, then blocks until ctx is cancelled or Stop is called.
func (b *ClanBot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.signalStop = make(chan struct{}, 1)
	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	runtimeWG := &sync.WaitGroup{}

	// cancelling the runtime context triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			logger.Warn("context canceled")
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- b.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return errors.New("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if err := b.initDiscordSession(ctx, runtimeWG); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return err
	}

	if err := b.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	if _, err := b.discord.registerCommands(discordgo.WithContext(startCtx)); err != nil {
		logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
		_ = b.discord.session.Close()
		return err
	}

	if b.config.API.Enabled && b.api != nil {
		go func() {
			httpErr := b.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := b.notifier.Listen(ctx); e != nil && !errors.Is(e, context.Canceled) {
			logger.ErrorContext(ctx, "error listening for clan invalidations", tint.Err(e))
		}
	}()

	select {
	case b.signalReady <- struct{}{}:
		logger.InfoContext(ctx, "sent ready signal")
	default:
	}

	// block until something cancels the runtime context, generally an
	// interrupt
	<-ctx.Done()

	return b.shutdown(ctx, runtimeWG)
}

// initRun opens the database and sets up the repository and notifier
func (b *ClanBot) initRun(ctx context.Context) error {
	if err := b.initDB(ctx); err != nil {
		return err
	}
	if b.repo == nil {
		b.repo = NewClanRepository(b.writeDB, b.logger)
	}
	if b.notifier == nil {
		notifier, err := newDBNotifier(
			b.config.DatabaseType,
			b.writeDB,
			b.config.Database,
			func(guildID, ownerID string) {
				b.sessions.InvalidateClan(guildID, ownerID)
			},
			b.logger,
		)
		if err != nil {
			return fmt.Errorf("error creating db notifier: %w", err)
		}
		b.notifier = notifier
	}
	return nil
}

func (b *ClanBot) initDB(ctx context.Context) error {
	if b.writeDB != nil {
		return nil
	}
	dbHandler := newLogHandler(b.config.DatabaseLogLevel)
	logger := slog.New(dbHandler).With(loggerNameKey, "database")

	if b.db == nil {
		logger.InfoContext(
			ctx,
			"opening database",
			"database_type", b.config.DatabaseType,
		)
		db, err := openDB(
			ctx,
			b.config.DatabaseType,
			b.config.Database,
			newGORMLogger(dbHandler, b.config.DatabaseSlowThreshold),
		)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		b.db = db
	}
	if err := migrate(ctx, b.db); err != nil {
		return err
	}
	b.writeDB = NewDatabase(b.db, logger, b.config.DatabaseType == dbTypePostgres)
	return nil
}

// initDiscordSession creates the gateway session, the guild provider and
// the clan service, and adds the gateway event handlers
func (b *ClanBot) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := b.logger.With(loggerNameKey, "discord_session")

	if b.discord.session == nil {
		disc, err := b.discord.newSession()
		if err != nil {
			return err
		}
		b.discord.session = disc
	}

	if b.provider == nil {
		disc, ok := b.discord.session.(DiscordSession)
		if !ok {
			return errors.New("no guild resource provider set")
		}
		b.provider = newDiscordProvider(disc.session, b.logger)
	}

	if b.service == nil {
		b.service = NewClanService(
			b.repo,
			b.provider,
			b.sessions,
			b.notifier,
			b.config.Clan,
			newIconFetcher(b.config.HTTPClient, b.config.Clan.IconMaxBytes),
			b.logger,
		)
		b.service.metrics = b.metrics
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range b.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	b.discord.session.SetIdentify(discordgo.Identify{Intents: b.config.Discord.GatewayIntents})

	// every event is handled in its own goroutine, tracked by runtimeWG
	// so shutdown can wait on in-flight work
	spawn := func(f func()) {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			f()
		}()
	}

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		b.discord.session.AddHandler(b.discord.handlerConnect()),
		b.discord.session.AddHandler(b.discord.handlerDisconnect()),
		b.discord.session.AddHandler(b.discord.handlerReady()),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := b.getInteractionHandlerFunc(ctx, i)
				spawn(func() { b.handleInteraction(ctx, handler) })
			},
		),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
				spawn(func() { b.onRoleDelete(ctx, e) })
			},
		),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, e *discordgo.ChannelDelete) {
				spawn(func() { b.onChannelDelete(ctx, e) })
			},
		),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				spawn(func() { b.onMessageCreate(ctx, m) })
			},
		),
	}

	if b.getInteractionHandlerFunc == nil {
		b.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     b.discord.session,
				interaction: i,
				logger: b.logger.With(
					slog.Group("interaction", interactionLogAttrs(*i)...),
				),
			}
		}
	}
	return nil
}

// shutdown cancels open sessions, waits on in-flight event handlers, then
// closes the API server and the gateway connection. If that doesn't finish
// within ShutdownTimeout, the API server is closed forcefully.
func (b *ClanBot) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	b.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if b.eventShutdown != nil {
			go func() {
				b.eventShutdown <- struct{}{}
			}()
		}
	}()

	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(b.config.ShutdownTimeout)

	announcementTicker := time.NewTicker(shutdownAnnouncementInterval)
	defer announcementTicker.Stop()

	b.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", b.config.ShutdownTimeout,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(context.Background(), shutdownDeadline)
	defer closeCancel()

	// open prompts get their components disabled, so nobody is left
	// pressing dead buttons
	b.sessions.CancelAll()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		b.logger.InfoContext(
			ctx,
			"finished handling in-flight events",
			"duration", time.Since(shutdownStart),
		)

		stopWG := &sync.WaitGroup{}
		if b.api != nil && b.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				b.logger.InfoContext(ctx, "stopping http server")
				_ = b.api.httpServer.Shutdown(closeCtx)
				b.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		if b.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				b.logger.InfoContext(ctx, "closing discord session")
				_ = b.discord.session.Close()
				for _, h := range b.discord.discordgoRemoveHandlerFuncs {
					h()
				}
				b.discord.discordgoRemoveHandlerFuncs = nil
				b.logger.InfoContext(ctx, "discord session closed")
			}()
		}

		stopWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	for {
		select {
		case <-gracefulShutdownCh:
			b.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_duration", time.Since(shutdownStart),
			)
			return nil
		case <-announcementTicker.C:
			b.logger.Warn(
				fmt.Sprintf("time until hard shutdown: %s", time.Until(shutdownDeadline)),
			)
		case <-closeCtx.Done():
			b.logger.Warn("in-flight events did not finish in time, forcing close")
			if b.api != nil && b.api.httpServer != nil {
				go func() {
					_ = b.api.httpServer.Close()
				}()
			}
			return errors.New("shutdown did not complete in time")
		}
	}
}
