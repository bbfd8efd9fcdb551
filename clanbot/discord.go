package clanbot

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Discord manages the gateway connection and the bot's registered
// application commands.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metrics                     *metrics
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
}

func newDiscord(config *DiscordConfig, m *metrics) *Discord {
	return &Discord{
		config:                      config,
		metrics:                     m,
		discordgoRemoveHandlerFuncs: []func(){},
	}
}

// newSession creates a discordgo session for the configured bot token
func (d *Discord) newSession() (DiscordSession, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = true
	session.session = disc
	if d.config.httpClient != nil {
		session.SetHTTPClient(d.config.httpClient)
	}
	if d.config.DiscordGoLogLevel != nil {
		if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
			return session, err
		}
	}
	return session, nil
}

func (d *Discord) handlerReady() func(s *discordgo.Session, r *discordgo.Ready) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		var userID, username string
		if r.User != nil {
			userID = r.User.ID
			username = r.User.Username
		}
		d.logger.Info(
			"Ready",
			"session_id", r.SessionID,
			slog.Group("user", "id", userID, "username", username),
			"guilds", len(r.Guilds),
		)
	}
}

func (d *Discord) handlerConnect() func(s *discordgo.Session, c *discordgo.Connect) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.connected.Store(true)
		if d.metrics != nil {
			d.metrics.gatewayConnect.Inc()
		}
		d.logger.Info("Connected", sessionLogAttrs(s)...)
	}
}

func (d *Discord) handlerDisconnect() func(s *discordgo.Session, c *discordgo.Disconnect) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		if d.metrics != nil {
			d.metrics.gatewayDrop.Inc()
		}
		d.logger.Warn("disconnected", sessionLogAttrs(s)...)
	}
}

func sessionLogAttrs(s *discordgo.Session) []any {
	var sessionID, userID, username string
	if s != nil && s.State != nil {
		sessionID = s.State.SessionID
		if s.State.User != nil {
			userID = s.State.User.ID
			username = s.State.User.Username
		}
	}
	return []any{
		"session_id", sessionID,
		slog.Group("user", "id", userID, "username", username),
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		applicationCommands(),
		options...,
	)
	if err != nil {
		return created, fmt.Errorf("error overwriting discord commands: %w", err)
	}
	if len(created) == 0 {
		d.logger.Warn("no commands were registered")
	}
	return created, nil
}

// DiscordSessionHandler is the subset of *discordgo.Session used for the
// gateway connection and interaction responses
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ApplicationCommandBulkOverwrite overwrites application commands in bulk
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	InteractionResponse(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	InteractionResponseDelete(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) error

	// FollowupMessageCreate sends an additional message for an
	// interaction which was already responded to
	FollowupMessageCreate(
		interaction *discordgo.Interaction,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)
}

// DiscordSession implements DiscordSessionHandler with a *discordgo.Session
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

// SetLogLevel maps an slog level onto the discordgo session log level
func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponse(
	interaction *discordgo.Interaction,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.InteractionResponse(interaction, options...)
	if err != nil {
		d.logger.Error("error getting interaction response", tint.Err(err))
	}
	return msg, err
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) InteractionResponseDelete(
	interaction *discordgo.Interaction,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionResponseDelete(interaction, options...)
}

func (d DiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	wait bool,
	data *discordgo.WebhookParams,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.FollowupMessageCreate(interaction, wait, data, options...)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name, "id", c.ID)
	}
	return created, nil
}
