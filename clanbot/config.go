//nolint:lll // struct tags can't be split
package clanbot

import (
	"crypto/tls"
	"github.com/bwmarrin/discordgo"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	EnvvarSetEnvPrefix = "CLANBOT_ENV_PREFIX"
	DefaultEnvPrefix   = "CB"

	// EnvvarStaffViewerRoleIDs is read in addition to the prefixed
	// clan.staff_viewer_role_ids setting
	EnvvarStaffViewerRoleIDs = "CLAN_VIEWER_ROLE_IDS"

	DefaultDatabaseType    = "sqlite"
	DefaultDatabase        = "clanbot.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultAPILogLevel           = slog.LevelInfo

	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages
	DefaultDiscordErrorMessage = "Sorry, something went wrong! Please try again later."

	DefaultClanMenuTimeout     = 600 * time.Second
	DefaultClanPromptTimeout   = 120 * time.Second
	DefaultClanTransferTimeout = 60 * time.Second
	DefaultClanIconTimeout     = 60 * time.Second
	DefaultClanInviteTimeout   = 24 * time.Hour
	DefaultClanButtonCooldown  = 10 * time.Second
	DefaultClanIconMaxBytes    = 256 * 1024

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultReadTimeout             = 5 * time.Second
	DefaultReadHeaderTimeout       = 5 * time.Second
	DefaultWriteTimeout            = 10 * time.Second
	DefaultIdleTimeout             = 30 * time.Second
	DefaultAPITLSMinVersion        = tls.VersionTLS12
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = false

	ClanNameMinLength    = 1
	ClanNameMaxLength    = 100
	ChannelNameMinLength = 1
	ChannelNameMaxLength = 50
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

var (
	structValidator = validator.New()

	// discord snowflakes are currently 17-20 digits
	snowflakePattern = regexp.MustCompile(`^\d{17,20}$`)
)

type Config struct {
	// Database connection string (or sqlite file path)
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`

	// Clan configures session timeouts and limits for clan flows
	Clan *ClanConfig `yaml:"clan" mapstructure:"clan" json:"clan" binding:"required"`

	// API configures the status API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api" binding:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// open the database and connect. If this is passed, startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. Guild members and direct messages are
	// needed for membership checks and DM icon submission.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// ClanConfig holds the durations and limits used by interactive clan flows.
type ClanConfig struct {
	// Role IDs granted view access to every clan channel the bot creates
	StaffViewerRoleIDs []string `yaml:"staff_viewer_role_ids" mapstructure:"staff_viewer_role_ids" json:"staff_viewer_role_ids"`

	// Lifetime of the /clan menu and its modify sub-menu
	MenuTimeout time.Duration `yaml:"menu_timeout" mapstructure:"menu_timeout" json:"menu_timeout" binding:"min=1s"`

	// Lifetime of name/color/channel modals, confirmation and leave prompts
	PromptTimeout time.Duration `yaml:"prompt_timeout" mapstructure:"prompt_timeout" json:"prompt_timeout" binding:"min=1s"`

	// Lifetime of the new-owner selection prompt
	TransferTimeout time.Duration `yaml:"transfer_timeout" mapstructure:"transfer_timeout" json:"transfer_timeout" binding:"min=1s"`

	// How long to wait for an icon image in direct messages
	IconTimeout time.Duration `yaml:"icon_timeout" mapstructure:"icon_timeout" json:"icon_timeout" binding:"min=1s"`

	// Lifetime of a DM invite before it silently closes
	InviteTimeout time.Duration `yaml:"invite_timeout" mapstructure:"invite_timeout" json:"invite_timeout" binding:"min=1s"`

	// Per-user cooldown between menu button presses
	ButtonCooldown time.Duration `yaml:"button_cooldown" mapstructure:"button_cooldown" json:"button_cooldown"`

	// Maximum accepted icon size, in bytes
	IconMaxBytes int64 `yaml:"icon_max_bytes" mapstructure:"icon_max_bytes" json:"icon_max_bytes" binding:"min=1"`
}

func validateClanConfig(sl validator.StructLevel) {
	value, ok := sl.Current().Interface().(ClanConfig)
	if !ok {
		return
	}
	if value.ButtonCooldown < 0 {
		sl.ReportError(
			value.ButtonCooldown,
			"ButtonCooldown",
			"button_cooldown",
			"gte",
			"0",
		)
	}
	for _, id := range value.StaffViewerRoleIDs {
		if !isSnowflake(id) {
			sl.ReportError(
				value.StaffViewerRoleIDs,
				"StaffViewerRoleIDs",
				"staff_viewer_role_ids",
				"snowflake",
				id,
			)
			return
		}
	}
}

// APIConfig configures the status API server
type APIConfig struct {
	// If false, the API server isn't started
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS. If no cert is set, the server listens
	// without TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true"`

	// Registers pprof handlers under /debug
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultClanConfig returns the default clan flow timeouts and limits
func DefaultClanConfig() *ClanConfig {
	return &ClanConfig{
		StaffViewerRoleIDs: []string{},
		MenuTimeout:        DefaultClanMenuTimeout,
		PromptTimeout:      DefaultClanPromptTimeout,
		TransferTimeout:    DefaultClanTransferTimeout,
		IconTimeout:        DefaultClanIconTimeout,
		InviteTimeout:      DefaultClanInviteTimeout,
		ButtonCooldown:     DefaultClanButtonCooldown,
		IconMaxBytes:       DefaultClanIconMaxBytes,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		Clan: DefaultClanConfig(),
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}

// ParseStaffViewerRoleIDs splits a comma-separated list of role IDs.
// Blank entries are ignored. Entries that aren't discord snowflakes are
// logged and skipped, so a single typo doesn't prevent startup.
func ParseStaffViewerRoleIDs(raw string, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	seen := map[string]bool{}
	ids := []string{}

	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if !snowflakePattern.MatchString(id) {
			logger.Warn("ignoring malformed staff viewer role id", "role_id", id)
			continue
		}
		if _, err := snowflake.ParseString(id); err != nil {
			logger.Warn(
				"ignoring unparseable staff viewer role id",
				"role_id", id,
				"error", err.Error(),
			)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// isSnowflake reports whether s looks like a discord ID
func isSnowflake(s string) bool {
	if !snowflakePattern.MatchString(s) {
		return false
	}
	_, err := snowflake.ParseString(s)
	return err == nil
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
	structValidator.RegisterStructValidation(validateClanConfig, ClanConfig{})
}
