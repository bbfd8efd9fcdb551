package cmd

import (
	"context"
	"fmt"
	"github.com/arcward/clanbot/clanbot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"unicode"
)

var (
	cfg        = clanbot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "clanbot [flags]",
	Short: "Discord bot for member-managed clans",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cfg)
	},
}

// loadConfig decodes viper's settings into c
func loadConfig(c *clanbot.Config) error {
	err := viper.Unmarshal(
		c,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				StringToSliceHookFunc(),
				LevelToStringHookFunc(),
			),
		),
		// lists from the environment replace the defaults instead of
		// being merged into them
		func(dc *mapstructure.DecoderConfig) {
			dc.ZeroFields = true
		},
	)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	// the bare envvar name used by existing deployments is accepted
	// alongside the prefixed setting
	if raw := os.Getenv(clanbot.EnvvarStaffViewerRoleIDs); raw != "" {
		c.Clan.StaffViewerRoleIDs = append(
			c.Clan.StaffViewerRoleIDs,
			clanbot.ParseStaffViewerRoleIDs(raw, slog.Default())...,
		)
	}
	c.Clan.StaffViewerRoleIDs = clanbot.ParseStaffViewerRoleIDs(
		strings.Join(c.Clan.StaffViewerRoleIDs, ","),
		slog.Default(),
	)
	return nil
}

// StringToSliceHookFunc splits strings on commas and whitespace, so
// list settings can be given either way in the environment
func StringToSliceHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Slice {
			return data, nil
		}
		return strings.FieldsFunc(
			data.(string), func(r rune) bool {
				return r == ',' || unicode.IsSpace(r)
			},
		), nil
	}
}

func getLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
	return lvl, nil
}

// LevelToStringHookFunc decodes level names ("debug", "WARN"...) into
// *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else if err := godotenv.Load(configFile); err != nil {
		log.Printf("unable to load %s: %v", configFile, err)
	}

	setDefaults()

	envPrefix := os.Getenv(clanbot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = clanbot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func setDefaults() {
	viper.SetDefault("database", clanbot.DefaultDatabase)
	viper.SetDefault("database_type", clanbot.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", clanbot.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", clanbot.DefaultDatabaseLogLevel.String())
	viper.SetDefault("log_level", clanbot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", clanbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", clanbot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.log_level", clanbot.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", clanbot.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", clanbot.DefaultDiscordGatewayIntent)

	// Clan flows
	viper.SetDefault("clan.staff_viewer_role_ids", []string{})
	viper.SetDefault("clan.menu_timeout", clanbot.DefaultClanMenuTimeout)
	viper.SetDefault("clan.prompt_timeout", clanbot.DefaultClanPromptTimeout)
	viper.SetDefault("clan.transfer_timeout", clanbot.DefaultClanTransferTimeout)
	viper.SetDefault("clan.icon_timeout", clanbot.DefaultClanIconTimeout)
	viper.SetDefault("clan.invite_timeout", clanbot.DefaultClanInviteTimeout)
	viper.SetDefault("clan.button_cooldown", clanbot.DefaultClanButtonCooldown)
	viper.SetDefault("clan.icon_max_bytes", clanbot.DefaultClanIconMaxBytes)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", clanbot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", clanbot.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", clanbot.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", clanbot.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", clanbot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", clanbot.DefaultIdleTimeout)
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.ssl.cert", "")
	viper.SetDefault("api.ssl.key", "")
	viper.SetDefault("api.ssl.tls_min_version", clanbot.DefaultAPITLSMinVersion)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", clanbot.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", clanbot.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", clanbot.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", clanbot.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", clanbot.DefaultAPICORSAllowCredentials)
}

//nolint:gochecknoinits // cobra wiring
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config (.env) file to load",
	)
}
