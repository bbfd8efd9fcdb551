package clanbot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	xRequestIDHeader = "X-Request-ID"
	bearerPrefix     = "Bearer "

	apiHealthCheck = "/healthz"
	apiMetrics     = "/metrics"
	apiPrefix      = "/api"
	pprofPrefix    = "/debug"

	apiPathGuildSystem = "/guilds/:guild_id/system"
	apiPathGuildClans  = "/guilds/:guild_id/clans"
	apiPathGuildClan   = "/guilds/:guild_id/clans/:owner_id"

	ginAPILoggerKey     = "api_logger"
	ginRequestLoggerKey = "request_logger"
	ginCredentialKey    = "credential"
)

// API serves the bot's health, metrics, and a read-only view of each
// guild's clan setup and clans.
type API struct {
	bot        *ClanBot
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
}

type httpError struct {
	Error string `json:"error"`
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool    `json:"discord_gateway_connected"`
	OpenSessions            int     `json:"open_sessions"`
	UptimeSeconds           float64 `json:"uptime_seconds"`
	Version                 string  `json:"version"`
}

type guildClansResponse struct {
	GuildID string `json:"guild_id"`
	Clans   []Clan `json:"clans"`
}

func newAPI(b *ClanBot, config *APIConfig) (*API, error) {
	logger := slog.New(newLogHandler(config.LogLevel)).With(loggerNameKey, "api")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &API{
		bot:    b,
		config: config,
		engine: r,
		logger: logger,
	}

	var tlsCfg *tls.Config
	if config.SSL.Cert != "" {
		var err error
		tlsCfg, err = tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(apiMetrics, gin.WrapH(promhttp.HandlerFor(b.metrics.registry, promhttp.HandlerOpts{})))

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(b))
	protected.GET(apiPathGuildSystem, api.getGuildSystem)
	protected.GET(apiPathGuildClans, api.getGuildClans)
	protected.GET(apiPathGuildClan, api.getGuildClan)

	return api, nil
}

// Serve listens on the configured address and serves until the server
// is shut down. If a cert is configured, connections are wrapped in TLS.
func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	if a.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, a.httpServer.TLSConfig)
	}
	a.listener = ln
	a.logger.InfoContext(ctx, "api listening", "addr", ln.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) healthCheck(c *gin.Context) {
	var uptime float64
	if !a.bot.startedAt.IsZero() {
		uptime = time.Since(a.bot.startedAt).Seconds()
	}
	c.JSON(
		http.StatusOK, healthCheckResponse{
			DiscordGatewayConnected: a.bot.discord.connected.Load(),
			OpenSessions:            a.bot.sessions.Len(),
			UptimeSeconds:           uptime,
			Version:                 Version,
		},
	)
}

// guildParam returns the validated guild_id path parameter, aborting
// the request if it isn't a snowflake
func guildParam(c *gin.Context) (string, bool) {
	guildID := c.Param("guild_id")
	if !isSnowflake(guildID) {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: "invalid guild_id"})
		return "", false
	}
	return guildID, true
}

// repository returns the bot's repository, aborting the request if the
// database hasn't been opened yet
func (a *API) repository(c *gin.Context) (ClanRepository, bool) {
	if a.bot.repo == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, httpError{Error: "not ready"})
		return nil, false
	}
	return a.bot.repo, true
}

func (a *API) getGuildSystem(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}
	repo, ok := a.repository(c)
	if !ok {
		return
	}
	system, err := repo.GetSystem(c.Request.Context(), guildID)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: "internal error"})
		return
	}
	if system == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: "no clan system set up"})
		return
	}
	c.JSON(http.StatusOK, system)
}

func (a *API) getGuildClans(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}
	repo, ok := a.repository(c)
	if !ok {
		return
	}
	clans, err := repo.ListByGuild(c.Request.Context(), guildID)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: "internal error"})
		return
	}
	if clans == nil {
		clans = []Clan{}
	}
	c.JSON(http.StatusOK, guildClansResponse{GuildID: guildID, Clans: clans})
}

func (a *API) getGuildClan(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}
	ownerID := c.Param("owner_id")
	if !isSnowflake(ownerID) {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: "invalid owner_id"})
		return
	}
	repo, ok := a.repository(c)
	if !ok {
		return
	}
	clan, err := repo.GetByOwner(c.Request.Context(), guildID, ownerID)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: "internal error"})
		return
	}
	if clan == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: "clan not found"})
		return
	}
	c.JSON(http.StatusOK, clan)
}

// authMiddleware requires a bearer token matching one of the stored
// APICredential hashes
func authMiddleware(b *ClanBot) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)

		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, bearerPrefix)
		token = strings.TrimSpace(token)
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		if b.writeDB == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, httpError{Error: "not ready"})
			return
		}

		var credentials []APICredential
		if err := b.writeDB.DB().WithContext(c.Request.Context()).Find(&credentials).Error; err != nil {
			logger.Error("error loading api credentials", tint.Err(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: "internal error"})
			return
		}

		for _, cred := range credentials {
			ok, err := VerifyToken(cred.TokenHash, token)
			if err != nil {
				logger.Warn("invalid stored token hash", "credential", cred.Name, tint.Err(err))
				continue
			}
			if ok {
				c.Set(ginCredentialKey, cred.Name)
				logger.Debug("authenticated", "credential", cred.Name)
				c.Next()
				return
			}
		}

		logger.Warn("invalid api token")
		c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
	}
}

// requestIDMiddleware assigns each request an ID, returned in the
// X-Request-ID header and included in the request's log entries.
// A valid incoming X-Request-ID is kept.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(xRequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request logger stored in the gin context,
// creating it (with request details attached) on first use
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginRequestLoggerKey); ok {
		if requestLogger, isLogger := v.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	base := slog.Default()
	if v, ok := c.Get(ginAPILoggerKey); ok {
		if l, isLogger := v.(*slog.Logger); isLogger {
			base = l
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(ginRequestLoggerKey, requestLogger)
	return requestLogger
}

func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(ginAPILoggerKey, logger)
		requestLogger := ginContextLogger(c)

		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				tint.Err(errors.Join(errorsFromGin(errs)...)),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

func errorsFromGin(errs []*gin.Error) []error {
	out := make([]error, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Err)
	}
	return out
}
