// Package api implements Quarry's admin REST API: server status, live
// connections and players, kicks, broadcasts and the ban list, guarded by
// bearer tokens with monitor, control and configure permission levels.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/energizer-project/quarry/internal/config"
	"github.com/energizer-project/quarry/internal/db"
	"github.com/energizer-project/quarry/internal/game"
	"github.com/energizer-project/quarry/internal/health"
	"github.com/energizer-project/quarry/internal/metrics"
	"github.com/energizer-project/quarry/internal/network"
	"github.com/energizer-project/quarry/internal/server"
	"github.com/energizer-project/quarry/internal/util"
)

// Operator is the server control surface the API drives.
type Operator interface {
	Overview() server.Overview
	Connections() []network.ConnectionInfo
	Players() []game.Member
	RecentPlayers(ctx context.Context, limit int) ([]db.PlayerRecord, error)
	Kick(id uint64, reason, by string) error
	KickPlayer(name, reason, by string) (uint64, error)
	Broadcast(msg string) int
	SetMOTD(motd string) error
	Bans(ctx context.Context) ([]db.Ban, error)
	Ban(ctx context.Context, kind db.BanKind, target, reason, by string, duration time.Duration) (*db.Ban, []uint64, error)
	Unban(ctx context.Context, kind db.BanKind, target, by string) error
}

// HealthReporter exposes the latest health check results.
type HealthReporter interface {
	Results() []health.Result
	Healthy() bool
}

// Server is the REST API server.
type Server struct {
	cfg      *config.Config
	operator Operator
	health   HealthReporter
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	router     *gin.Engine
	httpServer *http.Server
	ready      chan struct{}
	addr       net.Addr
}

// NewServer creates the API server. health and m may be nil.
func NewServer(cfg *config.Config, op Operator, hr HealthReporter, m *metrics.Metrics) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		operator: op,
		health:   hr,
		metrics:  m,
		logger:   util.ComponentLogger("api"),
		ready:    make(chan struct{}),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Ready is closed once the API socket is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. It is valid after Ready.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()
	addr := net.JoinHostPort(apiCfg.Address, strconv.Itoa(apiCfg.Port))

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	if apiCfg.TLSEnabled {
		cert, err := util.LoadOrCreateCertificate(apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
		if err != nil {
			ln.Close()
			return err
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}

	s.addr = ln.Addr()
	close(s.ready)
	s.logger.Info().
		Str("addr", s.addr.String()).
		Bool("tls", apiCfg.TLSEnabled).
		Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetAPI()
	router := gin.New()

	var obs HTTPObserver
	if s.metrics != nil {
		obs = s.metrics
	}
	router.Use(gin.Recovery())
	router.Use(RequestLogger(obs))
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())

	auth := NewAuthMiddleware(apiCfg)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/get_server_status", s.handleGetServerStatus)
		public.GET("/get_health", s.handleGetHealth)
	}

	protected := router.Group("/api")
	protected.Use(auth.RequireAuth())

	monitor := protected.Group("/monitor")
	monitor.Use(auth.RequirePermission(PermMonitor))
	{
		monitor.GET("/get_connections", s.handleGetConnections)
		monitor.GET("/get_players", s.handleGetPlayers)
		monitor.GET("/get_player_history", s.handleGetPlayerHistory)
		monitor.GET("/get_system_usage", s.handleGetSystemUsage)
		monitor.GET("/get_bans", s.handleGetBans)
	}

	control := protected.Group("/control")
	control.Use(auth.RequirePermission(PermControl))
	{
		control.POST("/kick/:id", s.handleKick)
		control.POST("/kick_player/:name", s.handleKickPlayer)
		control.POST("/broadcast", s.handleBroadcast)
	}

	configure := protected.Group("/configure")
	configure.Use(auth.RequirePermission(PermConfigure))
	{
		configure.GET("/get_config", s.handleGetConfig)
		configure.POST("/set_motd", s.handleSetMOTD)
		configure.POST("/bans", s.handleAddBan)
		configure.DELETE("/bans/:kind/:target", s.handleRemoveBan)
	}

	if s.metrics != nil {
		router.GET("/metrics",
			auth.RequireAuth(),
			auth.RequirePermission(PermMonitor),
			gin.WrapH(s.metrics.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}
