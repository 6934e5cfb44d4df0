package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/beacon"
	"github.com/energizer-project/partybeacon/internal/config"
	"github.com/energizer-project/partybeacon/internal/db"
	"github.com/energizer-project/partybeacon/internal/events"
	"github.com/energizer-project/partybeacon/internal/metrics"
	intnet "github.com/energizer-project/partybeacon/internal/network"
	"github.com/energizer-project/partybeacon/internal/protocol"
	"github.com/energizer-project/partybeacon/internal/server"
	"github.com/energizer-project/partybeacon/internal/util"
)

// BeaconController is the part of server.Manager the API drives.
type BeaconController interface {
	Name() string
	IsRunning() bool
	Snapshot(ctx context.Context) (beacon.HostSnapshot, error)
	Skills(ctx context.Context) (beacon.SkillSnapshot, error)
	Stats() server.StatsSnapshot
	TellClientsToTravel(ctx context.Context, sessionName, className string, platformInfo [protocol.PlatformInfoSize]byte) error
	TellClientsHostIsReady(ctx context.Context) error
	TellClientsHostHasCancelled(ctx context.Context) error
}

// AuditSource returns recent reservation outcomes.
type AuditSource interface {
	RecentResults(limit int) ([]db.AuditEntry, error)
}

// Server is the REST API server for the party beacon.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	beacon   BeaconController
	audit    AuditSource

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. audit may be nil.
func NewServer(cfg *config.Config, eventBus *events.EventBus, ctrl BeaconController, audit AuditSource) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		beacon:   ctrl,
		audit:    audit,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.GetAPI().Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	apiCfg := s.cfg.GetAPI()
	if apiCfg.TLSEnabled {
		tlsCfg, err := loadTLSConfig(apiCfg)
		if err != nil {
			ln.Close()
			return err
		}
		s.httpServer.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	log.Info().Str("addr", addr).Bool("tls", apiCfg.TLSEnabled).Msg("REST API server starting")

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

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleGetInfo)
	}

	b := router.Group("/api/beacon")
	{
		b.GET("/status", s.handleGetStatus)
		b.GET("/reservations", s.handleGetReservations)
		b.GET("/skills", s.handleGetSkills)
		b.GET("/events", s.handleEventStream)
		b.POST("/travel", s.handleTravel)
		b.POST("/ready", s.handleReady)
		b.POST("/cancel", s.handleCancel)
		b.GET("/config", s.handleGetConfig)
		b.POST("/config", s.handleSetConfigField)
	}

	monitor := router.Group("/api/monitor")
	{
		monitor.GET("/resources", s.handleGetResources)
		monitor.GET("/results", s.handleGetResults)
		monitor.GET("/log_entries", s.handleGetLogEntries)
	}

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "party beacon API is running"})
	})

	return router
}

// loadTLSConfig loads the API certificate, generating a self-signed one
// when none exists yet.
func loadTLSConfig(api config.APIConfig) (*tls.Config, error) {
	if _, err := util.EnsureSelfSignedCert(api.TLSCertFile, api.TLSKeyFile, util.GetSystemInfo().Hostname); err != nil {
		return nil, fmt.Errorf("API TLS certificate: %w", err)
	}
	cert, err := tls.LoadX509KeyPair(api.TLSCertFile, api.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("API TLS certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}, nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
