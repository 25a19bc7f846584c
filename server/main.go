package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tracehq/trace/pkg/config"
	"github.com/tracehq/trace/pkg/hardening"
	"github.com/tracehq/trace/pkg/telemetry"
)

var (
	configPath = flag.String("config", "", "Server config file path")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	dbPath     = flag.String("db", "", "Database path (overrides config)")
	Version    = "dev"
)

// Server carries the shared state behind every handler. All cross-request
// mutable state lives in the database.
type Server struct {
	db           *gorm.DB
	logger       zerolog.Logger
	probe        hardening.Probe
	rateLimiter  *RateLimiter
	queryTimeout time.Duration
}

func main() {
	flag.Parse()

	bootLogger := zerolog.New(os.Stderr)

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("Failed to load config")
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Fatal().Err(err).Msg("Invalid config")
	}

	logger := newServerLogger(cfg.Logging)
	logger.Info().Str("version", Version).Msg("Trace server starting")

	ctx := context.Background()
	provider, err := telemetry.SetupTracing(ctx, "trace-server", Version, telemetry.Options{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		LogSpans:    cfg.Tracing.LogSpans,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	db, err := openDatabase(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := db.AutoMigrate(&Agent{}, &ScanResult{}, &CheckDetail{}, &User{}); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate schema")
	}
	if err := seedAdminUser(db, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to seed admin user")
	}

	srv := &Server{
		db:           db,
		logger:       logger,
		probe:        buildProbe(cfg.Hardening, logger),
		rateLimiter:  NewRateLimiter(),
		queryTimeout: time.Duration(cfg.Database.QueryTimeoutMs) * time.Millisecond,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(withRequestContext(logger))
	srv.registerRoutes(r)

	logger.Info().Str("listen", cfg.Listen).Str("db", cfg.Database.Path).Msg("Listening")
	if err := r.Run(cfg.Listen); err != nil {
		logger.Fatal().Err(err).Msg("Server exited")
	}
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Backend running"})
	})
	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": Version})
	})

	r.POST("/api/agents/register", s.rateLimited("register", 30, time.Minute, registerKey, s.handleRegisterAgent))
	r.DELETE("/api/agents/:name", s.requireAgent, s.handleDeleteAgent)

	r.POST("/api/upload", s.requireAgent, s.rateLimited("upload", 60, time.Minute, agentKey, s.handleUpload))

	r.GET("/api/results", s.handleListResults)
	r.GET("/api/agents/:name/detail", s.handleAgentDetail)

	r.GET("/api/dashboard/overview", s.handleOverview)
	r.GET("/api/dashboard/trends", s.handleTrends)
	r.GET("/api/vulnerabilities", s.handleVulnerabilities)
	r.GET("/api/compliance", s.handleCompliance)
	r.GET("/api/remediation", s.handleRemediation)

	r.GET("/api/users", s.handleListUsers)
	r.POST("/api/users", s.handleCreateUser)
	r.DELETE("/api/users/:id", s.handleDeleteUser)
}

func registerKey(c *gin.Context) string {
	return c.ClientIP()
}

func agentKey(c *gin.Context) string {
	if agent, ok := contextAgent(c); ok {
		return agent.Name
	}
	return ""
}

func contextAgent(c *gin.Context) (*Agent, bool) {
	value, ok := c.Get(agentContextKey)
	if !ok {
		return nil, false
	}
	agent, ok := value.(*Agent)
	return agent, ok
}

func openDatabase(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
}

// queryContext bounds a store call so a stalled database surfaces as a
// retryable failure instead of hanging the request.
func (s *Server) queryContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.queryTimeout)
}

// respondStorage reports a store fault as a retryable 503. Failed requests
// are logged with enough context to correlate with agent retry logs; token
// values never appear here.
func (s *Server) respondStorage(c *gin.Context, op string, err error) {
	logger := requestLogger(c, s.logger)
	logger.Error().Err(err).Str("op", op).Msg("storage unavailable")
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"error":      "storage unavailable",
		"request_id": requestID(c),
	})
}

func newServerLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil {
		level = parsed
	}
	if cfg.JSON {
		return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger().Level(level)
}

// buildProbe wires the optional Windows password-policy probe from the
// hardening inventory file.
func buildProbe(cfg config.HardeningConfig, logger zerolog.Logger) hardening.Probe {
	if !cfg.WindowsPasswordPolicy {
		return nil
	}
	inventory := map[string]int{}
	if cfg.InventoryPath != "" {
		data, err := os.ReadFile(cfg.InventoryPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.InventoryPath).Msg("Could not load hardening inventory")
		} else if err := yaml.Unmarshal(data, &inventory); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.InventoryPath).Msg("Malformed hardening inventory")
		}
	}
	logger.Info().Int("hosts", len(inventory)).Msg("Windows password-policy probe enabled")
	return hardening.WindowsPasswordPolicy{
		MinLength: cfg.MinPasswordLength,
		Lookup: func(hostname string) (int, bool) {
			n, ok := inventory[strings.ToLower(hostname)]
			return n, ok
		},
	}
}

// seedAdminUser creates the default operator account on an empty users
// table so the dashboard is reachable on first boot.
func seedAdminUser(db *gorm.DB, logger zerolog.Logger) error {
	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := os.Getenv("TRACE_ADMIN_PASSWORD")
	if password == "" {
		password = "changeme"
		logger.Warn().Msg("TRACE_ADMIN_PASSWORD not set; seeding default admin credentials")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := User{
		Username:     "admin",
		PasswordHash: string(hash),
		Role:         "admin",
		Status:       "Active",
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}
	logger.Info().Msg("Seeded default 'admin' user")
	return nil
}
