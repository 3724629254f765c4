// Package server contains the HTTP and websocket surface of the application.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nosmobile/internal/blob"
	"nosmobile/internal/cache"
	"nosmobile/internal/config"
	"nosmobile/internal/database"
	"nosmobile/internal/ids"
	"nosmobile/internal/middleware"
	"nosmobile/internal/models"
	"nosmobile/internal/notifications"
	"nosmobile/internal/observability"
	"nosmobile/internal/repository"
	"nosmobile/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	blobs          *blob.Store
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus

	auth     *middleware.Auth
	presence *notifications.Presence
	relay    *notifications.Relay
	wsLog    *observability.WSLogger

	identity *service.IdentityService
	friends  *service.FriendService
	convs    *service.ConversationService
	messages *service.MessageService
	calls    *service.CallService
}

// NewServer connects the database, Redis and the blob store from cfg and
// builds the server on top of them.
func NewServer(cfg *config.Config) (*Server, error) {
	if err := ids.Init(cfg.NodeID); err != nil {
		return nil, fmt.Errorf("message id node init failed: %w", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// A nil client runs the server without cache, tickets or shared presence.
	redisClient := cache.InitRedis(cfg.RedisURL)

	blobs, err := blob.New(blob.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		URLTTL:    cfg.BlobURLTTL,
	})
	switch {
	case errors.Is(err, blob.ErrNotConfigured):
		observability.Info(context.Background(), "blob store not configured, file urls disabled")
	case err != nil:
		return nil, fmt.Errorf("blob store init failed: %w", err)
	}

	return NewServerWithDeps(cfg, db, redisClient, blobs)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient and blobs may be nil.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, blobs *blob.Store) (*Server, error) {
	presence := notifications.NewPresence(redisClient, notifications.PresenceConfig{})
	relay, err := notifications.NewRelay(presence, notifications.RelayConfig{
		SendTimeout:  cfg.FanoutSendTimeout,
		Workers:      cfg.FanoutWorkers,
		CommandRate:  cfg.WSCommandRate,
		CommandBurst: cfg.WSCommandBurst,
	})
	if err != nil {
		presence.Stop()
		return nil, fmt.Errorf("relay init failed: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	friendRepo := repository.NewFriendRepository(db)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	callRepo := repository.NewCallRepository(db)

	convs := service.NewConversationService(convRepo, userRepo, relay)
	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		blobs:          blobs,
		promMiddleware: middleware.InitMetrics("nosmobile-api"),
		auth:           middleware.NewAuth(cfg.JWTSecret, redisClient),
		presence:       presence,
		relay:          relay,
		wsLog:          observability.NewWSLogger("commands"),
		identity:       service.NewIdentityService(userRepo, friendRepo, redisClient),
		friends:        service.NewFriendService(friendRepo, userRepo, relay),
		convs:          convs,
		messages:       service.NewMessageService(msgRepo, userRepo, convs, relay, cfg.HistoryPageSize),
		calls:          service.NewCallService(callRepo, userRepo, convs, relay, cfg.CallRingTimeout),
	}
	presence.SetCallbacks(s.onUserOnline, s.onUserOffline)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.calls.Recover(ctx, func(userID string) bool { return relay.IsOnline(ctx, userID) }); err != nil {
		observability.Warn(ctx, "live call recovery failed", zap.Error(err))
	}

	s.app = fiber.New(fiber.Config{
		AppName:      "nosmobile",
		ErrorHandler: errorHandler,
	})
	s.SetupMiddleware(s.app)
	s.SetupRoutes(s.app)
	return s, nil
}

// App returns the configured fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	observability.Error(c.UserContext(), "unhandled request error", zap.Error(err))
	return models.RespondWithError(c, models.NewInternalError(err))
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}
	app.Use(helmet.New())
	app.Use(middleware.RequestLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Post("/register", middleware.RateLimit(s.redis, 10, 10*time.Minute, "register"), s.Register)
	api.Post("/login", middleware.RateLimit(s.redis, 20, 5*time.Minute, "login"), s.Login)
	api.Get("/webrtc/config", s.WebRTCConfig)

	protected := api.Group("", s.auth.Required())
	protected.Post("/ws/ticket", s.IssueWSTicket)

	users := protected.Group("/users")
	users.Get("/me", s.GetMe)
	users.Get("/:id/presence", s.GetPresence)
	users.Get("/:id", s.GetUser)

	contacts := protected.Group("/contacts")
	contacts.Get("/", s.ListContacts)
	contacts.Post("/", s.AddContact)

	friends := protected.Group("/friends")
	friends.Get("/requests", s.ListFriendRequests)
	friends.Post("/requests", middleware.RateLimit(s.redis, 20, 5*time.Minute, "friend_request"), s.SendFriendRequest)
	friends.Post("/requests/:id/respond", s.RespondFriendRequest)

	conversations := protected.Group("/conversations")
	conversations.Get("/", s.ListConversations)
	conversations.Post("/direct", s.ResolveDirectConversation)
	conversations.Post("/groups", s.CreateGroup)
	conversations.Get("/:id/messages", s.GetMessages)
	conversations.Post("/:id/messages", middleware.RateLimit(s.redis, 120, time.Minute, "send_message"), s.SendMessage)
	conversations.Post("/:id/typing", s.SetTyping)
	conversations.Get("/:id/calls", s.ListCalls)

	messages := protected.Group("/messages")
	messages.Post("/:id/read", s.MarkRead)
	messages.Put("/:id/reaction", s.React)
	messages.Post("/:id/star", s.Star)
	messages.Delete("/:id/star", s.Unstar)

	calls := protected.Group("/calls")
	calls.Post("/", s.StartCall)
	calls.Post("/:id/answer", s.AnswerCall)
	calls.Post("/:id/signal", s.SignalCall)
	calls.Post("/:id/end", s.EndCall)

	protected.Get("/blobs/url", s.BlobURL)

	app.Get("/ws", s.WebsocketUpgrade, s.auth.Required(), s.WebsocketHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time": time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start listens on the configured port until the app is shut down.
func (s *Server) Start() error {
	observability.Info(context.Background(), "server starting", zap.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Closing the relay first ends every websocket, which lets the HTTP
	// server drain. Offline callbacks still need the database here.
	if err := s.relay.Shutdown(ctx); err != nil {
		observability.Warn(ctx, "relay shutdown", zap.Error(err))
	}
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		observability.Warn(ctx, "error shutting down HTTP server", zap.Error(err))
	}
	if err := s.calls.Shutdown(ctx); err != nil {
		observability.Warn(ctx, "call service shutdown", zap.Error(err))
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			observability.Warn(ctx, "error closing sql DB", zap.Error(cerr))
		}
	}
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			observability.Warn(ctx, "error closing redis", zap.Error(rerr))
		}
	}

	observability.Info(ctx, "server shutdown complete")
	return nil
}
