// Package main runs the PackPal HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/packpal/backend/config"
	"github.com/packpal/backend/internal/auth"
	"github.com/packpal/backend/internal/emaillogs"
	"github.com/packpal/backend/internal/events"
	"github.com/packpal/backend/internal/items"
	"github.com/packpal/backend/internal/members"
	"github.com/packpal/backend/internal/middleware"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/internal/realtime"
	"github.com/packpal/backend/internal/store"
	"github.com/packpal/backend/pkg/database"
	"github.com/packpal/backend/pkg/queue"
	"github.com/packpal/backend/pkg/redis"
	"github.com/packpal/backend/pkg/response"
	"github.com/packpal/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	var st store.Store
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		st = store.NewMemory()
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		st = store.NewPostgres(pool)
	}

	var (
		redisPub realtime.RedisPublisher
		redisSub realtime.RedisSubscriber
		jobQueue *queue.Queue
		rdb      *redis.Client
	)
	rdb, err = redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	switch {
	case errors.Is(err, redis.ErrDisabled):
		logger.Info("redis disabled; real-time fan-out is local and background jobs are off")
	case err != nil:
		logger.Fatal("redis", zap.Error(err))
	default:
		defer rdb.Close()
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		redisPub, redisSub = pubsub, pubsub
		jobQueue = queue.NewQueue(rdb.Client, logger)
	}

	var s3Client *storage.S3
	if cfg.AWS.ArchiveBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	hub := realtime.NewHub(logger, redisPub, redisSub)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Auth
	authService := auth.NewService(st, jwtService, logger)
	authHandler := auth.NewHandler(authService, logger)

	// Membership ledger and invites
	ledger := members.NewLedger(st, authService, hub, logger)
	if jobQueue != nil {
		ledger.SetJobs(jobQueue)
	}
	membersHandler := members.NewHandler(ledger, logger)

	// Events
	eventService := events.NewService(st, hub, logger)
	if s3Client != nil {
		eventService.SetArchives(s3Client)
	}
	if jobQueue != nil {
		eventService.SetJobs(jobQueue)
	}
	eventHandler := events.NewHandler(eventService, logger)

	// Items
	itemService := items.NewService(st, hub, logger)
	itemHandler := items.NewHandler(itemService, logger)

	emailLogsHandler := emaillogs.NewHandler(st, logger)

	jwtValidate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}

	anyMember := middleware.RequireEventRole(ledger, logger, models.AnyRole...)
	editors := middleware.RequireEventRole(ledger, logger, models.EditorRoles...)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins()))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		if rdb != nil {
			if err := rdb.Healthy(c.Request.Context()); err != nil {
				response.ServiceUnavailable(c, "redis unavailable")
				return
			}
		}
		response.OK(c, gin.H{"status": "ok", "store": cfg.Store.Driver})
	})

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Invites (public; the token is the credential)
	router.GET("/invites/:token", membersHandler.GetInvite)
	router.POST("/invites/:token/accept", membersHandler.AcceptInvite)
	router.POST("/invites/:token/decline", membersHandler.DeclineInvite)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)
		api.PUT("/auth/password", authHandler.ChangePassword)

		// Events
		api.POST("/events", eventHandler.Create)
		api.GET("/events", eventHandler.List)
		api.GET("/events/:id", eventHandler.GetByID)
		api.PUT("/events/:id", eventHandler.Update)
		api.DELETE("/events/:id", eventHandler.Delete)
		api.POST("/events/:id/end", eventHandler.End)
		api.GET("/events/:id/progress", eventHandler.Progress)
		api.GET("/events/:id/archive", eventHandler.Archive)
		api.GET("/events/:id/emails", editors, emailLogsHandler.ListByEvent)

		// Members
		api.GET("/events/:id/members", anyMember, membersHandler.List)
		api.POST("/events/:id/invites", membersHandler.InviteByToken)
		api.POST("/events/:id/invite", membersHandler.InviteDirect)
		api.PATCH("/events/:id/members/:memberId", membersHandler.ChangeRole)
		api.DELETE("/events/:id/members/:memberId", membersHandler.Remove)

		// Items
		api.GET("/events/:id/items", anyMember, itemHandler.ListByEvent)
		api.POST("/events/:id/items", itemHandler.Create)
		api.GET("/items/:id", itemHandler.GetByID)
		api.PUT("/items/:id", itemHandler.Update)
		api.PUT("/items/:id/status", itemHandler.UpdateStatus)
		api.DELETE("/items/:id", itemHandler.Delete)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate, ledger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
