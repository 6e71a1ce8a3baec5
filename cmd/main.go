package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/NizariMohamed/chatting/internal/attachment"
	"github.com/NizariMohamed/chatting/internal/cache"
	"github.com/NizariMohamed/chatting/internal/config"
	"github.com/NizariMohamed/chatting/internal/delivery"
	dmgrpc "github.com/NizariMohamed/chatting/internal/grpc"
	"github.com/NizariMohamed/chatting/internal/handler"
	"github.com/NizariMohamed/chatting/internal/hub"
	"github.com/NizariMohamed/chatting/internal/kafka"
	"github.com/NizariMohamed/chatting/internal/presence"
	"github.com/NizariMohamed/chatting/internal/registry"
	"github.com/NizariMohamed/chatting/internal/repository"
	"github.com/NizariMohamed/chatting/internal/service"
	"github.com/NizariMohamed/chatting/internal/typing"
	"github.com/NizariMohamed/chatting/pkg/database"
	"github.com/NizariMohamed/chatting/pkg/jwt"
	"github.com/NizariMohamed/chatting/pkg/log"
	"github.com/NizariMohamed/chatting/pkg/middleware"
	"github.com/NizariMohamed/chatting/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	l := log.L()

	if err := run(cfg); err != nil {
		l.Fatal().Err(err).Msg("service stopped with error")
	}
	l.Info().Msg("service stopped")
}

func run(cfg *config.Config) error {
	l := log.L()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence
	db, err := database.New(&cfg.Database, l)
	if err != nil {
		return err
	}
	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	l.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	userRepo := repository.NewGormUserRepository(db)
	messageRepo := repository.NewGormMessageRepository(db)
	uploadRepo := repository.NewGormAttachmentRepository(db)

	// Blob storage
	store, err := storage.New(ctx, cfg.Storage.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	attachments := attachment.New(store, attachment.Options{
		Prefix:    attachment.PrefixAttachments,
		MaxSize:   cfg.Storage.MaxUploadSize,
		URLExpiry: cfg.Storage.URLExpiry,
	})
	avatars := attachment.New(store, attachment.Options{
		Prefix:    attachment.PrefixAvatars,
		MaxSize:   cfg.Storage.MaxAvatarSize,
		Allowed:   []string{"image/*"},
		URLExpiry: cfg.Storage.URLExpiry,
	})

	// Presence snapshot cache
	var presenceCache cache.PresenceCache = cache.NewMemoryPresenceCache()
	if cfg.Redis.Enabled {
		presenceCache, err = cache.NewRedisPresenceCache(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return err
		}
		l.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")
	}
	defer presenceCache.Close()

	// Lifecycle events
	var producer kafka.EventProducer = kafka.NoopProducer{}
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewLifecycleProducer(kafka.ProducerConfig{
			Brokers:    cfg.Kafka.Brokers,
			Topic:      cfg.Kafka.Topic,
			Partitions: cfg.Kafka.Partitions,
		})
		if err != nil {
			return err
		}
		l.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
	}
	defer func() {
		if err := producer.Close(); err != nil {
			l.Warn().Err(err).Msg("kafka producer closed with pending events")
		}
	}()

	// Live connections and presence
	reg := registry.New(0)
	tracker := presence.NewTracker(reg, presenceCache)
	reg.SetListener(tracker)
	defer tracker.Close()
	wsHub := hub.NewHub(reg, cfg.WebSocket)

	// Core services
	engine := delivery.NewEngine(messageRepo, userRepo, reg, attachments, uploadRepo, producer, cfg.Delivery)
	relay := typing.NewRelay(reg)
	chatSvc := service.NewChatService(engine, relay)

	tokens, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	authMiddleware := middleware.NewAuthMiddleware(tokens)
	accounts := service.NewAccountService(userRepo, tokens, tracker, presenceCache, avatars)

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), log.GinMiddleware(l, "/health"))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online_users": len(reg.OnlineUsers())})
	})
	handler.NewHandler(accounts, engine, attachments, avatars, authMiddleware).RegisterRoutes(r)
	handler.NewWSHandler(wsHub, chatSvc, authMiddleware).RegisterRoutes(r)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := dmgrpc.NewServer(l)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		l.Info().Str("address", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GRPC.Enabled {
		g.Go(func() error {
			return grpcServer.Listen(fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port))
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		l.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		grpcServer.Stop()
		// Hijacked websocket connections are not tracked by Shutdown.
		closed := wsHub.CloseAll()
		l.Info().Int("connections", closed).Msg("closed live connections")

		if err := server.Shutdown(shutdownCtx); err != nil {
			l.Warn().Err(err).Msg("http server forced to shutdown")
		}
		return nil
	})

	return g.Wait()
}
