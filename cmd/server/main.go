package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"telecare/internal/config"
	"telecare/internal/handlers"
	"telecare/internal/middleware"
	"telecare/internal/routes"
	"telecare/internal/services"
	"telecare/internal/store"
	"telecare/internal/utils"
	"telecare/internal/websocket"
	"telecare/pkg/database"
	"telecare/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

type stores struct {
	chats  store.ChatStore
	calls  store.CallStore
	health handlers.StorageCheck
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	logger.Init()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(cfg)
	if err != nil {
		logger.Fatal("Failed to open store: " + err.Error())
	}

	hub := websocket.NewHub()

	chat := services.NewChatService(st.chats, hub, cfg.Chat)
	calls, err := services.NewCallService(st.calls, chat, hub, cfg.Call)
	if err != nil {
		logger.Fatal("Failed to create call service: " + err.Error())
	}
	signaling := services.NewSignalingService(calls, hub)

	sweeper := services.NewSweeper(calls, hub, cfg.Call)
	go sweeper.Run(ctx)

	limiter := middleware.NewRateLimiter(cfg.Security.RateLimit.Requests, cfg.Security.RateLimit.Burst)
	go limiter.Cleanup(ctx)

	validator := utils.NewTokenValidator(cfg.Security.JWT)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), middleware.CORS(cfg.Server.CORS))

	routes.SetupRoutes(router, routes.Handlers{
		Chat:      handlers.NewChatHandler(chat),
		Call:      handlers.NewCallHandler(calls),
		System:    handlers.NewSystemHandler(hub, cfg, st.health),
		WebSocket: handlers.NewWebSocketHandler(ctx, hub, handlers.NewRealtimeHandler(chat, signaling), validator, cfg),
	}, validator, limiter)

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.HTTP.Host, cfg.App.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	go func() {
		logger.Infof("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server: " + err.Error())
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}

	// Hijacked WebSocket connections are not tracked by the server
	hub.Shutdown()

	if err := database.Disconnect(); err != nil {
		logger.WithError(err).Warn("Failed to disconnect from MongoDB")
	}

	logger.Info("Server stopped")
	logger.Close()
}

func openStores(cfg *config.Config) (stores, error) {
	if cfg.Database.Driver == config.StoreDriverMemory {
		logger.Warn("Using in-memory store; data is lost on restart")
		mem := store.NewMemoryStore()
		return stores{chats: mem, calls: mem}, nil
	}

	db, err := database.InitMongoDB(cfg.Database.MongoDB)
	if err != nil {
		return stores{}, err
	}

	mongoStore := store.NewMongoStore(db)
	return stores{chats: mongoStore, calls: mongoStore, health: database.HealthCheck}, nil
}
