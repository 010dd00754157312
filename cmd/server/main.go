package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atome-store/auth"
	"atome-store/internal/atome"
	"atome-store/internal/config"
	"atome-store/internal/db"
	"atome-store/internal/events"
	"atome-store/internal/middleware"
	"atome-store/internal/realtime"
	"atome-store/internal/session"
	"atome-store/internal/share"
	"atome-store/internal/store"
	"atome-store/internal/user"
	"atome-store/internal/worker"
	"atome-store/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	database, err := db.Open(cfg)
	if err != nil {
		log.Fatalf("error connecting to db %v", err)
	}
	defer db.Close(database)

	// Migrate database schema
	if err := db.Migrate(database); err != nil {
		log.Fatalf("error migrating db %v", err)
	}

	// Initialize Redis
	cache := redis.New(cfg.RedisAddress)

	bus := events.NewBus()

	primaryName := "local"
	if cfg.Runtime != "local" {
		primaryName = "server"
	}
	primary := store.NewGorm(database, primaryName)
	engine := share.NewEngine(primary, bus)

	// The remote mirror only exists in local runtime.
	creds := &store.SessionTokens{}
	var secondary store.Adapter
	if cfg.Runtime == "local" && cfg.RemoteAddress != "" {
		secondary = store.NewRemote(cfg.RemoteAddress, cfg.RemoteTimeout, creds)
	}

	anonCred, err := session.LoadOrCreateCredential(cfg.StateDir)
	if err != nil {
		log.Fatalf("error loading anonymous credential %v", err)
	}
	manager := session.NewManager(anonCred, bus, nil)

	pending := atome.NewPendingQueue(cfg.PendingQueueSize)
	service := atome.NewService(primary, secondary, engine, manager, bus, pending, cfg.Runtime == "local", cfg.RemoteTimeout)
	manager.SetMigrator(func(ctx context.Context, fromOwner, toOwner string) error {
		_, err := service.Migrate(ctx, fromOwner, toOwner)
		return err
	})
	manager.BeginAnonymous()

	// Initialize service
	userService := user.NewService(primary)
	tokens := auth.NewTokens(cfg.JWTSecret, auth.DefaultTTL)
	protocol := share.NewProtocol(engine)

	// Realtime fan-out
	registry := realtime.NewRegistry(cfg.PendingQueueSize)
	realtimeRouter := realtime.NewRouter(registry, engine, primary)
	realtimeRouter.Subscribe(bus)

	// Initialize handler
	userHandler := user.NewHandler(userService, tokens, cache, manager, creds)
	atomeHandler := atome.NewHandler(service, primary)
	wsHandler := realtime.NewHandler(registry, protocol, service)

	// Background pool: replays queued mirror mutations when the remote is back.
	pool := worker.NewPool(2, 256)
	defer pool.Shutdown()
	if secondary != nil {
		drainTicker := time.NewTicker(30 * time.Second)
		defer drainTicker.Stop()
		go func() {
			for range drainTicker.C {
				pool.Submit(func(ctx context.Context) error {
					if pending.Len() == 0 {
						return nil
					}
					probe, cancel := context.WithTimeout(ctx, cfg.RemoteTimeout)
					defer cancel()
					if !secondary.Available(probe) {
						return nil
					}
					pending.Drain(ctx, primary, secondary)
					return nil
				})
			}
		}()
	}

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.ErrorHandler())

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}
	if cfg.Environment == "development" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{"https://app.atome.one"}
	}
	router.Use(cors.New(corsConfig))

	authMW := &middleware.Auth{Tokens: tokens, Cache: cache, Fallback: manager}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "runtime": cfg.Runtime})
	})

	// User routes
	router.POST("/register", userHandler.Register)
	router.POST("/login", userHandler.Login)
	router.DELETE("/logout", authMW.Middleware(), userHandler.Logout)
	router.POST("/token/refresh", authMW.Middleware(), userHandler.RefreshToken)
	router.GET("/profile", authMW.Middleware(), userHandler.GetProfile)
	router.PUT("/profile/visibility", authMW.Middleware(), userHandler.SetVisibility)
	router.GET("/users", authMW.Middleware(), userHandler.SearchUsers)

	// Atome routes. Optional auth lets local-runtime clients work
	// anonymously before any login.
	router.POST("/atomes", authMW.OptionalMiddleware(), atomeHandler.Create)
	router.GET("/atomes", authMW.OptionalMiddleware(), atomeHandler.Index)
	router.GET("/atomes/:id", authMW.OptionalMiddleware(), atomeHandler.Show)
	router.PUT("/atomes/:id", authMW.OptionalMiddleware(), atomeHandler.Alter)
	router.DELETE("/atomes/:id", authMW.OptionalMiddleware(), atomeHandler.Delete)
	router.GET("/atomes/:id/history", authMW.OptionalMiddleware(), atomeHandler.History)
	router.POST("/atomes/migrate", authMW.Middleware(), atomeHandler.Migrate)

	// Share protocol over HTTP for clients without a socket.
	router.POST("/share", authMW.OptionalMiddleware(), func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		reply := protocol.Handle(c.Request.Context(), c.GetString("user_id"), raw)
		c.Data(http.StatusOK, "application/json", reply)
	})

	// Realtime socket
	router.GET("/ws", authMW.OptionalMiddleware(), wsHandler.Serve)

	// Server configuration
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		log.Printf("Server listening on port %s (%s runtime)", cfg.ServerPort, cfg.Runtime)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Println("Server shutdown error:", err)
	}

	<-ctx.Done()
	log.Println("Server shutdown complete")
}
