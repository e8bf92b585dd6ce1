package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skillswap/chat-app/internal/auth"
	"github.com/skillswap/chat-app/internal/chat"
	"github.com/skillswap/chat-app/internal/config"
	"github.com/skillswap/chat-app/internal/messaging"
	"github.com/skillswap/chat-app/internal/presence"
	"github.com/skillswap/chat-app/internal/profile"
	"github.com/skillswap/chat-app/internal/ratelimit"
	"github.com/skillswap/chat-app/internal/room"
	"github.com/skillswap/chat-app/internal/session"
	"github.com/skillswap/chat-app/internal/store"
	"github.com/skillswap/chat-app/internal/ws"
)

func main() {
	cfg := config.LoadChatServer()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "skillswap-chat-" + cfg.ServerName
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis connection registry ---
	sessionStore, err := session.NewStore(cfg.RedisAddr, cfg.ServerName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	// --- Postgres ---
	db, err := store.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	chatStore := store.NewStore(db)
	profiles := profile.NewStore(db)

	limiter := ratelimit.NewLimiter(sessionStore.Client())
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)

	log.Printf("SkillSwap chat server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  nats_url:        %s", cfg.NATSURL)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  server_name:     %s", cfg.ServerName)

	// The registry is assembled once here and injected into every handler:
	// connection manager, room manager, presence tracker, gateway.
	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(serverConfig, verifier, sessionStore, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	rooms := room.NewManager(natsClient)
	tracker := presence.NewTracker(natsClient, sessionStore, profiles, server.Connections())
	if err := tracker.Start(); err != nil {
		log.Fatalf("failed to subscribe to presence events: %v", err)
	}

	gateway := chat.NewGateway(chatStore, natsClient, limiter)
	chat.RegisterHandlers(dispatcher, gateway, rooms, tracker)

	rest := chat.NewREST(gateway, chatStore, verifier)
	for pattern, handler := range rest.Routes() {
		server.Handle(pattern, handler)
	}

	server.Handle("GET /api/presence/{user_id}", tracker.Handler())

	// Each user gets one personal channel subscription per instance, fanned
	// out to all of their local connections, so direct pushes reach every
	// device independent of room membership. SubscribeUser is idempotent,
	// so additional connections from the same user are no-ops.
	server.SetOnConnect(func(conn *ws.Connection) {
		userID := conn.UserID()
		if err := natsClient.SubscribeUser(userID, func(data []byte) {
			server.Connections().SendToUser(userID, data)
		}); err != nil {
			log.Printf("personal channel subscribe failed user=%s: %v", userID, err)
		}
	})

	server.SetOnDisconnect(func(conn *ws.Connection) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rooms.CleanupConn(conn.ID)

		// The connection is already out of the manager, so a zero count
		// means this was the user's last connection on this instance.
		userID := conn.UserID()
		if server.Connections().UserConnCount(userID) == 0 {
			if err := natsClient.UnsubscribeUser(userID); err != nil {
				log.Printf("personal channel unsubscribe failed user=%s: %v", userID, err)
			}
		}
		tracker.MarkOffline(ctx, conn)
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	if err := server.Shutdown(); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	natsClient.Close()
	if err := sessionStore.Close(); err != nil {
		log.Printf("redis close: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("postgres close: %v", err)
	}
	log.Println("shutdown complete")
}
