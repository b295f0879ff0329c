package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/buildersync/chat-core/internal/auth"
	"github.com/buildersync/chat-core/internal/blob"
	"github.com/buildersync/chat-core/internal/broker"
	"github.com/buildersync/chat-core/internal/config"
	"github.com/buildersync/chat-core/internal/directory"
	"github.com/buildersync/chat-core/internal/gateway"
	"github.com/buildersync/chat-core/internal/messaging"
	"github.com/buildersync/chat-core/internal/metrics"
	"github.com/buildersync/chat-core/internal/presence"
	"github.com/buildersync/chat-core/internal/ratelimit"
	"github.com/buildersync/chat-core/internal/session"
	"github.com/buildersync/chat-core/internal/store"
	"github.com/buildersync/chat-core/internal/ws"
)

func main() {
	cfg := config.Load()

	wsConfig := ws.DefaultServerConfig()
	wsConfig.ListenAddr = cfg.ListenAddr
	wsConfig.WorkerPoolSize = cfg.WorkerPoolSize
	wsConfig.MaxConnections = cfg.MaxConnections
	wsConfig.ReadTimeout = cfg.ReadTimeout
	wsConfig.WriteTimeout = cfg.WriteTimeout

	// --- NATS ---
	// The bus is mandatory in production; a single dev instance can run
	// without it.
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "chat-core-" + cfg.ServerName
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		if !cfg.IsDevelopment() {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		log.Printf("running without NATS bus: %v", err)
		natsClient = nil
	}

	// --- Redis ---
	sessionStore, err := session.NewStore(cfg.RedisAddr, cfg.ServerName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	limiter := ratelimit.NewLimiter(sessionStore.Client())
	presenceStore := presence.NewRedisStore(sessionStore.Client())

	// --- Message store ---
	var messageStore store.MessageStore
	if cfg.DatabaseURL != "" {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		pg, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		defer pg.Close()
		messageStore = pg
	} else {
		log.Printf("no DATABASE_URL set, using in-memory message store")
		messageStore = store.NewMemoryStore()
	}

	log.Printf("BuilderSync chat server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  metrics_addr:    %s", cfg.MetricsAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  nats_url:        %s", cfg.NATSURL)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  platform_url:    %s", cfg.PlatformURL)
	log.Printf("  server_name:     %s", cfg.ServerName)

	// --- Core wiring ---
	var bus broker.Bus
	if natsClient != nil {
		bus = natsClient
	}
	b := broker.New(cfg.ServerName, messageStore, bus)

	verifier := auth.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	dir := directory.NewHTTPDirectory(cfg.PlatformURL)
	presigner := blob.NewHTTPPresigner(cfg.PlatformURL)

	// Presence transitions go out on the bus so every server can notify its
	// own watchers; without a bus they feed the local gateway directly.
	var gw *gateway.Gateway
	tracker := presence.NewTracker(presenceStore, func(ev presence.Event) {
		if natsClient != nil {
			if err := natsClient.PublishPresence(ev); err != nil {
				log.Printf("presence publish failed: %v", err)
			}
			return
		}
		gw.HandlePresence(ev)
	})

	gw = gateway.New(b, messageStore, tracker, dir, verifier).
		WithPresigner(presigner).
		WithLimiter(limiter).
		WithSessionStore(sessionStore)

	dispatcher := ws.NewMessageDispatcher(nil)
	gw.RegisterHandlers(dispatcher)

	server := ws.NewServer(wsConfig, gw.Authenticate, dispatcher.Dispatch)
	dispatcher.SetServer(server)
	server.SetOnConnect(gw.OnConnect)
	server.SetOnDisconnect(gw.OnDisconnect)

	if natsClient != nil {
		if err := natsClient.SubscribeEvents(b.ApplyRemote); err != nil {
			log.Fatalf("failed to subscribe to room events: %v", err)
		}
		if err := natsClient.SubscribePresence(gw.HandlePresence); err != nil {
			log.Fatalf("failed to subscribe to presence events: %v", err)
		}
	}

	// --- Metrics ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if natsClient != nil {
			natsClient.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
