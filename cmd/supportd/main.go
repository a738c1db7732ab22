package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/deskline/support-chat/internal/api"
	"github.com/deskline/support-chat/internal/broker"
	"github.com/deskline/support-chat/internal/chat"
	"github.com/deskline/support-chat/internal/config"
	"github.com/deskline/support-chat/internal/messaging"
	"github.com/deskline/support-chat/internal/metrics"
	"github.com/deskline/support-chat/internal/observability"
	"github.com/deskline/support-chat/internal/ratelimit"
	"github.com/deskline/support-chat/internal/session"
	"github.com/deskline/support-chat/internal/tenant"
	"github.com/deskline/support-chat/internal/ws"
)

var version = "dev"

func main() {
	var (
		tenantsFile = pflag.String("config-tenants", "", "YAML file with the company seed (overrides TENANTS_FILE)")
		wsAddr      = pflag.String("ws-addr", "", "WebSocket listen address (overrides WS_LISTEN_ADDR)")
		apiAddr     = pflag.String("api-addr", "", "REST listen address host:port (overrides API_HOST/API_PORT)")
		logLevel    = pflag.String("log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	)
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(cfg, *tenantsFile, *wsAddr, *apiAddr, *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	// --- Tenants ---
	directory, err := loadDirectory(cfg.Tenants.File)
	if err != nil {
		logger.Fatal("failed to load tenants", zap.Error(err))
	}

	store := chat.NewStore(directory)
	registry := session.NewRegistry()

	// --- WebSocket transport ---
	dispatcher := ws.NewMessageDispatcher(nil, logger)
	server := ws.NewServer(ws.ServerConfig{
		ListenAddr:        cfg.WS.ListenAddr,
		WorkerPoolSize:    cfg.WS.WorkerPoolSize,
		MaxConnections:    cfg.WS.MaxConnections,
		ReadTimeout:       cfg.WS.ReadTimeout,
		WriteTimeout:      cfg.WS.WriteTimeout,
		OutboundQueueSize: cfg.WS.OutboundQueueSize,
		Heartbeat:         ws.DefaultHeartbeatConfig(),
	}, logger, dispatcher.Dispatch)
	dispatcher.SetDeliverer(server)

	var opts []broker.Option

	// --- Redis (optional): presence mirror + rate limiting ---
	var limiter *ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		rdb, err := session.Dial(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()

		presence := session.NewStore(rdb, cfg.WS.ServerName)
		server.SetSessionMirror(presence)
		opts = append(opts, broker.WithPresence(presence))
		limiter = ratelimit.NewLimiter(rdb, logger)
	}

	// --- NATS (optional): ticket events ---
	var natsClient *messaging.NATSClient
	if cfg.NATS.URL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Name = "supportd-" + cfg.WS.ServerName
		natsClient, err = messaging.NewNATSClient(natsCfg, logger)
		if err != nil {
			logger.Fatal("failed to connect to NATS", zap.Error(err))
		}
		opts = append(opts, broker.WithPublisher(natsClient))
	}

	b := broker.New(directory, store, registry, server, logger.Named("broker"), opts...)
	registerHandlers(dispatcher, b, limiter, logger.Named("handlers"))

	server.SetOnDisconnect(func(connID string) {
		b.Disconnect(connID)
		if limiter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = limiter.Reset(ctx, connID, ratelimit.RuleMessage, ratelimit.RuleTyping)
			cancel()
		}
	})

	// --- REST API ---
	app := api.NewApp(api.RouteConfig{
		Health:    api.NewHealthHandler("supportd", version),
		Tickets:   api.NewTicketsHandler(b),
		Companies: api.NewCompaniesHandler(directory),
	}, api.AppOptions{
		Name:           "supportd",
		Logger:         logger.Named("http"),
		RequestTimeout: cfg.API.RequestTimeout(),
	})

	logger.Info("supportd starting",
		zap.String("version", version),
		zap.String("ws_addr", cfg.WS.ListenAddr),
		zap.String("api_addr", cfg.API.Addr()),
		zap.Int("companies", len(directory.All())),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Bool("nats", cfg.NATS.URL != ""),
		zap.String("server_name", cfg.WS.ServerName))

	errCh := make(chan error, 2)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := app.Listen(cfg.API.Addr()); err != nil {
			errCh <- err
		}
	}()

	stopStats := make(chan struct{})
	go reportStats(logger, store, registry, stopStats)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("listener failed, shutting down", zap.Error(err))
	}
	close(stopStats)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("ws shutdown", zap.Error(err))
	}
	if natsClient != nil {
		if err := natsClient.Flush(2 * time.Second); err != nil {
			logger.Warn("nats flush", zap.Error(err))
		}
		natsClient.Close()
	}
	logger.Info("supportd stopped")
}

// applyFlags lets command-line flags override the environment.
func applyFlags(cfg *config.Config, tenantsFile, wsAddr, apiAddr, logLevel string) error {
	if tenantsFile != "" {
		cfg.Tenants.File = tenantsFile
	}
	if wsAddr != "" {
		cfg.WS.ListenAddr = wsAddr
	}
	if apiAddr != "" {
		host, port, err := net.SplitHostPort(apiAddr)
		if err != nil {
			return fmt.Errorf("invalid --api-addr: %w", err)
		}
		cfg.API.Host, cfg.API.Port = host, port
	}
	if logLevel != "" {
		cfg.Logger.Level = logLevel
	}
	return nil
}

func loadDirectory(path string) (*tenant.Directory, error) {
	if path == "" {
		return tenant.NewDirectory(tenant.DefaultCompanies()...)
	}
	return tenant.LoadFile(path)
}

// reportStats periodically logs store and registry sizes.
func reportStats(logger *zap.Logger, store *chat.Store, registry *session.Registry, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tickets, messages := store.Stats()
			rooms := registry.RoomCount()
			metrics.ActiveRooms.Set(float64(rooms))
			logger.Info("stats",
				zap.Int("tickets", tickets),
				zap.Int("messages", messages),
				zap.Int("connections", registry.Count()),
				zap.Int("rooms", rooms))
		}
	}
}
