package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Priya8975/clipboard-relay/internal/api"
	"github.com/Priya8975/clipboard-relay/internal/broker"
	"github.com/Priya8975/clipboard-relay/internal/capability"
	"github.com/Priya8975/clipboard-relay/internal/config"
	"github.com/Priya8975/clipboard-relay/internal/discovery"
	"github.com/Priya8975/clipboard-relay/internal/ratelimit"
	"github.com/Priya8975/clipboard-relay/internal/store"
	ws "github.com/Priya8975/clipboard-relay/internal/websocket"
)

func main() {
	cfg, err := config.Load(config.RoleReceiver, os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "receiver:", err)
		os.Exit(2)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(cfg, logger); err != nil {
		logger.Error("receiver stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var eventLog store.EventLog = store.NewMemoryLog(cfg.PollCapacity)
	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.IngressRateLimit > 0 {
		limiter = ratelimit.NewLocal(cfg.IngressRateLimit)
	}

	// Redis, when configured, shares the poll log and the ingress limit
	// across receiver instances.
	if cfg.RedisURL != "" {
		redisLog, err := store.NewRedis(ctx, cfg.RedisURL, store.DefaultRedisPrefix, cfg.PollCapacity)
		if err != nil {
			return err
		}
		defer redisLog.Close()
		logger.Info("connected to Redis")

		eventLog = redisLog
		if cfg.IngressRateLimit > 0 {
			limiter = ratelimit.NewRedis(redisLog.Client(), store.DefaultRedisPrefix, cfg.IngressRateLimit, logger)
		}
	}

	var clip broker.Clipboard
	if cfg.MemoryClipboard {
		clip = &capability.Memory{}
	} else {
		clip = capability.NewCommand(cfg.ClipboardReadCmd, cfg.ClipboardWriteCmd)
	}

	shots, err := capability.NewDir(cfg.ScreenshotDir, logger)
	if err != nil {
		return err
	}

	b := broker.New(broker.Config{
		HistoryCapacity:   cfg.HistoryCapacity,
		SideEffectTimeout: cfg.SideEffectTimeout,
		Log:               eventLog,
		Clipboard:         clip,
		Screenshots:       shots,
		Logger:            logger,
	})
	hub := ws.NewHub(b, logger)

	router := api.NewReceiverRouter(api.ReceiverDeps{
		Broker:        b,
		Hub:           hub,
		Screenshots:   shots,
		Limiter:       limiter,
		PeerPath:      cfg.PeerPath,
		ObserverPath:  cfg.ObserverPath,
		DiscoveryPort: cfg.DiscoveryPort,
		PollLimit:     cfg.PollDefaultLimit,
	})

	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: websocket connections are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("receiver starting",
			"addr", cfg.HTTPAddr,
			"peer_path", cfg.PeerPath,
			"observer_path", cfg.ObserverPath,
			"local_ip", discovery.LocalIP(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.DiscoveryMode == config.DiscoveryBroadcast {
		responder := &discovery.Responder{
			Service: cfg.ServiceName,
			Port:    cfg.PeerPort(),
			Logger:  logger,
		}
		g.Go(func() error {
			// Senders can still reach us statically if the port is taken.
			if err := responder.ListenAndServe(gctx, cfg.DiscoveryPort); err != nil {
				logger.Warn("discovery responder unavailable", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down receiver...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := b.Shutdown(shutdownCtx); err != nil {
			logger.Error("broker shutdown incomplete", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("receiver stopped")
	return nil
}
