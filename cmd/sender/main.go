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
	"github.com/Priya8975/clipboard-relay/internal/capability"
	"github.com/Priya8975/clipboard-relay/internal/config"
	"github.com/Priya8975/clipboard-relay/internal/discovery"
	"github.com/Priya8975/clipboard-relay/internal/domain"
	"github.com/Priya8975/clipboard-relay/internal/forward"
	"github.com/Priya8975/clipboard-relay/internal/peer"
)

const forwardWorkers = 2

func main() {
	cfg, err := config.Load(config.RoleSender, os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "sender:", err)
		os.Exit(2)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(cfg, logger); err != nil {
		logger.Error("sender stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var clip capability.Clipboard
	if cfg.MemoryClipboard {
		clip = &capability.Memory{}
	} else {
		clip = capability.NewCommand(cfg.ClipboardReadCmd, cfg.ClipboardWriteCmd)
	}

	var resolver discovery.Resolver
	switch cfg.DiscoveryMode {
	case config.DiscoveryStatic:
		resolver = discovery.Static{Addr: cfg.StaticAddr}
	default:
		resolver = discovery.Broadcast{Port: cfg.DiscoveryPort, Role: string(config.RoleSender), Logger: logger}
	}

	manager, err := peer.NewManager(peer.Config{
		ServiceName:      cfg.ServiceName,
		Resolver:         resolver,
		DiscoveryTimeout: cfg.DiscoveryTimeout,
		Dialer:           peer.WebsocketDialer{Path: cfg.PeerPath},
		Backoff: peer.Backoff{
			ResolveRetry:   cfg.ResolveRetry,
			HandshakeRetry: cfg.HandshakeRetry,
			ReconnectDelay: cfg.ReconnectDelay,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	n := &node{
		link:    manager,
		stamper: domain.NewStamper(nil),
		localIP: discovery.LocalIP(),
		logger:  logger.With("component", "sender"),
	}

	if cfg.IngressURL != "" {
		fwd, err := forward.NewForwarder(cfg.IngressURL, 0, logger)
		if err != nil {
			return err
		}
		pool := forward.NewPool(forwardWorkers, 0, fwd, logger)
		pool.Start(ctx)
		defer pool.Stop()
		n.forward = pool
	}

	monitor := capability.NewMonitor(clip, cfg.ClipboardPoll, func(text string) {
		n.Publish(ctx, domain.Draft{
			Kind:    domain.KindClipboard,
			Payload: text,
			Origin:  domain.OriginClipboardMonitor,
		})
	}, logger)

	inbound := &inboundHandler{clipboard: monitor, node: n, logger: n.logger}
	manager.OnReceive(inbound.Handle)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewSenderRouter(n),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("sender starting",
			"addr", cfg.HTTPAddr,
			"discovery_mode", cfg.DiscoveryMode,
			"local_ip", n.localIP,
			"forwarding", n.forward != nil,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return manager.Run(gctx)
	})

	if cfg.ClipboardMonitor {
		g.Go(func() error {
			return monitor.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down sender...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("sender stopped")
	return nil
}
