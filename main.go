package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"proxsignal/pkg/config"
	"proxsignal/pkg/metrics"
	"proxsignal/pkg/pair"
	"proxsignal/pkg/proximity"
	"proxsignal/pkg/registry"
	"proxsignal/pkg/room"
	"proxsignal/pkg/server"
	"proxsignal/pkg/utils"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	configPath := flag.String("config", "configs/config.ini", "path to the ini configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		utils.ErrorF("读取配置文件失败，请检查%s内容：%v", *configPath, err)
		return exitConfig, err
	}
	utils.SetLevel(cfg.Log.Level)
	utils.InfoF("config loaded from %s: addr=%s tls=%v threshold=%.1f exit=%.1f", *configPath,
		cfg.General.Addr(), cfg.General.TLS(), cfg.Presence.Threshold, cfg.Presence.ExitThreshold)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(
		registry.WithArea(cfg.Presence.Area),
		registry.WithRadius(cfg.Presence.Radius),
	)
	tracker := pair.NewTracker(pair.WithNegotiationTimeout(cfg.Presence.NegotiationTimeout))
	evaluator := proximity.NewEvaluator(cfg.Presence.Threshold, cfg.Presence.ExitThreshold)
	m := metrics.New()
	m.Watch(reg, tracker)

	hub := server.NewHub()
	coordinator := room.NewCoordinator(hub, reg, evaluator, tracker, m,
		room.WithQueueSize(cfg.Presence.QueueSize),
		room.WithSweepInterval(cfg.Presence.SweepInterval),
	)
	go func() {
		if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			utils.ErrorF("coordinator stopped: %v", err)
		}
	}()

	wsServer := server.NewP2PServer(hub, coordinator.HandleWebSocket)
	if cfg.General.MetricsPath != "" {
		wsServer.Handle(cfg.General.MetricsPath, m.Handler())
	}
	serverConfig := server.GetDefaultConfig()
	serverConfig.Host = cfg.General.Host
	serverConfig.Port = cfg.General.Port
	serverConfig.CertFile = cfg.General.CertFile
	serverConfig.KeyFile = cfg.General.KeyFile
	serverConfig.WebSocketPath = cfg.General.WebSocketPath

	if err := wsServer.Bind(ctx, serverConfig); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return exitRuntime, err
	}
	utils.InfoF("server stopped")
	return exitOK, nil
}
