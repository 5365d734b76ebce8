// Command talko-server runs the chat HTTP API, the realtime gateway and the ops gRPC listener.
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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/talko/internal/config"
	"github.com/and161185/talko/internal/httpapi"
	"github.com/and161185/talko/internal/limiter"
	"github.com/and161185/talko/internal/migrate"
	"github.com/and161185/talko/internal/realtime"
	"github.com/and161185/talko/internal/repository/postgres"
	grpcserver "github.com/and161185/talko/internal/server/grpc"
	"github.com/and161185/talko/internal/service"
	"github.com/and161185/talko/internal/supervisor"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (defaults to $TALKO_CONFIG)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("talko-server %s (%s)\n", version, buildDate)
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("grpc", cfg.GRPC.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ver, err := migrate.Up(ctx, cfg.Database.DSN, logger.Named("migrate"))
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("schema ready", zap.Int64("version", ver))

	db, err := postgres.New(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer db.Close()

	users := postgres.NewUserRepo(db)
	messages := postgres.NewMessageRepo(db)
	lim := limiter.NewPG(db.Pool, limiter.Policy{
		Window:   cfg.Auth.LockWindow,
		MaxFails: cfg.Auth.LockMaxFails,
		BlockFor: cfg.Auth.LockFor,
	})

	auth := service.NewAuthService(users, []byte(cfg.Auth.JWTKey), cfg.Auth.AccessTTL, lim, logger.Named("auth"))
	chat := service.NewChatService(users, messages, nil, cfg.Chat.MaxTextLen, logger.Named("chat"))

	rtLog := logger.Named("realtime")
	reg := realtime.NewRegistry()
	fan := realtime.NewFanout(reg, rtLog)
	chat.SetDeliverer(fan)
	presence := realtime.NewPresence(reg, fan, cfg.Presence.GracePeriod, rtLog)
	gateway := realtime.NewGateway(realtime.Config{
		AuthTimeout:    cfg.Realtime.AuthTimeout,
		WriteWait:      cfg.Realtime.WriteWait,
		PongWait:       cfg.Realtime.PongWait,
		MaxFrameBytes:  cfg.Realtime.MaxFrameBytes,
		SendBuffer:     cfg.Realtime.SendBuffer,
		FramesPerSec:   cfg.Realtime.FramesPerSec,
		FrameBurst:     cfg.Realtime.FrameBurst,
		CheckOrigin:    cfg.Realtime.CheckOrigin,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
	}, auth, chat, chat, reg, presence, realtime.NewTypingRelay(fan, rtLog), rtLog)

	router := httpapi.NewRouter(httpapi.Deps{
		Accounts:       auth,
		Chat:           chat,
		DB:             db,
		Gateway:        gateway,
		Log:            logger.Named("http"),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AuthRateLimit:  cfg.HTTP.AuthRateLimit,
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}
	// Hijacked websocket conns are not closed by Shutdown.
	srv.RegisterOnShutdown(gateway.Shutdown)

	tree := supervisor.New(logger.Named("supervisor"), supervisor.TreeConfig{ShutdownTimeout: cfg.HTTP.ShutdownTimeout})
	tree.AddAPI(supervisor.NewHTTPService(srv, cfg.HTTP.ShutdownTimeout))

	if cfg.GRPC.Addr != "" {
		ops, err := grpcserver.New(grpcserver.Options{
			Addr:       cfg.GRPC.Addr,
			TLSCert:    cfg.GRPC.TLSCert,
			TLSKey:     cfg.GRPC.TLSKey,
			Reflection: cfg.GRPC.Reflection,
		}, db, logger.Named("grpc"))
		if err != nil {
			return err
		}
		tree.AddAPI(ops)
	}

	if cfg.Presence.GracePeriod > 0 {
		tree.AddBackground(realtime.Sweeper{P: presence, Interval: cfg.Presence.SweepInterval})
	}

	return tree.Serve(ctx)
}
