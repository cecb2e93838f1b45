package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crowdpointer/internal/broadcast"
	"github.com/dgnsrekt/crowdpointer/internal/presence"
	"github.com/dgnsrekt/crowdpointer/internal/protocol"
	"github.com/dgnsrekt/crowdpointer/internal/pubsub"
	"github.com/dgnsrekt/crowdpointer/internal/registry"
	"github.com/dgnsrekt/crowdpointer/internal/server"
	"github.com/dgnsrekt/crowdpointer/internal/ws"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket server and periodic broadcaster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("baseURL", cfg.Server.BaseURL),
		zap.Duration("broadcastInterval", cfg.Broadcast.Interval),
		zap.Int("bufferSize", cfg.PubSub.BufferSize),
		zap.Float64("upgradeRate", cfg.Server.UpgradeRate),
		zap.Int("upgradeBurst", cfg.Server.UpgradeBurst),
		zap.Bool("redisMirror", cfg.MirrorEnabled()),
	)

	codec, err := protocol.NewCodec()
	if err != nil {
		return fmt.Errorf("creating codec: %w", err)
	}
	defer codec.Close()

	reg := registry.New()
	broker := pubsub.NewBroker(cfg.PubSub.BufferSize, logger)

	// Optional Redis mirror for display and count feeds
	var publisher pubsub.Publisher = broker
	if cfg.MirrorEnabled() {
		rdb, err := pubsub.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()

		// Runs before rdb.Close so queued messages are flushed first
		mirror := pubsub.NewMirror(broker, rdb, cfg.Redis.ChannelPrefix, logger)
		defer mirror.Close()
		publisher = mirror
		logger.Info("redis mirror enabled", zap.String("prefix", cfg.Redis.ChannelPrefix))
	}

	manager := presence.NewManager(reg, publisher, logger)
	broadcaster := broadcast.NewBroadcaster(reg, publisher, clockwork.NewRealClock(), cfg.Broadcast.Interval, logger)
	handler := ws.NewHandler(broker, manager, codec, logger)

	srv := server.NewServer(manager, broker, broadcaster, handler, cfg, logger)
	router := server.NewRouter(srv, logger)

	// Broadcaster runs for the whole process lifetime
	broadcaster.Start(context.Background())

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", httpServer.Addr),
			zap.String("interactURL", cfg.InteractURL()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt or listener failure
	select {
	case <-ctx.Done():
		logger.Info("shutting down server...")
	case err := <-serveErr:
		if err != nil {
			broadcaster.Stop()
			broker.Close()
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Stop producing snapshots, then close every session's subscription so
	// clients receive a going-away close frame.
	broadcaster.Stop()
	broker.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped",
		zap.Uint64("broadcastTicks", broadcaster.Sequence()),
	)
	return nil
}
