package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nnsi/hono-practice-sub007/internal/config"
	"github.com/nnsi/hono-practice-sub007/internal/server"
	"github.com/nnsi/hono-practice-sub007/internal/server/handlers"
	"github.com/nnsi/hono-practice-sub007/internal/server/syncer"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "actiko-server",
		Short:         "Actiko sync server",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(configPath)
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			logger := newLogger(os.Stdout, cfg.Log)
			slog.SetDefault(logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()
			return serve(ctx, cfg, logger, nil)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default actiko-server.yaml)")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newMigrateCmd(&configPath),
		newTokenCmd(&configPath),
	)
	return root
}

// serve запускает HTTP сервер и очистку журнала до отмены ctx.
// ready (если не nil) получает фактический адрес после начала прослушивания.
func serve(ctx context.Context, cfg *config.Server, logger *slog.Logger, ready chan<- string) error {
	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()
	logger.Info("store initialized", "driver", cfg.Storage.Driver)

	service := syncer.NewService(store, syncer.NewResolver(cfg.Sync.DuplicateWindow.Std()), logger)
	router := server.NewRouter(server.Deps{
		Logger:  logger,
		Service: service,
		Pinger:  store,
		JWT: handlers.JWTConfig{
			Secret:         []byte(cfg.Auth.Secret),
			AccessTokenTTL: cfg.Auth.AccessTokenTTL.Std(),
		},
		Version: Version,
	})
	janitor := syncer.NewJanitor(store, cfg.Sync.JanitorInterval.Std(), cfg.Sync.LedgerRetention.Std(), logger)

	ln, err := net.Listen("tcp", cfg.HTTP.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.Address, err)
	}
	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Std(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "address", ln.Addr().String(), "version", Version)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return janitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Std())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if ready != nil {
		ready <- ln.Addr().String()
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// tokenTTL выбирает срок действия: флаг, иначе конфигурация
func tokenTTL(flag time.Duration, cfg *config.Server) time.Duration {
	if flag > 0 {
		return flag
	}
	return cfg.Auth.AccessTokenTTL.Std()
}
