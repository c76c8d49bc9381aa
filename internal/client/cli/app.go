// Package cli команды клиента actiko поверх менеджера синхронизации.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	apiclient "github.com/nnsi/hono-practice-sub007/internal/client/api"
	"github.com/nnsi/hono-practice-sub007/internal/client/iocli"
	"github.com/nnsi/hono-practice-sub007/internal/client/outbox"
	"github.com/nnsi/hono-practice-sub007/internal/client/storage/boltdb"
	clientsync "github.com/nnsi/hono-practice-sub007/internal/client/sync"
	"github.com/nnsi/hono-practice-sub007/internal/config"
	"github.com/nnsi/hono-practice-sub007/pkg/api"
)

// HealthChecker проверка доступности сервера
type HealthChecker interface {
	Health(ctx context.Context) (*api.HealthResponse, error)
}

// App состояние клиента на время выполнения одной команды
type App struct {
	io       iocli.IO
	manager  *clientsync.Manager
	health   HealthChecker
	closer   io.Closer
	logger   *slog.Logger
	newID    func() string
	today    func() time.Time
	interval time.Duration
}

// rootFlags глобальные флаги; непустые значения перекрывают конфигурацию
type rootFlags struct {
	config   string
	server   string
	db       string
	user     string
	logLevel string
}

// NewRootCommand создает корневую команду клиента
func NewRootCommand(version string, stdio iocli.IO) *cobra.Command {
	var flags rootFlags
	app := &App{io: stdio}

	root := &cobra.Command{
		Use:           "actiko",
		Short:         "Offline-first client for the actiko sync server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || !cmd.Runnable() {
				return nil
			}
			return app.open(cmd.Context(), &flags, cmd.Annotations[annotationServer] == "true")
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.config, "config", "", "path to config file (default ~/.actiko/client.yaml)")
	pf.StringVar(&flags.server, "server", "", "server URL")
	pf.StringVar(&flags.db, "db", "", "path to local database")
	pf.StringVar(&flags.user, "user", "", "user id")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(app.commands()...)
	return root
}

func (a *App) commands() []*cobra.Command {
	return []*cobra.Command{
		a.newMutateCmd(),
		a.newLogCmd(),
		a.newSyncCmd(),
		a.newPullCmd(),
		a.newStatusCmd(),
		a.newListCmd(),
		a.newQueueCmd(),
		a.newClearCmd(),
		a.newRetryCmd(),
		a.newWatchCmd(),
	}
}

// annotationServer помечает команды, которые обращаются к серверу
const annotationServer = "actiko/server"

// open загружает конфигурацию и собирает хранилище, очередь и менеджер
func (a *App) open(ctx context.Context, flags *rootFlags, needsServer bool) error {
	cfg, err := config.LoadClient(flags.config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrides := map[*string]string{
		&cfg.ServerURL: flags.server,
		&cfg.DBPath:    flags.db,
		&cfg.UserID:    flags.user,
		&cfg.Log.Level: flags.logLevel,
	}
	for dst, v := range overrides {
		if v != "" {
			*dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Token == "" && needsServer && a.io.IsInteractive() {
		token, err := a.io.ReadPassword("Access token (empty to work offline): ")
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		cfg.Token = strings.TrimSpace(token)
	}

	logger := NewLogger(os.Stderr, cfg.Log, term.IsTerminal(int(os.Stderr.Fd())))
	a.logger = logger

	store, err := boltdb.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	queue, err := outbox.New(ctx, store, cfg.UserID, logger)
	if err != nil {
		_ = store.Close()
		return err
	}

	client := apiclient.NewClient(cfg.ServerURL, cfg.Token, cfg.RequestTimeout.Std())
	retry := clientsync.RetryPolicy{
		InitialInterval:     cfg.Retry.InitialInterval.Std(),
		MaxInterval:         cfg.Retry.MaxInterval.Std(),
		Multiplier:          cfg.Retry.Multiplier,
		RandomizationFactor: clientsync.DefaultRetryPolicy().RandomizationFactor,
	}

	manager, err := clientsync.NewManager(ctx, queue, store, store, client, cfg.BatchSize, retry, logger)
	if err != nil {
		_ = store.Close()
		return err
	}

	a.manager = manager
	a.health = client
	a.closer = store
	a.interval = cfg.SyncInterval.Std()
	return nil
}

// Close закрывает локальное хранилище
func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

func (a *App) id() string {
	if a.newID != nil {
		return a.newID()
	}
	return uuid.NewString()
}

func (a *App) now() time.Time {
	if a.today != nil {
		return a.today()
	}
	return time.Now()
}

// NewLogger создает slog логгер: текст на терминале, JSON в остальных случаях
func NewLogger(w io.Writer, cfg config.LogConfig, tty bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLogLevel(cfg.Level)}

	format := cfg.Format
	if format == "" || format == "auto" {
		format = "json"
		if tty {
			format = "text"
		}
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLogLevel разбирает уровень логирования; неизвестные значения дают info
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// errAborted пользователь отказался от подтверждения
var errAborted = errors.New("aborted by user")
