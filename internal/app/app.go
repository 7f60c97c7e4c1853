package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/skewb1k/goutils/randstr"

	"github.com/clipsync/server/internal/assetadapter"
	"github.com/clipsync/server/internal/broadcast"
	"github.com/clipsync/server/internal/clientrepo"
	"github.com/clipsync/server/internal/command"
	"github.com/clipsync/server/internal/lifecycle"
	"github.com/clipsync/server/internal/password"
	"github.com/clipsync/server/internal/ratelimit"
	"github.com/clipsync/server/internal/registry"
	"github.com/clipsync/server/internal/restapi"
	"github.com/clipsync/server/internal/roomrepo"
	"github.com/clipsync/server/internal/snapshotstore"
	"github.com/clipsync/server/internal/store"
	"github.com/clipsync/server/internal/transport/ws"
	"github.com/clipsync/server/internal/wsrouter"
	"github.com/clipsync/server/pkg/ctxlogger"
)

// roomIDAlphabet matches the teacher's own inline letterBytes convention
// (sharetube-server/internal/service/service.go's New), narrowed to
// digits since spec §4.1 room ids are numeric.
var roomIDAlphabet = []byte("0123456789")

// AppConfig is the typed form of every env var spec §6 names, parsed by
// cmd/server/main.go's viper+pflag loader (grounded on the teacher's
// AppConfig/configVar[T] convention).
type AppConfig struct {
	Port int

	RedisHost     string
	RedisPassword string
	RedisPort     int

	// DurableStoreDSN is whichever of MONGODB_URI/DATABASE_URL is set;
	// empty skips snapshotting entirely (§6).
	DurableStoreDSN string

	InactiveTimeout         time.Duration
	MinVideoTimeoutHours    float64
	VideoDurationMultiplier float64

	IsEncryptedPassword bool

	LogLevel        string
	LogToFiles      bool
	ErrorLogPath    string
	CombinedLogPath string
	NodeEnv         string

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

func (cfg *AppConfig) Validate() error {
	if cfg.Port < 1 {
		return fmt.Errorf("port must be greater than 0")
	}
	if cfg.RateLimitRequests < 1 {
		return fmt.Errorf("rate limit requests must be greater than 0")
	}
	return nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	logger, closeLogs, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closeLogs()

	redisStore, err := store.NewRedisStore(&store.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to shared state store: %w", err)
	}
	defer redisStore.Close()

	var snapshots *snapshotstore.Store
	if cfg.DurableStoreDSN != "" {
		snapshots, err = snapshotstore.Connect(cfg.DurableStoreDSN)
		if err != nil {
			// The durable store is a snapshot target, not the source of
			// truth (§6) — its absence degrades the Lifecycle Worker's
			// snapshot/reverse-sync jobs to no-ops rather than failing
			// startup.
			logger.ErrorContext(ctx, "app: durable store connect failed, snapshotting disabled", "error", err)
			snapshots = nil
		} else {
			defer snapshots.Close()
		}
	}

	local := registry.New()
	bus := broadcast.New(redisStore, registryAdapter{local}, logger)
	rooms := roomrepo.New(redisStore, bus)
	clients := clientrepo.New(redisStore)
	assets := assetadapter.New(redisStore)
	passwords := password.New(cfg.IsEncryptedPassword)
	roomIDs := randstr.New(roomIDAlphabet)

	dispatcher := command.New(rooms, clients, local, bus, assets, passwords, roomIDs, logger)
	router := wsrouter.New()
	dispatcher.Register(router)

	wsHandler := ws.NewHandler(router, dispatcher, local, logger)

	limiter := ratelimit.New(redisStore.Raw(), cfg.RateLimitRequests, cfg.RateLimitWindow)
	api := restapi.New(assets, limiter, wsHandler, logger)

	redisOpt := asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
	}
	worker := lifecycle.New(redisOpt, logger)
	handlers := lifecycle.NewHandlers(rooms, clients, dispatcher, snapshots, lifecycle.Config{
		InactiveTimeout:         cfg.InactiveTimeout,
		MinVideoTimeoutHours:    cfg.MinVideoTimeoutHours,
		VideoDurationMultiplier: cfg.VideoDurationMultiplier,
		OrphanTimeout:           lifecycle.DefaultOrphanTimeout,
	}, logger)
	if err := worker.Register(handlers); err != nil {
		return fmt.Errorf("failed to register lifecycle worker: %w", err)
	}
	if err := worker.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle worker: %w", err)
	}
	defer worker.Shutdown()

	// §4.7: run one reverse-sync before accepting connections, rather than
	// waiting for the asynq schedule's next hour boundary.
	if err := handlers.HandleReverseSync(ctx, nil); err != nil {
		logger.ErrorContext(ctx, "app: startup reverse-sync failed", "error", err)
	}

	unsubscribe, err := bus.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start broadcast bus: %w", err)
	}
	defer unsubscribe()

	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: api.Mux()}

	// graceful shutdown, 5s grace window per spec §5
	serverCtx, serverStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, cancel := context.WithTimeout(serverCtx, 5*time.Second)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}

// newLogger builds the structured logger per §6: JSON format when
// NODE_ENV=production, text otherwise; optionally tee'd to
// ERROR_LOG_PATH/COMBINED_LOG_PATH when LOG_TO_FILES is set. Grounded on
// the teacher's ctxlogger.ContextHandler wiring.
func newLogger(cfg *AppConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return nil, nil, err
	}

	dest := io.Writer(os.Stdout)
	closeLogs := func() {}

	if cfg.LogToFiles {
		combined, err := os.OpenFile(cfg.CombinedLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open combined log: %w", err)
		}
		errLog, err := os.OpenFile(cfg.ErrorLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			combined.Close()
			return nil, nil, fmt.Errorf("open error log: %w", err)
		}
		dest = io.MultiWriter(os.Stdout, combined, errLog)
		closeLogs = func() {
			combined.Close()
			errLog.Close()
		}
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: true}
	var base slog.Handler
	if strings.EqualFold(cfg.NodeEnv, "production") {
		base = slog.NewJSONHandler(dest, opts)
	} else {
		base = slog.NewTextHandler(dest, opts)
	}

	logger := slog.New(ctxlogger.ContextHandler{Handler: base})
	return logger, closeLogs, nil
}
