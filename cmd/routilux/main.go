// Command routilux boots one Runtime behind the httpapi gin router.
// Bootstrap order follows the teacher's cmd/inference/main.go: construct
// the app's collaborators, install signal-driven shutdown, then block on
// ListenAndServe.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/routilux/routilux-go/internal/config"
	"github.com/routilux/routilux-go/internal/engine"
	"github.com/routilux/routilux-go/internal/eventbus"
	"github.com/routilux/routilux-go/internal/httpapi"
	"github.com/routilux/routilux-go/internal/httpapi/authmw"
	"github.com/routilux/routilux-go/internal/logger"
	"github.com/routilux/routilux-go/internal/observability"
	"github.com/routilux/routilux-go/internal/stdoutrouter"
	"github.com/routilux/routilux-go/internal/storage/graphstore"
	"github.com/routilux/routilux-go/internal/storage/idempotency"
	"github.com/routilux/routilux-go/internal/storage/sqlstore"
)

func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func envDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func main() {
	log, err := logger.New(envDefault("ROUTILUX_LOG_MODE", "production"))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(os.Getenv("ROUTILUX_CONFIG_PATH"))
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := notifyContext(context.Background())
	defer stop()

	shutdownTracing := observability.InitTracing(ctx, log, observability.TracingConfig{
		ServiceName: "routilux",
		Environment: envDefault("ROUTILUX_ENV", "development"),
	})
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	rt := engine.New(cfg, log)

	// Point the real process os.Stdout at the routed-stdout sink so a
	// routine's own print-style output, not just writes made through
	// LogicContext, is captured and attributed to the firing job. Must
	// happen before any worker can start running routine logic.
	restoreStdout := stdoutrouter.Install(rt.Stdout)
	defer restoreStdout()

	// Optional durable backing: a bare-process deployment runs entirely
	// in-memory (rt's defaults), matching the teacher's own graceful
	// degrade-to-memory pattern when a backing store isn't configured.
	if dsn := os.Getenv("ROUTILUX_POSTGRES_DSN"); dsn != "" {
		db, err := sqlstore.Open(envDefault("ROUTILUX_SQL_DRIVER", "postgres"), dsn, log)
		if err != nil {
			log.Error("sqlstore open failed", "error", err)
			os.Exit(1)
		}
		if _, err := sqlstore.NewStore(db); err != nil {
			log.Error("sqlstore migrate failed", "error", err)
			os.Exit(1)
		}
		log.Info("sqlstore: snapshot tables migrated")
	}

	if graphClient, err := graphstore.NewFromEnv(log); err != nil {
		log.Warn("graphstore unavailable, flows stay registry-only", "error", err)
	} else if graphClient != nil {
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = graphClient.Close(shutCtx)
		}()
		log.Info("graphstore: connected")
	}

	if addr := os.Getenv("ROUTILUX_IDEMPOTENCY_REDIS_ADDR"); addr != "" {
		store, err := idempotency.NewRedis(addr, envDefault("ROUTILUX_IDEMPOTENCY_REDIS_PREFIX", "routilux:idem"))
		if err != nil {
			log.Error("idempotency redis dial failed", "error", err)
			os.Exit(1)
		}
		rt.Idempotency = store
		log.Info("idempotency: redis-backed store enabled", "addr", addr)
	}

	if addr := os.Getenv("ROUTILUX_EVENTBUS_REDIS_ADDR"); addr != "" {
		bus, err := eventbus.NewRedis(addr, os.Getenv("ROUTILUX_EVENTBUS_REDIS_PASSWORD"))
		if err != nil {
			log.Error("eventbus redis dial failed", "error", err)
			os.Exit(1)
		}
		rt.Events = bus
		log.Info("eventbus: redis-backed fan-out enabled", "addr", addr)
	}

	var auth *authmw.Middleware
	if cfg.AuthRequired {
		secret := os.Getenv("ROUTILUX_JWT_SECRET")
		if secret == "" {
			log.Error("ROUTILUX_AUTH_REQUIRED is set but ROUTILUX_JWT_SECRET is empty")
			os.Exit(1)
		}
		auth = authmw.New(true, secret)
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Runtime:        rt,
		Log:            log,
		AuthMiddleware: auth,
		ServiceName:    "routilux",
	})

	addr := ":" + envDefault("PORT", "8080")
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info("routilux listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server exited", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
	}
	rt.Shutdown()
}
