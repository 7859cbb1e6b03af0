// Command server starts the couchsync watch-together HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"couchsync/internal/events"
	"couchsync/internal/fetch"
	"couchsync/internal/observability/logging"
	"couchsync/internal/room"
	"couchsync/internal/server"
	"couchsync/internal/serverutil"
	"couchsync/internal/source"
	"couchsync/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to the JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	fetchDataDir := flag.String("fetch-data-dir", "", "directory for per-room content storage namespaces")
	reapInterval := flag.Duration("reap-interval", 0, "interval between idle-room reaper runs")
	inactivity := flag.Duration("room-inactivity", 0, "how long an empty room is kept before the reaper evicts it")
	eventsDriver := flag.String("events-driver", "", "room event queue driver (memory or redis)")
	eventsRedisAddr := flag.String("events-redis-addr", "", "Redis address for the room event stream")
	eventsRedisUsername := flag.String("events-redis-username", "", "Redis username for the room event stream")
	eventsRedisPassword := flag.String("events-redis-password", "", "Redis password for the room event stream")
	eventsRedisStream := flag.String("events-redis-stream", "", "Redis stream key for room events")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("COUCHSYNC_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("COUCHSYNC_LOG_FORMAT")),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver := strings.ToLower(firstNonEmpty(*storageDriver, os.Getenv("COUCHSYNC_STORAGE_DRIVER"), "json"))
	var (
		repo storage.Repository
		err  error
	)
	switch driver {
	case "json":
		path := firstNonEmpty(*dataPath, os.Getenv("COUCHSYNC_DATA"), "data/couchsync.json")
		repo, err = storage.NewJSONRepository(path)
	case "postgres":
		repo, err = storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:             firstNonEmpty(*postgresDSN, os.Getenv("COUCHSYNC_POSTGRES_DSN")),
			MaxConnections:  int32(*postgresMaxConns),
			MinConnections:  int32(*postgresMinConns),
			MaxConnLifetime: *postgresConnLifetime,
			ApplicationName: "couchsync",
		})
	default:
		err = fmt.Errorf("unknown storage driver %q", driver)
	}
	if err != nil {
		logger.Error("failed to initialise datastore", "driver", driver, "error", err)
		os.Exit(1)
	}

	queue, err := buildQueue(queueConfig{
		driver:   firstNonEmpty(*eventsDriver, os.Getenv("COUCHSYNC_EVENTS_DRIVER"), "memory"),
		addr:     firstNonEmpty(*eventsRedisAddr, os.Getenv("COUCHSYNC_EVENTS_REDIS_ADDR")),
		username: firstNonEmpty(*eventsRedisUsername, os.Getenv("COUCHSYNC_EVENTS_REDIS_USERNAME")),
		password: firstNonEmpty(*eventsRedisPassword, os.Getenv("COUCHSYNC_EVENTS_REDIS_PASSWORD")),
		stream:   firstNonEmpty(*eventsRedisStream, os.Getenv("COUCHSYNC_EVENTS_REDIS_STREAM")),
	})
	if err != nil {
		logger.Error("failed to initialise event queue", "error", err)
		os.Exit(1)
	}

	registry := room.NewRegistry(ctx, room.RegistryConfig{
		Repository: repo,
		SourceDeps: source.Deps{
			Engine:  fetch.NewLocalEngine(),
			DataDir: firstNonEmpty(*fetchDataDir, os.Getenv("COUCHSYNC_FETCH_DATA_DIR"), "data/content"),
			Logger:  logging.WithComponent(logger, "source"),
		},
		Queue:               queue,
		Logger:              logging.WithComponent(logger, "rooms"),
		ReapInterval:        *reapInterval,
		InactivityThreshold: *inactivity,
	})

	handler := server.NewHandler(registry, repo, logging.WithComponent(logger, "api"))
	srv := server.New(handler, server.Config{
		Addr: firstNonEmpty(*addr, os.Getenv("COUCHSYNC_ADDR"), ":8080"),
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("COUCHSYNC_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("COUCHSYNC_TLS_KEY")),
		},
		Logger: logging.WithComponent(logger, "http"),
	})

	logger.Info("server starting", "addr", srv.HTTPServer().Addr, "storage_driver", driver)
	certFile, keyFile := srv.TLS()
	runErr := serverutil.Run(ctx, serverutil.Config{
		Server:      srv.HTTPServer(),
		TLSCertFile: certFile,
		TLSKeyFile:  keyFile,
	})

	registry.Close()
	if err := queue.Close(); err != nil {
		logger.Warn("event queue close failed", "error", err)
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repo.Close(closeCtx); err != nil {
		logger.Warn("datastore close failed", "error", err)
	}

	if runErr != nil {
		logger.Error("server exited with error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type queueConfig struct {
	driver   string
	addr     string
	username string
	password string
	stream   string
}

func buildQueue(cfg queueConfig) (events.Queue, error) {
	switch strings.ToLower(cfg.driver) {
	case "", "memory":
		return events.NewMemoryQueue(0), nil
	case "redis":
		return events.NewRedisQueue(events.RedisQueueConfig{
			Addr:     cfg.addr,
			Username: cfg.username,
			Password: cfg.password,
			Stream:   cfg.stream,
		})
	case "none":
		return events.NopQueue{}, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
