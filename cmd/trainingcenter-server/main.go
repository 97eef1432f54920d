package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"trainingcenter/backend/internal/config"
	"trainingcenter/backend/internal/events"
	"trainingcenter/backend/internal/health"
	"trainingcenter/backend/internal/metrics"
	"trainingcenter/backend/internal/service/scheduling"
	"trainingcenter/backend/internal/store"
	"trainingcenter/backend/internal/store/memory"
	"trainingcenter/backend/internal/store/postgres"
	"trainingcenter/backend/internal/store/rediscache"
	"trainingcenter/backend/internal/telemetry"
	grpcTransport "trainingcenter/backend/internal/transport/grpc"
	"trainingcenter/backend/internal/transport/rest"
)

const serviceName = "trainingcenter-server"

// storage is the set of ports the engine and the relay run against.
type storage struct {
	repo     store.AppointmentRepository
	outbox   store.EventOutbox
	people   scheduling.PersonLookup
	payments scheduling.DelinquencyOracle
	checks   []health.Check
	close    func()
}

func main() {
	log := newLogger(slog.LevelInfo)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = newLogger(parseLogLevel(cfg.LogLevel))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info(
		"starting",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("log_level", cfg.LogLevel),
	)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OTelEnabled,
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("tracer shutdown failed", slog.Any("err", err))
		}
	}()

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	people := st.people
	if cfg.RedisURL != "" {
		rdb, err := rediscache.NewClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("redis close failed", slog.Any("err", err))
			}
		}()
		people = rediscache.NewNameCache(rdb, people, cfg.NameCacheTTL, log)
		log.Info("display name cache enabled", redisLogArgs(rdb)...)
	}

	engine := scheduling.NewEngine(st.repo, people, st.payments,
		scheduling.WithDefaultDuration(cfg.DefaultDuration),
		scheduling.WithMaxDescriptionLength(cfg.MaxDescriptionLength),
	)

	collector := metrics.NewCollector("trainingcenter", nil)
	router := rest.NewRouter(rest.RouterConfig{
		Handler:     rest.NewHandler(engine, log, collector),
		Metrics:     collector,
		Logger:      log,
		ReadyChecks: st.checks,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, "trainingcenter.http"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, healthServer := grpcTransport.NewServer(grpcTransport.ServerConfig{
		RequestTimeout: cfg.GRPCRequestTimeout,
		Logger:         log,
	})
	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server started", slog.String("http_addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		grpcTransport.WatchReadiness(gctx, healthServer, 5*time.Second, st.checks, log)
		return nil
	})

	if brokers := events.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		writer := events.NewKafkaWriter(brokers)
		relay := events.NewRelay(st.outbox, writer, events.RelayConfig{
			Topic:     cfg.KafkaTopic,
			PollEvery: cfg.OutboxPollEvery,
			BatchSize: cfg.OutboxBatchSize,
		}, log, collector)
		g.Go(func() error {
			defer func() {
				if err := writer.Close(); err != nil {
					log.Warn("kafka writer close failed", slog.Any("err", err))
				}
			}()
			return relay.Run(gctx)
		})
	} else {
		log.Info("event relay disabled: no kafka brokers configured")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Warn("http graceful shutdown failed", slog.Any("err", err))
		}
		grpcTransport.Shutdown(log, grpcServer, cfg.ShutdownTimeout)
		return nil
	})

	return g.Wait()
}

func openStorage(ctx context.Context, cfg config.Config, log *slog.Logger) (storage, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		return openMemoryStorage(cfg, log)
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return storage{}, err
	}

	repo := postgres.NewAppointmentRepo(db)
	return storage{
		repo:     repo,
		outbox:   repo,
		people:   postgres.NewPeopleRepo(db),
		payments: postgres.NewPaymentsRepo(db),
		checks:   []health.Check{{Name: "database", Fn: postgres.ReadyCheck(db)}},
		close: func() {
			if err := postgres.Close(db); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		},
	}, nil
}

// openMemoryStorage serves people and payments from the seed file. Without a
// seed every booking is rejected as an unknown person.
func openMemoryStorage(cfg config.Config, log *slog.Logger) (storage, error) {
	log.Warn("using in-memory store; data is lost on restart")

	people, payments := memory.NewPeople(), memory.NewPayments()
	if cfg.SeedFile != "" {
		var err error
		people, payments, err = memory.LoadSeed(cfg.SeedFile)
		if err != nil {
			log.Error("seed load failed", slog.String("path", cfg.SeedFile), slog.Any("err", err))
			return storage{}, err
		}
		log.Info("seed loaded", slog.String("path", cfg.SeedFile))
	} else {
		log.Warn("memory store has no seed file; set store.seed_file to register people")
	}

	var opts []memory.Option
	if len(events.SplitBrokers(cfg.KafkaBrokers)) == 0 {
		opts = append(opts, memory.DiscardEvents())
	}
	repo := memory.NewAppointmentRepo(opts...)
	return storage{
		repo:     repo,
		outbox:   repo,
		people:   people,
		payments: payments,
		close:    func() {},
	}, nil
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With(
		slog.String("service", serviceName),
	)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}

func redisLogArgs(rdb *redis.Client) []any {
	opts := rdb.Options()
	return []any{
		slog.String("redis_addr", opts.Addr),
		slog.Int("redis_db", opts.DB),
	}
}
