package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"onetime/matching-service/internal/config"
	"onetime/matching-service/internal/db"
	"onetime/matching-service/internal/grpcserver"
	"onetime/matching-service/internal/httpapi"
	"onetime/matching-service/internal/logger"
	"onetime/matching-service/internal/matching"
	"onetime/matching-service/internal/notify"
	"onetime/matching-service/internal/preference"
	"onetime/matching-service/internal/realtime"
	"onetime/matching-service/internal/recommend"
	"onetime/matching-service/internal/scheduler"
	"onetime/matching-service/internal/scoring"
	"onetime/matching-service/internal/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, SSE and gRPC servers",
	Run: func(_ *cobra.Command, _ []string) {
		if err := serve(); err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serve wires every component and blocks until SIGINT/SIGTERM or a fatal
// component error.
func serve() error {
	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer l.Sync()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		l.Fatal("loading config", "err", err)
	}
	l.Info("starting the matching service", "version", version, "port", cfg.Port, "grpc_port", cfg.GRPCPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		l.Fatal("connecting to PostgreSQL", "err", err)
	}
	defer pool.Close()
	l.Info("PostgreSQL connected", "max_conns", cfg.DatabaseMaxConns)

	// ── Redis (optional) ─────────────────────────────────────────────────────
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			l.Fatal("connecting to Redis", "err", err)
		}
		defer rdb.Close()
		l.Info("Redis connected")
	} else {
		l.Warn("REDIS_URL not set, using in-process cache and no cross-instance events")
	}

	tz, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		l.Fatal("loading time zone", "time_zone", cfg.TimeZone, "err", err)
	}

	// ── Domain ───────────────────────────────────────────────────────────────
	st := store.NewPostgres(pool)
	analyzer := preference.NewAnalyzer(tz)
	engine, err := scoring.New(cfg.Scoring.Weights)
	if err != nil {
		l.Fatal("building scoring engine", "err", err)
	}

	var backend recommend.Backend = recommend.NewMemoryBackend()
	var bus notify.Bus
	if rdb != nil {
		backend = recommend.NewRedisBackend(rdb)
		bus, err = notify.NewRedisBus(rdb, cfg.Realtime.BusChannel, l)
		if err != nil {
			l.Fatal("building event bus", "err", err)
		}
	}
	rec := recommend.NewService(st, analyzer, engine, recommend.NewCache(backend, l), recommend.ServiceConfig{
		TTL:          cfg.Recommend.TTL,
		DefaultLimit: cfg.Recommend.DefaultLimit,
		MaxLimit:     cfg.Recommend.MaxLimit,
	}, l)
	similar := recommend.NewCollaborativeFilter(st, analyzer, l)

	dispatcher := notify.NewDispatcher(notify.Options{
		SubscriberBuffer: cfg.Realtime.SubscriberBuffer,
		Inbox:            notify.NewInbox(0),
		Bus:              bus,
	}, l)

	m := cfg.Matching
	queue := matching.NewQueue(st, analyzer, engine, dispatcher, matching.Options{
		Threshold:         m.Threshold,
		MaxCandidates:     m.MaxCandidates,
		ResponseWindow:    m.ResponseWindow,
		ResolvedRetention: m.ResolvedRetention,
		EntryTTL:          m.EntryTTL,
		RescanParallelism: m.RescanParallelism,
		CascadeOnAccept:   m.CascadeOnAccept,
	}, l)
	sched := scheduler.New(queue, m.RescanInterval, m.SweepInterval, l)

	// ── Transports ───────────────────────────────────────────────────────────
	if !viper.GetBool("debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(
		httpapi.NewHandler(queue, rec, similar, dispatcher, l),
		realtime.NewStreamHandler(dispatcher, cfg.Realtime.Heartbeat, l),
		l,
	)

	// Request contexts derive from streamsCtx so open event streams end
	// when Shutdown starts instead of holding it until the timeout.
	streamsCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamsCtx },
	}
	srv.RegisterOnShutdown(cancelStreams)

	grpcSrv := grpcserver.New(grpcserver.NewServer(queue, rec, l))
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		l.Fatal("listening for gRPC", "port", cfg.GRPCPort, "err", err)
	}

	// ── Run ──────────────────────────────────────────────────────────────────
	// The actors outlive the listeners so in-flight requests can finish.
	actorsCtx, stopActors := context.WithCancel(context.Background())
	defer stopActors()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(actorsCtx) })
	g.Go(func() error { return queue.Run(actorsCtx) })

	if err := sched.Start(gctx); err != nil {
		l.Fatal("starting scheduler", "err", err)
	}
	if rdb != nil {
		feed := scheduler.NewPostingFeed(rdb, m.PostingChannel, l)
		g.Go(func() error { return feed.Run(gctx, sched.Trigger) })
	}

	g.Go(func() error {
		l.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		l.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		l.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Warn("HTTP shutdown", "err", err)
		}
		gracefulStop(shutdownCtx, grpcSrv)
		sched.Stop()
		stopActors()
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Error("matching service stopped with error", "err", err)
		return err
	}
	l.Info("matching service stopped")
	return nil
}

type grpcStopper interface {
	GracefulStop()
	Stop()
}

// gracefulStop waits for in-flight RPCs until ctx expires, then forces
// the server down.
func gracefulStop(ctx context.Context, s grpcStopper) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
		<-done
	}
}
