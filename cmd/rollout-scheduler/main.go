package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Rollout/internal/config"
	"github.com/shaiso/Rollout/internal/mq"
	"github.com/shaiso/Rollout/internal/repo"
	"github.com/shaiso/Rollout/internal/scheduler"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// schedLockKey — ключ advisory lock: тики выполняет только лидер.
const schedLockKey int64 = 424242

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "rollout-scheduler: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting rollout-scheduler")

	// Отдельный планировщик работает только с общей базой postgres
	if cfg.Store.Driver != config.DriverPostgres {
		logger.Error("standalone scheduler requires the postgres store", "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	if cfg.MQ.URL == "" {
		logger.Error("standalone scheduler requires mq.url")
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Store.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// RabbitMQ: запросы на развёртывание уходят серверу через очередь
	conn, err := mq.NewConnection(cfg.MQ.URL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := mq.SetupTopology(ctx, conn); err != nil {
		logger.Error("failed to setup RabbitMQ topology", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(scheduler.Config{
		Store:        repo.NewPostgres(pool),
		Trigger:      scheduler.PublishTrigger(mq.NewPublisher(conn, logger)),
		TickInterval: cfg.Scheduler.TickInterval,
		Logger:       logger,
	})

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		addr = ":" + v
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http error", "error", err)
			cancel()
		}
	}()

	leaderLoop(ctx, pool, sched, cfg.Scheduler.TickInterval, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}

// leaderLoop выполняет тики, пока процесс держит advisory lock.
//
// Session-level lock принадлежит соединению, поэтому оно берётся из пула
// один раз и держится до выхода. При потере соединения лидерство
// считается потерянным и захватывается заново.
func leaderLoop(ctx context.Context, pool *pgxpool.Pool, sched *scheduler.Scheduler, interval time.Duration, logger *slog.Logger) {
	tk := time.NewTicker(interval)
	defer tk.Stop()

	var (
		lockConn *pgxpool.Conn
		hasLock  bool
	)
	release := func() {
		if lockConn == nil {
			return
		}
		if hasLock {
			_, _ = lockConn.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
		}
		lockConn.Release()
		lockConn = nil
		hasLock = false
	}
	defer release()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}

		if lockConn == nil {
			c, err := pool.Acquire(ctx)
			if err != nil {
				logger.Warn("failed to acquire lock connection", "error", err)
				continue
			}
			lockConn = c
		}

		// пытаемся стать лидером (или подтвердить, что соединение живо)
		if !hasLock {
			var ok bool
			if err := lockConn.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
				logger.Warn("advisory lock error", "error", err)
				release()
				continue
			}
			if ok {
				logger.Info("became scheduler leader")
			}
			hasLock = ok
		} else if err := lockConn.Ping(ctx); err != nil {
			logger.Warn("lost scheduler leadership", "error", err)
			lockConn.Release()
			lockConn = nil
			hasLock = false
			continue
		}

		if !hasLock {
			// не лидер — пропускаем тик
			continue
		}

		if err := sched.Tick(ctx); err != nil {
			logger.Error("scheduler tick failed", "error", err)
		}
	}
}
