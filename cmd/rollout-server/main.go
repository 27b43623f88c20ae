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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Rollout/internal/api"
	"github.com/shaiso/Rollout/internal/backend"
	"github.com/shaiso/Rollout/internal/config"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/executor"
	"github.com/shaiso/Rollout/internal/inventory"
	"github.com/shaiso/Rollout/internal/mq"
	"github.com/shaiso/Rollout/internal/orchestrator"
	"github.com/shaiso/Rollout/internal/repo"
	"github.com/shaiso/Rollout/internal/repo/sqlite"
	"github.com/shaiso/Rollout/internal/scheduler"
	"github.com/shaiso/Rollout/internal/secrets"
	"github.com/shaiso/Rollout/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Конфигурация: файл из ROLLOUT_CONFIG плюс переменные ROLLOUT_*
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "rollout-server: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting rollout-server", "store", cfg.Store.Driver)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к хранилищу
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("store opened", "driver", cfg.Store.Driver)

	// Справочник хостов
	inv, err := inventory.Load(cfg.Inventory.Path, cfg.Inventory.DBPath)
	if err != nil {
		logger.Error("failed to load inventory", "error", err)
		os.Exit(1)
	}
	logger.Info("inventory loaded",
		"vms", len(inv.VMs()),
		"db_connections", len(inv.DBConnections()),
	)

	resolver, err := secrets.New(secrets.Config{
		VaultAddress: cfg.Vault.Address,
		VaultToken:   cfg.Vault.Token,
		VaultMount:   cfg.Vault.Mount,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to init secrets", "error", err)
		os.Exit(1)
	}

	// Транспорт к хостам и runner'ы шагов
	remote, err := backend.NewSSH(backend.SSHConfig{
		User:                  cfg.SSH.User,
		KeyPath:               cfg.SSH.KeyPath,
		KnownHostsPath:        cfg.SSH.KnownHosts,
		InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
		Port:                  cfg.SSH.Port,
		DialTimeout:           cfg.SSH.DialTimeout,
		Logger:                logger,
	})
	if err != nil {
		logger.Error("failed to init ssh", "error", err)
		os.Exit(1)
	}

	registry := executor.NewRegistry()
	backend.Register(registry, backend.Config{
		Remote:        remote,
		Inventory:     inv,
		Secrets:       resolver,
		FilesRoot:     cfg.Files.Root,
		AnsibleBinary: cfg.Ansible.Binary,
		HelmBinary:    cfg.Helm.Binary,
		Logger:        logger,
	})

	exec := executor.New(executor.Config{
		Registry:       registry,
		DefaultTimeout: cfg.Run.StepTimeout,
		Logger:         logger,
	})

	// RabbitMQ опционален: без него сервер работает, но не публикует события
	orchCfg := orchestrator.Config{
		Executor:  exec,
		Store:     store,
		Templates: store,
		MaxFanout: cfg.Run.MaxFanout,
		Retention: cfg.Run.Retention,
		Logger:    logger,
	}

	if cfg.MQ.URL != "" {
		conn, err := connectMQ(ctx, cfg.MQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ unavailable, continuing without events", "error", err)
		} else {
			defer conn.Close()
			orchCfg.Conn = conn
			orchCfg.Publisher = mq.NewPublisher(conn, logger)
		}
	}

	orch := orchestrator.New(orchCfg)
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// Встроенный планировщик для установки с одним процессом
	if cfg.Scheduler.InProcess {
		sched := scheduler.New(scheduler.Config{
			Store: store,
			Trigger: scheduler.TriggerFunc(func(ctx context.Context, s *domain.Schedule) (uuid.UUID, error) {
				run, err := orch.SubmitTemplate(ctx, s.TemplateName, orchestrator.SubmitOptions{
					InitiatedBy: "schedule:" + s.Name,
				})
				if err != nil {
					return uuid.Nil, err
				}
				return run.ID, nil
			}),
			TickInterval: cfg.Scheduler.TickInterval,
			Logger:       logger,
		})
		go sched.Run(ctx)
		logger.Info("in-process scheduler started", "tick", cfg.Scheduler.TickInterval)
	}

	handler := api.NewHandler(api.Config{
		Deployments: orch,
		Templates:   store,
		Schedules:   store,
		Inventory:   inv,
		FilesRoot:   cfg.Files.Root,
		Logger:      logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", promhttp.Handler())

	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд.
	// SSE-потоки держат соединения, поэтому сначала останавливаем run.
	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}

// openStore открывает хранилище по драйверу из конфигурации.
func openStore(ctx context.Context, cfg config.StoreConfig) (repo.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := repo.NewPool(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return repo.NewPostgres(pool), nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// connectMQ подключается к RabbitMQ и объявляет топологию.
func connectMQ(ctx context.Context, url string, logger *slog.Logger) (*mq.Connection, error) {
	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		return nil, err
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
