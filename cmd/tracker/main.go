package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/thecodeguy777/jlr-dashboard/internal/command"
	"github.com/thecodeguy777/jlr-dashboard/internal/config"
	"github.com/thecodeguy777/jlr-dashboard/internal/db"
	"github.com/thecodeguy777/jlr-dashboard/internal/engine"
	"github.com/thecodeguy777/jlr-dashboard/internal/server"
	"github.com/thecodeguy777/jlr-dashboard/internal/stream"
	"github.com/thecodeguy777/jlr-dashboard/internal/syncq"
	"github.com/thecodeguy777/jlr-dashboard/internal/worksession"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() (config.Config, error)
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	openQueueDB     func(string) (*sql.DB, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, *sql.DB, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		openQueueDB:     db.OpenQueueDB,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg, err := deps.loadConfig()
	if err != nil {
		log.Printf("config load failed: %v", err)
		return
	}

	// The control plane being down is not fatal: the engine starts
	// offline and the queue holds everything locally until it reconnects.
	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Printf("postgres connection failed: %v", err)
	}

	rdb := deps.connectRedis(cfg)

	qdb, err := deps.openQueueDB(cfg.QueueDBPath)
	if err != nil {
		log.Printf("queue db open failed: %v", err)
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, qdb, signals, nil); err != nil {
		log.Printf("tracker exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run wires the tracking engine together, starts the HTTP server, and
// waits for termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, qdb *sql.DB, signals <-chan os.Signal, listen ListenFunc) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var store *syncq.Store
	if qdb != nil {
		var err error
		store, err = syncq.NewStore(qdb)
		if err != nil {
			return err
		}
	}

	var remote syncq.RemoteStore
	if pg != nil {
		remote = syncq.NewRemote(pg)
	}

	queue := syncq.New(syncq.Config{
		DrainInterval:   cfg.Tracking.DrainInterval,
		DrainBatch:      cfg.Tracking.DrainBatch,
		MaxRetries:      cfg.Tracking.MaxRetries,
		Retention:       cfg.Tracking.Retention,
		DeliveryTimeout: cfg.Tracking.DeliveryTimeout,
	}, store, remote, logger)
	if pg == nil {
		queue.SetOnline(false)
	}
	queue.Start(runCtx)
	defer queue.Stop()

	hub := stream.NewHub(rdb)
	sessions := worksession.NewService(pg, queue, logger)
	monitor := worksession.NewMonitor(queue, nil, logger)

	mgr := engine.NewManager(cfg.Tracking, pg, queue, sessions, monitor, hub, logger)
	mgr.Start(runCtx)
	defer mgr.Stop(ctx)

	var listener *command.Listener
	if rdb != nil {
		listener = command.NewListener(rdb, command.NewDispatcher(mgr, queue, logger), logger)
		listener.Start(runCtx)
		defer listener.Stop()
	}

	srv := server.NewServer(cfg, mgr, hub)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if qdb != nil {
		_ = qdb.Close()
	}
	return nil
}
