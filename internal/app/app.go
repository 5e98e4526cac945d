package app

import (
	"context"
	"net"
	"net/http"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/stock-reservation/internal/adapter/eventbus"
	"github.com/rl1809/stock-reservation/internal/adapter/handler"
	"github.com/rl1809/stock-reservation/internal/adapter/messaging"
	"github.com/rl1809/stock-reservation/internal/adapter/metrics"
	"github.com/rl1809/stock-reservation/internal/adapter/storage"
	"github.com/rl1809/stock-reservation/internal/config"
	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/core/service"
	"github.com/rl1809/stock-reservation/internal/port"
)

const (
	DemoSKU      = "9090"
	DemoName     = "Demo Product"
	DemoQuantity = 50
)

// Adapters are the storage collaborators the core runs against.
type Adapters struct {
	Stock        port.StockRepository
	Reservations port.ReservationRepository
	UnitOfWork   port.UnitOfWork
	Views        port.ViewStore
}

// App owns the event bus and every component wired to it.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger

	Bus          *eventbus.Bus
	Ledger       *service.Ledger
	Reservations *service.ReservationService
	Projector    *service.Projector

	stock    port.StockRepository
	recorder *metrics.Recorder
	closers  []func() error
}

// New connects the configured backends and builds the App on top of them.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	var (
		adapters Adapters
		closers  []func() error
	)

	switch cfg.Storage {
	case config.StorageMySQL:
		db, err := sqlx.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, errors.Wrap(err, "open mysql")
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "ping mysql")
		}
		logger.Info("connected to mysql")

		mysqlAdapter := storage.NewMySQLAdapter(db)
		adapters.Stock = mysqlAdapter
		adapters.Reservations = mysqlAdapter
		adapters.UnitOfWork = mysqlAdapter
		closers = append(closers, db.Close)
	default:
		memory := storage.NewMemoryAdapter()
		adapters.Stock = memory
		adapters.Reservations = memory
		adapters.UnitOfWork = memory
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
		if err := rdb.Ping(ctx).Err(); err != nil {
			closeAll(closers, logger)
			return nil, errors.Wrap(err, "ping redis")
		}
		logger.Info("connected to redis")
		adapters.Views = storage.NewRedisViewStore(rdb)
		closers = append(closers, rdb.Close)
	} else {
		adapters.Views = storage.NewMemoryViewStore()
	}

	a, err := NewWithAdapters(ctx, cfg, logger, adapters)
	if err != nil {
		closeAll(closers, logger)
		return nil, err
	}
	a.closers = append(a.closers, closers...)
	return a, nil
}

// NewWithAdapters wires the core: subscribers first, then the demo seed and
// the read-model bootstrap, so the projector never serves an empty model.
func NewWithAdapters(ctx context.Context, cfg *config.Config, logger *logrus.Logger, adapters Adapters) (*App, error) {
	if adapters.UnitOfWork == nil {
		return nil, errors.New("adapters: unit of work is required")
	}
	recorder, err := metrics.NewRecorder()
	if err != nil {
		return nil, errors.Wrap(err, "init metrics")
	}

	clock := port.SystemClock{}
	bus := eventbus.New(eventbus.RetryPolicy{
		InitialInterval: cfg.EventInitialInterval,
		Multiplier:      cfg.EventMultiplier,
		MaxInterval:     cfg.EventMaxInterval,
		MaxAttempts:     cfg.EventMaxAttempts,
	}, cfg.EventQueueSize, logger.WithField("component", "eventbus"))

	ledger := service.NewLedger(adapters.Stock, bus, recorder, clock, cfg.WriteAttempts, logger.WithField("component", "ledger"))
	reservations := service.NewReservationService(ledger, adapters.Reservations, adapters.UnitOfWork, bus, clock, cfg.ReservationTTL,
		logger.WithField("component", "reservations"))
	projector := service.NewProjector(adapters.Views, clock, logger.WithField("component", "projector"))

	a := &App{
		cfg:          cfg,
		logger:       logger,
		Bus:          bus,
		Ledger:       ledger,
		Reservations: reservations,
		Projector:    projector,
		stock:        adapters.Stock,
		recorder:     recorder,
	}

	bus.Subscribe("event-log", eventbus.LogHandler(logger.WithField("component", "event-log")))
	bus.Subscribe("projector", eventbus.HandlerFunc(projector.Handle))
	if len(cfg.KafkaBrokers) > 0 {
		relay := messaging.NewKafkaRelay(cfg.KafkaBrokers, cfg.KafkaTopic)
		bus.Subscribe("kafka-relay", relay)
		a.closers = append(a.closers, relay.Close)
		logger.WithField("topic", cfg.KafkaTopic).Info("kafka relay enabled")
	}

	if cfg.SeedDemo {
		if err := a.seedDemo(ctx); err != nil {
			bus.Close(ctx)
			return nil, err
		}
	}

	items, err := ledger.List(ctx)
	if err != nil {
		bus.Close(ctx)
		return nil, errors.Wrap(err, "snapshot ledger")
	}
	if err := projector.Bootstrap(ctx, items); err != nil {
		bus.Close(ctx)
		return nil, errors.Wrap(err, "bootstrap read model")
	}

	return a, nil
}

func (a *App) seedDemo(ctx context.Context) error {
	existing, err := a.stock.GetStock(ctx, DemoSKU)
	if err != nil {
		return errors.Wrap(err, "check demo item")
	}
	if existing != nil {
		return nil
	}

	err = a.stock.CreateStock(ctx, domain.StockItem{
		SKU:       DemoSKU,
		Name:      DemoName,
		Quantity:  DemoQuantity,
		UpdatedAt: time.Now(),
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return errors.Wrap(err, "seed demo item")
	}
	a.logger.WithFields(logrus.Fields{"sku": DemoSKU, "quantity": DemoQuantity}).Info("inventory initialized with demo product")
	return nil
}

// Run serves HTTP and gRPC until ctx is cancelled, then shuts both down.
func (a *App) Run(ctx context.Context) error {
	credentials := handler.Credentials{User: a.cfg.AuthUser, Password: a.cfg.AuthPassword}

	httpHandler := handler.NewHTTPHandler(a.Reservations, a.Ledger, a.Projector, a.logger.WithField("component", "http"))
	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           httpHandler.Router(credentials),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.BasicAuthInterceptor(credentials)))
	handler.RegisterInventoryServer(grpcServer,
		handler.NewGRPCHandler(a.Reservations, a.Ledger, a.Projector, a.logger.WithField("component", "grpc")))

	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return errors.Wrap(err, "listen grpc")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Infof("HTTP server listening on %s", a.cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Infof("gRPC server listening on %s", a.cfg.GRPCAddr)
		return errors.Wrap(grpcServer.Serve(lis), "grpc server")
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("HTTP server shutdown")
		}
		a.logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		a.logger.Info("gRPC server stopped")
		return nil
	})

	return g.Wait()
}

// Close drains in-flight event deliveries, then releases connections.
func (a *App) Close(ctx context.Context) error {
	err := a.Bus.Close(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("event bus did not drain in time")
	}
	for _, stat := range a.Bus.Stats() {
		a.logger.WithFields(logrus.Fields{
			"subscriber": stat.Name,
			"delivered":  stat.Delivered,
			"failed":     stat.Failed,
		}).Info("subscriber delivery totals")
	}
	a.logUpdateTotals(ctx)
	closeAll(a.closers, a.logger)
	a.logger.Info("connections closed")
	return err
}

func (a *App) logUpdateTotals(ctx context.Context) {
	totals, err := a.recorder.UpdateTotals(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("read stock update totals")
	}
	for _, total := range totals {
		a.logger.WithFields(logrus.Fields{
			"op":    total.Op,
			"sku":   total.SKU,
			"count": total.Count,
		}).Info("stock update totals")
	}
	if err := a.recorder.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("metrics shutdown")
	}
}

func closeAll(closers []func() error, logger logrus.FieldLogger) {
	for _, c := range closers {
		if err := c(); err != nil {
			logger.WithError(err).Warn("close failed")
		}
	}
}
