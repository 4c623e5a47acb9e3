package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/shopsphere/internal/adapter/handler"
	"github.com/rl1809/shopsphere/internal/adapter/storage"
	"github.com/rl1809/shopsphere/internal/config"
	"github.com/rl1809/shopsphere/internal/core/service"
	"github.com/rl1809/shopsphere/internal/port"
)

type stores struct {
	products     port.ProductStore
	reservations port.ReservationStore
	orders       port.OrderStore
	carts        port.CartStore
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st stores
	if cfg.MySQLDSN != "" {
		db, err := sqlx.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.WithError(err).Fatal("failed to open mysql")
		}
		defer db.Close()
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.WithError(err).Fatal("failed to ping mysql")
		}
		if err := storage.Migrate(db); err != nil {
			log.WithError(err).Fatal("failed to run migrations")
		}
		log.Info("connected to mysql")

		sqlStore := storage.NewMySQLStore(db)
		st = stores{products: sqlStore, reservations: sqlStore, orders: sqlStore, carts: sqlStore}
	} else {
		log.Warn("no mysql dsn configured, using in-memory store")
		mem := storage.NewMemoryStore()
		st = stores{products: mem, reservations: mem, orders: mem, carts: mem}
	}

	var stockCache port.StockCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("failed to connect redis")
		}
		defer rdb.Close()
		stockCache = storage.NewRedisCache(rdb)
		log.Info("connected to redis")
	}

	reservations := service.NewReservationManager(st.products, st.reservations, cfg.ReservationTTL, log)
	checkout := service.NewCheckoutCoordinator(st.orders, st.carts, st.products, reservations, log)
	carts := service.NewCartService(st.carts, st.products)
	catalog := service.NewCatalogService(st.products, stockCache)

	sweeper := service.NewExpirySweeper(reservations, checkout, cfg.SweepInterval, log)
	sweeper.Start()
	log.WithField("interval", cfg.SweepInterval.String()).Info("expiry sweeper started")

	mux := http.NewServeMux()
	handler.NewHTTPHandler(reservations, checkout, carts, catalog).Register(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info("HTTP server stopped")

	sweeper.Stop()
	log.Info("sweeper stopped")
}
