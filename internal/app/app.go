package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chargehub/internal/clients"
	"chargehub/internal/config"
	"chargehub/internal/dashboard"
	"chargehub/internal/events"
	"chargehub/internal/handlers"
	"chargehub/internal/hub"
	"chargehub/internal/metrics"
	"chargehub/internal/ocpp"
	"chargehub/internal/ocpp/protocol"
	"chargehub/internal/redisstore"
	"chargehub/internal/registry"
	"chargehub/internal/repository"
	"chargehub/internal/session"
	"chargehub/internal/settlement"
	"chargehub/internal/ws"
	libdb "chargehub/libs/db"
	libredis "chargehub/libs/redis"
)

const heartbeatIntervalSeconds = 30

// App wires all dependencies of the charger session hub.
type App struct {
	httpServer  *http.Server
	db          *sql.DB
	redis       *goredis.Client
	wsManager   *ws.Manager
	registry    *registry.Registry
	coordinator *settlement.Coordinator
	logger      *zap.Logger
}

// New builds the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	billingClient := clients.NewBillingClient(cfg.Services.BillingURL, logger)
	notifyClient := clients.NewNotifyClient(cfg.Services.NotifyURL, logger)

	coordinator := settlement.NewCoordinator(billingClient, notifyClient, cfg.Billing.PriceMinorPerKWh, settlement.RetryPolicy{
		Base:        cfg.SettlementRetryBase(),
		Cap:         cfg.SettlementRetryCap(),
		MaxAttempts: cfg.Settlement.MaxAttempts,
	}, m, logger)

	// The hub, registry and session manager reference each other through the
	// event sink and the snapshot source; the closure is evaluated per
	// subscribe, after all three exist.
	var reg *registry.Registry
	var sessions *session.Manager
	broadcast := hub.New(cfg.Dashboard.SubscriberBuffer, func() events.Event {
		return statusSnapshot(reg, sessions)
	}, m, logger)

	reg = registry.New(cfg.HeartbeatWindow(), cfg.SweepInterval(), broadcast, m, logger)
	sessions = session.NewManager(billingClient, coordinator, broadcast, cfg.Billing.MinBalanceMinor, logger)
	reg.SetDisconnectHandler(func(chargerID string) {
		sessions.FaultCharger(context.Background(), chargerID)
	})

	var sqlDB *sql.DB
	var chargerRepo *repository.ChargerRepository
	if cfg.Database.DSN != "" {
		var err error
		sqlDB, err = libdb.NewPostgresDB(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		chargerRepo = repository.NewChargerRepository(sqlDB)
		sessions.SetRepository(repository.NewTransactionRepository(sqlDB))
	}

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		var err error
		redisClient, err = libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			if sqlDB != nil {
				sqlDB.Close()
			}
			return nil, err
		}
		sessions.SetActiveCache(redisstore.NewStore(redisClient, 24*time.Hour))
	}

	wsManager := ws.NewManager(cfg.PingInterval())
	dispatcher := ocpp.NewDispatcher(wsManager, cfg.WriteTimeout(), logger)

	router := ocpp.NewRouter()
	router.Register(protocol.ActionBootNotification, handlers.NewBootNotificationHandler(reg, chargerRepo, heartbeatIntervalSeconds, logger))
	router.Register(protocol.ActionHeartbeat, handlers.NewHeartbeatHandler(reg))
	router.Register(protocol.ActionStatusNotification, handlers.NewStatusNotificationHandler(reg, chargerRepo, logger))
	router.Register(protocol.ActionStartTransaction, handlers.NewStartTransactionHandler(sessions, reg, logger))
	router.Register(protocol.ActionStopTransaction, handlers.NewStopTransactionHandler(sessions, reg, logger))
	router.Register(protocol.ActionMeterValues, handlers.NewMeterValuesHandler(sessions))

	processor := ocpp.NewProcessor(ocpp.NewParser(), router, dispatcher, logger)

	wsServer := ws.NewServer(wsManager, processor, cfg.WriteTimeout(), logger,
		func(chargerID string) {
			reg.Connect(chargerID)
			if chargerRepo != nil {
				_ = chargerRepo.SetConnected(context.Background(), chargerID, true)
			}
		},
		func(chargerID string) {
			reg.Disconnect(chargerID)
			if chargerRepo != nil {
				_ = chargerRepo.SetConnected(context.Background(), chargerID, false)
			}
		})

	dashboardServer := dashboard.NewServer(broadcast, cfg.Dashboard.JWTSecret, cfg.WriteTimeout(), logger)

	operator := &operatorAPI{
		registry:    reg,
		sessions:    sessions,
		dispatcher:  dispatcher,
		coordinator: coordinator,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ocpp/ws", wsServer.HandleWS)
	mux.HandleFunc("/dashboard/ws", dashboardServer.HandleWS)
	mux.HandleFunc("/api/chargers", operator.handleChargers)
	mux.HandleFunc("/api/settlements/pending", operator.handlePendingSettlements)
	mux.HandleFunc("/api/commands/remote-start", operator.handleRemoteStart)
	mux.HandleFunc("/api/commands/remote-stop", operator.handleRemoteStop)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		httpServer:  httpServer,
		db:          sqlDB,
		redis:       redisClient,
		wsManager:   wsManager,
		registry:    reg,
		coordinator: coordinator,
		logger:      logger,
	}, nil
}

// statusSnapshot builds the full-state event new subscribers receive first.
func statusSnapshot(reg *registry.Registry, sessions *session.Manager) events.Event {
	chargers, online := reg.Snapshot()
	payload := events.StatusPayload{
		OnlineChargers: online,
		Chargers:       make([]events.ChargerStatus, 0, len(chargers)),
		Transactions:   sessions.Active(),
	}
	for _, c := range chargers {
		payload.Chargers = append(payload.Chargers, events.ChargerStatus{
			ChargerID: c.ID,
			Connected: c.Connected,
			Status:    c.Status,
		})
	}
	return events.Event{Type: events.TypeStatus, Data: payload}
}

// Run starts the liveness sweeper, the ws ping loop and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go a.registry.Start(ctx)
	go a.wsManager.Start(ctx)

	go func() {
		a.logger.Info("starting hub http server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
