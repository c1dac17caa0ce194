// internal/bot/runner.go
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-trader/internal/alerts"
	"github.com/rovshanmuradov/solana-trader/internal/balance"
	"github.com/rovshanmuradov/solana-trader/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-trader/internal/config"
	"github.com/rovshanmuradov/solana-trader/internal/dex/jupiter"
	"github.com/rovshanmuradov/solana-trader/internal/events"
	"github.com/rovshanmuradov/solana-trader/internal/export"
	"github.com/rovshanmuradov/solana-trader/internal/httpapi"
	"github.com/rovshanmuradov/solana-trader/internal/ledger"
	"github.com/rovshanmuradov/solana-trader/internal/logger"
	"github.com/rovshanmuradov/solana-trader/internal/pipeline"
	"github.com/rovshanmuradov/solana-trader/internal/storage"
	"github.com/rovshanmuradov/solana-trader/internal/storage/memory"
	"github.com/rovshanmuradov/solana-trader/internal/storage/postgres"
	"github.com/rovshanmuradov/solana-trader/internal/storage/sqlite"
	"github.com/rovshanmuradov/solana-trader/internal/wallet"
)

const eventBufferSize = 256

// Runner собирает все компоненты из конфигурации и управляет их жизненным
// циклом. CLI-команды используют Service и Alerts напрямую, а `run`
// запускает планировщик алертов и HTTP API.
type Runner struct {
	Service  *TradingService
	Alerts   *alerts.Evaluator
	Store    storage.Storage
	Exporter *export.Exporter

	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	bus       *events.Bus
	scheduler *alerts.Scheduler
	shutdown  *ShutdownHandler
}

// OpenStorage выбирает хранилище по storage.driver.
func OpenStorage(cfg config.StorageConfig, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := postgres.NewStorage(cfg.PostgresURL, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewRunner: принимает cfg и logger. При ошибке уже открытые ресурсы
// закрываются.
func NewRunner(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *Runner, err error) {
	r := &Runner{
		cfg:      cfg,
		logger:   log.Named("runner"),
		registry: prometheus.NewRegistry(),
		shutdown: NewShutdownHandler(log, DefaultShutdownTimeout),
	}
	defer func() {
		if err != nil {
			_ = r.shutdown.Shutdown(context.WithoutCancel(ctx))
		}
	}()
	r.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Журнал закрывается после шины: сначала доставка, потом файл.
	var journal *logger.TradeJournal
	if cfg.Log.JournalFile != "" {
		journal, err = logger.NewTradeJournal(cfg.Log.JournalFile, 5*time.Second, log)
		if err != nil {
			return nil, fmt.Errorf("open trade journal: %w", err)
		}
		r.shutdown.Add("trade_journal", journal)
	}

	r.bus = events.NewBus(log, eventBufferSize)
	if journal != nil {
		r.bus.Subscribe(events.TradeSettled, journal)
	}
	r.shutdown.AddFunc("event_bus", func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.bus.Shutdown(sctx)
	})

	store, err := OpenStorage(cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	r.Store = store
	r.shutdown.Add("storage", store)
	if err := store.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("migrate storage: %w", err)
	}

	client, err := solbc.NewClient(cfg.RPCList, log)
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}
	r.shutdown.Add("rpc", client)

	walletOpts := wallet.Options{
		PollInitial: time.Duration(cfg.Confirm.InitialIntervalMs) * time.Millisecond,
		PollMax:     time.Duration(cfg.Confirm.MaxIntervalMs) * time.Millisecond,
	}
	keystore, err := wallet.LoadKeystore(cfg.WalletsFile, client, log, walletOpts)
	if err != nil {
		return nil, fmt.Errorf("load wallets: %w", err)
	}

	jup := jupiter.NewClient(jupiter.Config{
		TokenURL: cfg.TokenAPIURL,
		PriceURL: cfg.PriceAPIURL,
		SwapURL:  cfg.SwapAPIURL,
	}, log)

	tracker := balance.NewTracker(balance.DefaultHistorySize, log)
	pipe := pipeline.New(store, jup, tracker, log,
		pipeline.WithPublisher(r.bus),
		pipeline.WithMetrics(pipeline.NewMetrics(r.registry)))

	r.Service = NewTradingService(&TradingServiceConfig{
		Pipeline:            pipe,
		Ledger:              ledger.New(store, log),
		Transactions:        store,
		Quotes:              jup,
		Signers:             KeystoreLookup(keystore),
		Tracker:             tracker,
		Publisher:           r.bus,
		Logger:              log,
		SlippageBps:         cfg.SlippageBps,
		PriorityFeeLamports: cfg.PriorityFeeLamports,
	})

	backend, err := r.alertBackend()
	if err != nil {
		return nil, err
	}
	r.Alerts = alerts.NewEvaluator(jup, backend, log,
		alerts.WithConcurrency(cfg.Alerts.FetchConcurrency),
		alerts.WithMetrics(alerts.NewMetrics(r.registry)))
	r.Alerts.Load(ctx)
	r.scheduler = alerts.NewScheduler(r.Alerts, cfg.Alerts.Interval(), r.bus, log)

	r.bus.SubscribeFunc(events.AlertTriggered, r.logAlert)
	r.Exporter = export.NewExporter(log.Named("export"))

	r.logger.Info("Runner initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("alerts_backend", cfg.Alerts.Backend),
		zap.Strings("owners", keystore.Owners()))
	return r, nil
}

func (r *Runner) alertBackend() (alerts.Snapshotter, error) {
	if r.cfg.Alerts.Backend != "redis" {
		return alerts.NewFileSnapshot(r.cfg.Alerts.File), nil
	}
	opts, err := redis.ParseURL(r.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis_url: %w", err)
	}
	rdb := redis.NewClient(opts)
	r.shutdown.Add("redis", rdb)
	return alerts.NewRedisSnapshot(rdb, alerts.DefaultRedisKey), nil
}

func (r *Runner) logAlert(_ context.Context, e events.Event) error {
	ev, ok := e.(events.AlertTriggeredEvent)
	if !ok {
		return nil
	}
	logger.WithOwner(r.logger, ev.Owner).Info("Price alert triggered",
		zap.Int("index", ev.Index),
		zap.String("alert", ev.Alert.Name),
		zap.String("token", ev.Alert.TokenAddress),
		zap.String("direction", string(ev.Alert.Direction)),
		zap.Float64("target", ev.Alert.TargetPrice),
		zap.Float64("price", ev.Alert.CurrentPrice))
	return nil
}

// Run запускает планировщик алертов и HTTP API и блокируется до отмены ctx
// или ошибки одного из них.
func (r *Runner) Run(ctx context.Context) error {
	server := httpapi.NewServer(r.cfg.HTTP.Listen, r.Service, r.Alerts, r.registry, r.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.scheduler.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	err := g.Wait()
	if ferr := r.Alerts.Flush(context.WithoutCancel(ctx)); ferr != nil {
		r.logger.Error("Failed to persist alerts on exit", zap.Error(ferr))
	}
	return err
}

// Close останавливает все компоненты в обратном порядке.
func (r *Runner) Close(ctx context.Context) error {
	r.logger.Info("Bot shutting down gracefully")
	return r.shutdown.Shutdown(ctx)
}
