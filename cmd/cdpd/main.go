// cdpd is the CDP engine daemon. It serves the HTTP API, consumes oracle
// prices from NATS JetStream, persists positions and burn audit records to
// Postgres, publishes burn events and exposes Prometheus metrics.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
	"github.com/Angleito/nyxusd-sub000/internal/config"
	"github.com/Angleito/nyxusd-sub000/internal/engine"
	"github.com/Angleito/nyxusd-sub000/internal/liquidation"
	"github.com/Angleito/nyxusd-sub000/internal/observability"
	"github.com/Angleito/nyxusd-sub000/internal/oracle"
	"github.com/Angleito/nyxusd-sub000/internal/persistence"
	"github.com/Angleito/nyxusd-sub000/internal/server"
	"github.com/Angleito/nyxusd-sub000/internal/yield"
)

const (
	auditChannelSize  = 1024
	auditBatchSize    = 64
	auditFlushTimeout = time.Second
	stateGaugePeriod  = 30 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// burnRecorder fans executed burns out to the audit worker and the event
// publisher. Audit rows go through the channel so the request path never
// waits on Postgres twice.
type burnRecorder struct {
	auditCh   chan<- persistence.BurnRow
	publisher *oracle.EventPublisher
}

func (r *burnRecorder) Record(ctx context.Context, results []engine.Result) {
	for _, row := range persistence.RowsFromResults(results) {
		r.auditCh <- row
	}
	if r.publisher != nil {
		for _, res := range results {
			r.publisher.PublishBurn(ctx, res)
		}
	}
}

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	godotenv.Load()

	log := observability.NewLogger("cdpd")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		log.Fatal().Err(err).Msg("ping postgres")
	}
	cancelPing()
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, log)
	if err := migrator.Up(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	store := persistence.NewCDPStore(db)
	auditWriter := persistence.NewBurnAuditWriter(db)

	// --- NATS ---
	nc, js, err := oracle.Connect(cfg.NATSURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect nats")
	}
	defer nc.Close()
	log.Info().Str("url", cfg.NATSURL).Msg("nats connected")

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := oracle.EnsureStreams(rootCtx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure streams")
	}

	priceBoard := oracle.NewPriceBoard(
		time.Duration(cfg.PriceMaxAgeSeconds)*time.Second, metrics, log)
	if err := priceBoard.Subscribe(rootCtx, js); err != nil {
		log.Fatal().Err(err).Msg("subscribe price feed")
	}
	defer priceBoard.Stop()

	publisher := oracle.NewEventPublisher(js, log)

	// --- Audit worker ---
	auditCh := make(chan persistence.BurnRow, auditChannelSize)
	auditWorker := persistence.NewAuditWorker(
		auditWriter, auditCh, auditBatchSize, auditFlushTimeout, metrics, log)

	errChan := make(chan error, 3)
	go func() {
		if err := auditWorker.Run(rootCtx); err != nil && err != context.Canceled {
			errChan <- err
		}
	}()

	// --- Yield scanner ---
	yieldClient := yield.NewClient(cfg.Yield.BaseURL, log)
	yieldFinder := yield.NewFinder(yieldClient, cfg.Yield.Chain, metrics, log)

	// --- HTTP API ---
	engineCtx, err := engineContextFromConfig(cfg.Engine)
	if err != nil {
		log.Fatal().Err(err).Msg("engine config")
	}
	liqParams, err := liquidationParamsFromConfig(cfg.Liquidation)
	if err != nil {
		log.Fatal().Err(err).Msg("liquidation config")
	}

	api := server.New(server.Deps{
		Store:     store,
		Prices:    priceBoard,
		Yields:    yieldFinder,
		Recorder:  &burnRecorder{auditCh: auditCh, publisher: publisher},
		EngineCtx: engineCtx,
		LiqParams: liqParams,
		Metrics:   metrics,
		Health:    healthChecker,
		Log:       log,
	})

	apiServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http api listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	go refreshStateGauges(rootCtx, store, metrics, log)

	healthChecker.SetReady(true)
	log.Info().Msg("cdpd ready")

	// --- Shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("fatal component error, shutting down")
	}

	healthChecker.SetReady(false)
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics shutdown")
	}
	close(auditCh)

	log.Info().Msg("cdpd stopped")
}

func engineContextFromConfig(cfg config.EngineConfig) (engine.Context, error) {
	maxBurn, err := cdp.NewAmountFromString(cfg.MaxBurn)
	if err != nil {
		return engine.Context{}, err
	}
	return engine.Context{
		MaxBurn:           maxBurn,
		AutoClose:         cfg.AutoClose,
		EmergencyShutdown: cfg.EmergencyShutdown,
	}, nil
}

func liquidationParamsFromConfig(cfg config.LiquidationConfig) (liquidation.Params, error) {
	params := liquidation.DefaultParams()

	if cfg.MinAmount != "" {
		min, err := cdp.NewAmountFromString(cfg.MinAmount)
		if err != nil {
			return liquidation.Params{}, err
		}
		params.MinAmount = min
	}
	if cfg.MaxAmount != "" {
		max, err := cdp.NewAmountFromString(cfg.MaxAmount)
		if err != nil {
			return liquidation.Params{}, err
		}
		params.MaxAmount = max
	}
	if cfg.MinLiquidatorBalance != "" {
		bal, err := cdp.NewAmountFromString(cfg.MinLiquidatorBalance)
		if err != nil {
			return liquidation.Params{}, err
		}
		params.MinLiquidatorBalance = bal
	}
	closeFactor, err := cdp.NewBasisPoints(cfg.CloseFactorBps)
	if err != nil {
		return liquidation.Params{}, err
	}
	params.CloseFactorBps = closeFactor
	params.CooldownMs = cfg.CooldownMs
	return params, nil
}

// refreshStateGauges periodically republishes the positions-by-state gauge.
func refreshStateGauges(ctx context.Context, store *persistence.CDPStore, metrics *observability.Metrics, log zerolog.Logger) {
	ticker := time.NewTicker(stateGaugePeriod)
	defer ticker.Stop()

	kinds := []cdp.StateKind{cdp.StateActive, cdp.StateLiquidating, cdp.StateLiquidated, cdp.StateClosed}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := store.CountByState(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("count positions by state")
				continue
			}
			for _, kind := range kinds {
				metrics.PositionsByState.WithLabelValues(kind.String()).Set(float64(counts[kind]))
			}
		}
	}
}
