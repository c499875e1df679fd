package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/settlement"
	transport "github.com/vladislavdragonenkov/checkout/internal/transport/http"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// Run собирает сервис по конфигурации и блокируется до отмены контекста
// или фатальной ошибки HTTP-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	returns := returnURLs(cfg.PublicURL)

	initiatorOpts := []checkout.Option{checkout.WithMetrics(deps.Metrics)}
	reconcilerOpts := []settlement.Option{
		settlement.WithMetrics(deps.Metrics),
		settlement.WithAbandonAfter(cfg.AbandonAfter),
	}
	if deps.Publisher != nil {
		initiatorOpts = append(initiatorOpts, checkout.WithPublisher(deps.Publisher))
		reconcilerOpts = append(reconcilerOpts, settlement.WithPublisher(deps.Publisher))
	}

	initiator := checkout.NewInitiator(
		deps.Orders, deps.Processor, returns, cfg.Currency,
		logger.WithField("layer", "checkout"), initiatorOpts...,
	)
	reconciler := settlement.NewReconciler(
		deps.Orders, deps.DeadLetters, deps.Processor,
		logger.WithField("layer", "settlement"), reconcilerOpts...,
	)

	sweeper := settlement.NewSweeper(
		deps.Orders, reconciler,
		settlement.WithSweeperLogger(logger.WithField("layer", "sweeper")),
		settlement.WithSweepInterval(cfg.SweepInterval),
		settlement.WithStaleAfter(cfg.SweepStale),
		settlement.WithSweepBatchSize(cfg.SweepBatchSize),
	)
	go sweeper.Run(ctx)

	handler := transport.NewHandler(
		initiator, reconciler, deps.Orders, deps.DeadLetters,
		cfg.BuyerURL, logger.WithField("layer", "http"),
	)

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.UsesPostgres() {
		healthHandler.Register("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.PingStorage(pingCtx)
		})
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(srv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// returnURLs строит адреса возврата покупателя на базе публичного адреса сервиса.
func returnURLs(publicURL string) domain.ReturnURLs {
	base := strings.TrimRight(publicURL, "/")
	return domain.ReturnURLs{
		Success: base + "/checkout/success",
		Failure: base + "/checkout/failure",
		Pending: base + "/checkout/pending",
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
