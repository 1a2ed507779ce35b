// Command ledgerd runs the publish relay: it sweeps committed events past the
// persisted cursor and re-publishes them to JetStream, closing the gap left
// by a crash between append and publish. It also serves Prometheus metrics.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	natsadapter "github.com/ledgerline/ledgerline/adapters/nats"
	"github.com/ledgerline/ledgerline/adapters/pg"
	promadapter "github.com/ledgerline/ledgerline/adapters/prometheus"
	"github.com/ledgerline/ledgerline/core/es"
	"github.com/ledgerline/ledgerline/internal/config"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("ledgerd failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Parse()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := promadapter.NewESMetrics(reg)

	db, err := pg.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	store := pg.NewEventStore(db, pg.WithLog(log), pg.WithMetrics(metrics))
	cursor := pg.NewCursorStore(db)

	publisher, err := natsadapter.NewPublisher(natsadapter.PublisherConfig{
		Connect:       natsadapter.ConnectURL(cfg.NatsURL),
		Log:           log,
		SubjectPrefix: cfg.SubjectPrefix,
		StreamName:    cfg.StreamName,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}
	defer publisher.Close()

	relay := es.NewRelay(
		cfg.RelayName,
		store,
		publisher,
		cursor,
		es.WithRelayInterval(cfg.RelayInterval),
		es.WithRelayBatchSize(cfg.RelayBatchSize),
		es.WithRelaySafetyLag(cfg.RelaySafetyLag),
		es.WithLog(log),
		es.WithMetrics(metrics),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return relay.Run(ctx)
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		g.Go(func() error {
			log.Info("serving metrics", slog.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("ledgerd started", slog.String("stream", cfg.StreamName))

	return g.Wait()
}
