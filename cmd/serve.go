// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/recordflow/config"
	"github.com/cardinalhq/recordflow/internal/alerting"
	"github.com/cardinalhq/recordflow/internal/delivery"
	"github.com/cardinalhq/recordflow/internal/fly"
	"github.com/cardinalhq/recordflow/internal/healthcheck"
	"github.com/cardinalhq/recordflow/internal/heartbeat"
	"github.com/cardinalhq/recordflow/internal/invalidrecords"
	"github.com/cardinalhq/recordflow/internal/metrics"
	"github.com/cardinalhq/recordflow/internal/pipeline"
	"github.com/cardinalhq/recordflow/internal/validation"
	"github.com/cardinalhq/recordflow/rfdb"
)

const memoryHistorySize = 1000

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll data sources and run the metrics and alert loops",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve()
		},
	}
	rootCmd.AddCommand(cmd)
}

// stores is the persistence selected at startup.
type stores struct {
	invalid invalidrecords.Repository
	history delivery.History
	ledger  pipeline.Ledger
	sinks   []metrics.Sink
	points  *rfdb.MetricPoints
	close   func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if !cfg.Database.Enabled {
		slog.Info("Database disabled, keeping state in memory")
		return &stores{
			invalid: invalidrecords.NewMemoryRepository(),
			history: delivery.NewMemoryHistory(memoryHistorySize),
			ledger:  pipeline.NewMemoryLedger(),
			close:   func() {},
		}, nil
	}

	pool, err := rfdb.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rfdb: %w", err)
	}
	store := rfdb.NewStore(pool)
	points := store.MetricPoints()
	return &stores{
		invalid: store.InvalidRecords(),
		history: store.OutputResults(),
		ledger:  store.ValidationResults(),
		sinks:   []metrics.Sink{points},
		points:  points,
		close:   store.Close,
	}, nil
}

func querierFor(url string, timeout time.Duration, fallback metrics.Querier) metrics.Querier {
	if url == "" {
		return fallback
	}
	return metrics.NewPrometheusQuerier(url, timeout)
}

func serve() error {
	ctx, doneFx, err := setupTelemetry("recordflow")
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	healthServer := healthcheck.NewServer(healthcheck.Config{Port: cfg.Health.Port})
	go func() {
		if err := healthServer.Start(ctx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()

	catalog, err := pipeline.LoadCatalog(cfg.Pipeline.CatalogFile)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	validator := validation.NewEngine()
	defer validator.Close()

	deliveries := delivery.NewEngine(
		delivery.WithHistory(st.history),
		delivery.WithConcurrency(cfg.Delivery.Concurrency),
	)
	defer func() {
		if err := deliveries.Close(); err != nil {
			slog.Warn("Failed to close delivery engine", slog.Any("error", err))
		}
	}()

	invalid := invalidrecords.NewService(st.invalid)
	runner := pipeline.NewRunner(catalog, validator, invalid, deliveries, st.ledger)
	poller := pipeline.NewPoller(runner, pipeline.WithPollTimeout(cfg.Pipeline.PollTimeout))

	var loops []*heartbeat.Heartbeater
	loops = append(loops, poller.Start(ctx)...)

	series := metrics.NewSeriesStore(cfg.Metrics.Retention)
	sinks := append([]metrics.Sink{series, metrics.OTelSink{}}, st.sinks...)
	recorder := metrics.NewRecorder(cfg.Metrics.QueueSize, slog.Default(), sinks...)
	go recorder.Run(ctx)

	var collectorOpts []metrics.CollectorOption
	var defs metrics.DefinitionStore
	if cfg.Metrics.DefinitionsFile != "" {
		loaded, err := metrics.LoadDefinitions(cfg.Metrics.DefinitionsFile)
		if err != nil {
			return err
		}
		defs = loaded
		collectorOpts = append(collectorOpts, metrics.WithDefinitions(loaded,
			querierFor(cfg.Metrics.SystemURL, cfg.Metrics.QueryTimeout, series),
			querierFor(cfg.Metrics.BusinessURL, cfg.Metrics.QueryTimeout, series)))
	}
	collector := metrics.NewCollector(metrics.CollectorConfig{
		Interval:     cfg.Metrics.Interval,
		InitialDelay: cfg.Metrics.InitialDelay,
		Timeout:      cfg.Metrics.Timeout,
	}, st.ledger, invalid, recorder, collectorOpts...)
	collector.Start(ctx)
	loops = append(loops, collector.Loop())

	if cfg.Alerts.RulesFile != "" {
		loop, err := startAlerts(ctx, cfg, series, defs)
		if err != nil {
			return err
		}
		loops = append(loops, loop)
	}

	if st.points != nil {
		prune := heartbeat.New(func(ctx context.Context) error {
			n, err := st.points.Prune(ctx, time.Now().Add(-cfg.Metrics.Retention))
			if err != nil {
				return err
			}
			slog.Debug("Pruned metric data points", slog.Int64("deleted", n))
			return nil
		}, time.Hour, slog.Default(), heartbeat.WithName("metric-prune"), heartbeat.WithTimeout(5*time.Minute))
		prune.Start(ctx)
		loops = append(loops, prune)
	}

	for _, l := range loops {
		healthServer.Register(l, 0)
	}

	healthServer.SetStatus(healthcheck.StatusHealthy)
	healthServer.SetReady(true)
	slog.Info("recordflow started",
		slog.Int("dataSources", len(catalog.Active())),
		slog.Int("loops", len(loops)))

	<-ctx.Done()
	slog.Info("Shutting down")
	healthServer.SetReady(false)
	return nil
}

func startAlerts(ctx context.Context, cfg *config.Config, series *metrics.SeriesStore, defs metrics.DefinitionStore) (*heartbeat.Heartbeater, error) {
	rules, err := alerting.LoadRules(cfg.Alerts.RulesFile)
	if err != nil {
		return nil, err
	}

	opts := []alerting.Option{alerting.WithBuffer(cfg.Alerts.Buffer)}
	if defs != nil {
		opts = append(opts, alerting.WithDefinitions(defs))
	}
	q := querierFor(cfg.Metrics.BusinessURL, cfg.Metrics.QueryTimeout, series)
	evaluator := alerting.NewEvaluator(q, opts...)

	notifiers := []alerting.Notifier{alerting.LogNotifier{Logger: slog.Default()}}
	if cfg.Kafka.Enabled {
		producer, err := fly.NewFactory(&cfg.Kafka).CreateProducer()
		if err != nil {
			return nil, fmt.Errorf("failed to create alert producer: %w", err)
		}
		go func() {
			<-ctx.Done()
			if err := producer.Close(); err != nil {
				slog.Warn("Failed to close alert producer", slog.Any("error", err))
			}
		}()
		notifiers = append(notifiers, alerting.KafkaNotifier{Producer: producer, Topic: cfg.Kafka.AlertsTopic})
	}
	go alerting.Dispatch(ctx, evaluator.Transitions(), slog.Default(), cfg.Alerts.Timeout, notifiers...)

	loop := evaluator.Loop(alerting.StaticRules(rules), cfg.Alerts.Interval, cfg.Alerts.Timeout)
	loop.Start(ctx)
	slog.Info("Alert evaluation started", slog.Int("rules", len(rules)))
	return loop, nil
}
