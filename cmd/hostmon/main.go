// hostmon is the host monitoring daemon: collectors and the kernel tracer
// feed the event bus, the stream processor builds time-series state, and the
// ML pipelines watch it for anomalies and trends. An HTTP API serves the
// resulting snapshots.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kartik-sc/os-el---system-monitoring-application/pkg/api"
	"github.com/kartik-sc/os-el---system-monitoring-application/pkg/collectors"
	"github.com/kartik-sc/os-el---system-monitoring-application/pkg/ingest"
	"github.com/kartik-sc/os-el---system-monitoring-application/pkg/ml"
	otelobs "github.com/kartik-sc/os-el---system-monitoring-application/pkg/observability/otel"
	"github.com/kartik-sc/os-el---system-monitoring-application/pkg/tracer"
	"github.com/kartik-sc/os-el---system-monitoring-application/shared/config"
	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	modelPath  string
	noAPI      bool
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "hostmon",
		Short:         "Host metrics monitoring with ensemble anomaly detection",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.modelPath, "model", "", "path to pre-trained model artifact")
	cmd.Flags().BoolVar(&opts.noAPI, "no-api", false, "disable the HTTP API")
	return cmd
}

func run(opts options) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.modelPath != "" {
		cfg.Model.Path = opts.modelPath
	}
	if opts.noAPI {
		cfg.API.Enabled = false
	}

	shutdownTracing := otelobs.InitTracer("hostmon")
	defer shutdownTracing(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := eventbus.NewBus(cfg.Bus.BufferSize, logger)
	processor := ingest.NewProcessor(bus, cfg.Processor, logger)
	runner := collectors.NewRunner(bus, cfg.Collectors, logger)
	kernelTracer := tracer.New(bus, cfg.Tracer, logger)

	detector := ml.NewStackedDetector(cfg.Anomaly.FitMinSamples, cfg.Model.Path, logger)
	anomalies := ml.NewAnomalyPipeline(bus, processor, detector, cfg.Anomaly, logger)
	trends := ml.NewTrendPipeline(processor, cfg.Trend, logger)

	var wg sync.WaitGroup
	launch := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	launch(func() { processor.Run(ctx) })
	launch(func() { runner.Run(ctx) })
	launch(func() { anomalies.Run(ctx) })
	launch(func() { trends.Run(ctx) })
	launch(func() {
		if err := kernelTracer.Run(ctx); err != nil {
			logger.Error("kernel tracer failed", zap.Error(err))
		}
	})

	if cfg.API.Enabled {
		server := api.NewServer(cfg.API, api.Deps{
			Processor: processor,
			Anomalies: anomalies,
			Trends:    trends,
			Bus:       bus,
		}, logger)
		launch(func() {
			if err := server.Run(ctx); err != nil {
				logger.Error("api server failed", zap.Error(err))
				stop()
			}
		})
	}

	logger.Info("hostmon started")
	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	return nil
}
