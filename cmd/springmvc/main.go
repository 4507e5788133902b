// Command springmvc serves the demo provider on every configured transport.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/gotomicro/ekit/bean/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"net/http"
	"os"
	"os/signal"
	"svccall/bootstrap"
	"svccall/config"
	"svccall/example/springmvc"
	"svccall/message"
	"svccall/observability"
	promobs "svccall/observability/metrics/prometheus"
	"svccall/observability/opentelemetry"
	"svccall/provider"
	"syscall"
	"time"
)

var (
	cfgFile     string
	debug       bool
	metricsAddr string
	instanceID  string
)

var defaultListen = map[message.TransportKind]string{
	message.TransportRest:    "127.0.0.1:8080",
	message.TransportH2C:     "127.0.0.1:8081",
	message.TransportHighway: "127.0.0.1:7070",
	message.TransportGRPC:    "127.0.0.1:9090",
}

var rootCmd = &cobra.Command{
	Use:          "springmvc",
	Short:        "Serve the springmvc demo provider",
	SilenceUsage: true,
	RunE:         run,
}

func main() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "microservice.yaml (default: built-in defaults)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "development logging at debug level")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9100", "serves /metrics and /metrics.json, empty to disable")
	rootCmd.Flags().StringVar(&instanceID, "instance-id", "", "registry instance id (default: outbound ip)")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	logger, err := zap.NewProduction()
	if debug {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Default()
	if cfgFile != "" {
		if cfg, err = config.Load(cfgFile); err != nil {
			return err
		}
	}
	b := bootstrap.NewBuilder(cfg, bootstrap.WithLogger(logger))

	opts := []option.Option[provider.Mux]{provider.MuxWithLogger(logger)}
	if l := b.Limiter(0, cfg.Service.Limits); l != nil {
		opts = append(opts, provider.MuxWithLimiter(l))
	}
	m, err := springmvc.NewMux(opts...)
	if err != nil {
		return err
	}

	listen := defaultListen
	if len(cfg.Service.Listen) > 0 {
		listen = make(map[message.TransportKind]string, len(cfg.Service.Listen))
		for k, addr := range cfg.Service.Listen {
			listen[message.TransportKind(k)] = addr
		}
	}
	if instanceID == "" {
		instanceID = observability.GetOutboundIP()
	}
	h := opentelemetry.NewServerHandler(m, instanceID, nil, nil)
	servers, err := provider.Serve(springmvc.ServiceName, h, listen, logger)
	if err != nil {
		return err
	}
	defer func() { _ = servers.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Registry.Type == "etcd" {
		reg, err := b.Registry()
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()
		if err = bootstrap.Register(ctx, reg, servers.Instance(instanceID), logger); err != nil {
			return err
		}
	}

	if metricsAddr != "" {
		srv, err := serveMetrics(m, logger)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	logger.Info("springmvc provider started", zap.Strings("operations", m.Operations()))
	<-ctx.Done()
	logger.Info("springmvc provider stopping")
	return nil
}

func serveMetrics(m *provider.Mux, logger *zap.Logger) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(promobs.NewCollector(m.Metrics(), "svccall", "producer")); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/metrics.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Metrics().Snapshot())
	})
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return srv, nil
}
