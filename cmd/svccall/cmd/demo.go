package cmd

import (
	"context"
	"errors"
	"fmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"svccall/bootstrap"
	"svccall/config"
	"svccall/example/springmvc"
	"svccall/message"
	"svccall/provider"
	"time"
)

var demoTransports []string

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the springmvc consumer scenario and print a pass/fail summary",
	Long: `Without --config the springmvc provider is started in-process on every
transport. With --config the scenario runs against the configured instances.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().StringSliceVar(&demoTransports, "transports",
		[]string{"rest", "h2c", "highway", "grpc"}, "transports to run the scenario over")
	rootCmd.AddCommand(demoCmd)
}

var errDemoFailed = errors.New("demo: some checks failed")

func runDemo(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	kinds := make([]message.TransportKind, 0, len(demoTransports))
	for _, t := range demoTransports {
		k := message.TransportKind(t)
		if !k.Valid() {
			return fmt.Errorf("demo: unknown transport %q", t)
		}
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return errors.New("demo: no transport")
	}

	var cfg *config.Config
	if cfgFile == "" {
		var stop func()
		cfg, stop, err = startLocalProvider(kinds, logger)
		if err != nil {
			printError("start provider", err)
			return err
		}
		defer stop()
	} else if cfg, err = config.Load(cfgFile); err != nil {
		printError("load config", err)
		return err
	}

	consumer, err := bootstrap.NewBuilder(cfg, bootstrap.WithLogger(logger)).Consumer()
	if err != nil {
		printError("build consumer", err)
		return err
	}
	defer func() { _ = consumer.Close() }()

	s := &springmvc.Scenario{Client: consumer.Client, Transports: kinds, Timeout: cfg.Request.Timeout}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	report, err := s.Run(ctx)
	if err != nil {
		printError("run scenario", err)
		return err
	}
	report.Write(cmd.OutOrStdout())
	if !report.Passed() {
		return errDemoFailed
	}
	return nil
}

func startLocalProvider(kinds []message.TransportKind, logger *zap.Logger) (*config.Config, func(), error) {
	m, err := springmvc.NewMux(provider.MuxWithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	listen := make(map[message.TransportKind]string, len(kinds))
	for _, k := range kinds {
		listen[k] = "127.0.0.1:0"
	}
	servers, err := provider.Serve(springmvc.ServiceName, m, listen, logger)
	if err != nil {
		return nil, nil, err
	}
	cfg := config.Default()
	cfg.Request.Timeout = 5 * time.Second
	cfg.Request.Transport = string(kinds[0])
	cfg.Instances[springmvc.ServiceName] = servers.Instance("local").Endpoints
	return cfg, func() { _ = servers.Close() }, nil
}
