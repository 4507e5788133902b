package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/spf13/cobra"
	"net/http"
	"strings"
	"svccall/bootstrap"
)

var (
	callMethod      string
	callHeaders     []string
	callData        string
	callShowMetrics bool
)

var callCmd = &cobra.Command{
	Use:   "call <uri> [vars...]",
	Short: "Send one request, e.g. call 'cse://springmvc/controller/sayhi?name={name}' world",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCall,
}

func init() {
	callCmd.Flags().StringVarP(&callMethod, "method", "X", "", "HTTP method (default GET, POST with --data)")
	callCmd.Flags().StringArrayVarP(&callHeaders, "header", "H", nil, "header as key=value, repeatable")
	callCmd.Flags().StringVarP(&callData, "data", "d", "", "request body, sent as is")
	callCmd.Flags().BoolVar(&callShowMetrics, "metrics", false, "print the metrics snapshot afterwards")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	cfg, err := loadConfig()
	if err != nil {
		printError("load config", err)
		return err
	}
	consumer, err := bootstrap.NewBuilder(cfg, bootstrap.WithLogger(logger)).Consumer()
	if err != nil {
		printError("build consumer", err)
		return err
	}
	defer func() { _ = consumer.Close() }()

	headers := make(map[string]string, len(callHeaders))
	for _, h := range callHeaders {
		k, v, ok := strings.Cut(h, "=")
		if !ok {
			return fmt.Errorf("header %q is not key=value", h)
		}
		headers[k] = v
	}
	method := callMethod
	var body any
	if callData != "" {
		body = []byte(callData)
		if method == "" {
			method = http.MethodPost
		}
	}
	if method == "" {
		method = http.MethodGet
	}
	vars := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		vars = append(vars, a)
	}

	var out []byte
	resp, err := consumer.Client.Exchange(context.Background(), method, args[0], headers, body, &out, vars...)
	if callShowMetrics {
		defer printMetrics(cmd, consumer)
	}
	if err != nil {
		printError("call", err)
		return err
	}
	cmd.Printf("%d %s\n", resp.StatusCode, out)
	return nil
}

func printMetrics(cmd *cobra.Command, consumer *bootstrap.Consumer) {
	data, err := json.MarshalIndent(consumer.Client.Metrics(), "", "  ")
	if err != nil {
		printError("encode metrics", err)
		return
	}
	cmd.Println(string(data))
}
