// infer is a small CLI for asking the gateway a question from the command
// line, exercising the same resilient client the web app uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sgconsulting/inference-gateway/client"
)

var (
	gatewayURL string
	token      string
	retries    int
	timeout    time.Duration
	showSQL    bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "infer <prompt>",
	Short: "Ask the inference gateway a natural-language question",
	Long: `Sends a prompt to the inference gateway and prints the answer.

Transient failures (timeouts, upstream unavailability) are retried with
exponential backoff before giving up.

Examples:
  infer "total revenue by region last quarter"
  infer --sql "top 10 products by demand forecast"
  infer --gateway https://gateway.sgconsultingtech.com --token $TOKEN "churn rate trend"`,
	Args:          cobra.MinimumNArgs(1),
	RunE:          runInfer,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func runInfer(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")

	logger := zap.NewNop()
	if verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer logger.Sync()
	}

	c := client.New(gatewayURL,
		client.WithToken(token),
		client.WithMaxRetries(retries),
		client.WithAttemptTimeout(timeout),
		client.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := c.Infer(ctx, prompt)
	if err != nil {
		return err
	}

	fmt.Println(result.Answer)

	if showSQL && result.SQL != "" {
		fmt.Println()
		fmt.Println(result.SQL)
	}

	if showSQL && len(result.QueryData) > 0 {
		pretty, err := json.MarshalIndent(json.RawMessage(result.QueryData), "", "  ")
		if err == nil {
			fmt.Println()
			fmt.Println(string(pretty))
		}
	}

	return nil
}

func main() {
	rootCmd.Flags().StringVar(&gatewayURL, "gateway", getEnvOrDefault("GATEWAY_URL", "http://localhost:8080"), "gateway base URL")
	rootCmd.Flags().StringVar(&token, "token", os.Getenv("GATEWAY_TOKEN"), "bearer token")
	rootCmd.Flags().IntVar(&retries, "retries", 3, "maximum attempts per call")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "per-attempt timeout")
	rootCmd.Flags().BoolVar(&showSQL, "sql", false, "print the generated SQL and query data")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log retry activity")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
