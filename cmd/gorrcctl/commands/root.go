// Package commands implements the gorrcctl CLI commands.
package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/gorrc/internal/server"
	appversion "github.com/dantte-lp/gorrc/internal/version"
)

var (
	// client is the admin service client, initialized in PersistentPreRunE.
	client *server.Client

	// outputFormat controls the output format for all commands (table, json or yaml).
	outputFormat string

	// serverAddr is the daemon address (host:port) for the ConnectRPC connection.
	serverAddr string

	// useGRPC selects the gRPC protocol instead of Connect.
	useGRPC bool
)

// rootCmd is the top-level cobra command for gorrcctl.
var rootCmd = &cobra.Command{
	Use:   "gorrcctl",
	Short: "CLI client for the gorrc daemon",
	Long:  "gorrcctl communicates with the gorrc daemon via ConnectRPC to inspect and steer terminal contexts.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		opts := []connect.ClientOption{
			connect.WithInterceptors(userAgent{value: appversion.UserAgent("gorrcctl")}),
		}
		if useGRPC {
			opts = append(opts, connect.WithGRPC())
		}
		client = server.NewClient(http.DefaultClient, "http://"+serverAddr, opts...)

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50061",
		"gorrc daemon address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", formatTable,
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&useGRPC, "grpc", false,
		"use the gRPC protocol (requires HTTP/2)")

	rootCmd.AddCommand(contextCmd())
	rootCmd.AddCommand(bearerCmd())
	rootCmd.AddCommand(handoverCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// userAgent stamps the gorrcctl build on every request.
type userAgent struct {
	value string
}

func (u userAgent) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		req.Header().Set("User-Agent", u.value)
		return next(ctx, req)
	}
}

func (u userAgent) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set("User-Agent", u.value)
		return conn
	}
}

func (u userAgent) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
