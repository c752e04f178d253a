package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cwbudde/govizier/internal/server"
)

var policyStoreEndpoint string

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Run a standalone policy server",
	Long: `Runs only the policy server. It reads and writes studies through the
study API of the front server at --store-endpoint. Point a front started with
"serve --policy-endpoint" at this server.`,
	RunE: runPolicy,
}

func init() {
	policyCmd.Flags().StringVar(&policyStoreEndpoint, "store-endpoint", "", "host:port of the front server (required)")
	policyCmd.Flags().StringVar(&serveHost, "host", "localhost", "Host to bind")
	policyCmd.Flags().IntVar(&servePolicyPort, "policy-port", 0, "Port to bind (0 = ephemeral)")
	policyCmd.MarkFlagRequired("store-endpoint")
	rootCmd.AddCommand(policyCmd)
}

func runPolicy(cmd *cobra.Command, args []string) error {
	c := currentConfig()
	if err := applyServeFlags(cmd, c); err != nil {
		return err
	}
	opts, err := serverOptions(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := server.NewPolicyNode(policyStoreEndpoint, opts)
	if err != nil {
		return err
	}
	slog.Info("Policy server started", "addr", node.Endpoint(), "store_endpoint", policyStoreEndpoint)
	fmt.Printf("Policy server on %s\n", node.Endpoint())

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Server.ShutdownTimeout)
	defer cancel()
	return node.Stop(shutdownCtx)
}
