package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cwbudde/govizier/internal/config"
	"github.com/cwbudde/govizier/internal/server"
)

var (
	serveHost           string
	servePort           int
	servePolicyPort     int
	serveTopology       string
	servePolicyEndpoint string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the study service",
	Long: `Starts the study API. In the colocated topology one listener serves the
API and runs the designers in-process. In the distributed topology a second
listener runs a policy server that the front forwards suggestions to.
With --policy-endpoint only the front is started and suggestions go to an
externally run policy server (see the policy command).

The command blocks until SIGINT or SIGTERM, then stops every server.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Host to bind")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Front server port (0 = ephemeral)")
	serveCmd.Flags().IntVar(&servePolicyPort, "policy-port", 0, "Policy server port in the distributed topology (0 = ephemeral)")
	serveCmd.Flags().StringVar(&serveTopology, "topology", config.TopologyColocated, "Topology: colocated or distributed")
	serveCmd.Flags().StringVar(&servePolicyEndpoint, "policy-endpoint", "", "Forward suggestions to this policy server instead of running one")
	rootCmd.AddCommand(serveCmd)
}

func applyServeFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("host") {
		c.Server.Host = serveHost
	}
	if flags.Changed("port") {
		c.Server.Port = servePort
	}
	if flags.Changed("policy-port") {
		c.Server.PolicyPort = servePolicyPort
	}
	if flags.Changed("topology") {
		c.Server.Topology = serveTopology
	}
	return c.Validate()
}

func serverOptions(c *config.Config) (server.Options, error) {
	registry, err := newRegistry()
	if err != nil {
		return server.Options{}, err
	}
	return server.Options{
		Host:           c.Server.Host,
		Port:           c.Server.Port,
		PolicyPort:     c.Server.PolicyPort,
		ForwardTimeout: c.Server.ForwardTimeout,
		Breaker: server.BreakerSettings{
			MaxRequests:      c.Breaker.MaxRequests,
			Interval:         c.Breaker.Interval,
			Timeout:          c.Breaker.Timeout,
			FailureThreshold: c.Breaker.FailureThreshold,
		},
		Registry: registry,
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
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

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var top server.Topology
	switch {
	case servePolicyEndpoint != "":
		top, err = server.NewFront(st, servePolicyEndpoint, opts)
	case c.Server.Topology == config.TopologyDistributed:
		top, err = server.NewDistributed(st, opts)
	default:
		top, err = server.NewColocated(st, opts)
	}
	if err != nil {
		return err
	}

	slog.Info("Study service started",
		"addr", top.Endpoint(),
		"topology", c.Server.Topology,
		"store", c.Store.Kind,
		"default_algorithm", c.Policy.DefaultAlgorithm)
	fmt.Printf("Serving on http://%s\n", top.Endpoint())

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Server.ShutdownTimeout)
	defer cancel()
	if err := top.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop servers: %w", err)
	}
	slog.Info("Study service stopped")
	return nil
}
