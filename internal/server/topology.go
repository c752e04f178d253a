package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/govizier/internal/policy"
	"github.com/cwbudde/govizier/internal/store"
)

// Options configures a topology.
type Options struct {
	// Host to bind. Empty means localhost.
	Host string
	// Port of the front server; 0 picks an ephemeral port.
	Port int
	// PolicyPort of the policy server in a distributed topology; 0 picks an
	// ephemeral port.
	PolicyPort int
	// ForwardTimeout bounds each front-to-policy and policy-to-store call.
	ForwardTimeout time.Duration
	Breaker        BreakerSettings
	// Registry of designers. Nil uses policy.NewRegistry.
	Registry *policy.Registry
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.ForwardTimeout <= 0 {
		o.ForwardTimeout = 30 * time.Second
	}
	if o.Breaker == (BreakerSettings{}) {
		o.Breaker = DefaultBreakerSettings()
	}
	if o.Registry == nil {
		o.Registry = policy.NewRegistry()
	}
	return o
}

// Topology is a set of running servers.
type Topology interface {
	// Endpoint is the host:port clients use.
	Endpoint() string
	// Stop shuts every server down. Calls after the first return the first
	// result.
	Stop(ctx context.Context) error
}

// managedServer is an http.Server bound to its listener.
type managedServer struct {
	name     string
	endpoint string
	srv      *http.Server
	ln       net.Listener
}

func listen(name, host string, port int, handler http.Handler) (*managedServer, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s server: %w", name, err)
	}
	actual := ln.Addr().(*net.TCPAddr).Port
	return &managedServer{
		name:     name,
		endpoint: net.JoinHostPort(host, strconv.Itoa(actual)),
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln: ln,
	}, nil
}

func (m *managedServer) serve() {
	slog.Info("Server listening", "server", m.name, "addr", m.endpoint)
	go func() {
		if err := m.srv.Serve(m.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server stopped unexpectedly", "server", m.name, "error", err)
		}
	}()
}

// group owns the servers of a topology and stops them together.
type group struct {
	servers []*managedServer
	before  []func()
	after   []func()

	once    sync.Once
	stopErr error
}

func (g *group) Stop(ctx context.Context) error {
	g.once.Do(func() {
		for _, f := range g.before {
			f()
		}
		eg, egCtx := errgroup.WithContext(ctx)
		for _, m := range g.servers {
			eg.Go(func() error {
				slog.Info("Shutting down server", "server", m.name, "addr", m.endpoint)
				if err := m.srv.Shutdown(egCtx); err != nil {
					return fmt.Errorf("failed to stop %s server: %w", m.name, err)
				}
				return nil
			})
		}
		g.stopErr = eg.Wait()
		for _, f := range g.after {
			f()
		}
	})
	return g.stopErr
}

// Colocated serves the study API and the policy on one listener.
type Colocated struct {
	group
	front *Server
}

// NewColocated binds and starts a colocated topology over st.
func NewColocated(st store.Store, opts Options) (*Colocated, error) {
	opts = opts.withDefaults()
	front := NewLocalServer(st, opts.Registry)
	m, err := listen("front", opts.Host, opts.Port, front.Handler())
	if err != nil {
		return nil, err
	}
	c := &Colocated{front: front}
	c.servers = []*managedServer{m}
	c.before = []func(){front.Close}
	m.serve()
	return c, nil
}

func (c *Colocated) Endpoint() string { return c.servers[0].endpoint }

// Server returns the front server.
func (c *Colocated) Server() *Server { return c.front }

// Distributed runs a front server and a separate policy server. The front
// forwards suggestions to the policy server, which reaches the store back
// through the front's study API.
type Distributed struct {
	group
	front        *Server
	policyClient *PolicyClient
}

// NewDistributed binds both listeners, then starts both servers.
func NewDistributed(st store.Store, opts Options) (*Distributed, error) {
	opts = opts.withDefaults()

	// Both endpoints must be known before either handler is built.
	frontLn, err := net.Listen("tcp", net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to bind front server: %w", err)
	}
	policyLn, err := net.Listen("tcp", net.JoinHostPort(opts.Host, strconv.Itoa(opts.PolicyPort)))
	if err != nil {
		frontLn.Close()
		return nil, fmt.Errorf("failed to bind policy server: %w", err)
	}
	frontEndpoint := net.JoinHostPort(opts.Host, strconv.Itoa(frontLn.Addr().(*net.TCPAddr).Port))
	policyEndpoint := net.JoinHostPort(opts.Host, strconv.Itoa(policyLn.Addr().(*net.TCPAddr).Port))

	client := NewPolicyClient(policyEndpoint, opts.ForwardTimeout, opts.Breaker)
	front := NewServer(st, client)

	remote := NewRemoteStore(frontEndpoint, opts.ForwardTimeout)
	policySrv := NewPolicyServer(policy.NewService(remote, opts.Registry))

	d := &Distributed{front: front, policyClient: client}
	d.servers = []*managedServer{
		{
			name:     "front",
			endpoint: frontEndpoint,
			srv:      &http.Server{Handler: front.Handler(), ReadHeaderTimeout: 10 * time.Second},
			ln:       frontLn,
		},
		{
			name:     "policy",
			endpoint: policyEndpoint,
			srv:      &http.Server{Handler: policySrv.Handler(), ReadHeaderTimeout: 10 * time.Second},
			ln:       policyLn,
		},
	}
	d.before = []func(){front.Close}
	d.after = []func(){client.Close, func() { remote.Close() }}
	for _, m := range d.servers {
		m.serve()
	}
	return d, nil
}

func (d *Distributed) Endpoint() string { return d.servers[0].endpoint }

// PolicyEndpoint is the host:port of the policy server.
func (d *Distributed) PolicyEndpoint() string { return d.servers[1].endpoint }

// Server returns the front server.
func (d *Distributed) Server() *Server { return d.front }

// Front is a front server forwarding suggestions to an externally run
// policy server (see PolicyNode).
type Front struct {
	group
	front *Server
}

// NewFront binds a front server over st whose suggestions are served by the
// policy server at policyEndpoint.
func NewFront(st store.Store, policyEndpoint string, opts Options) (*Front, error) {
	opts = opts.withDefaults()
	client := NewPolicyClient(policyEndpoint, opts.ForwardTimeout, opts.Breaker)
	front := NewServer(st, client)
	m, err := listen("front", opts.Host, opts.Port, front.Handler())
	if err != nil {
		client.Close()
		return nil, err
	}
	f := &Front{front: front}
	f.servers = []*managedServer{m}
	f.before = []func(){front.Close}
	f.after = []func(){client.Close}
	m.serve()
	return f, nil
}

func (f *Front) Endpoint() string { return f.servers[0].endpoint }

// Server returns the front server.
func (f *Front) Server() *Server { return f.front }

// PolicyNode is a standalone policy server working against a remote front.
type PolicyNode struct {
	group
	remote *RemoteStore
}

// NewPolicyNode binds a policy server on opts.PolicyPort whose store is the
// front server at storeEndpoint.
func NewPolicyNode(storeEndpoint string, opts Options) (*PolicyNode, error) {
	opts = opts.withDefaults()
	remote := NewRemoteStore(storeEndpoint, opts.ForwardTimeout)
	policySrv := NewPolicyServer(policy.NewService(remote, opts.Registry))

	m, err := listen("policy", opts.Host, opts.PolicyPort, policySrv.Handler())
	if err != nil {
		remote.Close()
		return nil, err
	}
	n := &PolicyNode{remote: remote}
	n.servers = []*managedServer{m}
	n.after = []func(){func() { remote.Close() }}
	m.serve()
	return n, nil
}

func (n *PolicyNode) Endpoint() string { return n.servers[0].endpoint }

var (
	_ Topology = (*Colocated)(nil)
	_ Topology = (*Distributed)(nil)
	_ Topology = (*Front)(nil)
	_ Topology = (*PolicyNode)(nil)
)
