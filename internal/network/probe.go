package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Prober checks reachability. A nil error means reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber sends HEAD to a health URL; any 2xx is reachable.
type HTTPProber struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPProber creates a prober for url with a per-probe timeout.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		url:     url,
		client:  &http.Client{},
		timeout: timeout,
	}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe %s: status %d", p.url, resp.StatusCode)
	}
	return nil
}

// GRPCProber calls grpc.health.v1.Health/Check; SERVING is reachable.
type GRPCProber struct {
	target  string
	service string
	timeout time.Duration
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
}

// NewGRPCProber creates a prober for endpoint. https:// or :443 endpoints use TLS.
func NewGRPCProber(endpoint, service string, timeout time.Duration) (*GRPCProber, error) {
	target := endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GRPCProber{
		target:  target,
		service: service,
		timeout: timeout,
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
	}, nil
}

func (p *GRPCProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return fmt.Errorf("health check %s: %w", p.target, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health check %s: %s", p.target, resp.GetStatus())
	}
	return nil
}

// Close closes the connection.
func (p *GRPCProber) Close() error {
	return p.conn.Close()
}
