// Package client is the Go client for the warden daemon API. The CLI uses
// it for every non-serve command; embedders can use it to drive a remote
// daemon the same way.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Client talks to a running warden daemon over its operator API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8200",
		Timeout: 10 * time.Second,
	}
}

// InsecureConfig returns a TLS configuration that skips verification, for
// daemons running with self-signed development certificates.
func InsecureConfig() Config {
	return Config{
		BaseURL:  "https://127.0.0.1:8200",
		Timeout:  10 * time.Second,
		Insecure: true,
	}
}

// New creates a warden API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8200"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if (config.TLS != nil && config.TLS.Enabled) || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	var hz Healthz
	if err := c.get(ctx, "/healthz", &hz); err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	return hz.Status == "ok"
}

// Healthz returns the daemon self-check.
func (c *Client) Healthz(ctx context.Context) (Healthz, error) {
	var hz Healthz
	err := c.get(ctx, "/healthz", &hz)
	return hz, err
}

// Services returns the status of every configured service.
func (c *Client) Services(ctx context.Context) ([]ServiceStatus, error) {
	var out []ServiceStatus
	err := c.get(ctx, "/services", &out)
	return out, err
}

// ServiceStatus returns the status of one named service.
func (c *Client) ServiceStatus(ctx context.Context, name string) (ServiceStatus, error) {
	var out ServiceStatus
	err := c.get(ctx, "/services/"+url.PathEscape(name), &out)
	return out, err
}

// StartService brings one service up.
func (c *Client) StartService(ctx context.Context, name string) error {
	return c.post(ctx, "/services/"+url.PathEscape(name)+"/start", nil)
}

// StopService takes one service down.
func (c *Client) StopService(ctx context.Context, name string) error {
	return c.post(ctx, "/services/"+url.PathEscape(name)+"/stop", nil)
}

// RestartService bounces one service.
func (c *Client) RestartService(ctx context.Context, name string) error {
	return c.post(ctx, "/services/"+url.PathEscape(name)+"/restart", nil)
}

// StartAll brings every enabled service up, dependencies first.
func (c *Client) StartAll(ctx context.Context) (FleetResult, error) {
	var out FleetResult
	err := c.post(ctx, "/fleet/start", &out)
	return out, err
}

// StopAll takes every configured service down, dependents first.
func (c *Client) StopAll(ctx context.Context) (FleetResult, error) {
	var out FleetResult
	err := c.post(ctx, "/fleet/stop", &out)
	return out, err
}

// RestartAll bounces every enabled service.
func (c *Client) RestartAll(ctx context.Context) (FleetResult, error) {
	var out FleetResult
	err := c.post(ctx, "/fleet/restart", &out)
	return out, err
}

// Reconcile triggers one reconciliation pass over the whole fleet.
func (c *Client) Reconcile(ctx context.Context) (PassSummary, error) {
	var out PassSummary
	err := c.post(ctx, "/reconcile", &out)
	return out, err
}

// ReconcileService reconciles one named service.
func (c *Client) ReconcileService(ctx context.Context, name string) (ServiceResult, error) {
	var out ServiceResult
	err := c.post(ctx, "/reconcile?service="+url.QueryEscape(name), &out)
	return out, err
}

// Cleanup removes leftover records and processes. It always sends
// confirm=true; interactive confirmation is the caller's job.
func (c *Client) Cleanup(ctx context.Context) (CleanupSummary, error) {
	var out CleanupSummary
	err := c.post(ctx, "/cleanup?confirm=true", &out)
	return out, err
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out)
}

func (c *Client) post(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodPost, path, out)
}

// do performs the request and decodes a successful response into out when
// out is non-nil. Non-2xx responses become "API error: ..." errors carrying
// the server's message.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errorResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errorResp.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
