package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/warden"
	"github.com/loykin/warden/pkg/client"
)

// defaultAPIURL is where a locally started daemon answers unless the
// config says otherwise.
const defaultAPIURL = "http://127.0.0.1:8200"

type command struct {
	global *GlobalFlags
}

// dial resolves the daemon base URL (flag, then [server] block of
// --config, then the local default) and verifies the daemon answers
// before any command runs against it.
func (c *command) dial(apiURL string, timeout time.Duration, insecure bool) (*client.Client, error) {
	if apiURL == "" {
		if fromCfg, ok := apiURLFromConfig(c.global.ConfigPath); ok {
			apiURL = fromCfg
		} else {
			apiURL = defaultAPIURL
		}
	}

	cfg := client.DefaultConfig()
	if insecure {
		cfg = client.InsecureConfig()
	}
	cfg.BaseURL = apiURL
	if timeout > 0 {
		cfg.Timeout = timeout
	}

	api := client.New(cfg)
	if !api.IsReachable(context.Background()) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'warden serve'", apiURL)
	}
	return api, nil
}

// apiURLFromConfig derives the daemon URL from the [server] block of a
// config file so operators can point every command at one --config.
func apiURLFromConfig(configPath string) (string, bool) {
	if configPath == "" {
		return "", false
	}
	cfg, err := warden.LoadConfig(configPath)
	if err != nil || cfg.Server == nil || cfg.Server.Listen == "" {
		return "", false
	}
	scheme := "http"
	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		scheme = "https"
	}
	host := cfg.Server.Listen
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	base := cfg.Server.BasePath
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return scheme + "://" + host + strings.TrimRight(base, "/"), true
}

// List prints the status of every configured service.
func (c *command) List(f ListFlags) error {
	api, err := c.dial(f.APIUrl, f.APITimeout, f.Insecure)
	if err != nil {
		return err
	}
	statuses, err := api.Services(context.Background())
	if err != nil {
		return err
	}
	printJSON(statuses)
	return nil
}

// Status prints the status of one service.
func (c *command) Status(f StatusFlags) error {
	if f.Name == "" {
		return fmt.Errorf("service name is required")
	}
	api, err := c.dial(f.APIUrl, f.APITimeout, f.Insecure)
	if err != nil {
		return err
	}
	st, err := api.ServiceStatus(context.Background(), f.Name)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// Start starts one service, or the whole fleet with --all.
func (c *command) Start(f ServiceOpFlags) error {
	if err := validateServiceOp(f); err != nil {
		return err
	}
	api, err := c.dial(f.APIUrl, f.APITimeout, f.Insecure)
	if err != nil {
		return err
	}
	if f.All {
		res, err := api.StartAll(context.Background())
		if err != nil {
			return err
		}
		printJSON(res)
		return nil
	}
	if err := api.StartService(context.Background(), f.Name); err != nil {
		return err
	}
	fmt.Printf("Started service: %s\n", f.Name)
	return nil
}

// Stop stops one service, or the whole fleet with --all. A child dying
// from the stop signal is the expected outcome, not a failure.
func (c *command) Stop(f ServiceOpFlags) error {
	if err := validateServiceOp(f); err != nil {
		return err
	}
	api, err := c.dial(f.APIUrl, f.APITimeout, f.Insecure)
	if err != nil {
		return err
	}
	if f.All {
		res, err := api.StopAll(context.Background())
		if err != nil {
			return err
		}
		printJSON(res)
		return nil
	}
	if err := api.StopService(context.Background(), f.Name); err != nil {
		if !isExpectedShutdownError(err) {
			return err
		}
	}
	st, err := api.ServiceStatus(context.Background(), f.Name)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// Restart restarts one service, or the whole fleet with --all.
func (c *command) Restart(f ServiceOpFlags) error {
	if err := validateServiceOp(f); err != nil {
		return err
	}
	api, err := c.dial(f.APIUrl, f.APITimeout, f.Insecure)
	if err != nil {
		return err
	}
	if f.All {
		res, err := api.RestartAll(context.Background())
		if err != nil {
			return err
		}
		printJSON(res)
		return nil
	}
	if err := api.RestartService(context.Background(), f.Name); err != nil {
		return err
	}
	fmt.Printf("Restarted service: %s\n", f.Name)
	return nil
}

// Reconcile runs one reconciliation pass on the daemon, or a single
// service's slice of it with --service.
func (c *command) Reconcile(f ReconcileFlags) error {
	api, err := c.dial(f.APIUrl, f.APITimeout, f.Insecure)
	if err != nil {
		return err
	}
	if f.Service != "" {
		res, err := api.ReconcileService(context.Background(), f.Service)
		if err != nil {
			return err
		}
		printJSON(res)
		return nil
	}
	sum, err := api.Reconcile(context.Background())
	if err != nil {
		return err
	}
	printJSON(sum)
	return nil
}

// Cleanup deletes stale records and kills orphan processes. The --yes
// gate keeps the destructive path behind an explicit operator choice.
func (c *command) Cleanup(f CleanupFlags) error {
	if !f.Yes {
		return fmt.Errorf("cleanup deletes stale records and kills orphan processes: pass --yes to confirm")
	}
	api, err := c.dial(f.APIUrl, f.APITimeout, f.Insecure)
	if err != nil {
		return err
	}
	sum, err := api.Cleanup(context.Background())
	if err != nil {
		return err
	}
	printJSON(sum)
	return nil
}

func validateServiceOp(f ServiceOpFlags) error {
	if f.All && f.Name != "" {
		return fmt.Errorf("pass --name or --all, not both")
	}
	if !f.All && f.Name == "" {
		return fmt.Errorf("service name is required (pass --name or --all)")
	}
	return nil
}

// isExpectedShutdownError reports whether err is the normal outcome of
// signalling a child to stop rather than an operational failure.
func isExpectedShutdownError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "signal: terminated") ||
		strings.Contains(s, "signal: killed") ||
		strings.Contains(s, "signal: interrupt")
}
