package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/warden"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot assembles the root command and its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	listFlags := &ListFlags{}
	statusFlags := &StatusFlags{}
	startFlags := &ServiceOpFlags{}
	stopFlags := &ServiceOpFlags{}
	restartFlags := &ServiceOpFlags{}
	reconcileFlags := &ReconcileFlags{}
	cleanupFlags := &CleanupFlags{}

	wardenCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createListCommand(wardenCommand, listFlags),
		createStatusCommand(wardenCommand, statusFlags),
		createStartCommand(wardenCommand, startFlags),
		createStopCommand(wardenCommand, stopFlags),
		createRestartCommand(wardenCommand, restartFlags),
		createReconcileCommand(wardenCommand, reconcileFlags),
		createCleanupCommand(wardenCommand, cleanupFlags),
	)

	return root
}

// createRootCommand creates the root command with minimal persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Service fleet supervision and reconciliation tool",
		Long: `Warden keeps a fleet of agent runtimes and tool servers running on one
host by converging observed process state with the desired state in its store.

Examples:
  warden serve --config=warden.toml      # Start the daemon
  warden list                            # Status of every service
  warden start --name=agent              # Start one service
  warden reconcile                       # Force a reconciliation pass
  warden status --name=agent --api-url=http://remote:8200  # Remote status`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createServeCommand creates the serve subcommand.
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [warden.toml]",
		Short: "Start the warden daemon",
		Long: `Start the warden daemon: load the service fleet from the config file,
reconcile it on the configured interval and expose the operator API.

Examples:
  warden serve --config=warden.toml
  warden serve warden.toml
  warden serve warden.toml --daemonize   # Background; [server].pidfile records the PID`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")

	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=warden.toml or provide as argument")
	}

	cfg, err := warden.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	// The parent re-execs the same command in a new session and exits;
	// only the re-exec'd child falls through to serve.
	if flags.Daemonize {
		pidfile := ""
		logfile := flags.LogFile
		if cfg.Server != nil {
			pidfile = cfg.Server.PidFile
			if logfile == "" {
				logfile = cfg.Server.LogFile
			}
		}
		if err := daemonize(pidfile, logfile); err != nil {
			return err
		}
	}

	if cfg.Server == nil {
		return fmt.Errorf("server must be configured to run serve command")
	}

	eng, err := warden.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer func() { _ = eng.Close() }()

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if err := eng.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := warden.ServeMetrics(cfg.Metrics.Listen); err != nil {
					fmt.Printf("Metrics server error: %v\n", err)
				}
			}()
		}
	}

	protocol := "HTTP"
	var server *http.Server
	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		protocol = "HTTPS"
		server, err = warden.NewTLSServer(*cfg.Server, eng)
		if err != nil {
			return fmt.Errorf("failed to create HTTPS server: %w", err)
		}
	} else {
		server, err = warden.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, eng)
		if err != nil {
			return fmt.Errorf("failed to create HTTP server: %w", err)
		}
	}

	eng.StartTicker(cfg.Reconcile.Interval)

	fmt.Printf("Starting warden %s server on %s%s (reconcile every %s)\n",
		protocol, cfg.Server.Listen, cfg.Server.BasePath, cfg.Reconcile.Interval)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	if err := server.Close(); err != nil {
		return err
	}
	return removePidFile(cfg.Server.PidFile)
}

// createListCommand creates the list subcommand.
func createListCommand(wardenCommand command, listFlags *ListFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show status of all services",
		Long: `Show the status of every service the daemon knows about: configured
services plus any lingering store records awaiting cleanup.

Examples:
  warden list
  warden list --api-url=http://remote:8200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.List(*listFlags)
		},
	}

	addAPIFlags(cmd, &listFlags.APIUrl, &listFlags.APITimeout, &listFlags.Insecure)

	return cmd
}

// createStatusCommand creates the status subcommand.
func createStatusCommand(wardenCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of one service",
		Long: `Show the drift category and observed state of a single service.

Examples:
  warden status --name=agent
  warden status --name=agent --api-url=http://remote:8200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Status(*statusFlags)
		},
	}

	cmd.Flags().StringVar(&statusFlags.Name, "name", "", "service name (required)")
	addAPIFlags(cmd, &statusFlags.APIUrl, &statusFlags.APITimeout, &statusFlags.Insecure)

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createStartCommand creates the start subcommand.
func createStartCommand(wardenCommand command, startFlags *ServiceOpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a service",
		Long: `Start a configured service, or the whole fleet in dependency order.

Examples:
  warden start --name=agent
  warden start --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Start(*startFlags)
		},
	}

	cmd.Flags().StringVar(&startFlags.Name, "name", "", "service name")
	cmd.Flags().BoolVar(&startFlags.All, "all", false, "start every configured service")
	addAPIFlags(cmd, &startFlags.APIUrl, &startFlags.APITimeout, &startFlags.Insecure)

	return cmd
}

// createStopCommand creates the stop subcommand.
func createStopCommand(wardenCommand command, stopFlags *ServiceOpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a service",
		Long: `Stop a running service, or the whole fleet in reverse dependency order.

Examples:
  warden stop --name=agent
  warden stop --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Stop(*stopFlags)
		},
	}

	cmd.Flags().StringVar(&stopFlags.Name, "name", "", "service name")
	cmd.Flags().BoolVar(&stopFlags.All, "all", false, "stop every configured service")
	addAPIFlags(cmd, &stopFlags.APIUrl, &stopFlags.APITimeout, &stopFlags.Insecure)

	return cmd
}

// createRestartCommand creates the restart subcommand.
func createRestartCommand(wardenCommand command, restartFlags *ServiceOpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a service",
		Long: `Stop a service, wait for its port to come free and start it again.

Examples:
  warden restart --name=agent
  warden restart --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Restart(*restartFlags)
		},
	}

	cmd.Flags().StringVar(&restartFlags.Name, "name", "", "service name")
	cmd.Flags().BoolVar(&restartFlags.All, "all", false, "restart every configured service")
	addAPIFlags(cmd, &restartFlags.APIUrl, &restartFlags.APITimeout, &restartFlags.Insecure)

	return cmd
}

// createReconcileCommand creates the reconcile subcommand.
func createReconcileCommand(wardenCommand command, reconcileFlags *ReconcileFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run a reconciliation pass now",
		Long: `Ask the daemon to run one reconciliation pass immediately instead of
waiting for the next tick, and print the pass summary.

Examples:
  warden reconcile
  warden reconcile --service=agent   # Reconcile a single service`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Reconcile(*reconcileFlags)
		},
	}

	cmd.Flags().StringVar(&reconcileFlags.Service, "service", "", "reconcile only this service")
	addAPIFlags(cmd, &reconcileFlags.APIUrl, &reconcileFlags.APITimeout, &reconcileFlags.Insecure)

	return cmd
}

// createCleanupCommand creates the cleanup subcommand.
func createCleanupCommand(wardenCommand command, cleanupFlags *CleanupFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale records and orphan processes",
		Long: `Delete store records whose process and port are both gone, and kill
processes that hold a service port without a matching record. Destructive;
requires --yes.

Examples:
  warden cleanup --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Cleanup(*cleanupFlags)
		},
	}

	cmd.Flags().BoolVar(&cleanupFlags.Yes, "yes", false, "confirm the destructive cleanup")
	addAPIFlags(cmd, &cleanupFlags.APIUrl, &cleanupFlags.APITimeout, &cleanupFlags.Insecure)

	return cmd
}

// addAPIFlags registers the daemon connection flags shared by every
// non-serve command.
func addAPIFlags(cmd *cobra.Command, url *string, timeout *time.Duration, insecure *bool) {
	cmd.Flags().StringVar(url, "api-url", "", "daemon URL (e.g. http://host:8200)")
	cmd.Flags().DurationVar(timeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(insecure, "insecure", false, "skip TLS certificate verification")
}
