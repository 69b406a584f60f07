// Package main implements the mokactl entry point.
// This file handles command-line parsing, logging setup and dependency
// injection, and chooses between the TUI and the one-shot subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moka-remote/mokactl/internal/app"
	"github.com/moka-remote/mokactl/internal/config"
	"github.com/moka-remote/mokactl/internal/health"
	"github.com/moka-remote/mokactl/internal/history"
	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/logging"
	"github.com/moka-remote/mokactl/internal/metrics"
	"github.com/moka-remote/mokactl/internal/transport"
)

// Set with -ldflags "-X main.version=v0.3.0 -X main.commit=$(git rev-parse --short HEAD) -X 'main.buildDate=$(date +%Y-%m-%d)'".
var (
	version   = "dev"
	commit    = ""
	buildDate = ""
)

const ProgramName = "mokactl"

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	Profile     string
	Host        string
	Port        int
	ConfigPath  string
	Debug       bool
	LogLevel    string
	MetricsAddr string
}

// Dependencies holds the services built once per invocation.
type Dependencies struct {
	ConfigManager *config.Manager
	History       interfaces.HistoryStore
	Monitor       *health.Monitor
	Logger        *logging.Logger
}

// CLI carries the state of one invocation across cobra hooks.
type CLI struct {
	flags  globalFlags
	env    config.Environment
	logger *logging.Logger
	deps   *Dependencies

	stopMetrics context.CancelFunc

	clientMu sync.Mutex
	client   interfaces.ApplianceClient
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cli := &CLI{}

	root := &cobra.Command{
		Use:               ProgramName,
		Short:             "Remote control for the Moka noise-monitoring appliance",
		Long:              "mokactl talks to a Moka appliance over its socket protocol.\nWithout a subcommand it opens the interactive dashboard.",
		SilenceUsage:      true,
		PersistentPreRunE: cli.setup,
		PersistentPostRun: cli.teardown,
		RunE:              cli.runTUI,
	}

	f := root.PersistentFlags()
	f.StringVarP(&cli.flags.Profile, "profile", "p", "", "profile name from the configuration file")
	f.StringVar(&cli.flags.Host, "host", "", "appliance host, overrides the profile")
	f.IntVar(&cli.flags.Port, "port", 0, "appliance port, overrides the profile")
	f.StringVar(&cli.flags.ConfigPath, "config", "", "configuration file (default $XDG_CONFIG_HOME/mokactl/profiles.yaml)")
	f.BoolVar(&cli.flags.Debug, "debug", false, "enable debug logging")
	f.StringVar(&cli.flags.LogLevel, "log-level", "", "log level: debug, info, warn or error (overrides --debug)")
	f.StringVar(&cli.flags.MetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")

	root.AddCommand(
		cli.tuiCommand(),
		cli.stateCommand(),
		cli.powerCommand(),
		cli.triggerCommand(),
		cli.paramsCommand(),
		cli.eventsCommand(),
		cli.uploadsCommand(),
		cli.uploadCommand(),
		cli.pingCommand(),
		cli.mockServerCommand(),
		cli.versionCommand(),
	)
	return root
}

// setup loads the environment, then initializes logging and the metrics
// endpoint.
func (cli *CLI) setup(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnvironment(config.DotEnvFile)
	if err != nil {
		return err
	}
	cli.env = env

	tuiMode := cmd == cmd.Root() || cmd.Name() == "tui"
	logger, err := initializeLogging(cli.flags.Debug || env.Debug, cli.flags.LogLevel, tuiMode)
	if err != nil {
		return err
	}
	cli.logger = logger
	logger.Debug("mokactl starting", "version", version, "command", cmd.CommandPath())

	if cli.flags.MetricsAddr != "" {
		ctx, cancel := context.WithCancel(cmd.Context())
		cli.stopMetrics = cancel
		handler := metrics.Handler(logger.WithComponent("metrics"), cli.connectionHealth)
		go func() {
			if err := metrics.Serve(ctx, cli.flags.MetricsAddr, handler, logger.WithComponent("metrics")); err != nil {
				logger.Error("Metrics endpoint stopped", "error", err.Error())
			}
		}()
	}
	return nil
}

func (cli *CLI) teardown(cmd *cobra.Command, args []string) {
	if cli.stopMetrics != nil {
		cli.stopMetrics()
	}
	if cli.deps != nil {
		if cli.deps.History != nil {
			if err := cli.deps.History.Close(); err != nil {
				cli.logger.Warn("Failed to close history", "error", err.Error())
			}
		}
		cli.deps.Monitor.Stop()
	}
	if cli.logger != nil {
		_ = cli.logger.Sync()
	}
}

// initializeLogging sets up the global logger. The TUI logs to a file so the
// alternate screen stays clean.
func initializeLogging(debug bool, level string, tuiMode bool) (*logging.Logger, error) {
	logConfig := logging.DefaultConfig()
	logConfig.Component = ProgramName
	if debug {
		logConfig.Level = logging.DebugLevel
	} else {
		logConfig.Level = logging.WarnLevel
	}
	if tuiMode {
		logConfig.Output = logging.DefaultLogFile()
		logConfig.Format = "json"
		logConfig.Level = logging.InfoLevel
		if debug {
			logConfig.Level = logging.DebugLevel
		}
	}
	if level != "" {
		parsed, err := logging.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		logConfig.Level = parsed
	}

	if err := logging.InitGlobalLogger(logConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return logging.GetGlobalLogger(), nil
}

// initializeDependencies builds the configuration manager, the history store
// and the health monitor. An unavailable history is logged and skipped.
func (cli *CLI) initializeDependencies() (*Dependencies, error) {
	if cli.deps != nil {
		return cli.deps, nil
	}
	logger := cli.logger
	logger.Debug("Initializing application components")

	deps := &Dependencies{Logger: logger}

	var err error
	if cli.flags.ConfigPath != "" {
		deps.ConfigManager, err = config.NewManagerWithPath(cli.flags.ConfigPath)
	} else {
		deps.ConfigManager, err = config.NewManager()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	if path, err := history.DefaultPath(); err != nil {
		logger.Warn("History disabled", "error", err.Error())
	} else if store, err := history.Open(path); err != nil {
		logger.Warn("History disabled", "path", path, "error", err.Error())
	} else {
		deps.History = store
	}

	deps.Monitor = health.NewMonitor(nil, logging.GetHealthLogger())

	cli.deps = deps
	logger.Debug("Application components initialized")
	return deps, nil
}

// resolveProfile applies flag and environment overrides to the selected
// profile.
func (cli *CLI) resolveProfile() (*interfaces.Profile, *Dependencies, error) {
	deps, err := cli.initializeDependencies()
	if err != nil {
		return nil, nil, err
	}
	profile, err := config.Resolve(deps.ConfigManager, cli.env, config.Overrides{
		Profile: cli.flags.Profile,
		Host:    cli.flags.Host,
		Port:    cli.flags.Port,
	})
	if err != nil {
		return nil, nil, err
	}
	return profile, deps, nil
}

// newClient wraps app.NewClient so /healthz reports the latest client.
func (cli *CLI) newClient(profile *interfaces.Profile) (interfaces.ApplianceClient, error) {
	client, err := app.NewClient(profile)
	if err != nil {
		return nil, err
	}
	cli.clientMu.Lock()
	cli.client = client
	cli.clientMu.Unlock()
	return client, nil
}

func (cli *CLI) connectionHealth() (string, bool) {
	cli.clientMu.Lock()
	client := cli.client
	cli.clientMu.Unlock()

	if client == nil {
		return transport.StateIdle.String(), true
	}
	state := client.State()
	return state.String(), state != transport.StateFailed
}
