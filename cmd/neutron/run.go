package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"neutron/internal/config"
	"neutron/internal/dispatch"
	"neutron/internal/errors"
	"neutron/internal/filter"
	"neutron/internal/inventory"
	"neutron/internal/logging"
	"neutron/internal/output"
	"neutron/internal/progress"
	"neutron/internal/runner"
	"neutron/internal/stats"
	"neutron/internal/target"
	"neutron/internal/task"
	"neutron/internal/transport"
	sshtransport "neutron/internal/transport/ssh"
	winrmtransport "neutron/internal/transport/winrm"
)

// app is a fully wired run: targets resolved, credentials checked and
// transports built. Nothing has connected yet.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	targets   []target.Target
	formatter *output.Formatter
	stats     *stats.Tracker
	session   *runner.Session
	stdin     io.Reader
	stdout    io.Writer
}

// loadConfig reads the config file and environment, then applies explicit flags
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	manager := config.NewManager(f.configFile)
	cfg, err := manager.Load()
	if err != nil {
		return nil, &SetupError{Message: "Configuration error", Err: err}
	}

	overrideConfigWithFlags(cmd, f, cfg)
	if err := manager.Validate(cfg); err != nil {
		return nil, &SetupError{Message: "Configuration validation failed", Err: err}
	}
	return cfg, nil
}

// loadTargets reads the inventory and returns the selection the configured
// filter leaves, in declaration order
func loadTargets(cfg *config.Config, logger *logging.Logger) (*target.Registry, error) {
	registry, err := inventory.LoadRegistry(inventory.NewFileInventory(cfg.Inventory), cfg.Defaults())
	if err != nil {
		logger.LogTargetParsingError(cfg.Inventory, err)
		return nil, &SetupError{Message: "Failed to load inventory", Err: err}
	}
	logger.LogTargetParsing(cfg.Inventory, registry.Len())

	targets := registry.Targets()
	if cfg.Filter != "" {
		filters, err := filter.ParseFilterExpression(cfg.Filter)
		if err != nil {
			return nil, &SetupError{Message: "Invalid filter expression", Err: err}
		}
		targets = filter.FilterTargets(targets, filters...)
		logger.Info("applied host filter", "filter", cfg.Filter, "matched", len(targets), "total", registry.Len())
		if len(targets) == 0 {
			return nil, &SetupError{Message: fmt.Sprintf("no targets match filter '%s'", cfg.Filter)}
		}
	}

	selected, err := target.NewRegistryFromTargets(targets)
	if err != nil {
		return nil, &SetupError{Message: "Failed to load inventory", Err: err}
	}
	return selected, nil
}

// buildTransports registers a transport for every configured section
func buildTransports(cfg *config.Config, logger *logging.Logger) transport.Registry {
	transports := make(transport.Registry)
	if cfg.SSH != nil {
		tr := sshtransport.NewTransport(cfg.SSH.ConnectTimeout(), logger)
		tr.UseAgent = cfg.SSH.Agent
		transports[target.KindSSH] = tr
	}
	if cfg.WinRM != nil {
		transports[target.KindWinRM] = winrmtransport.NewTransport(cfg.WinRM.ConnectTimeout(), cfg.WinRM.HTTPS, cfg.WinRM.Insecure, logger)
	}
	return transports
}

func setup(cmd *cobra.Command, f *flags) (*app, error) {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLoggerFromConfig(cfg.LogLevel, cfg.LogFormat, cfg.Quiet)
	if cfg.Source != "" {
		logger.LogConfigLoad(cfg.Source)
	} else {
		logger.LogConfigLoad("environment")
	}

	selected, err := loadTargets(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireCredentials(selected.Kinds()); err != nil {
		logger.LogConfigError(cfg.Source, err)
		return nil, &SetupError{Message: "Missing credentials", Err: err}
	}

	concurrency, err := dispatch.ParseConcurrency(cfg.Concurrency)
	if err != nil {
		return nil, &SetupError{Message: "Invalid concurrency", Err: err}
	}
	mode, err := output.ParseMode(cfg.Output)
	if err != nil {
		return nil, &SetupError{Message: "Invalid output mode", Err: err}
	}

	d := dispatch.New(buildTransports(cfg, logger), cfg.Credentials(), logger)
	d.SetConfig(dispatch.Config{Concurrency: concurrency, Timeout: cfg.CmdTimeout, Templates: cfg.Templates})
	if cfg.ShowProgress && !cfg.DryRun {
		d.SetObserver(progress.New(cmd.ErrOrStderr()))
	}

	stdout := cmd.OutOrStdout()
	formatter := output.NewFormatter(mode, stdout, !cfg.NoColor)

	var tracker *stats.Tracker
	if cfg.ShowStats {
		tracker = stats.NewTracker()
	}

	targets := selected.Targets()
	session := runner.NewSession(targets, d, formatter, runner.Options{
		DryRun: cfg.DryRun,
		Stats:  tracker,
		Logger: logger,
		Banner: banner(selected),
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		targets:   targets,
		formatter: formatter,
		stats:     tracker,
		session:   session,
		stdin:     cmd.InOrStdin(),
		stdout:    stdout,
	}, nil
}

func banner(selected *target.Registry) string {
	return fmt.Sprintf("neutron %s: %d targets (%d ssh, %d winrm). Type 'exit' to quit.",
		version, selected.Len(), len(selected.ByKind(target.KindSSH)), len(selected.ByKind(target.KindWinRM)))
}

// run plays the task file in args, or starts the interactive prompt
func (a *app) run(parent context.Context, args []string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("Received shutdown signal, canceling operations", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	defer signal.Stop(sigChan)

	var err error
	if len(args) == 1 {
		err = a.runBatch(ctx, args[0])
	} else {
		err = a.session.RunInteractive(ctx, a.stdin, a.stdout)
	}
	if err != nil {
		return err
	}

	if a.stats != nil {
		if err := a.formatter.WriteSummary(a.stats.Summary()); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) runBatch(ctx context.Context, path string) error {
	file, err := task.Load(path)
	if err != nil {
		return &SetupError{Message: "Failed to load task file", Err: err}
	}
	a.logger.Info("running task file", "path", path, "commands", len(file.Commands), "targets", len(a.targets))

	if err := a.session.RunBatch(ctx, file); err != nil {
		if errors.IsConfig(err) {
			return &SetupError{Message: "Task aborted", Err: err}
		}
		return err
	}
	return nil
}

// getExitCode maps a run error to the process exit code. Per-target failures
// never reach here; they are part of the report.
func getExitCode(err error) int {
	if err == nil {
		return 0
	}
	// Setup errors, bad arguments and output failures all stop the run before
	// or between dispatches
	return 2
}
