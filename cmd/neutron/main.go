package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"neutron/internal/config"
	"neutron/internal/dispatch"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// flags holds the raw CLI values; they override the loaded configuration
// only when explicitly set
type flags struct {
	configFile   string
	inventory    string
	concurrency  string
	cmdTimeout   time.Duration
	outputMode   string
	quiet        bool
	dryRun       bool
	logLevel     string
	logFormat    string
	filterExpr   string
	showProgress bool
	showStats    bool
	noColor      bool
	templates    bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(getExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:   "neutron [flags] [task-file]",
		Short: "Run shell commands on many SSH and WinRM hosts at once",
		Long: `neutron fans each command out to every server in the inventory, over SSH
or WinRM, runs it concurrently and prints the results in inventory order.

Without a task file it starts an interactive prompt; "cd" commands are
remembered per host, so later commands run in that directory. With a task
file it plays the file's commands in order and exits.

Examples:
  # Interactive prompt over the servers in source.yaml
  neutron

  # Play a task file against Windows hosts only
  neutron --filter kind:winrm tasks.yaml

  # Show what each host would run without connecting
  neutron --dry-run tasks.yaml

  # NDJSON results for automation
  neutron --output json tasks.yaml`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(cmd, f)
			if err != nil {
				return err
			}
			return app.run(cmd.Context(), args)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "neutron %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
		},
	}
	rootCmd.AddCommand(versionCmd, newHostsCmd(f))

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "Config file (default: config.{yaml,yml,json,toml,cfg} in ., ~/.config/neutron, /etc/neutron)")
	pf.StringVar(&f.inventory, "inventory", "source.yaml", "Server list (YAML or JSON with a 'servers' key)")
	pf.StringVar(&f.filterExpr, "filter", "", "Filter hosts (e.g. 'host:web* kind:ssh port:22', 'host:regex:^db')")
	pf.StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, error)")
	pf.StringVar(&f.logFormat, "log-format", "text", "Log format (json, text)")
	pf.BoolVar(&f.quiet, "quiet", false, "Suppress non-error logs")
	pf.BoolVar(&f.noColor, "no-color", false, "Disable styled output")

	rootCmd.Flags().StringVar(&f.concurrency, "concurrency", "auto", "Maximum concurrent targets ('auto' or number)")
	rootCmd.Flags().DurationVar(&f.cmdTimeout, "cmd-timeout", dispatch.DefaultTimeout, "Per-target timeout covering connect and execute")
	rootCmd.Flags().StringVar(&f.outputMode, "output", "text", "Output format (text, json)")
	rootCmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Show the per-host command lines without connecting")
	rootCmd.Flags().BoolVar(&f.showProgress, "progress", false, "Show a progress bar on stderr while commands run")
	rootCmd.Flags().BoolVar(&f.showStats, "stats", false, "Print run statistics when the session ends")
	rootCmd.Flags().BoolVar(&f.templates, "templates", false, "Expand {{.Host}}, {{.Port}}, {{.Kind}} and {{.User}} in commands per target")

	rootCmd.SetUsageTemplate(rootCmd.UsageTemplate() + envEpilog())

	return rootCmd
}

// envEpilog lists the environment overrides below the flag usage
func envEpilog() string {
	return "\nEnvironment:\n  " + strings.Join(config.GetEnvVarNames(), "\n  ") + "\n"
}

// overrideConfigWithFlags applies flags the user set explicitly
func overrideConfigWithFlags(cmd *cobra.Command, f *flags, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("inventory") {
		cfg.Inventory = f.inventory
	}
	if changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if changed("cmd-timeout") {
		cfg.CmdTimeout = f.cmdTimeout
	}
	if changed("output") {
		cfg.Output = f.outputMode
	}
	if changed("quiet") {
		cfg.Quiet = f.quiet
	}
	if changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("filter") {
		cfg.Filter = f.filterExpr
	}
	if changed("progress") {
		cfg.ShowProgress = f.showProgress
	}
	if changed("stats") {
		cfg.ShowStats = f.showStats
	}
	if changed("no-color") {
		cfg.NoColor = f.noColor
	}
	if changed("templates") {
		cfg.Templates = f.templates
	}
}

// SetupError represents an error during setup/configuration (exit code 2)
type SetupError struct {
	Message string
	Err     error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
