// Hearth is the assistant backend for a Home Assistant dashboard.
//
// It serves the dashboard chat API, proxies Home Assistant REST calls,
// records token usage and optionally publishes assistant sensors over
// MQTT. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); without one, defaults
// and the ANTHROPIC_API_KEY, HA_URL and HA_TOKEN environment variables
// are used.
//
// Usage:
//
//	hearth serve                 Start the API server
//	hearth init [dir]            Write a sample config and persona
//	hearth ask <question>        Ask a single question against the live home
//	hearth context               Print the home context the assistant sees
//	hearth version               Print version and build information
//	hearth -o json version       Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nugget/hearth/internal/buildinfo"
	"github.com/nugget/hearth/internal/config"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	output     string
}

// run is the real entry point. The command tree is built per call so
// tests can invoke run concurrently without shared flag state.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "hearth",
		Short: "Hearth - Home Assistant dashboard assistant",
		Long: `Hearth answers questions about a Home Assistant installation and,
with confirmation, controls devices and creates automations.

Config search order:
  ./config.yaml, ~/.config/hearth/config.yaml, /etc/hearth/config.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if flags.output != "text" && flags.output != "json" {
				return fmt.Errorf("unknown output format: %q (expected text or json)", flags.output)
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config file (default: auto-discover)")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "text", "Output format: text or json")

	root.AddCommand(
		newServeCommand(flags, stdout),
		newInitCommand(stdout),
		newAskCommand(flags, stdout, stderr),
		newContextCommand(flags, stdout, stderr),
		newVersionCommand(flags, stdout),
	)
	return root
}

func newVersionCommand(flags *globalFlags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runVersion(stdout, flags.output)
		},
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Any format other than "json" yields text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loggerFor builds the logger described by cfg.
func loggerFor(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return newLogger(w, level, cfg.LogFormat), nil
}

// loadConfig locates and parses the YAML configuration file. An
// explicit path must exist. Without one, a missing file is not an
// error: defaults and environment variables are used and the returned
// path is empty.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
