package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nugget/hearth/internal/session"
	"github.com/nugget/hearth/internal/snapshot"
	"github.com/nugget/hearth/internal/usage"
)

func newAskCommand(flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var allowTools bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question against the live home",
		Long: `Ask builds a snapshot from Home Assistant and runs one chat turn.
Tools are disabled unless --allow-tools is given; even then, mutating
actions are gated by the confirmation mode and a single question can
never confirm one.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), stdout, stderr, flags, allowTools, strings.Join(args, " "))
		},
	}
	cmd.Flags().BoolVar(&allowTools, "allow-tools", false, "Offer device control and automation tools")
	return cmd
}

// runAsk handles "hearth ask". Logs go to stderr so stdout carries only
// the answer.
func runAsk(ctx context.Context, stdout, stderr io.Writer, flags *globalFlags, allowTools bool, question string) error {
	cfg, _, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	logger, err := loggerFor(stderr, cfg)
	if err != nil {
		return err
	}
	if err := cfg.RequireAnthropic(); err != nil {
		return err
	}

	ha := connectHomeAssistant(ctx, cfg, logger)
	defer ha.Close()

	engine, err := newEngine(cfg, ha, allowTools && cfg.ToolsEnabled(), logger)
	if err != nil {
		return err
	}

	store, err := openUsage(cfg)
	if err != nil {
		logger.Warn("usage recording disabled", "error", err)
	} else {
		defer store.Close()
		engine.AddObserver(usage.NewRecorder(store, cfg.Pricing, "cli", logger))
	}

	var home *snapshot.Snapshot
	if ha != nil {
		home, err = ha.builder.Build(ctx)
		if err != nil {
			logger.Warn("failed to build home snapshot, continuing without it", "error", err)
			home = nil
		}
	}

	resp, err := engine.Run(ctx, &session.Request{
		Messages:  []session.Message{{Role: session.RoleUser, Content: question}},
		Home:      home,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if flags.output == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(stdout, resp.Content)
	return nil
}

func newContextCommand(flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "context",
		Short: "Print the home context the assistant sees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runContext(cmd.Context(), stdout, stderr, flags)
		},
	}
}

// runContext handles "hearth context": the rendered snapshot as text,
// or the raw snapshot with -o json.
func runContext(ctx context.Context, stdout, stderr io.Writer, flags *globalFlags) error {
	cfg, _, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	logger, err := loggerFor(stderr, cfg)
	if err != nil {
		return err
	}
	if err := cfg.RequireHomeAssistant(); err != nil {
		return err
	}

	ha := connectHomeAssistant(ctx, cfg, logger)
	defer ha.Close()

	home, err := ha.builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}

	if flags.output == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(home)
	}
	renderer := snapshot.Renderer{ActivityLimit: cfg.Assistant.ActivityLimit}
	_, err = io.WriteString(stdout, renderer.Render(home))
	return err
}
