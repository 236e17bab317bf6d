package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/upb/hitl-control-plane/app"
	"github.com/upb/hitl-control-plane/config"
	"github.com/upb/hitl-control-plane/internal/observability"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// rootOptions are the persistent flags shared by every command
type rootOptions struct {
	logLevel  string
	logFormat string
	output    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "hitlctl",
		Short: "Operate the HITL approval stores",
		Long: `hitlctl works directly against the HITL and audit stores configured
through the same environment as hitl-gateway (HITL_DB_DSN, AUDIT_DB_DSN, ...).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != outputTable && opts.output != outputJSON {
				return fmt.Errorf("unknown output format %q, want table or json", opts.output)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputTable, "Output format (table, json)")

	cmd.AddCommand(
		newActionsCmd(opts),
		newAuditCmd(opts),
		newPIICmd(opts),
		newSkillsCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

// loadConfig reads the environment and applies the logging flags
func (o *rootOptions) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, err
	}
	cfg.Observability.LogLevel = o.logLevel
	cfg.Observability.LogFormat = o.logFormat
	return cfg, nil
}

// withDeps wires the stores and services for the duration of fn
func (o *rootOptions) withDeps(cmd *cobra.Command, fn func(ctx context.Context, deps *app.Dependencies) error) error {
	ctx := cmd.Context()

	cfg, err := o.loadConfig(ctx)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return err
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close(context.Background()) }()

	return fn(ctx, deps)
}

// render writes v as indented JSON or hands off to the table builder
func (o *rootOptions) render(w io.Writer, v interface{}, build func(t table.Writer)) error {
	if o.output == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	build(t)
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
