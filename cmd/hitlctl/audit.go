package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/upb/hitl-control-plane/app"
	"github.com/upb/hitl-control-plane/internal/pii"
	"github.com/upb/hitl-control-plane/models"
)

func newAuditCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read and verify the audit trail",
	}
	cmd.AddCommand(newAuditLogCmd(opts), newAuditVerifyCmd(opts))
	return cmd
}

func newAuditLogCmd(opts *rootOptions) *cobra.Command {
	var (
		limit     int
		eventType string
		actor     string
		skillName string
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Retrieve and display audit log entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := models.AuditQuery{Limit: limit}
			if eventType != "" {
				et := models.AuditEventType(eventType)
				if !et.Valid() {
					return fmt.Errorf("unknown event type %q", eventType)
				}
				q.EventType = &et
			}
			if actor != "" {
				q.Actor = &actor
			}
			if skillName != "" {
				q.SkillName = &skillName
			}

			return opts.withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				events, err := deps.AuditEvents.Query(ctx, q)
				if err != nil {
					return err
				}
				return opts.render(cmd.OutOrStdout(), events, func(t table.Writer) {
					t.AppendHeader(table.Row{"Time", "Event", "Actor", "Skill", "Action", "Detail"})
					for _, e := range events {
						t.AppendRow(table.Row{
							e.Timestamp.Format(time.RFC3339),
							e.EventType,
							truncate(e.Actor, 24),
							deref(e.SkillName),
							deref(e.ActionID),
							truncate(e.Detail, 60),
						})
					}
				})
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 25, "Number of audit entries to retrieve")
	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type (e.g. hitl.accepted)")
	cmd.Flags().StringVar(&actor, "actor", "", "Filter by actor")
	cmd.Flags().StringVar(&skillName, "skill", "", "Filter by skill name")
	return cmd
}

func newAuditVerifyCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "verify-pii",
		Short: "Scan recent audit entries for unredacted PII",
		Long:  "Exits non-zero when any scanned entry still contains PII.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				res, err := pii.VerifyNoPIIInAuditLog(ctx, deps.AuditEvents, limit)
				if err != nil {
					return err
				}

				if opts.output == outputTable && res.Clean {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d audit event(s), no PII found\n", res.Scanned)
					return err
				}

				if err := opts.render(cmd.OutOrStdout(), res, func(t table.Writer) {
					t.AppendHeader(table.Row{"Event", "Field", "Categories", "Snippet"})
					for _, v := range res.Violations {
						t.AppendRow(table.Row{v.AuditEventID, v.Field, joinCategories(v.Categories), v.Snippet})
					}
				}); err != nil {
					return err
				}

				if !res.Clean {
					return fmt.Errorf("%d of %d audit event(s) contain unredacted PII", len(res.Violations), res.Scanned)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", pii.DefaultVerifyLimit, "Number of recent entries to scan")
	return cmd
}

func joinCategories(cats []pii.Category) string {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
