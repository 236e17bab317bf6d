package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/upb/hitl-control-plane/app"
	"github.com/upb/hitl-control-plane/models"
	"github.com/upb/hitl-control-plane/services/hitl"
)

func newActionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "actions",
		Aliases: []string{"action"},
		Short:   "Inspect and decide pending actions",
	}
	cmd.AddCommand(
		newActionsListCmd(opts),
		newActionsGetCmd(opts),
		newActionsDecideCmd(opts, "accept"),
		newActionsDecideCmd(opts, "reject"),
		newActionsExpireCmd(opts),
	)
	return cmd
}

func newActionsListCmd(opts *rootOptions) *cobra.Command {
	var (
		status      string
		skillName   string
		requestedBy string
		limit       int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pending actions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := hitl.ListRequest{Limit: &limit}
			if status != "" {
				s := models.ActionStatus(status)
				req.Status = &s
			}
			if skillName != "" {
				req.SkillName = &skillName
			}
			if requestedBy != "" {
				req.RequestedBy = &requestedBy
			}

			return opts.withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				actions, err := deps.HITL.List(ctx, req)
				if err != nil {
					return err
				}
				return opts.render(cmd.OutOrStdout(), actions, func(t table.Writer) {
					t.AppendHeader(table.Row{"ID", "Skill", "Type", "Status", "Requested By", "Requested", "Expires"})
					for _, a := range actions {
						t.AppendRow(table.Row{
							a.ID,
							a.SkillName,
							a.ActionType,
							a.Status,
							truncate(a.RequestedBy, 24),
							a.RequestedAt.Format(time.RFC3339),
							a.ExpiresAt.Format(time.RFC3339),
						})
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, accepted, rejected, expired)")
	cmd.Flags().StringVar(&skillName, "skill", "", "Filter by skill name")
	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "Filter by requester")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of actions")
	return cmd
}

func newActionsGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one action including its proposed data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				a, err := deps.HITL.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.render(cmd.OutOrStdout(), a, actionDetail(a))
			})
		},
	}
}

func newActionsDecideCmd(opts *rootOptions, verb string) *cobra.Command {
	var (
		decidedBy string
		roles     []string
		reason    string
	)

	short := "Accept a pending action as an operator"
	if verb == "reject" {
		short = "Reject a pending action as an operator"
	}

	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := hitl.DecisionRequest{
				ID:          args[0],
				DecidedBy:   decidedBy,
				SenderRoles: roles,
			}
			if reason != "" {
				req.Reason = &reason
			}

			return opts.withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				decide := deps.HITL.Accept
				if verb == "reject" {
					decide = deps.HITL.Reject
				}
				a, err := decide(ctx, req)
				if err != nil {
					return err
				}
				return opts.render(cmd.OutOrStdout(), a, actionDetail(a))
			})
		},
	}

	cmd.Flags().StringVar(&decidedBy, "by", "", "Operator recorded as the decider")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role ids held by the operator (repeatable)")
	if verb == "reject" {
		cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the rejection")
	}
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func newActionsExpireCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire every pending action past its deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				n, err := deps.Sweeper.SweepOnce(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Expired %d action(s)\n", n)
				return err
			})
		},
	}
}

func actionDetail(a *models.PendingAction) func(t table.Writer) {
	return func(t table.Writer) {
		t.AppendRows([]table.Row{
			{"ID", a.ID},
			{"Skill", a.SkillName},
			{"Type", a.ActionType},
			{"Status", a.Status},
			{"Requested By", a.RequestedBy},
			{"Requested", a.RequestedAt.Format(time.RFC3339)},
			{"Expires", a.ExpiresAt.Format(time.RFC3339)},
			{"Decided By", deref(a.DecidedBy)},
			{"Reject Reason", deref(a.RejectReason)},
			{"Proposed Data", string(a.ProposedData)},
		})
	}
}
