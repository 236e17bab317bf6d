package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/upb/hitl-control-plane/app"
	"github.com/upb/hitl-control-plane/handlers"
	"github.com/upb/hitl-control-plane/services/policy"
)

func newSkillsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect registered skills",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List skills and whether they need approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				metas := deps.Skills.List()
				out := make([]handlers.SkillResponse, 0, len(metas))
				for _, m := range metas {
					out = append(out, handlers.SkillResponse{SkillMetadata: m, Approval: policy.CheckHITLRequired(m)})
				}
				return opts.render(cmd.OutOrStdout(), out, func(t table.Writer) {
					t.AppendHeader(table.Row{"Skill", "Approval", "Action Type", "Description"})
					for _, s := range out {
						approval := "no"
						if s.Approval.RequiresApproval {
							approval = "yes"
						}
						t.AppendRow(table.Row{s.Name, approval, s.Approval.ActionType, truncate(s.Description, 60)})
					}
				})
			})
		},
	})
	return cmd
}
