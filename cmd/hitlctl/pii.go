package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/upb/hitl-control-plane/internal/pii"
)

func newPIICmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pii",
		Short: "Scrub or check free text for PII",
	}
	cmd.AddCommand(newPIIScrubCmd(opts), newPIICheckCmd(opts))
	return cmd
}

func newPIIScrubCmd(opts *rootOptions) *cobra.Command {
	var categories []string

	cmd := &cobra.Command{
		Use:   "scrub [text...]",
		Short: "Replace PII with category tokens. Reads stdin when no text is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}

			var scrubOpts []pii.Option
			if len(categories) > 0 {
				cats := make([]pii.Category, len(categories))
				for i, c := range categories {
					cats[i] = pii.Category(c)
				}
				scrubOpts = append(scrubOpts, pii.WithCategories(cats...))
			}

			res := pii.Scrub(text, scrubOpts...)
			if opts.output == outputJSON {
				return opts.render(cmd.OutOrStdout(), map[string]interface{}{
					"scrubbed":   res.Scrubbed,
					"has_pii":    res.HasPII,
					"categories": res.Categories(),
				}, nil)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Scrubbed)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&categories, "category", nil, "Restrict to these categories (phone, email, address, name, tax_id, card)")
	return cmd
}

func newPIICheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [text...]",
		Short: "Report which PII categories appear in the text",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}

			check := pii.VerifyTextClean(text)
			return opts.render(cmd.OutOrStdout(), check, func(t table.Writer) {
				t.AppendHeader(table.Row{"Clean", "Categories"})
				t.AppendRow(table.Row{check.Clean, joinCategories(check.Categories)})
			})
		},
	}
}

func inputText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}
