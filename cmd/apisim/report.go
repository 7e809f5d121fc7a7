package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"apisim/internal/collector"
	"apisim/internal/template"
)

func newReportCmd() *cobra.Command {
	var (
		output string
		fields []string
	)
	cmd := &cobra.Command{
		Use:   "report <file>",
		Short: "Summarize an exported report",
		Long: `Print the summary of a report written by 'apisim run'.

Use --field to pull single values out with JSONPath, for example:
  apisim report run.json --field '$.simulation_summary.p95_response_time_ms'
  apisim report run.json --field '$.endpoint_statistics["GET /users"].total_requests'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(fields) > 0 {
				body, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("reading report: %w", err)
				}
				rules := make(map[string]string, len(fields))
				for _, f := range fields {
					rules[f] = f
				}
				values, err := template.Extract(body, rules)
				if err != nil {
					return err
				}
				if len(fields) == 1 {
					fmt.Fprintln(out, values[fields[0]])
					return nil
				}
				names := make([]string, 0, len(values))
				for name := range values {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(out, "%s = %v\n", name, values[name])
				}
				return nil
			}

			report, err := collector.ReadReport(args[0])
			if err != nil {
				return err
			}
			switch output {
			case "json":
				collector.FormatJSON(out, report)
			case "text":
				collector.FormatText(out, report)
			default:
				return fmt.Errorf("--output must be 'text' or 'json', got %q", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "JSONPath of a value to print, can be repeated")
	return cmd
}
