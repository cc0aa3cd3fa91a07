package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meaningfill/class-sub000/internal/team"
)

func newTeamCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "查看或直接运行营销团队",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出可运行的团队及其阶段",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			c, err := newComponents(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			registry, err := c.teamRegistry()
			if err != nil {
				return err
			}
			for _, name := range registry.Names() {
				pipeline, err := registry.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, strings.Join(pipeline.StageNames(), " → "))
			}
			return nil
		},
	})

	var asJSON bool
	run := &cobra.Command{
		Use:   "run <team> <input...>",
		Short: "同步运行一个团队并输出全部阶段产出",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			c, err := newComponents(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			registry, err := c.teamRegistry()
			if err != nil {
				return err
			}
			pipeline, err := registry.Get(args[0])
			if err != nil {
				return err
			}
			report, err := pipeline.Run(cmd.Context(), strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, asJSON)
		},
	}
	run.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出报告")
	cmd.AddCommand(run)
	return cmd
}

func printReport(w io.Writer, report *team.Report, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	for _, artifact := range report.Artifacts {
		if _, err := fmt.Fprintf(w, "## %s\n\n%s\n\n", artifact.Name, strings.TrimSpace(artifact.Text)); err != nil {
			return err
		}
	}
	return nil
}
