package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"storyloom/pkg/store"
	"storyloom/pkg/utils"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the run ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runs, err := store.OpenRuns(cfg.RunsDB())
			if err != nil {
				return err
			}
			defer runs.Close()

			list, err := runs.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, r := range list {
				rows = append(rows, []string{
					r.ID,
					r.StoryID,
					string(r.Status),
					progressLabel(r),
					r.CreatedAt.Local().Format(time.DateTime),
					utils.LimitStr(r.Error, 40),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Story", "Status", "Progress", "Created", "Error"},
				rows,
				nil,
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	return cmd
}

func progressLabel(r store.Run) string {
	if r.TotalSteps == 0 {
		return "-"
	}
	label := strconv.Itoa(r.CurrentStep) + "/" + strconv.Itoa(r.TotalSteps)
	if r.StepLabel != "" {
		label += " " + r.StepLabel
	}
	return label
}
