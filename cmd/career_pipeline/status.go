package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/career-pipeline/internal/pipeline"
	"github.com/jonathan/career-pipeline/internal/types"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
	timeLayout       = "2006-01-02 15:04:05"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status RUN_ID",
		Short: "Show the stored state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			st, closeStore, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			rec, err := st.GetRun(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("run %s: %w", runID, pipeline.ErrRunNotFound)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRun(rec))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full run record as JSON")
	return cmd
}

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var (
		userFlag string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List a user's most recent runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := parseUserFlag(userFlag)
			if err != nil {
				return err
			}
			if limit < 1 || limit > maxRunsLimit {
				return fmt.Errorf("--limit must be between 1 and %d", maxRunsLimit)
			}
			st, closeStore, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			runs, err := st.ListRunsByUser(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No runs for user %s\n", userID)
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID.String(),
					string(run.Status),
					strconv.Itoa(run.CurrentStage),
					truncate(pipeline.RoleTitle(run.Snapshot.RoleDescription), 40),
					run.CreatedAt.Local().Format(timeLayout),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Run", "Status", "Stage", "Role", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "User id whose runs to list (defaults to the local user)")
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultRunsLimit, "Maximum number of runs to show")
	return cmd
}

// renderRun summarizes a run record and the headline results in its snapshot
func renderRun(rec *types.RunRecord) string {
	fields := [][2]string{
		{"Run", rec.ID.String()},
		{"User", rec.UserID.String()},
		{"Status", string(rec.Status)},
		{"Stage", fmt.Sprintf("%d/%d", rec.CurrentStage, types.FinalStage)},
		{"Role", pipeline.RoleTitle(rec.Snapshot.RoleDescription)},
		{"Created", rec.CreatedAt.Local().Format(timeLayout)},
		{"Updated", rec.UpdatedAt.Local().Format(timeLayout)},
	}
	if rec.CompletedAt != nil {
		fields = append(fields, [2]string{"Completed", rec.CompletedAt.Local().Format(timeLayout)})
	}
	if len(rec.MissingFields) > 0 {
		fields = append(fields, [2]string{"Missing", strings.Join(rec.MissingFields, ", ")})
	}

	snap := rec.Snapshot
	if snap.ATS != nil {
		fields = append(fields, [2]string{"ATS score", degraded(strconv.Itoa(snap.ATS.Score), snap.ATS.Error)})
	}
	if b := snap.SalaryBenchmark; b != nil {
		salary := fmt.Sprintf("%d / %d / %d %s", b.SalaryMin, b.SalaryMedian, b.SalaryMax, b.Currency)
		fields = append(fields, [2]string{"Salary min/median/max", degraded(salary, b.Error)})
	}
	if snap.JobTier != nil {
		fields = append(fields, [2]string{"Tier", *snap.JobTier})
	}
	if len(snap.MissingSkills) > 0 {
		fields = append(fields, [2]string{"Missing skills", strings.Join(snap.MissingSkills, ", ")})
	}
	if len(snap.Roadmap) > 0 {
		weeks := 0
		for _, p := range snap.Roadmap {
			weeks += p.EstimatedWeeks
		}
		fields = append(fields, [2]string{"Roadmap", fmt.Sprintf("%d phases, %d weeks", len(snap.Roadmap), weeks)})
	}
	if len(snap.InterviewQuestions) > 0 {
		fields = append(fields, [2]string{"Interview questions", strconv.Itoa(len(snap.InterviewQuestions))})
	}
	for i, entry := range rec.ErrorLog {
		fields = append(fields, [2]string{"Error " + strconv.Itoa(i+1), truncate(entry, 80)})
	}
	return renderFields(fields)
}

func degraded(value, errMsg string) string {
	if errMsg == "" {
		return value
	}
	return value + " (degraded: " + errMsg + ")"
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
