package main

import (
	"fmt"
	"io"
	"time"

	"github.com/Veraticus/bankcleanr/internal/cli"
	"github.com/Veraticus/bankcleanr/internal/lifecycle"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/storage"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recently submitted jobs",
		Long: `List the jobs recorded in the local journal, most recently updated first.
Unfinished jobs can be resumed with 'bankcleanr progress <job-id>'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			jobs, err := store.ListJobs(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			return renderJobs(cmd.OutOrStdout(), jobs, timeNow())
		},
	}

	cmd.Flags().Int("limit", storage.DefaultListLimit, "Maximum jobs to show")

	return cmd
}

func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}

func renderJobs(w io.Writer, jobs []model.JobRecord, now time.Time) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, cli.FormatInfo("No jobs yet. Use 'bankcleanr upload <file>' to submit one."))
		return err
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(cli.SubtleStyle).
		Headers("Job", "File", "Phase", "Status", "Updated").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return cli.TableHeaderStyle
			}
			return cli.TableCellStyle
		})
	for _, j := range jobs {
		phase := lifecycle.Phase(j.Phase)
		desc := phase.Description()
		if j.Failure != "" {
			desc += ": " + j.Failure
		}
		t.Row(j.ID, j.Filename, desc, string(j.LastStatus), formatAge(j.UpdatedAt, now))
	}

	_, err := fmt.Fprintln(w, cli.FormatTitle("Jobs")+"\n\n"+t.String())
	return err
}
