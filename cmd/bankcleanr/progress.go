package main

import (
	"context"
	"fmt"

	"github.com/Veraticus/bankcleanr/internal/cli"
	"github.com/Veraticus/bankcleanr/internal/lifecycle"
	"github.com/spf13/cobra"
)

func progressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress <job-id>",
		Short: "Resume following a job",
		Long: `Resume waiting for a job that was submitted earlier. By default the job is
assumed to be classifying already; use --stage uploaded for a job whose
upload was never confirmed, which also triggers classification.

The local journal overrides --stage: a job detached before classification
was confirmed is classified first. Jobs the journal already knows to be
finished are reported without contacting the server.`,
		Args: cobra.ExactArgs(1),
		RunE: runProgress,
	}

	cmd.Flags().Bool("tui", false, "Show a full-screen progress view")
	cmd.Flags().String("stage", "terminal", "Where to resume (uploaded, terminal)")
	cmd.Flags().Bool("no-results", false, "Do not show results when the job completes")
	cmd.Flags().Int("max-rows", 50, "Maximum transactions to show (0 for all)")

	return cmd
}

func parseStage(s string) (lifecycle.Stage, error) {
	switch s {
	case "uploaded":
		return lifecycle.StageUploaded, nil
	case "terminal", "":
		return lifecycle.StageTerminal, nil
	default:
		return 0, fmt.Errorf("invalid stage %q: must be uploaded or terminal", s)
	}
}

func runProgress(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	useTUI, _ := cmd.Flags().GetBool("tui")
	noResults, _ := cmd.Flags().GetBool("no-results")
	maxRows, _ := cmd.Flags().GetInt("max-rows")
	stageFlag, _ := cmd.Flags().GetString("stage")

	stage, err := parseStage(stageFlag)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	nav := cli.NewNavigator(nil)
	resume := func(ctx context.Context, ctrl *lifecycle.Controller) error {
		return ctrl.Resume(ctx, jobID, stage)
	}

	var final lifecycle.State
	if useTUI {
		final, err = followWithTUI(cmd.Context(), client, store, nav, cfg, "Job "+jobID, resume)
	} else {
		final, err = followWithSpinner(cmd.Context(), client, store, nav, cfg, resume)
	}

	return afterLifecycle(cmd, client, nav, final, err, !noResults, maxRows)
}
