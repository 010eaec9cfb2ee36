package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Veraticus/bankcleanr/internal/cli"
	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/config"
	"github.com/Veraticus/bankcleanr/internal/jobclient"
	"github.com/Veraticus/bankcleanr/internal/lifecycle"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/service"
	"github.com/Veraticus/bankcleanr/internal/tui"
	"github.com/spf13/cobra"
)

func uploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a batch of transactions and follow the job",
		Long: `Upload a JSON Lines batch of transactions, trigger classification and wait
until the job completes or fails. Results are shown once the job completes.

Interrupting the command leaves the job running on the server; pick it back
up with 'bankcleanr progress <job-id>'.`,
		Args: cobra.ExactArgs(1),
		RunE: runUpload,
	}

	cmd.Flags().Bool("tui", false, "Show a full-screen progress view")
	cmd.Flags().Bool("no-results", false, "Do not show results when the job completes")
	cmd.Flags().Int("max-rows", 50, "Maximum transactions to show (0 for all)")

	return cmd
}

func readBatch(path string) (model.Batch, error) {
	if path == "" {
		return model.Batch{}, common.NewValidationError("file", "", common.ErrNoFileSelected)
	}
	content, err := os.ReadFile(config.ExpandPath(path))
	if err != nil {
		return model.Batch{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return model.Batch{Filename: filepath.Base(path), Content: content}, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	useTUI, _ := cmd.Flags().GetBool("tui")
	noResults, _ := cmd.Flags().GetBool("no-results")
	maxRows, _ := cmd.Flags().GetInt("max-rows")

	batch, err := readBatch(args[0])
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

	var final lifecycle.State
	if useTUI {
		final, err = followWithTUI(cmd.Context(), client, store, nav, cfg, "Classifying "+batch.Filename,
			func(ctx context.Context, ctrl *lifecycle.Controller) error {
				_, err := ctrl.Submit(ctx, batch)
				return err
			})
	} else {
		final, err = followWithSpinner(cmd.Context(), client, store, nav, cfg,
			func(ctx context.Context, ctrl *lifecycle.Controller) error {
				_, err := ctrl.Submit(ctx, batch)
				return err
			})
	}

	return afterLifecycle(cmd, client, nav, final, err, !noResults, maxRows)
}

// startFunc begins a lifecycle run on ctrl.
type startFunc func(ctx context.Context, ctrl *lifecycle.Controller) error

func newController(client *jobclient.Client, store service.JobStore, nav *cli.Navigator, cfg *config.Config, observe func(lifecycle.State)) *lifecycle.Controller {
	return lifecycle.NewController(client, nav,
		lifecycle.WithPoller(newPoller(cfg, client)),
		lifecycle.WithStore(store),
		lifecycle.WithObserver(observe),
	)
}

func followWithSpinner(ctx context.Context, client *jobclient.Client, store service.JobStore, nav *cli.Navigator, cfg *config.Config, start startFunc) (lifecycle.State, error) {
	interrupt := cli.NewInterruptHandler(os.Stderr)
	ctx, stop := interrupt.HandleInterrupts(ctx)
	defer stop()

	progress := cli.NewProgressReporter(os.Stderr)
	ctrl := newController(client, store, nav, cfg, func(st lifecycle.State) {
		progress.Observe(st)
		if st.JobID != "" {
			interrupt.SetJobID(st.JobID)
		}
	})
	defer ctrl.Dispose()

	if err := start(ctx, ctrl); err != nil {
		progress.Finish(ctrl.State())
		return ctrl.State(), err
	}

	final, err := ctrl.Wait(ctx)
	progress.Finish(final)
	if interrupt.WasInterrupted() {
		return final, context.Canceled
	}
	return final, err
}

func followWithTUI(ctx context.Context, client *jobclient.Client, store service.JobStore, nav *cli.Navigator, cfg *config.Config, title string, start startFunc) (lifecycle.State, error) {
	prog := tui.NewProgram(title)
	ctrl := newController(client, store, nav, cfg, prog.Observe)
	defer ctrl.Dispose()

	final, err := prog.Run(ctx, func(ctx context.Context) (lifecycle.State, error) {
		if err := start(ctx, ctrl); err != nil {
			return ctrl.State(), err
		}
		return ctrl.Wait(ctx)
	})

	if errors.Is(err, context.Canceled) && !final.Phase.IsTerminal() && final.JobID != "" {
		fmt.Println(cli.FormatInfo("Detached. Resume with: bankcleanr progress " + final.JobID)) //nolint:forbidigo // User-facing output
	}
	return final, err
}

// afterLifecycle reports the outcome of a run and shows results when the
// controller navigated to them.
func afterLifecycle(cmd *cobra.Command, client *jobclient.Client, nav *cli.Navigator, final lifecycle.State, runErr error, show bool, maxRows int) error {
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return nil
		}
		return runErr
	}

	select {
	case jobID := <-nav.Results():
		if !show {
			fmt.Println(cli.FormatInfo("View results with: bankcleanr results " + jobID)) //nolint:forbidigo // User-facing output
			return nil
		}
		_, err := showResults(cmd.Context(), cmd.OutOrStdout(), client, jobID, maxRows)
		return err
	default:
	}

	if final.Phase == lifecycle.PhaseCompleted {
		fmt.Println(cli.FormatInfo("View results with: bankcleanr results " + final.JobID)) //nolint:forbidigo // User-facing output
	}
	return nil
}
