package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Veraticus/bankcleanr/internal/cli"
	"github.com/Veraticus/bankcleanr/internal/config"
	"github.com/Veraticus/bankcleanr/internal/export"
	"github.com/Veraticus/bankcleanr/internal/jobclient"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/service"
	"github.com/Veraticus/bankcleanr/internal/sheets"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results <job-id>",
		Short: "Show the results of a completed job",
		Long: `Fetch the summary, transactions, costs and signed download links of a
completed job. Each part is fetched independently; a part that cannot be
fetched is shown as unavailable while the rest are still shown.

Results can also be exported to an Excel workbook or a Google Sheet, and
the signed artifacts can be downloaded to a directory.`,
		Args: cobra.ExactArgs(1),
		RunE: runResults,
	}

	cmd.Flags().String("xlsx", "", "Export results to this Excel file")
	cmd.Flags().Bool("sheets", false, "Export results to Google Sheets")
	cmd.Flags().String("download", "", "Download the signed artifacts into this directory")
	cmd.Flags().Int("max-rows", 50, "Maximum transactions to show (0 for all)")

	return cmd
}

func runResults(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jobID := args[0]
	xlsxPath, _ := cmd.Flags().GetString("xlsx")
	toSheets, _ := cmd.Flags().GetBool("sheets")
	downloadDir, _ := cmd.Flags().GetString("download")
	maxRows, _ := cmd.Flags().GetInt("max-rows")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	res, err := showResults(ctx, cmd.OutOrStdout(), client, jobID, maxRows)
	if err != nil {
		return err
	}

	var exporters []service.ResultExporter
	if xlsxPath != "" {
		w, err := export.NewXLSXWriter(config.ExpandPath(xlsxPath), export.WithLinkBase(client.BaseURL()))
		if err != nil {
			return err
		}
		exporters = append(exporters, w)
	}
	if toSheets {
		sheetsCfg, err := config.LoadSheetsConfig(viper.GetViper())
		if err != nil {
			return fmt.Errorf("failed to load sheets config: %w", err)
		}
		w, err := sheets.NewWriter(ctx, *sheetsCfg, sheets.WithLinkBase(client.BaseURL()))
		if err != nil {
			return fmt.Errorf("failed to create sheets writer: %w", err)
		}
		exporters = append(exporters, w)
	}

	for _, e := range exporters {
		if err := e.Export(ctx, res); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
	}
	if len(exporters) > 0 {
		fmt.Println(cli.FormatSuccess(fmt.Sprintf("Exported results to %d destination(s)", len(exporters)))) //nolint:forbidigo // User-facing output
	}

	if downloadDir != "" {
		return downloadArtifacts(ctx, client, res, config.ExpandPath(downloadDir))
	}
	return nil
}

// downloadArtifacts saves every renderable link of res into dir.
func downloadArtifacts(ctx context.Context, client *jobclient.Client, res model.Results, dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	for _, kind := range []model.LinkKind{model.LinkSummary, model.LinkReport} {
		link := res.Link(kind)
		if link == nil || !link.Renderable(timeNow()) {
			slog.Warn("Skipping artifact without a usable link", "kind", kind)
			continue
		}
		path, err := downloadArtifact(ctx, client, *link, dir, res.JobID)
		if err != nil {
			return err
		}
		fmt.Println(cli.FormatSuccess("Saved " + path)) //nolint:forbidigo // User-facing output
	}
	return nil
}

func downloadArtifact(ctx context.Context, client *jobclient.Client, link model.DownloadLink, dir, jobID string) (string, error) {
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	name, err := client.Download(ctx, link, tmp)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", link.Kind, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", link.Kind, err)
	}

	name = filepath.Base(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = fmt.Sprintf("%s-%s", link.Kind, jobID)
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", path, err)
	}
	return path, nil
}
