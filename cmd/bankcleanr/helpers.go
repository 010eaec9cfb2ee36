package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Veraticus/bankcleanr/internal/certs"
	"github.com/Veraticus/bankcleanr/internal/cli"
	"github.com/Veraticus/bankcleanr/internal/config"
	"github.com/Veraticus/bankcleanr/internal/jobclient"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/poller"
	"github.com/Veraticus/bankcleanr/internal/results"
	"github.com/Veraticus/bankcleanr/internal/storage"
	"github.com/spf13/viper"
)

var timeNow = time.Now

// loadConfig reads the validated configuration from the global viper.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// initStorage opens the job journal and applies migrations.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func closeStorage(store *storage.SQLiteStorage) {
	if err := store.Close(); err != nil {
		slog.Error("failed to close storage", "error", err)
	}
}

func newClient(cfg *config.Config) (*jobclient.Client, error) {
	opts := []jobclient.Option{jobclient.WithTimeout(cfg.Server.Timeout)}
	if cfg.Server.CAFile != "" {
		pool, err := certs.LoadPool(cfg.Server.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load server.ca_file: %w", err)
		}
		opts = append(opts, jobclient.WithRootCAs(pool))
	}

	client, err := jobclient.New(cfg.Server.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create job client: %w", err)
	}
	return client, nil
}

func newPoller(cfg *config.Config, client *jobclient.Client) *poller.Poller {
	return poller.New(client,
		poller.WithInterval(cfg.Poll.Interval),
		poller.WithMaxWait(cfg.Poll.MaxWait),
	)
}

// loadResults resolves every result slot for jobID. Slot failures are
// logged and returned so the caller can render them.
func loadResults(ctx context.Context, client *jobclient.Client, jobID string) (model.Results, map[model.Slot]error) {
	agg := results.NewAggregator(client, jobID, results.WithSlotObserver(func(slot model.Slot, _ model.Results) {
		slog.Debug("Result slot resolved", "job_id", jobID, "slot", slot)
	}))
	defer agg.Close()

	report := agg.Load(ctx)
	for _, slot := range report.Failed() {
		slog.Warn("Result slot unavailable", "job_id", jobID, "slot", slot, "error", report.Errors[slot])
	}
	return agg.Snapshot(), report.Errors
}

// showResults loads and renders the results of jobID.
func showResults(ctx context.Context, w io.Writer, client *jobclient.Client, jobID string, maxRows int) (model.Results, error) {
	res, failures := loadResults(ctx, client, jobID)
	err := cli.RenderResults(w, res, cli.RenderOptions{
		Now:             timeNow(),
		Base:            client.BaseURL(),
		Failures:        failures,
		MaxTransactions: maxRows,
	})
	if err != nil {
		return res, fmt.Errorf("failed to render results: %w", err)
	}
	return res, nil
}
