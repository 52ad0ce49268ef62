package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ryosukesatoh/paperwatch/internal/config"
	"github.com/ryosukesatoh/paperwatch/internal/notifier"
	"github.com/ryosukesatoh/paperwatch/internal/query"
	"github.com/ryosukesatoh/paperwatch/internal/runner"
	"github.com/ryosukesatoh/paperwatch/internal/source"
	"github.com/ryosukesatoh/paperwatch/internal/store"
	"github.com/ryosukesatoh/paperwatch/internal/summarizer"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// pipeline holds everything a run needs. Close releases the store.
type pipeline struct {
	runner *runner.Runner
	store  store.Store
}

func (p *pipeline) Close() error { return p.store.Close() }

// buildPipeline wires sources, store, summarizer and notifiers from cfg.
// web is nil outside serve mode.
func buildPipeline(cfg *config.Config, web *notifier.WebNotifier) (*pipeline, error) {
	windows, err := cfg.WindowDurations()
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, err
	}

	notifiers, err := notifier.New(cfg.Notifier, web)
	if err != nil {
		st.Close()
		return nil, err
	}

	opts := runner.Options{
		Topics:      query.Topics(cfg.Topics),
		Windows:     windows,
		Store:       st,
		Gateway:     summarizer.New(cfg.Summarizer),
		Notifiers:   notifiers,
		Mode:        cfg.Notifier.Mode,
		Persist:     cfg.Store.Persist,
		NotifyEmpty: cfg.NotifyEmpty,
	}
	if len(cfg.Topics) > 0 {
		opts.Feed = source.NewArxivSource(cfg.Feed.BaseURL, cfg.Feed.MaxResults, cfg.Feed.Timeout, cfg.Feed.UserAgent)
	}
	if cfg.Listing.Enabled {
		sel := source.Selectors(cfg.Listing.Selectors)
		opts.Listing = source.NewListingSource(cfg.Listing.Name, cfg.Listing.BaseURL, sel, cfg.Listing.Timeout)
		opts.ScrapeTerms = cfg.Listing.Terms
		opts.StrictScrape = cfg.Listing.Strict
	}

	return &pipeline{runner: runner.New(opts), store: st}, nil
}

func describeReport(rep *runner.Report) string {
	return fmt.Sprintf("run %s: state=%s window=%s papers=%d delivered=%d failed=%d",
		rep.RunID, rep.State, rep.Window, len(rep.Papers), rep.Delivered, rep.Failed)
}
