package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/ryosukesatoh/paperwatch/internal/logger"
	"github.com/ryosukesatoh/paperwatch/internal/notifier"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline on a cron schedule and serve recent messages over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.Named("serve")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		var web *notifier.WebNotifier
		if cfg.Notifier.Has("web") {
			web = notifier.NewWebNotifier(cfg.Web.Addr)
			if err := web.Start(); err != nil {
				return err
			}
		}

		p, err := buildPipeline(cfg, web)
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Runs never overlap; a tick that fires mid-run is skipped.
		var mu sync.Mutex
		runOnce := func(trigger string) {
			if !mu.TryLock() {
				log.Warn().Str("trigger", trigger).Msg("previous run still in progress, skipping")
				return
			}
			defer mu.Unlock()

			log.Info().Str("trigger", trigger).Msg("starting run")
			rep, err := p.runner.Run(ctx)
			if err != nil {
				log.Error().Err(err).Msg("run failed")
			}
			if rep != nil {
				log.Info().Msg(describeReport(rep))
				if web != nil {
					web.SetStatus(rep)
				}
			}
		}

		if cfg.RunOnStart {
			runOnce("startup")
		}

		c := cron.New()
		if _, err := c.AddFunc(cfg.Schedule, func() { runOnce("cron") }); err != nil {
			return fmt.Errorf("failed to set up cron schedule %q: %w", cfg.Schedule, err)
		}
		c.Start()
		log.Info().Str("schedule", cfg.Schedule).Msg("scheduler started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")

		cancel()
		<-c.Stop().Done()

		if web != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := web.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("web server shutdown error")
			}
		}

		log.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
