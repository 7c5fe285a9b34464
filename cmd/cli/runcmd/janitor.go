package runcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"vidforge/internal/config"
	"vidforge/internal/handlers"
	"vidforge/internal/janitor"
	"vidforge/internal/store"
)

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Starts the stall recovery and retention cleanup process",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running janitor process")
		conf := config.FromCobraCmd(cmd)
		zerolog.SetGlobalLevel(conf.GetLogLevel())

		db := mustDatabase(conf)
		notifier := mustNotifier(conf)

		jobStore := store.NewPostgresStore(db)
		registry := handlers.NewRegistry(handlers.Deps{
			Store:    jobStore,
			Paths:    buildPaths(conf),
			Notifier: notifier,
			Live:     handlers.NewMemoryLiveSessions(),
		})

		ctx, cancel := context.WithCancel(context.Background())
		probe := janitor.NewStallProbe(
			jobStore,
			registry,
			time.Duration(conf.Jobs.StallTimeoutSec)*time.Second,
			time.Duration(conf.Jobs.StallIntervalSec)*time.Second,
		)

		retention, err := janitor.NewRetention(jobStore, conf.Jobs.RetentionDays, conf.Jobs.CleanupCron)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid cleanup cron expression")
		}

		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("Could not close db cleanly on shutdown: %v\n", err)
			}

			if err := notifier.Close(); err != nil {
				log.Printf("Could not close notifier cleanly on shutdown: %v\n", err)
			}

			cancel()
			probe.Stop()
			retention.Stop()
		}()

		probe.Start(ctx)
		retention.Start()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		log.Info().Msgf("Received signal %v, shutting down...", <-sigCh)
	},
}
