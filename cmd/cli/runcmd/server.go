package runcmd

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"vidforge/internal/api"
	"vidforge/internal/config"
	"vidforge/internal/handlers"
	"vidforge/internal/registry"
	"vidforge/internal/store"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the API server",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running API server process")
		conf := config.FromCobraCmd(cmd)
		zerolog.SetGlobalLevel(conf.GetLogLevel())

		db := mustDatabase(conf)
		notifier := mustNotifier(conf)

		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("Could not close db cleanly on shutdown: %v\n", err)
			}

			if err := notifier.Close(); err != nil {
				log.Printf("Could not close notifier cleanly on shutdown: %v\n", err)
			}
		}()

		jobStore := store.NewPostgresStore(db)
		reg := registry.New(jobStore)
		deps := handlers.Deps{
			Store:    jobStore,
			Paths:    buildPaths(conf),
			Notifier: notifier,
			Live:     handlers.NewMemoryLiveSessions(),
		}
		service := handlers.NewService(jobStore, reg, handlers.NewRegistry(deps))

		server := api.New(context.Background(), service, reg, jobStore, conf)
		if err := server.Run(); err != nil {
			log.Fatal().Err(err).Msg("API server failed")
		}
	},
}
