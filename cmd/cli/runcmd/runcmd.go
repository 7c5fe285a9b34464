package runcmd

import (
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"vidforge/internal/config"
	"vidforge/internal/database"
	"vidforge/internal/federation"
	"vidforge/internal/paths"
)

var Command = &cobra.Command{
	Use:   "run",
	Short: "Run service",
	Long:  "Run service from a selected list of services",
}

func init() {
	Command.AddCommand(serverCmd)
	Command.AddCommand(janitorCmd)
}

func mustDatabase(conf *config.VFConfig) *sqlx.DB {
	db, err := database.New(conf)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	return db
}

func mustNotifier(conf *config.VFConfig) federation.Notifier {
	if conf.Queue.Host == "" {
		return federation.NopNotifier{}
	}

	notifier, err := federation.NewRedisNotifier(conf.Queue.Host, conf.Queue.Password, conf.Queue.DB)
	if err != nil {
		log.Fatalf("Could not connect to redis: %v", err)
	}
	return notifier
}

func buildPaths(conf *config.VFConfig) *paths.Manager {
	backend := paths.Backend(conf.Storage.Backend)
	if backend == paths.BackendObject {
		return paths.NewManager(backend, conf.Storage.Root, conf.Storage.TmpDir, paths.NewLocalFS(conf.Storage.Root))
	}
	return paths.NewManager(paths.BackendFilesystem, conf.Storage.Root, conf.Storage.TmpDir, nil)
}
