package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xelth-com/posync/internal/changelog"
	"github.com/xelth-com/posync/internal/config"
	"github.com/xelth-com/posync/internal/database"
	"github.com/xelth-com/posync/internal/repository"
	"github.com/xelth-com/posync/internal/store"
	"github.com/xelth-com/posync/internal/sync"
)

var log = config.GetLogger()

var rootCmd = &cobra.Command{
	Use:   "posync-device",
	Short: "Offline-first sync agent for a POS terminal",
	Long: `posync-device keeps a local mirror of the organization's data on the
terminal, queues writes while the server is unreachable and pushes them when
connectivity returns.

Configuration is read from the environment (and .env):
  ORGANIZATION_ID     organization served by this terminal (required)
  DEVICE_ID           terminal identifier (default pos-<hostname>)
  DEVICE_DB_PATH      local database file
  SYNC_SERVER_URL     primary server route
  SYNC_FALLBACK_URL   fallback server route
  SYNC_DEVICE_TOKEN   bearer token issued for this terminal`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// agent is the wired device stack shared by the commands
type agent struct {
	cfg     *config.DeviceConfig
	db      *database.DB
	store   *store.Store
	changes *changelog.Log
	monitor *sync.ConnectionManager
	facade  *repository.Facade
}

func openAgent() (*agent, error) {
	cfg, err := config.LoadDevice()
	if err != nil {
		return nil, err
	}
	config.ConfigureLogger(cfg.Log)

	db, err := database.OpenLocal(cfg.DBPath, false)
	if err != nil {
		return nil, err
	}

	st := store.New(db.DB)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	changes := changelog.New(db.DB, cfg.Sync.MaxAttempts)
	if err := changes.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate change log: %w", err)
	}

	monitor := sync.NewConnectionManager(cfg.Sync.Routes)
	client := sync.NewClient(monitor, cfg.Sync.DeviceToken, routeTimeout(cfg.Sync))
	facade := repository.New(cfg.OrganizationID, st, changes, monitor, client, repository.Options{
		PushTimeout: seconds(cfg.Sync.PushTimeout),
	})

	return &agent{
		cfg:     cfg,
		db:      db,
		store:   st,
		changes: changes,
		monitor: monitor,
		facade:  facade,
	}, nil
}

func (a *agent) Close() {
	a.facade.Close()
	a.monitor.Stop()
	if err := a.db.Close(); err != nil {
		log.WithError(err).Warn("Failed to close local database")
	}
}
