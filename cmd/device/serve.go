package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/xelth-com/posync/internal/config"
	"github.com/xelth-com/posync/internal/handlers"
	"github.com/xelth-com/posync/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the device agent and its localhost API",
	Long: `Run the device agent. The POS UI talks to the localhost API:

  GET    /api/entities/{table}        list (server first, local mirror when offline)
  POST   /api/entities/{table}        create
  PATCH  /api/entities/{table}/{id}   update
  DELETE /api/entities/{table}/{id}   delete
  GET    /api/roles/{id}/permissions  role permissions (local mirror)
  PUT    /api/roles/{id}/permissions  replace role permissions
  GET    /api/sync/status             connectivity and queue state
  POST   /api/sync/push               push the change log now

The agent also listens on the server's /ws endpoint and pushes when the
server sends sync.requested.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a.facade.Start()
		if a.cfg.Sync.SyncOnStartup {
			// Going online pushes whatever was queued while the agent was down
			a.monitor.CheckNow(ctx)
		}
		a.monitor.SetHealthCheckInterval(seconds(a.cfg.Sync.HealthCheckInterval))
		a.monitor.Start(ctx)

		// The server asks for a push through POST /api/devices/{deviceId}/sync
		listener := websocket.NewListener(a.monitor.CurrentRoute, a.cfg.Sync.DeviceToken, a.cfg.DeviceID, func(e websocket.Event) {
			if e.Type == "sync.requested" {
				a.facade.TriggerPush("server request")
			}
		})
		go listener.Run(ctx)

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = "127.0.0.1:" + a.cfg.Port
		}
		server := &http.Server{
			Addr:              addr,
			Handler:           handlers.NewDeviceRouter(a.facade),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.WithFields(logrus.Fields{
				"addr":   addr,
				"org":    a.cfg.OrganizationID,
				"device": a.cfg.DeviceID,
			}).Info("Device agent listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return fmt.Errorf("device API: %w", err)
		}

		log.Info("Shutting down device agent...")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:$DEVICE_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func routeTimeout(cfg *config.SyncConfig) time.Duration {
	timeout := 30 * time.Second
	for _, r := range cfg.Routes {
		if d := seconds(r.Timeout) * 6; r.Timeout > 0 && d > timeout {
			timeout = d
		}
	}
	return timeout
}
