// Package server implements the lock server command
package server

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/github/deploylock/cmd/internal/setup"
	"github.com/github/deploylock/pkg/local"
	"github.com/github/deploylock/pkg/server"
)

const (
	long = `
starts a deploylock server.

The server exposes the lock, unlock and check operations over HTTP so that workflows can share a lock
store without accessing it directly. Metrics are exposed at /metrics.

The server takes the actor of each request as given. Set server.token (DEPLOYLOCK_SERVER_TOKEN) to
require clients to send it as a bearer token, and run the server behind an authenticating proxy when
clients outside the workflows can reach it.
`

	example = `
# start the server using a redis store and lease
deploylock server --store redis --lease redis --redis-addr localhost:6379

# start the server using a local directory as store
deploylock server --store file --store-dir /var/lib/deploylock --addr 0.0.0.0:8000
`
)

// New creates new cobra command for the server command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "server",
		Short:   "deploylock lock server",
		Long:    long,
		Example: example,
		// prevent the usage help to printed to stderr when an error is reported by a subcommand
		SilenceUsage: true,
		// this is needed to prevent cobra to print errors reported by subcommands in the stderr
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := setup.Config(cmd)
			if err != nil {
				return err
			}

			log, err := setup.Logger(conf)
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			lockSrv, err := local.NewLocker(cmd.Context(), conf, local.Options{
				Log:        log,
				Registerer: registry,
			})
			if err != nil {
				return fmt.Errorf("creating local lock service  %w", err)
			}

			apiConfig := server.APIServerConfig{
				LockService: lockSrv,
				Log:         log,
				Metrics:     registry,
				Token:       conf.Server.Token,
			}
			lockAPI := server.NewAPIServer(apiConfig)

			if conf.Server.Token == "" {
				log.Warn("requests are not authenticated")
			}

			log.Info("starting server", "address", conf.Server.Addr)
			err = http.ListenAndServe(conf.Server.Addr, lockAPI) //nolint:gosec
			if err != nil {
				log.Info("server ended", "error", err.Error())
			}
			log.Info("ending server")

			return nil
		},
	}

	cmd.Flags().String("addr", "", "address the server will listen")

	return cmd
}
