package main

import (
	"errors"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/brettbedarf/blobfs/internal/util"
	"github.com/brettbedarf/blobfs/server"
)

func newMountCmd() *cobra.Command {
	var (
		umount      bool
		nodesDef    string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Mount the configured containers over FUSE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mnt := args[0]
			fs, err := openFS(cmd)
			if err != nil {
				return err
			}
			defer fs.Close()
			logger := util.GetLogger("main")
			logger.Info().Str("mnt", mnt).Str("uri", fs.URI()).Msg("BlobFS server initializing")

			// Try unmount if requested
			if umount {
				// we ignore error here if not already mounted
				exec.Command("fusermount", "-u", mnt).Run() // nolint:errcheck
			}

			if metricsAddr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.Handler())
					if err := http.ListenAndServe(metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error().Err(err).Str("addr", metricsAddr).Msg("Metrics listener stopped")
					}
				}()
			}

			if nodesDef != "" {
				// partially seeded trees are still mounted
				if err := applyNodes(cmd, fs, nodesDef); err != nil {
					logger.Warn().Err(err).Str("nodes", nodesDef).Msg("Nodes file not fully applied")
				}
			} else {
				logger.Debug().Msg("No nodes file provided")
			}

			srv := server.New(fs)
			if err := srv.Serve(mnt); err != nil {
				return err
			}

			// Setup signal handling for graceful shutdown
			signalChan := make(chan os.Signal, 1)
			signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			defer signal.Stop(signalChan)

			logger.Info().Str("mountpoint", mnt).Msg("Filesystem mounted successfully")

			unmounted := make(chan struct{})
			go func() {
				srv.Wait()
				close(unmounted)
			}()

			select {
			case sig := <-signalChan:
				logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting filesystem")
				if err := srv.Unmount(); err != nil {
					logger.Error().Err(err).Msg("Failed to unmount filesystem")
					return err
				}
				logger.Info().Msg("Filesystem unmounted successfully")
			case <-unmounted:
				logger.Info().Msg("Filesystem unmounted externally")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&umount, "umount", "u", false,
		"Unmount the fs first if needed before mounting again. Useful for debuggers that don't exit properly.")
	cmd.Flags().StringVarP(&nodesDef, "nodes", "n", "", "Path to a nodes def file seeded before mounting")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address, i.e. :9090")
	return cmd
}
