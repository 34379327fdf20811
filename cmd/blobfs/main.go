// Command blobfs browses an object store as a hierarchical filesystem and
// mounts it over FUSE.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/brettbedarf/blobfs/backends"
	"github.com/brettbedarf/blobfs/config"
	"github.com/brettbedarf/blobfs/filesystem"
	"github.com/brettbedarf/blobfs/internal/util"
)

type globalFlags struct {
	configPath string
	verbose    int
	backend    string
	roots      []string
}

var (
	flags globalFlags

	// filesystems opened by this process, keyed by URI
	openFilesystems = filesystem.NewRegistry()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "blobfs",
		Short:         "Hierarchical filesystem over a flat object store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to a .yaml, .json or .toml config file")
	pf.IntVarP(&flags.verbose, "verbose", "v", 0, "Log verbosity between 1 (error) and 5 (trace); overrides the config file")
	pf.StringVarP(&flags.backend, "backend", "b", "", "Backend type (memory or s3); overrides the config file")
	pf.StringSliceVarP(&flags.roots, "root", "r", nil, "Container exposed as a root; repeatable")

	root.AddCommand(
		newLsCmd(),
		newStatCmd(),
		newMkdirCmd(),
		newRmCmd(),
		newCatCmd(),
		newPutCmd(),
		newCpCmd(),
		newApplyCmd(),
		newMountCmd(),
	)
	return root
}

// loadConfig reads the config file, if any, and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if flags.configPath != "" {
		var err error
		if cfg, err = config.NewConfigFromFile(flags.configPath); err != nil {
			return nil, err
		}
	}
	override := &config.ConfigOverride{}
	if cmd.Flags().Changed("verbose") {
		override.LogLvl = &flags.verbose
	}
	if flags.backend != "" {
		override.Backend = &flags.backend
	}
	if len(flags.roots) > 0 {
		override.Roots = flags.roots
	}
	cfg.Merge(override)
	return cfg, cfg.Validate()
}

// openFS builds the configured backend and opens a filesystem over it.
func openFS(cmd *cobra.Command) (*filesystem.FileSystem, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	util.InitializeLogger(cfg.LogLvl)
	logger := util.GetLogger("main")

	reg := backends.NewRegistry()
	backends.RegisterBuiltins(reg)
	if cfg.Metrics {
		reg.UseMetrics(backends.NewMetrics(prometheus.DefaultRegisterer))
	}
	store, err := reg.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("backend %q: %w", cfg.Backend, err)
	}
	uri := fmt.Sprintf("%s://%s", cfg.Backend, cfg.DefaultRoot)
	fs, err := filesystem.Open(cmdContext(cmd), openFilesystems, uri, store, cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("uri", uri).Strs("roots", cfg.Roots).Msg("Filesystem ready")
	return fs, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
