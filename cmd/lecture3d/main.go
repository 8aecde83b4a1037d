// Command lecture3d presents, serves, builds and exports 3D classroom
// lectures.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ivlev/lecture3d/internal/config"
	"github.com/ivlev/lecture3d/internal/logging"
	"github.com/ivlev/lecture3d/internal/system"
)

// version is set at build time.
var version = "dev"

var (
	configPath string
	logLevel   string
)

// app is what every command starts from.
type app struct {
	cfg *config.Config
	log *logging.Logger
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	system.InitResourceLimits(log.Logger)
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) Close() {
	a.log.Close()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lecture3d",
		Short: "Headless 3D classroom lecture player",
		Long: `lecture3d drives a virtual classroom: a lecturer avatar that speaks
while the lecture audio plays and a whiteboard that shows the current slide.

Use 'lecture3d [command] --help' for more information.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./lecture3d.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newPlayCmd(),
		newServeCmd(),
		newBuildCmd(),
		newExportCmd(),
		newInspectCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
