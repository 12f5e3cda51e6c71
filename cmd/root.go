package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/emsdispatch/app"
	"github.com/kilianp07/emsdispatch/config"
	"github.com/kilianp07/emsdispatch/infra/logger"
)

var (
	cfgPath string
	listen  string
)

var rootCmd = &cobra.Command{
	Use:   "emsdispatch",
	Short: "Emergency vehicle dispatch service",
	Long:  "Serves the dispatch API and the realtime websocket, relays tracking data from the upstream service and plays back vehicle routes.",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.Flags().StringVar(&listen, "listen", "", "override http.listen")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listen != "" {
		cfg.HTTP.Listen = listen
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
