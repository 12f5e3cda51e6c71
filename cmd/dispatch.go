package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/emsdispatch/config"
	"github.com/kilianp07/emsdispatch/core/dispatch"
	"github.com/kilianp07/emsdispatch/infra/logger"
	"github.com/kilianp07/emsdispatch/infra/routing"
	"github.com/kilianp07/emsdispatch/infra/store"
)

var (
	dispatchIncident string
	dispatchVehicle  string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Assign a vehicle to an incident in the configured store",
	Long: "Assigns --vehicle to --incident. Without --vehicle the nearest " +
		"available vehicle is chosen.",
	RunE: dispatchIncidentCmd,
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchIncident, "incident", "", "incident id")
	dispatchCmd.Flags().StringVar(&dispatchVehicle, "vehicle", "", "vehicle id (auto-assign when empty)")
	_ = dispatchCmd.MarkFlagRequired("incident")
	rootCmd.AddCommand(dispatchCmd)
}

func dispatchIncidentCmd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Logging.Apply(); err != nil {
		return err
	}
	logg := logger.New("dispatch-command")
	st, err := store.Open(ctx, cfg.Store, logg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logg.Errorf("store close: %v", err)
		}
	}()

	manager, err := dispatch.NewManager(cfg.Dispatch, st, nil, routing.NewProvider(cfg.Routing, logg), nil, logg)
	if err != nil {
		return fmt.Errorf("dispatch manager: %w", err)
	}
	var res dispatch.Assignment
	if dispatchVehicle == "" {
		res, err = manager.AutoAssign(ctx, dispatchIncident)
	} else {
		res, err = manager.AssignVehicle(ctx, dispatchIncident, dispatchVehicle)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
