package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/emsdispatch/config"
	"github.com/kilianp07/emsdispatch/core/model"
	corestore "github.com/kilianp07/emsdispatch/core/store"
	"github.com/kilianp07/emsdispatch/infra/logger"
	"github.com/kilianp07/emsdispatch/infra/store"
)

var fleetStatuses []string

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Fleet related commands",
}

var fleetLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the vehicles of the configured store",
	RunE:  runFleetLs,
}

func init() {
	fleetLsCmd.Flags().StringSliceVar(&fleetStatuses, "status", nil, "only list vehicles with these statuses")
	fleetCmd.AddCommand(fleetLsCmd)
	rootCmd.AddCommand(fleetCmd)
}

func runFleetLs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	var f corestore.VehicleFilter
	for _, s := range fleetStatuses {
		st, err := model.ParseVehicleStatus(s)
		if err != nil {
			return err
		}
		f.Statuses = append(f.Statuses, st)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := store.Open(ctx, cfg.Store, logger.NopLogger{})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			if _, ferr := fmt.Fprintf(cmd.ErrOrStderr(), "error while closing store: %v\n", err); ferr != nil {
				fmt.Println("failed to write to stderr:", ferr)
			}
		}
	}()
	vehicles, err := st.ListVehicles(ctx, f)
	if err != nil {
		return err
	}
	return printFleet(cmd, vehicles)
}

func printFleet(cmd *cobra.Command, vehicles []model.Vehicle) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tLOCATION\tINCIDENT")
	for _, v := range vehicles {
		loc := "-"
		if v.Location != nil {
			loc = fmt.Sprintf("%.5f,%.5f", v.Location.Lat, v.Location.Lng)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.ID, orDash(v.Type), v.Status, loc, orDash(v.AssignedIncident))
	}
	return w.Flush()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
