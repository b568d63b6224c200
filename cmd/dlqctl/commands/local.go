package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/truecheckia/retry-service/internal/api/dto"
)

func newSweepCommand(configFile *string, open runtimeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retry sweep in-process",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context(), *configFile, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.processor.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), dto.NewProcessDLQResponse(report))
		},
	}
}

func newStatsCommand(configFile *string, open runtimeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context(), *configFile, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.processor.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), dto.NewDLQStats(stats))
		},
	}
}

func newRecoverCommand(configFile *string, open runtimeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Return stale PROCESSING jobs to FAILED",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context(), *configFile, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			recovered, err := rt.processor.RecoverStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d stale jobs\n", recovered)
			return nil
		},
	}
}
