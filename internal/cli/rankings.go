package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/service"
)

// NewRankingsCommand creates the rankings command group.
func NewRankingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rankings",
		Short: "Record tick summaries and compute rankings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "compute <tick>",
		Short:         "Score every active territory for a tick (admin)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tick, err := parseTick(args[0])
			if err != nil {
				return err
			}
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.ComputeRankings(ctx, tick)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "show <tick>",
		Short:         "Show the latest rankings of a tick",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tick, err := parseTick(args[0])
			if err != nil {
				return err
			}
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.Rankings(ctx, tick)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "history <territory-id>",
		Short:         "Show every ranking row computed for a territory",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.RankingHistory(ctx, args[0])
			})
		},
	})
	cmd.AddCommand(newRecordSummaryCommand(rootOpts))

	return cmd
}

func newRecordSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	var production, consumption map[string]string

	cmd := &cobra.Command{
		Use:   "record-summary <tick> <territory-id>",
		Short: "Store the tick pass output of a territory (admin)",
		Long: `Store production and consumption for one territory and tick. The
ranking pass reads these when scoring the economy.

Example:
  toi700 rankings record-summary --as gm 12 atk \
    --production food=40,minerals=12 --consumption food=25`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tick, err := parseTick(args[0])
			if err != nil {
				return err
			}
			sum := model.TickSummary{TickNumber: tick, TerritoryID: args[1]}
			if sum.Production, err = parseAmounts("production", production); err != nil {
				return err
			}
			if sum.Consumption, err = parseAmounts("consumption", consumption); err != nil {
				return err
			}
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return nil, svc.RecordTickSummary(ctx, sum)
			})
		},
	}

	cmd.Flags().StringToStringVar(&production, "production", nil, "resource=amount produced during the tick")
	cmd.Flags().StringToStringVar(&consumption, "consumption", nil, "resource=amount consumed during the tick")

	return cmd
}

func parseTick(s string) (int64, error) {
	tick, err := strconv.ParseInt(s, 10, 64)
	if err != nil || tick < 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid tick %q: must be a non-negative integer", s))
	}
	return tick, nil
}

// parseAmounts converts resource=amount flag values.
func parseAmounts(flag string, raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for resource, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("--%s %s=%s: not a number", flag, resource, v))
		}
		out[resource] = f
	}
	return out, nil
}
