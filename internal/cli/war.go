package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Tchosco/toi700game-sub002/internal/service"
)

// NewWarCommand creates the war command group.
func NewWarCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "war",
		Short: "Declare, inspect and end wars",
	}

	cmd.AddCommand(newWarDeclareCommand(rootOpts))
	cmd.AddCommand(newWarIDCommand(rootOpts, "show", "Show a war", func(ctx context.Context, svc *service.Service, id string) (any, error) {
		return svc.GetWar(ctx, id)
	}))
	cmd.AddCommand(newWarIDCommand(rootOpts, "surrender", "Surrender a war your territory defends", func(ctx context.Context, svc *service.Service, id string) (any, error) {
		return svc.SurrenderWar(ctx, id)
	}))
	cmd.AddCommand(newWarIDCommand(rootOpts, "activate", "Move a declared war into its first cycle (admin)", func(ctx context.Context, svc *service.Service, id string) (any, error) {
		return svc.ActivateWar(ctx, id)
	}))
	cmd.AddCommand(newWarIDCommand(rootOpts, "advance", "Advance an active war by one cycle (admin)", func(ctx context.Context, svc *service.Service, id string) (any, error) {
		return svc.AdvanceWarCycle(ctx, id)
	}))
	cmd.AddCommand(&cobra.Command{
		Use:           "list <territory-id>",
		Short:         "List the wars a territory takes part in",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.WarsOf(ctx, args[0])
			})
		},
	})

	return cmd
}

func newWarDeclareCommand(rootOpts *RootOptions) *cobra.Command {
	var req service.DeclareWarRequest

	cmd := &cobra.Command{
		Use:   "declare <target-territory-id> <cell-id>...",
		Short: "Declare war on cells of another territory",
		Long: `Declare war from your active territory on cells of a target territory.

Example:
  toi700 war declare --as alice def d1 d2 --title "Border dispute"`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TargetTerritoryID = args[0]
			req.TargetCellIDs = args[1:]
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.DeclareWar(ctx, req)
			})
		},
	}

	cmd.Flags().StringVar(&req.Title, "title", "", "war title")
	cmd.Flags().StringVar(&req.Description, "description", "", "war description")

	return cmd
}

// newWarIDCommand builds a subcommand whose only argument is a war id.
func newWarIDCommand(rootOpts *RootOptions, name, short string, call func(context.Context, *service.Service, string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:           name + " <war-id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return call(ctx, svc, args[0])
			})
		},
	}
}
