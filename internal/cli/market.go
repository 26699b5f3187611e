package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/service"
)

// NewMarketCommand creates the market command group.
func NewMarketCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Place, fill and cancel market listings",
	}

	cmd.AddCommand(newMarketPlaceCommand(rootOpts))
	cmd.AddCommand(newMarketFillCommand(rootOpts))
	cmd.AddCommand(&cobra.Command{
		Use:           "cancel <listing-id>",
		Short:         "Cancel your listing and release its escrow",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.CancelListing(ctx, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "show <listing-id>",
		Short:         "Show a listing",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.GetListing(ctx, args[0])
			})
		},
	})
	cmd.AddCommand(newMarketListCommand(rootOpts))

	return cmd
}

func newMarketPlaceCommand(rootOpts *RootOptions) *cobra.Command {
	var req service.PlaceListingRequest

	cmd := &cobra.Command{
		Use:   "place <buy|sell> <resource-type>",
		Short: "Place a listing and escrow its goods or currency",
		Long: `Place a listing. Sell listings escrow the resource from your active
territory, buy listings escrow quantity times price in currency. Token
classes are traded as token:<class>.

Example:
  toi700 market place --as alice sell minerals --quantity 20 --price 3`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Type = model.ListingType(args[0])
			req.ResourceType = args[1]
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.PlaceListing(ctx, req)
			})
		},
	}

	cmd.Flags().Int64Var(&req.Quantity, "quantity", 0, "units to trade")
	cmd.Flags().Int64Var(&req.PricePerUnit, "price", 0, "currency per unit")
	_ = cmd.MarkFlagRequired("quantity")
	_ = cmd.MarkFlagRequired("price")

	return cmd
}

func newMarketFillCommand(rootOpts *RootOptions) *cobra.Command {
	var req service.FillListingRequest

	cmd := &cobra.Command{
		Use:   "fill <listing-id>",
		Short: "Settle part of a listing against a counterparty (admin)",
		Long: `Apply a matching event to a listing.

Example:
  toi700 market fill --as gm l-0001 --counterparty bob --quantity 5`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ListingID = args[0]
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.FillListing(ctx, req)
			})
		},
	}

	cmd.Flags().StringVar(&req.CounterpartyUserID, "counterparty", "", "user on the other side of the trade")
	cmd.Flags().Int64Var(&req.Quantity, "quantity", 0, "units to settle")
	_ = cmd.MarkFlagRequired("counterparty")
	_ = cmd.MarkFlagRequired("quantity")

	return cmd
}

func newMarketListCommand(rootOpts *RootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List listings, optionally by status",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.ListListings(ctx, model.ListingStatus(status))
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "open|partially_filled|filled|cancelled")

	return cmd
}
