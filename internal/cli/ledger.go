package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/service"
)

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <currency|resource|token> <owner> [asset]",
		Short: "Show one ledger balance",
		Long: `Show a ledger balance. Currency balances need no asset. Resources are
owned by territories, currency and tokens by users. Non-admins only read
accounts they hold.

Example:
  toi700 balance --as alice currency alice
  toi700 balance --as alice resource atk minerals`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			acct := model.Account{Kind: model.AccountKind(args[0]), Owner: args[1]}
			if len(args) == 3 {
				acct.Asset = args[2]
			} else if acct.Kind == model.AccountCurrency {
				acct.Asset = model.CurrencyAsset
			}
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				bal, err := svc.Balance(ctx, acct)
				if err != nil {
					return nil, err
				}
				return map[string]any{"account": acct.String(), "balance": bal}, nil
			})
		},
	}
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		after int64
		limit int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded domain events (admin)",
		Long: `List domain events in sequence order.

Example:
  toi700 events --as gm --after 120 --limit 50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.Events(ctx, after, limit)
			})
		},
	}

	cmd.Flags().Int64Var(&after, "after", 0, "only events with a greater sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events to list (0 for all)")

	return cmd
}
