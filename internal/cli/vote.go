package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/service"
)

// NewVoteCommand creates the vote command group.
func NewVoteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vote",
		Short: "Propose votes, cast ballots and inspect laws",
	}

	cmd.AddCommand(newVoteProposeCommand(rootOpts))
	cmd.AddCommand(newVoteCastCommand(rootOpts))
	cmd.AddCommand(&cobra.Command{
		Use:           "show <vote-id>",
		Short:         "Show a vote and its ballots",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				v, ballots, err := svc.GetVote(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return map[string]any{"vote": v, "ballots": ballots}, nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "law <law-id>",
		Short:         "Show a law and its legal history",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				law, history, err := svc.GetLaw(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return map[string]any{"law": law, "history": history}, nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "close-expired",
		Short:         "Conclude every open vote whose window has passed (admin)",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				closed, err := svc.CloseExpiredVotes(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{"closed": closed}, nil
			})
		},
	})

	return cmd
}

func newVoteProposeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		voteType    string
		effects     string
		effectsFile string
		req         service.ProposeVoteRequest
	)

	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Open a vote proposed by your territory",
		Long: `Open a vote. Law votes carry a JSON array of effects.

Example:
  toi700 vote propose --as alice --type law --title "Tax reform" \
    --effects '[{"kind":"tax_rate","data":{"rate":5}}]'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readEffects(effects, effectsFile)
			if err != nil {
				return err
			}
			req.VoteType = model.VoteType(voteType)
			req.Effects = raw
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.ProposeVote(ctx, req)
			})
		},
	}

	cmd.Flags().StringVar(&voteType, "type", string(model.VoteLaw), "vote type (law|bloc_law|bloc_creation|era_change|constitution)")
	cmd.Flags().StringVar(&req.BlocID, "bloc", "", "bloc id for bloc votes")
	cmd.Flags().StringVar(&req.Title, "title", "", "vote title")
	cmd.Flags().StringVar(&req.Body, "body", "", "vote body")
	cmd.Flags().StringVar(&effects, "effects", "", "law effects as a JSON array")
	cmd.Flags().StringVar(&effectsFile, "effects-file", "", "read law effects from a JSON file")
	cmd.MarkFlagsMutuallyExclusive("effects", "effects-file")

	return cmd
}

// readEffects returns the effects flag or file contents, checked to be JSON.
func readEffects(inline, path string) (json.RawMessage, error) {
	raw := []byte(inline)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read effects file", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("effects are not valid JSON: %s", raw))
	}
	return json.RawMessage(raw), nil
}

func newVoteCastCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cast <vote-id> <territory-id> <yes|no|abstain>",
		Short: "Cast the ballot of a territory you own",
		Long: `Cast a ballot. Each territory votes once per vote.

Example:
  toi700 vote cast --as alice v-0001 atk yes --reason "lower taxes"`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.CastVoteRequest{
				VoteID:      args[0],
				TerritoryID: args[1],
				Choice:      model.Choice(args[2]),
				Reason:      reason,
			}
			return runAs(rootOpts, cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.CastVote(ctx, req)
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the ballot")

	return cmd
}
