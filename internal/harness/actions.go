package harness

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/service"
)

// action runs one operation with JSON-encoded args.
type action func(ctx context.Context, svc *service.Service, args json.RawMessage) (any, error)

type warRef struct {
	WarID string `json:"war_id"`
}

type listingRef struct {
	ListingID string `json:"listing_id"`
}

type tickRef struct {
	Tick int64 `json:"tick"`
}

type none struct{}

var actions = map[string]action{
	"war.declare": func(ctx context.Context, svc *service.Service, raw json.RawMessage) (any, error) {
		req, err := decodeArgs[service.DeclareWarRequest](raw)
		if err != nil {
			return nil, err
		}
		return svc.DeclareWar(ctx, req)
	},
	"war.surrender": func(ctx context.Context, svc *service.Service, raw json.RawMessage) (any, error) {
		ref, err := decodeArgs[warRef](raw)
		if err != nil {
			return nil, err
		}
		return svc.SurrenderWar(ctx, ref.WarID)
	},
	"war.activate": func(ctx context.Context, svc *service.Service, raw json.RawMessage) (any, error) {
		ref, err := decodeArgs[warRef](raw)
		if err != nil {
			return nil, err
		}
		return svc.ActivateWar(ctx, ref.WarID)
	},
	"war.advance_cycle": func(ctx context.Context, svc *service.Service, raw json.RawMessage) (any, error) {
		ref, err := decodeArgs[warRef](raw)
		if err != nil {
			return nil, err
		}
		return svc.AdvanceWarCycle(ctx, ref.WarID)
	},
	"vote.propose": func(ctx context.Context, svc *service.Service, raw json.RawMessage) (any, error) {
		req, err := decodeArgs[service.ProposeVoteRequest](raw)
		if err != nil {
			return nil, err
		}
		return svc.ProposeVote(ctx, req)
	},
	"vote.cast": func(ctx context.Context, svc *service.Service, raw json.RawMessage) (any, error) {
		req, err := decodeArgs[service.CastVoteRequest](raw)
		if err != nil {
			return nil, err
		}
		return svc.CastVote(ctx, req)
	},
	"vote.close_expired": func(ctx context.Context, svc *service.Service, raw json.RawMessage) (any, error) {
		if _, err := decodeArgs[none](raw); err != nil {
			return nil, err
		}
		return svc.CloseExpiredVotes(ctx)
	},
	"market.place": func(ctx context.Context, svc *service.Service, raw json.RawMessage) (any, error) {
		req, err := decodeArgs[service.PlaceListingRequest](raw)
		if err != nil {
			return nil, err
		}
		return svc.PlaceListing(ctx, req)
	},
	"market.fill": func(ctx context.Context, svc *service.Service, raw json.RawMessage) (any, error) {
		req, err := decodeArgs[service.FillListingRequest](raw)
		if err != nil {
			return nil, err
		}
		return svc.FillListing(ctx, req)
	},
	"market.cancel": func(ctx context.Context, svc *service.Service, raw json.RawMessage) (any, error) {
		ref, err := decodeArgs[listingRef](raw)
		if err != nil {
			return nil, err
		}
		return svc.CancelListing(ctx, ref.ListingID)
	},
	"rankings.record_summary": func(ctx context.Context, svc *service.Service, raw json.RawMessage) (any, error) {
		sum, err := decodeArgs[model.TickSummary](raw)
		if err != nil {
			return nil, err
		}
		return nil, svc.RecordTickSummary(ctx, sum)
	},
	"rankings.compute": func(ctx context.Context, svc *service.Service, raw json.RawMessage) (any, error) {
		ref, err := decodeArgs[tickRef](raw)
		if err != nil {
			return nil, err
		}
		return svc.ComputeRankings(ctx, ref.Tick)
	},
}

// Actions lists the operation names a flow step may invoke, sorted.
func Actions() []string {
	names := make([]string, 0, len(actions)+1)
	for name := range actions {
		names = append(names, name)
	}
	names = append(names, ActionClockAdvance)
	slices.Sort(names)
	return names
}
