// Package market runs the listing lifecycle of the resource and token market.
//
// Placing a listing escrows its value through the ledger: a sell listing
// holds the offered quantity, a buy listing holds quantity times price in
// currency. Fill is the external matching event that settles part or all of
// a listing against a counterparty. Cancel returns the unfilled remainder of
// the escrow to the owner of record. Every value movement and the listing
// update it belongs to commit in one transaction, and the listing row is
// only changed if it still holds the status and fill level that were read.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/Tchosco/toi700game-sub002/internal/clock"
	"github.com/Tchosco/toi700game-sub002/internal/events"
	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
	"github.com/Tchosco/toi700game-sub002/internal/ids"
	"github.com/Tchosco/toi700game-sub002/internal/ledger"
	"github.com/Tchosco/toi700game-sub002/internal/lockset"
	"github.com/Tchosco/toi700game-sub002/internal/metrics"
	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/registry"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

// Options configures an Engine.
type Options struct {
	// Resources restricts tradable territory resources. Empty allows any.
	Resources []string

	IDs     ids.Generator
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Engine manages market listings.
type Engine struct {
	store     *store.Store
	locks     *lockset.Set
	ledger    *ledger.Ledger
	resources []string
	ids       ids.Generator
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a market engine.
func New(st *store.Store, locks *lockset.Set, led *ledger.Ledger, opts Options) *Engine {
	e := &Engine{
		store:     st,
		locks:     locks,
		ledger:    led,
		resources: opts.Resources,
		ids:       opts.IDs,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if e.ids == nil {
		e.ids = ids.UUIDv7{}
	}
	if e.clock == nil {
		e.clock = clock.System{}
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

func (e *Engine) parseAsset(resourceType string) (model.Asset, error) {
	asset, err := model.ParseAsset(resourceType)
	if err != nil {
		return model.Asset{}, gameerr.New(gameerr.CodeValidation, "", "resource type: %v", err)
	}
	if !asset.Token && len(e.resources) > 0 && !slices.Contains(e.resources, asset.Name) {
		return model.Asset{}, gameerr.New(gameerr.CodeValidation, "", "unknown resource %q", asset.Name)
	}
	return asset, nil
}

// cost returns quantity times price, rejecting overflow.
func cost(quantity, price int64) (int64, error) {
	if price != 0 && quantity > math.MaxInt64/price {
		return 0, gameerr.New(gameerr.CodeInvalidAmount, "", "%d x %d overflows", quantity, price)
	}
	return quantity * price, nil
}

// PlaceInput is a new listing request.
type PlaceInput struct {
	ActorUserID  string
	Type         model.ListingType
	ResourceType string
	Quantity     int64
	PricePerUnit int64
}

// Place creates a listing and escrows its value from the actor.
func (e *Engine) Place(ctx context.Context, in PlaceInput) (model.Listing, error) {
	if in.Type != model.ListingBuy && in.Type != model.ListingSell {
		return model.Listing{}, gameerr.New(gameerr.CodeValidation, "", "unknown listing type %q", in.Type)
	}
	asset, err := e.parseAsset(in.ResourceType)
	if err != nil {
		return model.Listing{}, err
	}
	if in.Quantity <= 0 {
		return model.Listing{}, gameerr.New(gameerr.CodeInvalidAmount, "", "quantity must be positive, got %d", in.Quantity)
	}
	if in.PricePerUnit < 0 {
		return model.Listing{}, gameerr.New(gameerr.CodeInvalidAmount, "", "price must not be negative, got %d", in.PricePerUnit)
	}
	total, err := cost(in.Quantity, in.PricePerUnit)
	if err != nil {
		return model.Listing{}, err
	}

	terr, err := registry.New(e.store.Queries(), e.clock.Now()).ActiveTerritoryOf(ctx, in.ActorUserID)
	if err != nil {
		return model.Listing{}, err
	}

	escrow, amount := asset.Account(in.ActorUserID, terr.ID), in.Quantity
	if in.Type == model.ListingBuy {
		escrow, amount = model.CurrencyAccount(in.ActorUserID), total
	}

	unlock := e.locks.Lock(
		lockset.Key("user", in.ActorUserID),
		lockset.Key("territory", terr.ID),
		ledger.AccountKey(escrow),
	)
	defer unlock()

	now := e.clock.Now()
	l := model.Listing{
		ID:           e.ids.New(),
		Type:         in.Type,
		ResourceType: asset.String(),
		Quantity:     in.Quantity,
		PricePerUnit: in.PricePerUnit,
		Status:       model.ListingOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = e.store.WithTx(ctx, func(q *store.Queries) error {
		owner, err := registry.New(q, now).ActiveTerritoryOf(ctx, in.ActorUserID)
		if err != nil {
			return err
		}
		if owner.ID != terr.ID {
			return gameerr.New(gameerr.CodeNoActiveTerritory, in.ActorUserID, "acting territory changed")
		}
		if in.Type == model.ListingSell {
			l.SellerUserID, l.SellerTerritoryID = in.ActorUserID, terr.ID
		} else {
			l.BuyerUserID, l.BuyerTerritoryID = in.ActorUserID, terr.ID
		}

		if amount > 0 {
			_, err := e.ledger.Bind(q).Debit(ctx, "listing/"+l.ID+"/escrow", escrow, amount, "escrow for listing "+l.ID)
			if err != nil {
				return err
			}
		}
		if err := q.InsertListing(ctx, l); err != nil {
			return gameerr.Dependency("insert listing", err)
		}
		_, err = events.Record(ctx, q, now, in.ActorUserID, l.ID, events.ListingPlaced{
			ListingID:    l.ID,
			Type:         l.Type,
			ResourceType: l.ResourceType,
			Quantity:     l.Quantity,
			PricePerUnit: l.PricePerUnit,
		})
		return gameerr.Dependency("record listing event", err)
	})
	if err != nil {
		return model.Listing{}, gameerr.Dependency("place listing", err)
	}

	e.metrics.Listing("placed")
	e.logger.Info("listing placed",
		"listing_id", l.ID,
		"type", l.Type,
		"resource", l.ResourceType,
		"quantity", l.Quantity,
		"price", l.PricePerUnit)
	return l, nil
}

// CancelResult reports what a cancellation returned.
type CancelResult struct {
	ListingID        string `json:"listing_id"`
	ReturnedQuantity int64  `json:"returned_quantity"`
	RefundAsset      string `json:"refund_asset"`
	RefundAmount     int64  `json:"refund_amount"`
}

// refundOf returns the account and amount that cancelling l returns.
// Sell listings return the unfilled quantity of the listed asset to the
// seller; buy listings return unfilled quantity times price in currency to
// the buyer.
func refundOf(l model.Listing) (model.Account, int64, error) {
	asset, err := model.ParseAsset(l.ResourceType)
	if err != nil {
		return model.Account{}, 0, gameerr.New(gameerr.CodeValidation, l.ID, "stored resource type: %v", err)
	}
	remaining := l.Remaining()
	if l.Type == model.ListingSell {
		return asset.Account(l.SellerUserID, l.SellerTerritoryID), remaining, nil
	}
	amount, err := cost(remaining, l.PricePerUnit)
	if err != nil {
		return model.Account{}, 0, err
	}
	return model.CurrencyAccount(l.BuyerUserID), amount, nil
}

// Cancel withdraws a listing on behalf of its owner of record and refunds
// the unfilled remainder. The listing becomes cancelled only together with a
// successful refund; if the refund fails the listing keeps its prior state.
func (e *Engine) Cancel(ctx context.Context, listingID, actorUserID string) (CancelResult, error) {
	l, err := e.Get(ctx, listingID)
	if err != nil {
		return CancelResult{}, err
	}
	if l.OwnerUserID() != actorUserID {
		return CancelResult{}, gameerr.New(gameerr.CodeNotOwner, l.ID, "listing belongs to another user")
	}
	acct, _, err := refundOf(l)
	if err != nil {
		return CancelResult{}, err
	}

	unlock := e.locks.Lock(lockset.Key("listing", l.ID), ledger.AccountKey(acct))
	defer unlock()

	now := e.clock.Now()
	var res CancelResult
	err = e.store.WithTx(ctx, func(q *store.Queries) error {
		l, err := loadListing(ctx, q, listingID)
		if err != nil {
			return err
		}
		if l.Status.Terminal() {
			return gameerr.New(gameerr.CodeAlreadyTerminal, l.ID, "listing is %s", l.Status)
		}

		acct, amount, err := refundOf(l)
		if err != nil {
			return err
		}
		if _, err := e.ledger.Bind(q).Refund(ctx, "listing/"+l.ID+"/cancel", acct, amount, "cancel listing "+l.ID); err != nil {
			return err
		}

		ok, err := q.UpdateListing(ctx, l.ID, l.Status, l.FilledQuantity, model.ListingCancelled, l.FilledQuantity, now)
		if err != nil {
			return gameerr.Dependency("cancel listing", err)
		}
		if !ok {
			return gameerr.New(gameerr.CodeAlreadyTerminal, l.ID, "listing changed concurrently")
		}

		res = CancelResult{
			ListingID:        l.ID,
			ReturnedQuantity: l.Remaining(),
			RefundAsset:      acct.Asset,
			RefundAmount:     amount,
		}
		_, err = events.Record(ctx, q, now, actorUserID, l.ID, events.ListingCancelled{
			ListingID:        res.ListingID,
			ReturnedQuantity: res.ReturnedQuantity,
			RefundAsset:      res.RefundAsset,
			RefundAmount:     res.RefundAmount,
		})
		return gameerr.Dependency("record listing event", err)
	})
	if err != nil {
		return CancelResult{}, gameerr.Dependency("cancel listing", err)
	}

	e.metrics.Listing("cancelled")
	e.logger.Info("listing cancelled",
		"listing_id", res.ListingID,
		"returned", res.ReturnedQuantity,
		"refund_asset", res.RefundAsset,
		"refund_amount", res.RefundAmount)
	return res, nil
}

// FillInput is a matching event: the counterparty takes Quantity units of
// the listing at its price.
type FillInput struct {
	ListingID          string
	CounterpartyUserID string
	Quantity           int64
}

// settlement is the set of ledger movements one fill performs.
type settlement struct {
	debits  []movement
	credits []movement
}

type movement struct {
	op      string
	account model.Account
	amount  int64
}

func (s settlement) accounts() []string {
	keys := make([]string, 0, len(s.debits)+len(s.credits))
	for _, m := range append(slices.Clone(s.debits), s.credits...) {
		keys = append(keys, ledger.AccountKey(m.account))
	}
	return keys
}

// settle plans the movements of filling qty units of l against a
// counterparty user and territory.
//
// Sell: the counterparty pays currency to the seller and receives the asset
// out of the seller's escrow. Buy: the counterparty delivers the asset to the
// buyer and receives currency out of the buyer's escrow.
func settle(l model.Listing, qty int64, cpUser, cpTerritory string) (settlement, error) {
	asset, err := model.ParseAsset(l.ResourceType)
	if err != nil {
		return settlement{}, gameerr.New(gameerr.CodeValidation, l.ID, "stored resource type: %v", err)
	}
	price, err := cost(qty, l.PricePerUnit)
	if err != nil {
		return settlement{}, err
	}
	op := fmt.Sprintf("listing/%s/fill/%d", l.ID, l.FilledQuantity)

	var s settlement
	switch l.Type {
	case model.ListingSell:
		if price > 0 {
			s.debits = append(s.debits, movement{op + "/pay", model.CurrencyAccount(cpUser), price})
			s.credits = append(s.credits, movement{op + "/proceeds", model.CurrencyAccount(l.SellerUserID), price})
		}
		s.credits = append(s.credits, movement{op + "/receive", asset.Account(cpUser, cpTerritory), qty})
	case model.ListingBuy:
		s.debits = append(s.debits, movement{op + "/deliver", asset.Account(cpUser, cpTerritory), qty})
		s.credits = append(s.credits, movement{op + "/receive", asset.Account(l.BuyerUserID, l.BuyerTerritoryID), qty})
		if price > 0 {
			s.credits = append(s.credits, movement{op + "/proceeds", model.CurrencyAccount(cpUser), price})
		}
	}
	return s, nil
}

// Fill settles part or all of a listing against a counterparty. The listing
// moves to partially_filled, or to filled once nothing remains.
func (e *Engine) Fill(ctx context.Context, in FillInput) (model.Listing, error) {
	l, err := e.Get(ctx, in.ListingID)
	if err != nil {
		return model.Listing{}, err
	}
	if in.CounterpartyUserID == "" || in.CounterpartyUserID == l.OwnerUserID() {
		return model.Listing{}, gameerr.New(gameerr.CodeValidation, l.ID, "counterparty must be another user")
	}
	cp, err := registry.New(e.store.Queries(), e.clock.Now()).ActiveTerritoryOf(ctx, in.CounterpartyUserID)
	if err != nil {
		return model.Listing{}, err
	}
	plan, err := settle(l, max(in.Quantity, 0), in.CounterpartyUserID, cp.ID)
	if err != nil {
		return model.Listing{}, err
	}

	keys := append(plan.accounts(), lockset.Key("listing", l.ID), lockset.Key("user", in.CounterpartyUserID))
	unlock := e.locks.Lock(keys...)
	defer unlock()

	now := e.clock.Now()
	err = e.store.WithTx(ctx, func(q *store.Queries) error {
		current, err := loadListing(ctx, q, in.ListingID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return gameerr.New(gameerr.CodeAlreadyTerminal, current.ID, "listing is %s", current.Status)
		}
		if in.Quantity <= 0 || in.Quantity > current.Remaining() {
			return gameerr.New(gameerr.CodeInvalidAmount, current.ID, "fill quantity %d outside 1..%d", in.Quantity, current.Remaining())
		}
		if current.FilledQuantity != l.FilledQuantity {
			return gameerr.New(gameerr.CodeInvalidTransition, current.ID, "listing changed concurrently")
		}

		tx := e.ledger.Bind(q)
		for _, m := range plan.debits {
			if _, err := tx.Debit(ctx, m.op, m.account, m.amount, "fill listing "+l.ID); err != nil {
				return err
			}
		}
		for _, m := range plan.credits {
			if _, err := tx.Credit(ctx, m.op, m.account, m.amount, "fill listing "+l.ID); err != nil {
				return err
			}
		}

		filled := current.FilledQuantity + in.Quantity
		status := model.ListingPartiallyFilled
		if filled == current.Quantity {
			status = model.ListingFilled
		}
		if !current.Status.CanTransition(status) {
			return gameerr.New(gameerr.CodeInvalidTransition, current.ID, "cannot move listing from %s to %s", current.Status, status)
		}
		ok, err := q.UpdateListing(ctx, current.ID, current.Status, current.FilledQuantity, status, filled, now)
		if err != nil {
			return gameerr.Dependency("fill listing", err)
		}
		if !ok {
			return gameerr.New(gameerr.CodeInvalidTransition, current.ID, "listing changed concurrently")
		}

		l = current
		l.FilledQuantity, l.Status, l.UpdatedAt = filled, status, now
		_, err = events.Record(ctx, q, now, in.CounterpartyUserID, l.ID, events.ListingFilled{
			ListingID:    l.ID,
			Quantity:     in.Quantity,
			Counterparty: in.CounterpartyUserID,
			Status:       status,
		})
		return gameerr.Dependency("record listing event", err)
	})
	if err != nil {
		return model.Listing{}, gameerr.Dependency("fill listing", err)
	}

	e.metrics.Listing("filled")
	e.logger.Info("listing filled",
		"listing_id", l.ID,
		"quantity", in.Quantity,
		"counterparty", in.CounterpartyUserID,
		"status", l.Status)
	return l, nil
}

// Get returns a listing or NOT_FOUND.
func (e *Engine) Get(ctx context.Context, listingID string) (model.Listing, error) {
	return loadListing(ctx, e.store.Queries(), listingID)
}

// List returns listings with the given status, or all listings when status
// is empty.
func (e *Engine) List(ctx context.Context, status model.ListingStatus) ([]model.Listing, error) {
	listings, err := e.store.Queries().ListListings(ctx, status)
	if err != nil {
		return nil, gameerr.Dependency("list listings", err)
	}
	return listings, nil
}

func loadListing(ctx context.Context, q *store.Queries, id string) (model.Listing, error) {
	l, err := q.GetListing(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Listing{}, gameerr.New(gameerr.CodeNotFound, id, "listing not found")
	}
	if err != nil {
		return model.Listing{}, gameerr.Dependency("load listing", err)
	}
	return l, nil
}
