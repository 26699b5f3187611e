package model

import "time"

// ListingType is the side of a market listing.
type ListingType string

const (
	ListingBuy  ListingType = "buy"
	ListingSell ListingType = "sell"
)

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	ListingOpen            ListingStatus = "open"
	ListingPartiallyFilled ListingStatus = "partially_filled"
	ListingFilled          ListingStatus = "filled"
	ListingCancelled       ListingStatus = "cancelled"
)

var listingTransitions = map[ListingStatus][]ListingStatus{
	ListingOpen:            {ListingPartiallyFilled, ListingFilled, ListingCancelled},
	ListingPartiallyFilled: {ListingPartiallyFilled, ListingFilled, ListingCancelled},
}

// CanTransition reports whether the listing lifecycle allows moving from s to to.
func (s ListingStatus) CanTransition(to ListingStatus) bool {
	for _, next := range listingTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ListingStatus) Terminal() bool {
	return s == ListingFilled || s == ListingCancelled
}

// Listing is a standing buy or sell order.
//
// A sell listing escrows its quantity from the seller when placed; a buy
// listing escrows quantity times price in currency from the buyer.
type Listing struct {
	ID                string        `json:"id"`
	Type              ListingType   `json:"type"`
	ResourceType      string        `json:"resource_type"`
	Quantity          int64         `json:"quantity"`
	FilledQuantity    int64         `json:"filled_quantity"`
	PricePerUnit      int64         `json:"price_per_unit"`
	SellerUserID      string        `json:"seller_user_id"`
	SellerTerritoryID string        `json:"seller_territory_id"`
	BuyerUserID       string        `json:"buyer_user_id"`
	BuyerTerritoryID  string        `json:"buyer_territory_id"`
	Status            ListingStatus `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Remaining returns the unfilled quantity.
func (l Listing) Remaining() int64 {
	return l.Quantity - l.FilledQuantity
}

// OwnerUserID returns the user of record: the seller of a sell listing, the
// buyer of a buy listing.
func (l Listing) OwnerUserID() string {
	if l.Type == ListingSell {
		return l.SellerUserID
	}
	return l.BuyerUserID
}
