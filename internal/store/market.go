package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/model"
)

const listingColumns = `id, listing_type, resource_type, quantity, filled_quantity, price_per_unit,
	seller_user_id, seller_territory_id, buyer_user_id, buyer_territory_id, status, created_at, updated_at`

// InsertListing writes a new market listing.
func (q *Queries) InsertListing(ctx context.Context, l model.Listing) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO market_listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.ID,
		string(l.Type),
		l.ResourceType,
		l.Quantity,
		l.FilledQuantity,
		l.PricePerUnit,
		nullString(l.SellerUserID),
		nullString(l.SellerTerritoryID),
		nullString(l.BuyerUserID),
		nullString(l.BuyerTerritoryID),
		string(l.Status),
		formatTime(l.CreatedAt),
		formatTime(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// GetListing retrieves a listing by ID.
// Returns ErrNotFound if it does not exist.
func (q *Queries) GetListing(ctx context.Context, id string) (model.Listing, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM market_listings WHERE id = ?`, id)
	l, err := scanListing(row)
	if err != nil {
		return model.Listing{}, fmt.Errorf("get listing: %w", notFound(err))
	}
	return l, nil
}

// UpdateListing stores a new fill level and status, but only if the listing
// still has the status and fill level the caller read. Returns false when
// another writer got there first.
func (q *Queries) UpdateListing(ctx context.Context, id string, fromStatus model.ListingStatus, fromFilled int64, toStatus model.ListingStatus, toFilled int64, at time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE market_listings
		SET status = ?, filled_quantity = ?, updated_at = ?
		WHERE id = ? AND status = ? AND filled_quantity = ?
	`, string(toStatus), toFilled, formatTime(at), id, string(fromStatus), fromFilled)
	if err != nil {
		return false, fmt.Errorf("update listing: %w", err)
	}
	return affected(res)
}

// ListListings returns listings ordered by creation. An empty status lists all.
func (q *Queries) ListListings(ctx context.Context, status model.ListingStatus) ([]model.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM market_listings`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	listings := []model.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return listings, nil
}

func scanListing(r rowScanner) (model.Listing, error) {
	var (
		l                 model.Listing
		listingType       string
		sellerUserID      sql.NullString
		sellerTerritoryID sql.NullString
		buyerUserID       sql.NullString
		buyerTerritoryID  sql.NullString
		status            string
		createdAt         string
		updatedAt         string
	)
	err := r.Scan(
		&l.ID,
		&listingType,
		&l.ResourceType,
		&l.Quantity,
		&l.FilledQuantity,
		&l.PricePerUnit,
		&sellerUserID,
		&sellerTerritoryID,
		&buyerUserID,
		&buyerTerritoryID,
		&status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return model.Listing{}, err
	}
	l.Type = model.ListingType(listingType)
	l.SellerUserID = sellerUserID.String
	l.SellerTerritoryID = sellerTerritoryID.String
	l.BuyerUserID = buyerUserID.String
	l.BuyerTerritoryID = buyerTerritoryID.String
	l.Status = model.ListingStatus(status)
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Listing{}, err
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Listing{}, err
	}
	return l, nil
}
