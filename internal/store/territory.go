package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/model"
)

const territoryColumns = `id, name, owner_user_id, stability, cells_owned,
	rural_population, urban_population, status, created_at`

// InsertTerritory writes a new territory.
func (q *Queries) InsertTerritory(ctx context.Context, t model.Territory) error {
	var stability sql.NullInt64
	if t.Stability != nil {
		stability = sql.NullInt64{Int64: int64(*t.Stability), Valid: true}
	}
	status := t.Status
	if status == "" {
		status = model.TerritoryActive
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO territories
		(id, name, owner_user_id, stability, cells_owned, rural_population, urban_population, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		t.Name,
		nullString(t.OwnerUserID),
		stability,
		t.CellsOwned,
		t.RuralPopulation,
		t.UrbanPopulation,
		string(status),
		formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert territory: %w", err)
	}
	return nil
}

// GetTerritory retrieves a territory by ID.
// Returns ErrNotFound if it does not exist.
func (q *Queries) GetTerritory(ctx context.Context, id string) (model.Territory, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+territoryColumns+` FROM territories WHERE id = ?`, id)
	t, err := scanTerritory(row)
	if err != nil {
		return model.Territory{}, fmt.Errorf("get territory: %w", notFound(err))
	}
	return t, nil
}

// ActiveTerritoryByOwner returns the oldest active territory owned by userID.
// Returns ErrNotFound if the user owns no active territory.
func (q *Queries) ActiveTerritoryByOwner(ctx context.Context, userID string) (model.Territory, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+territoryColumns+`
		FROM territories
		WHERE owner_user_id = ? AND status = 'active'
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, userID)
	t, err := scanTerritory(row)
	if err != nil {
		return model.Territory{}, fmt.Errorf("active territory by owner: %w", notFound(err))
	}
	return t, nil
}

// ListTerritories returns territories ordered by id. An empty status lists all.
func (q *Queries) ListTerritories(ctx context.Context, status model.TerritoryStatus) ([]model.Territory, error) {
	query := `SELECT ` + territoryColumns + ` FROM territories`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id ASC`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query territories: %w", err)
	}
	defer rows.Close()

	territories := []model.Territory{}
	for rows.Next() {
		t, err := scanTerritory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan territory: %w", err)
		}
		territories = append(territories, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate territories: %w", err)
	}
	return territories, nil
}

// CountActiveTerritories returns the number of active territories.
func (q *Queries) CountActiveTerritories(ctx context.Context) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM territories WHERE status = 'active'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active territories: %w", err)
	}
	return n, nil
}

// SetStability overwrites a territory's stability.
func (q *Queries) SetStability(ctx context.Context, id string, value int) error {
	res, err := q.q.ExecContext(ctx, `UPDATE territories SET stability = ? WHERE id = ?`, value, id)
	if err != nil {
		return fmt.Errorf("set stability: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return fmt.Errorf("set stability: %w", err)
	}
	if !ok {
		return fmt.Errorf("set stability: %w", ErrNotFound)
	}
	return nil
}

// SetTerritoryStatus changes a territory's status.
func (q *Queries) SetTerritoryStatus(ctx context.Context, id string, status model.TerritoryStatus) error {
	res, err := q.q.ExecContext(ctx, `UPDATE territories SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set territory status: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return fmt.Errorf("set territory status: %w", err)
	}
	if !ok {
		return fmt.Errorf("set territory status: %w", ErrNotFound)
	}
	return nil
}

func (q *Queries) adjustCellsOwned(ctx context.Context, territoryID string, delta int) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE territories SET cells_owned = cells_owned + ? WHERE id = ?
	`, delta, territoryID)
	if err != nil {
		return fmt.Errorf("adjust cells owned: %w", err)
	}
	return nil
}

func scanTerritory(r rowScanner) (model.Territory, error) {
	var (
		t         model.Territory
		owner     sql.NullString
		stability sql.NullInt64
		status    string
		createdAt string
	)
	err := r.Scan(
		&t.ID,
		&t.Name,
		&owner,
		&stability,
		&t.CellsOwned,
		&t.RuralPopulation,
		&t.UrbanPopulation,
		&status,
		&createdAt,
	)
	if err != nil {
		return model.Territory{}, err
	}
	t.OwnerUserID = owner.String
	if stability.Valid {
		v := int(stability.Int64)
		t.Stability = &v
	}
	t.Status = model.TerritoryStatus(status)
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Territory{}, err
	}
	return t, nil
}

// InsertCell writes a new cell and counts it toward its owner.
func (q *Queries) InsertCell(ctx context.Context, c model.Cell) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO cells (id, territory_id, region, rural_population, urban_population)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, nullString(c.TerritoryID), c.Region, c.RuralPopulation, c.UrbanPopulation)
	if err != nil {
		return fmt.Errorf("insert cell: %w", err)
	}
	if c.TerritoryID != "" {
		if err := q.adjustCellsOwned(ctx, c.TerritoryID, 1); err != nil {
			return fmt.Errorf("insert cell: %w", err)
		}
	}
	return nil
}

// GetCell retrieves a cell by ID.
// Returns ErrNotFound if it does not exist.
func (q *Queries) GetCell(ctx context.Context, id string) (model.Cell, error) {
	var (
		c     model.Cell
		owner sql.NullString
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT id, territory_id, region, rural_population, urban_population
		FROM cells WHERE id = ?
	`, id).Scan(&c.ID, &owner, &c.Region, &c.RuralPopulation, &c.UrbanPopulation)
	if err != nil {
		return model.Cell{}, fmt.Errorf("get cell: %w", notFound(err))
	}
	c.TerritoryID = owner.String
	return c, nil
}

// MoveCell reassigns a cell from one territory to another, but only if it is
// still owned by from. Cell counts of both territories follow the move.
// Returns false without changes when the owner no longer matches.
func (q *Queries) MoveCell(ctx context.Context, cellID, from, to string) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE cells SET territory_id = ? WHERE id = ? AND territory_id = ?
	`, to, cellID, from)
	if err != nil {
		return false, fmt.Errorf("move cell: %w", err)
	}
	moved, err := affected(res)
	if err != nil || !moved {
		return false, err
	}
	if err := q.adjustCellsOwned(ctx, from, -1); err != nil {
		return false, fmt.Errorf("move cell: %w", err)
	}
	if err := q.adjustCellsOwned(ctx, to, 1); err != nil {
		return false, fmt.Errorf("move cell: %w", err)
	}
	return true, nil
}

// InsertCellTransfer writes an ownership audit row and returns its id.
func (q *Queries) InsertCellTransfer(ctx context.Context, tr model.CellTransfer) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO cell_transfers (cell_id, from_territory_id, to_territory_id, reason, ref_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tr.CellID, nullString(tr.FromTerritoryID), tr.ToTerritoryID, tr.Reason, tr.RefID, formatTime(tr.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert cell transfer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert cell transfer: last insert id: %w", err)
	}
	return id, nil
}

// ListCellTransfers returns the audit rows written under refID in insertion order.
func (q *Queries) ListCellTransfers(ctx context.Context, refID string) ([]model.CellTransfer, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, cell_id, from_territory_id, to_territory_id, reason, ref_id, created_at
		FROM cell_transfers
		WHERE ref_id = ?
		ORDER BY id ASC
	`, refID)
	if err != nil {
		return nil, fmt.Errorf("query cell transfers: %w", err)
	}
	defer rows.Close()

	transfers := []model.CellTransfer{}
	for rows.Next() {
		var (
			tr        model.CellTransfer
			from      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&tr.ID, &tr.CellID, &from, &tr.ToTerritoryID, &tr.Reason, &tr.RefID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan cell transfer: %w", err)
		}
		tr.FromTerritoryID = from.String
		if tr.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		transfers = append(transfers, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cell transfers: %w", err)
	}
	return transfers, nil
}

// InsertTechnology records a researched technology. Re-researching is a no-op.
func (q *Queries) InsertTechnology(ctx context.Context, territoryID, technology string, at time.Time) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO technologies (territory_id, technology, researched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(territory_id, technology) DO NOTHING
	`, territoryID, technology, formatTime(at))
	if err != nil {
		return fmt.Errorf("insert technology: %w", err)
	}
	return nil
}

// CountTechnologies returns the number of researched technologies per territory.
func (q *Queries) CountTechnologies(ctx context.Context) (map[string]int, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT territory_id, COUNT(*) FROM technologies GROUP BY territory_id
	`)
	if err != nil {
		return nil, fmt.Errorf("count technologies: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan technology count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate technology counts: %w", err)
	}
	return counts, nil
}
