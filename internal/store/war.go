package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/model"
)

const warColumns = `id, attacker_territory_id, defender_territory_id, status, winner_territory_id,
	max_cycles, cycles_elapsed, title, description, declared_by, created_at, ended_at`

// InsertWar writes a new war and its target cells. Target order is kept.
func (q *Queries) InsertWar(ctx context.Context, w model.War) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO wars (`+warColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		w.ID,
		w.AttackerTerritoryID,
		w.DefenderTerritoryID,
		string(w.Status),
		nullString(w.WinnerTerritoryID),
		w.MaxCycles,
		w.CyclesElapsed,
		w.Title,
		w.Description,
		w.DeclaredBy,
		formatTime(w.CreatedAt),
		formatNullTime(w.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert war: %w", err)
	}

	for i, cellID := range w.TargetCells {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO war_cells (war_id, cell_id, position) VALUES (?, ?, ?)
		`, w.ID, cellID, i)
		if err != nil {
			return fmt.Errorf("insert war cell %s: %w", cellID, err)
		}
	}
	return nil
}

// GetWar retrieves a war with its target cells.
// Returns ErrNotFound if it does not exist.
func (q *Queries) GetWar(ctx context.Context, id string) (model.War, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+warColumns+` FROM wars WHERE id = ?`, id)
	w, err := scanWar(row)
	if err != nil {
		return model.War{}, fmt.Errorf("get war: %w", notFound(err))
	}
	if w.TargetCells, err = q.warCells(ctx, id); err != nil {
		return model.War{}, err
	}
	return w, nil
}

func (q *Queries) warCells(ctx context.Context, warID string) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT cell_id FROM war_cells WHERE war_id = ? ORDER BY position ASC
	`, warID)
	if err != nil {
		return nil, fmt.Errorf("query war cells: %w", err)
	}
	defer rows.Close()

	cells := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan war cell: %w", err)
		}
		cells = append(cells, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate war cells: %w", err)
	}
	return cells, nil
}

// HasOpenWarAsAttacker reports whether a territory attacks in a declared or active war.
func (q *Queries) HasOpenWarAsAttacker(ctx context.Context, territoryID string) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM wars
		WHERE attacker_territory_id = ? AND status IN ('declared', 'active')
	`, territoryID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check open wars: %w", err)
	}
	return n > 0, nil
}

// TransitionWar moves a war from one status to another. Winner and endedAt
// are stored when set. Returns false when the war is not in from.
func (q *Queries) TransitionWar(ctx context.Context, id string, from, to model.WarStatus, winner string, endedAt *time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE wars
		SET status = ?, winner_territory_id = COALESCE(?, winner_territory_id), ended_at = COALESCE(?, ended_at)
		WHERE id = ? AND status = ?
	`, string(to), nullString(winner), formatNullTime(endedAt), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition war: %w", err)
	}
	return affected(res)
}

// IncrementWarCycles adds one elapsed cycle to an open war and returns the new count.
// Returns ErrNotFound when the war is missing or ended.
func (q *Queries) IncrementWarCycles(ctx context.Context, id string) (int, error) {
	var cycles int
	err := q.q.QueryRowContext(ctx, `
		UPDATE wars SET cycles_elapsed = cycles_elapsed + 1
		WHERE id = ? AND status IN ('declared', 'active')
		RETURNING cycles_elapsed
	`, id).Scan(&cycles)
	if err != nil {
		return 0, fmt.Errorf("increment war cycles: %w", notFound(err))
	}
	return cycles, nil
}

// ListWarsByTerritory returns wars a territory fights in, newest first.
func (q *Queries) ListWarsByTerritory(ctx context.Context, territoryID string) ([]model.War, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+warColumns+` FROM wars
		WHERE attacker_territory_id = ? OR defender_territory_id = ?
		ORDER BY created_at DESC, id ASC
	`, territoryID, territoryID)
	if err != nil {
		return nil, fmt.Errorf("query wars: %w", err)
	}

	wars := []model.War{}
	for rows.Next() {
		w, err := scanWar(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan war: %w", err)
		}
		wars = append(wars, w)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate wars: %w", err)
	}
	rows.Close()

	// Cells are loaded after the cursor closes; a single-connection store
	// cannot serve a second query while rows are open.
	for i := range wars {
		if wars[i].TargetCells, err = q.warCells(ctx, wars[i].ID); err != nil {
			return nil, err
		}
	}
	return wars, nil
}

func scanWar(r rowScanner) (model.War, error) {
	var (
		w         model.War
		status    string
		winner    sql.NullString
		createdAt string
		endedAt   sql.NullString
	)
	err := r.Scan(
		&w.ID,
		&w.AttackerTerritoryID,
		&w.DefenderTerritoryID,
		&status,
		&winner,
		&w.MaxCycles,
		&w.CyclesElapsed,
		&w.Title,
		&w.Description,
		&w.DeclaredBy,
		&createdAt,
		&endedAt,
	)
	if err != nil {
		return model.War{}, err
	}
	w.Status = model.WarStatus(status)
	w.WinnerTerritoryID = winner.String
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.War{}, err
	}
	if w.EndedAt, err = parseNullTime(endedAt); err != nil {
		return model.War{}, err
	}
	return w, nil
}
