package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/model"
)

// UpsertTickSummary stores the tick output of one territory. A producer
// re-sending the same tick replaces its earlier summary.
func (q *Queries) UpsertTickSummary(ctx context.Context, s model.TickSummary, at time.Time) error {
	production, err := marshalAmounts(s.Production)
	if err != nil {
		return fmt.Errorf("upsert tick summary: %w", err)
	}
	consumption, err := marshalAmounts(s.Consumption)
	if err != nil {
		return fmt.Errorf("upsert tick summary: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO tick_summaries (tick_number, territory_id, production, consumption, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tick_number, territory_id) DO UPDATE
		SET production = excluded.production, consumption = excluded.consumption, recorded_at = excluded.recorded_at
	`, s.TickNumber, s.TerritoryID, production, consumption, formatTime(at))
	if err != nil {
		return fmt.Errorf("upsert tick summary: %w", err)
	}
	return nil
}

// TickSummaries returns the summaries of one tick keyed by territory.
func (q *Queries) TickSummaries(ctx context.Context, tick int64) (map[string]model.TickSummary, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT tick_number, territory_id, production, consumption
		FROM tick_summaries WHERE tick_number = ?
	`, tick)
	if err != nil {
		return nil, fmt.Errorf("query tick summaries: %w", err)
	}
	defer rows.Close()

	summaries := map[string]model.TickSummary{}
	for rows.Next() {
		var (
			s           model.TickSummary
			production  string
			consumption string
		)
		if err := rows.Scan(&s.TickNumber, &s.TerritoryID, &production, &consumption); err != nil {
			return nil, fmt.Errorf("scan tick summary: %w", err)
		}
		if s.Production, err = unmarshalAmounts(production); err != nil {
			return nil, err
		}
		if s.Consumption, err = unmarshalAmounts(consumption); err != nil {
			return nil, err
		}
		summaries[s.TerritoryID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tick summaries: %w", err)
	}
	return summaries, nil
}

// InsertRankingRow appends a ranking row. Rows are never updated.
func (q *Queries) InsertRankingRow(ctx context.Context, r model.RankingRow) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO rankings
		(territory_id, tick_number, score_total, population, economy, technology, stability, expansion, efficiency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.TerritoryID,
		r.TickNumber,
		r.ScoreTotal,
		r.Population,
		r.Economy,
		r.Technology,
		r.Stability,
		r.Expansion,
		r.Efficiency,
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert ranking row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert ranking row: last insert id: %w", err)
	}
	return id, nil
}

const rankingColumns = `r.id, r.territory_id, r.tick_number, r.score_total, r.population, r.economy,
	r.technology, r.stability, r.expansion, r.efficiency, r.created_at`

// ListRankings returns the leaderboard of a tick, best score first. Only the
// most recent row of each territory is returned, so recomputing a tick
// replaces its standings without discarding the earlier rows.
func (q *Queries) ListRankings(ctx context.Context, tick int64) ([]model.RankingRow, error) {
	rows, err := q.q.QueryContext(ctx, `
		WITH latest AS (
			SELECT territory_id, MAX(id) AS id
			FROM rankings
			WHERE tick_number = ?
			GROUP BY territory_id
		)
		SELECT `+rankingColumns+`
		FROM rankings r JOIN latest l ON r.id = l.id
		ORDER BY r.score_total DESC, r.territory_id ASC
	`, tick)
	if err != nil {
		return nil, fmt.Errorf("query rankings: %w", err)
	}
	return scanRankingRows(rows)
}

// RankingHistory returns every row stored for one territory, oldest tick
// first. Recomputations of a tick appear in the order they were written.
func (q *Queries) RankingHistory(ctx context.Context, territoryID string) ([]model.RankingRow, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+rankingColumns+`
		FROM rankings r
		WHERE r.territory_id = ?
		ORDER BY r.tick_number ASC, r.id ASC
	`, territoryID)
	if err != nil {
		return nil, fmt.Errorf("query ranking history: %w", err)
	}
	return scanRankingRows(rows)
}

func scanRankingRows(rows *sql.Rows) ([]model.RankingRow, error) {
	defer rows.Close()

	result := []model.RankingRow{}
	for rows.Next() {
		var (
			r         model.RankingRow
			createdAt string
		)
		err := rows.Scan(
			&r.ID,
			&r.TerritoryID,
			&r.TickNumber,
			&r.ScoreTotal,
			&r.Population,
			&r.Economy,
			&r.Technology,
			&r.Stability,
			&r.Expansion,
			&r.Efficiency,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rankings: %w", err)
	}
	return result, nil
}

// CountRankingRows returns the number of rows stored for a tick.
func (q *Queries) CountRankingRows(ctx context.Context, tick int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM rankings WHERE tick_number = ?`, tick).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rankings: %w", err)
	}
	return n, nil
}
