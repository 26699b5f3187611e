package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/model"
)

// InsertBloc writes a new bloc.
func (q *Queries) InsertBloc(ctx context.Context, b model.Bloc) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO blocs (id, name, founder_territory_id, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, b.ID, b.Name, b.FounderTerritoryID, string(b.Status), formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert bloc: %w", err)
	}
	return nil
}

// GetBloc retrieves a bloc by ID.
// Returns ErrNotFound if it does not exist.
func (q *Queries) GetBloc(ctx context.Context, id string) (model.Bloc, error) {
	var (
		b         model.Bloc
		status    string
		createdAt string
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT id, name, founder_territory_id, status, created_at FROM blocs WHERE id = ?
	`, id).Scan(&b.ID, &b.Name, &b.FounderTerritoryID, &status, &createdAt)
	if err != nil {
		return model.Bloc{}, fmt.Errorf("get bloc: %w", notFound(err))
	}
	b.Status = model.BlocStatus(status)
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Bloc{}, err
	}
	return b, nil
}

// SetBlocStatus changes a bloc's status.
func (q *Queries) SetBlocStatus(ctx context.Context, id string, status model.BlocStatus) error {
	res, err := q.q.ExecContext(ctx, `UPDATE blocs SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set bloc status: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return fmt.Errorf("set bloc status: %w", err)
	}
	if !ok {
		return fmt.Errorf("set bloc status: %w", ErrNotFound)
	}
	return nil
}

// UpsertBlocMember adds a territory to a bloc, or changes its membership status.
func (q *Queries) UpsertBlocMember(ctx context.Context, blocID, territoryID string, active bool, at time.Time) error {
	status := "left"
	if active {
		status = "active"
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO bloc_members (bloc_id, territory_id, status, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bloc_id, territory_id) DO UPDATE SET status = excluded.status
	`, blocID, territoryID, status, formatTime(at))
	if err != nil {
		return fmt.Errorf("upsert bloc member: %w", err)
	}
	return nil
}

// IsActiveBlocMember reports whether a territory holds active membership in
// an active bloc.
func (q *Queries) IsActiveBlocMember(ctx context.Context, blocID, territoryID string) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM bloc_members m
		JOIN blocs b ON b.id = m.bloc_id
		WHERE m.bloc_id = ? AND m.territory_id = ? AND m.status = 'active' AND b.status = 'active'
	`, blocID, territoryID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check bloc membership: %w", err)
	}
	return n > 0, nil
}

// CountActiveBlocMembers returns the number of active territories holding
// active membership in a bloc.
func (q *Queries) CountActiveBlocMembers(ctx context.Context, blocID string) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM bloc_members m
		JOIN territories t ON t.id = m.territory_id
		WHERE m.bloc_id = ? AND m.status = 'active' AND t.status = 'active'
	`, blocID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bloc members: %w", err)
	}
	return n, nil
}

// InsertLaw writes a new law.
func (q *Queries) InsertLaw(ctx context.Context, l model.Law) error {
	effects, err := model.MarshalEffects(l.Effects)
	if err != nil {
		return fmt.Errorf("insert law: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO laws (id, legal_level, bloc_id, title, body, constitution, status, effects, enacted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.ID,
		string(l.LegalLevel),
		nullString(l.BlocID),
		l.Title,
		l.Body,
		l.Constitution,
		string(l.Status),
		string(effects),
		formatNullTime(l.EnactedAt),
		formatTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert law: %w", err)
	}
	return nil
}

// GetLaw retrieves a law by ID.
// Returns ErrNotFound if it does not exist.
func (q *Queries) GetLaw(ctx context.Context, id string) (model.Law, error) {
	var (
		l         model.Law
		level     string
		blocID    sql.NullString
		status    string
		effects   string
		enactedAt sql.NullString
		createdAt string
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT id, legal_level, bloc_id, title, body, constitution, status, effects, enacted_at, created_at
		FROM laws WHERE id = ?
	`, id).Scan(&l.ID, &level, &blocID, &l.Title, &l.Body, &l.Constitution, &status, &effects, &enactedAt, &createdAt)
	if err != nil {
		return model.Law{}, fmt.Errorf("get law: %w", notFound(err))
	}
	l.LegalLevel = model.LegalLevel(level)
	l.BlocID = blocID.String
	l.Status = model.LawStatus(status)
	if l.Effects, err = model.UnmarshalEffects([]byte(effects)); err != nil {
		return model.Law{}, fmt.Errorf("get law: %w", err)
	}
	if l.EnactedAt, err = parseNullTime(enactedAt); err != nil {
		return model.Law{}, err
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Law{}, err
	}
	return l, nil
}

// SetLawStatus moves a law out of voting. enactedAt is stored when non-nil.
// Returns false when the law is no longer in voting.
func (q *Queries) SetLawStatus(ctx context.Context, id string, status model.LawStatus, enactedAt *time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE laws SET status = ?, enacted_at = ? WHERE id = ? AND status = 'voting'
	`, string(status), formatNullTime(enactedAt), id)
	if err != nil {
		return false, fmt.Errorf("set law status: %w", err)
	}
	return affected(res)
}

// InsertLegalHistory appends a legal-status change for a law.
func (q *Queries) InsertLegalHistory(ctx context.Context, e model.LegalHistoryEntry) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO legal_history (law_id, status, vote_id, created_at) VALUES (?, ?, ?, ?)
	`, e.LawID, string(e.Status), e.VoteID, formatTime(e.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert legal history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert legal history: last insert id: %w", err)
	}
	return id, nil
}

// ListLegalHistory returns the history of a law in insertion order.
func (q *Queries) ListLegalHistory(ctx context.Context, lawID string) ([]model.LegalHistoryEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, law_id, status, vote_id, created_at
		FROM legal_history WHERE law_id = ? ORDER BY id ASC
	`, lawID)
	if err != nil {
		return nil, fmt.Errorf("query legal history: %w", err)
	}
	defer rows.Close()

	entries := []model.LegalHistoryEntry{}
	for rows.Next() {
		var (
			e         model.LegalHistoryEntry
			status    string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.LawID, &status, &e.VoteID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan legal history: %w", err)
		}
		e.Status = model.LawStatus(status)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legal history: %w", err)
	}
	return entries, nil
}

// CurrentEra returns the latest era. Returns ErrNotFound before the first era.
func (q *Queries) CurrentEra(ctx context.Context) (model.Era, error) {
	var (
		e         model.Era
		startedAt string
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT number, name, vote_id, started_at FROM eras ORDER BY number DESC LIMIT 1
	`).Scan(&e.Number, &e.Name, &e.VoteID, &startedAt)
	if err != nil {
		return model.Era{}, fmt.Errorf("current era: %w", notFound(err))
	}
	if e.StartedAt, err = parseTime(startedAt); err != nil {
		return model.Era{}, err
	}
	return e, nil
}

// InsertEra starts a new era.
func (q *Queries) InsertEra(ctx context.Context, e model.Era) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO eras (number, name, vote_id, started_at) VALUES (?, ?, ?, ?)
	`, e.Number, e.Name, e.VoteID, formatTime(e.StartedAt))
	if err != nil {
		return fmt.Errorf("insert era: %w", err)
	}
	return nil
}
