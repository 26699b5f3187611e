package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/model"
)

const voteColumns = `id, legal_level, vote_type, bloc_id, subject_kind, subject_id, status,
	yes_count, no_count, abstain_count, total_eligible, voting_ends_at, result,
	proposed_by, created_at, closed_at`

// InsertVote writes a new vote.
func (q *Queries) InsertVote(ctx context.Context, v model.Vote) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO votes (`+voteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		v.ID,
		string(v.LegalLevel),
		string(v.VoteType),
		nullString(v.BlocID),
		string(v.SubjectKind),
		v.SubjectID,
		string(v.Status),
		v.Tallies.Yes,
		v.Tallies.No,
		v.Tallies.Abstain,
		v.TotalEligible,
		formatTime(v.VotingEndsAt),
		string(v.Result),
		v.ProposedBy,
		formatTime(v.CreatedAt),
		formatNullTime(v.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

// GetVote retrieves a vote by ID.
// Returns ErrNotFound if it does not exist.
func (q *Queries) GetVote(ctx context.Context, id string) (model.Vote, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+voteColumns+` FROM votes WHERE id = ?`, id)
	v, err := scanVote(row)
	if err != nil {
		return model.Vote{}, fmt.Errorf("get vote: %w", notFound(err))
	}
	return v, nil
}

// IncrementTally adds one ballot to the matching tally of an open vote in a
// single statement and returns the updated tallies.
// Returns ErrNotFound when the vote is missing or closed.
func (q *Queries) IncrementTally(ctx context.Context, voteID string, choice model.Choice) (model.Tallies, error) {
	var column string
	switch choice {
	case model.ChoiceYes:
		column = "yes_count"
	case model.ChoiceNo:
		column = "no_count"
	case model.ChoiceAbstain:
		column = "abstain_count"
	default:
		return model.Tallies{}, fmt.Errorf("increment tally: unknown choice %q", choice)
	}

	var t model.Tallies
	err := q.q.QueryRowContext(ctx, `
		UPDATE votes SET `+column+` = `+column+` + 1
		WHERE id = ? AND status = 'open'
		RETURNING yes_count, no_count, abstain_count
	`, voteID).Scan(&t.Yes, &t.No, &t.Abstain)
	if err != nil {
		return model.Tallies{}, fmt.Errorf("increment tally: %w", notFound(err))
	}
	return t, nil
}

// InsertVoteRecord writes a ballot. Returns false without changes when the
// territory already voted in this vote.
func (q *Queries) InsertVoteRecord(ctx context.Context, r model.VoteRecord) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO vote_records (vote_id, territory_id, choice, reason, cast_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(vote_id, territory_id) DO NOTHING
	`, r.VoteID, r.TerritoryID, string(r.Choice), r.Reason, r.CastBy, formatTime(r.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert vote record: %w", err)
	}
	return affected(res)
}

// ListVoteRecords returns the ballots of a vote ordered by territory.
func (q *Queries) ListVoteRecords(ctx context.Context, voteID string) ([]model.VoteRecord, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT vote_id, territory_id, choice, reason, cast_by, created_at
		FROM vote_records WHERE vote_id = ?
		ORDER BY territory_id ASC
	`, voteID)
	if err != nil {
		return nil, fmt.Errorf("query vote records: %w", err)
	}
	defer rows.Close()

	records := []model.VoteRecord{}
	for rows.Next() {
		var (
			r         model.VoteRecord
			choice    string
			createdAt string
		)
		if err := rows.Scan(&r.VoteID, &r.TerritoryID, &choice, &r.Reason, &r.CastBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan vote record: %w", err)
		}
		r.Choice = model.Choice(choice)
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote records: %w", err)
	}
	return records, nil
}

// CloseVote closes an open vote with its result. Returns false when the vote
// was already closed, which makes conclusion at-most-once.
func (q *Queries) CloseVote(ctx context.Context, id string, result model.VoteResult, at time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE votes SET status = 'closed', result = ?, closed_at = ?
		WHERE id = ? AND status = 'open'
	`, string(result), formatTime(at), id)
	if err != nil {
		return false, fmt.Errorf("close vote: %w", err)
	}
	return affected(res)
}

// ListExpiredVotes returns ids of open votes whose deadline is before now.
func (q *Queries) ListExpiredVotes(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id FROM votes
		WHERE status = 'open' AND voting_ends_at < ?
		ORDER BY voting_ends_at ASC, id ASC
	`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("query expired votes: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired vote: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired votes: %w", err)
	}
	return ids, nil
}

func scanVote(r rowScanner) (model.Vote, error) {
	var (
		v            model.Vote
		level        string
		voteType     string
		blocID       sql.NullString
		subjectKind  string
		status       string
		votingEndsAt string
		result       string
		createdAt    string
		closedAt     sql.NullString
	)
	err := r.Scan(
		&v.ID,
		&level,
		&voteType,
		&blocID,
		&subjectKind,
		&v.SubjectID,
		&status,
		&v.Tallies.Yes,
		&v.Tallies.No,
		&v.Tallies.Abstain,
		&v.TotalEligible,
		&votingEndsAt,
		&result,
		&v.ProposedBy,
		&createdAt,
		&closedAt,
	)
	if err != nil {
		return model.Vote{}, err
	}
	v.LegalLevel = model.LegalLevel(level)
	v.VoteType = model.VoteType(voteType)
	v.BlocID = blocID.String
	v.SubjectKind = model.SubjectKind(subjectKind)
	v.Status = model.VoteStatus(status)
	v.Result = model.VoteResult(result)
	if v.VotingEndsAt, err = parseTime(votingEndsAt); err != nil {
		return model.Vote{}, err
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Vote{}, err
	}
	if v.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return model.Vote{}, err
	}
	return v, nil
}
