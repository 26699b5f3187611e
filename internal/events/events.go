// Package events defines the records appended by every game mutation.
//
// Each payload type names its own Kind. Record writes the JSON encoding in the
// caller's transaction, so an event is visible exactly when the mutation it
// describes is.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

// Kind identifies an event payload.
type Kind string

const (
	KindWarDeclared      Kind = "war.declared"
	KindWarActivated     Kind = "war.activated"
	KindWarCycle         Kind = "war.cycle"
	KindWarEnded         Kind = "war.ended"
	KindCellTransferred  Kind = "cell.transferred"
	KindVoteProposed     Kind = "vote.proposed"
	KindVoteCast         Kind = "vote.cast"
	KindVoteConcluded    Kind = "vote.concluded"
	KindLawEnacted       Kind = "law.enacted"
	KindLawVetoed        Kind = "law.vetoed"
	KindBlocActivated    Kind = "bloc.activated"
	KindEraChanged       Kind = "era.changed"
	KindListingPlaced    Kind = "listing.placed"
	KindListingFilled    Kind = "listing.filled"
	KindListingCancelled Kind = "listing.cancelled"
	KindRankingsComputed Kind = "rankings.computed"
)

// Payload is implemented by every event body.
type Payload interface {
	Kind() Kind
}

type WarDeclared struct {
	WarID       string   `json:"war_id"`
	Attacker    string   `json:"attacker"`
	Defender    string   `json:"defender"`
	TargetCells []string `json:"target_cells"`
	Stability   int      `json:"attacker_stability"`
}

type WarActivated struct {
	WarID string `json:"war_id"`
}

type WarCycle struct {
	WarID         string `json:"war_id"`
	CyclesElapsed int    `json:"cycles_elapsed"`
	MaxCycles     int    `json:"max_cycles"`
}

type WarEnded struct {
	WarID        string `json:"war_id"`
	Winner       string `json:"winner"`
	Surrendered  string `json:"surrendered,omitempty"`
	CellsLost    int    `json:"cells_lost"`
	CellsSkipped int    `json:"cells_skipped"`
}

type CellTransferred struct {
	CellID string `json:"cell_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
	RefID  string `json:"ref_id"`
}

type VoteProposed struct {
	VoteID        string         `json:"vote_id"`
	VoteType      model.VoteType `json:"vote_type"`
	SubjectID     string         `json:"subject_id"`
	TotalEligible int            `json:"total_eligible"`
	VotingEndsAt  time.Time      `json:"voting_ends_at"`
}

type VoteCast struct {
	VoteID      string        `json:"vote_id"`
	TerritoryID string        `json:"territory_id"`
	Choice      model.Choice  `json:"choice"`
	Tallies     model.Tallies `json:"tallies"`
}

type VoteConcluded struct {
	VoteID  string           `json:"vote_id"`
	Result  model.VoteResult `json:"result"`
	Tallies model.Tallies    `json:"tallies"`
}

type LawEnacted struct {
	LawID  string `json:"law_id"`
	VoteID string `json:"vote_id"`
}

type LawVetoed struct {
	LawID  string `json:"law_id"`
	VoteID string `json:"vote_id"`
}

type BlocActivated struct {
	BlocID string `json:"bloc_id"`
	VoteID string `json:"vote_id"`
}

type EraChanged struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
	VoteID string `json:"vote_id"`
}

type ListingPlaced struct {
	ListingID    string            `json:"listing_id"`
	Type         model.ListingType `json:"type"`
	ResourceType string            `json:"resource_type"`
	Quantity     int64             `json:"quantity"`
	PricePerUnit int64             `json:"price_per_unit"`
}

type ListingFilled struct {
	ListingID    string              `json:"listing_id"`
	Quantity     int64               `json:"quantity"`
	Counterparty string              `json:"counterparty"`
	Status       model.ListingStatus `json:"status"`
}

type ListingCancelled struct {
	ListingID        string `json:"listing_id"`
	ReturnedQuantity int64  `json:"returned_quantity"`
	RefundAsset      string `json:"refund_asset"`
	RefundAmount     int64  `json:"refund_amount"`
}

type RankingsComputed struct {
	TickNumber  int64 `json:"tick_number"`
	RowsWritten int   `json:"rows_written"`
}

func (WarDeclared) Kind() Kind      { return KindWarDeclared }
func (WarActivated) Kind() Kind     { return KindWarActivated }
func (WarCycle) Kind() Kind         { return KindWarCycle }
func (WarEnded) Kind() Kind         { return KindWarEnded }
func (CellTransferred) Kind() Kind  { return KindCellTransferred }
func (VoteProposed) Kind() Kind     { return KindVoteProposed }
func (VoteCast) Kind() Kind         { return KindVoteCast }
func (VoteConcluded) Kind() Kind    { return KindVoteConcluded }
func (LawEnacted) Kind() Kind       { return KindLawEnacted }
func (LawVetoed) Kind() Kind        { return KindLawVetoed }
func (BlocActivated) Kind() Kind    { return KindBlocActivated }
func (EraChanged) Kind() Kind       { return KindEraChanged }
func (ListingPlaced) Kind() Kind    { return KindListingPlaced }
func (ListingFilled) Kind() Kind    { return KindListingFilled }
func (ListingCancelled) Kind() Kind { return KindListingCancelled }
func (RankingsComputed) Kind() Kind { return KindRankingsComputed }

// Event is a decoded event row.
type Event struct {
	Seq       int64     `json:"seq"`
	Kind      Kind      `json:"kind"`
	EntityID  string    `json:"entity_id"`
	Actor     string    `json:"actor"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Record appends p to the event log through q.
func Record(ctx context.Context, q *store.Queries, at time.Time, actor, entityID string, p Payload) (int64, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("marshal %s event: %w", p.Kind(), err)
	}
	seq, err := q.InsertEvent(ctx, store.EventRow{
		Kind:      string(p.Kind()),
		EntityID:  entityID,
		Actor:     actor,
		Payload:   data,
		CreatedAt: at,
	})
	if err != nil {
		return 0, fmt.Errorf("record %s event: %w", p.Kind(), err)
	}
	return seq, nil
}

// List returns decoded events after seq, up to limit (0 for all).
func List(ctx context.Context, q *store.Queries, after int64, limit int) ([]Event, error) {
	rows, err := q.ListEvents(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		p, err := Decode(Kind(row.Kind), row.Payload)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", row.Seq, err)
		}
		out = append(out, Event{
			Seq:       row.Seq,
			Kind:      Kind(row.Kind),
			EntityID:  row.EntityID,
			Actor:     row.Actor,
			Payload:   p,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

// Decode parses a stored payload of the given kind.
func Decode(kind Kind, data []byte) (Payload, error) {
	var p Payload
	switch kind {
	case KindWarDeclared:
		p = &WarDeclared{}
	case KindWarActivated:
		p = &WarActivated{}
	case KindWarCycle:
		p = &WarCycle{}
	case KindWarEnded:
		p = &WarEnded{}
	case KindCellTransferred:
		p = &CellTransferred{}
	case KindVoteProposed:
		p = &VoteProposed{}
	case KindVoteCast:
		p = &VoteCast{}
	case KindVoteConcluded:
		p = &VoteConcluded{}
	case KindLawEnacted:
		p = &LawEnacted{}
	case KindLawVetoed:
		p = &LawVetoed{}
	case KindBlocActivated:
		p = &BlocActivated{}
	case KindEraChanged:
		p = &EraChanged{}
	case KindListingPlaced:
		p = &ListingPlaced{}
	case KindListingFilled:
		p = &ListingFilled{}
	case KindListingCancelled:
		p = &ListingCancelled{}
	case KindRankingsComputed:
		p = &RankingsComputed{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return deref(p), nil
}

// deref returns the value form so decoded payloads compare equal to recorded ones.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *WarDeclared:
		return *v
	case *WarActivated:
		return *v
	case *WarCycle:
		return *v
	case *WarEnded:
		return *v
	case *CellTransferred:
		return *v
	case *VoteProposed:
		return *v
	case *VoteCast:
		return *v
	case *VoteConcluded:
		return *v
	case *LawEnacted:
		return *v
	case *LawVetoed:
		return *v
	case *BlocActivated:
		return *v
	case *EraChanged:
		return *v
	case *ListingPlaced:
		return *v
	case *ListingFilled:
		return *v
	case *ListingCancelled:
		return *v
	case *RankingsComputed:
		return *v
	}
	return p
}
