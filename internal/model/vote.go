package model

import (
	"fmt"
	"strings"
	"time"
)

// LegalLevel is the jurisdiction a vote is held in.
type LegalLevel string

const (
	LevelState LegalLevel = "state"
	LevelBloc  LegalLevel = "bloc"
)

// VoteType selects the majority threshold and the subject handling.
type VoteType string

const (
	VoteLaw          VoteType = "law"
	VoteBlocLaw      VoteType = "bloc_law"
	VoteBlocCreation VoteType = "bloc_creation"
	VoteEraChange    VoteType = "era_change"
	VoteConstitution VoteType = "constitution"
)

// Valid reports whether t is a known vote type.
func (t VoteType) Valid() bool {
	switch t {
	case VoteLaw, VoteBlocLaw, VoteBlocCreation, VoteEraChange, VoteConstitution:
		return true
	}
	return false
}

// VoteStatus is the lifecycle state of a vote. Closed is terminal.
type VoteStatus string

const (
	VoteOpen   VoteStatus = "open"
	VoteClosed VoteStatus = "closed"
)

// Choice is a ballot option.
type Choice string

const (
	ChoiceYes     Choice = "yes"
	ChoiceNo      Choice = "no"
	ChoiceAbstain Choice = "abstain"
)

// ParseChoice normalizes a ballot option.
func ParseChoice(s string) (Choice, error) {
	switch c := Choice(strings.ToLower(strings.TrimSpace(s))); c {
	case ChoiceYes, ChoiceNo, ChoiceAbstain:
		return c, nil
	}
	return "", fmt.Errorf("unknown choice %q", s)
}

// VoteResult is fixed when a vote closes.
type VoteResult string

const (
	ResultNone     VoteResult = ""
	ResultApproved VoteResult = "approved"
	ResultRejected VoteResult = "rejected"
)

// SubjectKind names the record a vote decides on.
type SubjectKind string

const (
	SubjectLaw  SubjectKind = "law"
	SubjectBloc SubjectKind = "bloc"
	SubjectEra  SubjectKind = "era"
)

// Tallies holds the per-choice counts of a vote.
type Tallies struct {
	Yes     int `json:"yes"`
	No      int `json:"no"`
	Abstain int `json:"abstain"`
}

// Total returns the number of ballots recorded.
func (t Tallies) Total() int {
	return t.Yes + t.No + t.Abstain
}

// Decisive returns yes plus no; abstentions never count toward a threshold.
func (t Tallies) Decisive() int {
	return t.Yes + t.No
}

// Vote is a parliamentary proposal.
type Vote struct {
	ID            string      `json:"id"`
	LegalLevel    LegalLevel  `json:"legal_level"`
	VoteType      VoteType    `json:"vote_type"`
	BlocID        string      `json:"bloc_id"`
	SubjectKind   SubjectKind `json:"subject_kind"`
	SubjectID     string      `json:"subject_id"`
	Status        VoteStatus  `json:"status"`
	Tallies       Tallies     `json:"tallies"`
	TotalEligible int         `json:"total_eligible"`
	VotingEndsAt  time.Time   `json:"voting_ends_at"`
	Result        VoteResult  `json:"result"`
	ProposedBy    string      `json:"proposed_by"`
	CreatedAt     time.Time   `json:"created_at"`
	ClosedAt      *time.Time  `json:"closed_at,omitempty"`
}

// VoteRecord is the single ballot of a territory in a vote.
type VoteRecord struct {
	VoteID      string    `json:"vote_id"`
	TerritoryID string    `json:"territory_id"`
	Choice      Choice    `json:"choice"`
	Reason      string    `json:"reason"`
	CastBy      string    `json:"cast_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// LawStatus is the lifecycle state of a law.
type LawStatus string

const (
	LawVoting  LawStatus = "voting"
	LawEnacted LawStatus = "enacted"
	LawVetoed  LawStatus = "vetoed"
)

// Law is the legal subject of law, bloc_law and constitution votes.
type Law struct {
	ID           string     `json:"id"`
	LegalLevel   LegalLevel `json:"legal_level"`
	BlocID       string     `json:"bloc_id"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	Constitution bool       `json:"constitution"`
	Status       LawStatus  `json:"status"`
	Effects      Effects    `json:"effects"`
	EnactedAt    *time.Time `json:"enacted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// LegalHistoryEntry records a change in a law's legal status.
type LegalHistoryEntry struct {
	ID        int64     `json:"id"`
	LawID     string    `json:"law_id"`
	Status    LawStatus `json:"status"`
	VoteID    string    `json:"vote_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BlocStatus is the lifecycle state of a bloc.
type BlocStatus string

const (
	BlocPending BlocStatus = "pending"
	BlocActive  BlocStatus = "active"
)

// Bloc is a coalition of territories.
type Bloc struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	FounderTerritoryID string     `json:"founder_territory_id"`
	Status             BlocStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Era is the world era advanced by approved era_change votes.
type Era struct {
	Number    int       `json:"number"`
	Name      string    `json:"name"`
	VoteID    string    `json:"vote_id"`
	StartedAt time.Time `json:"started_at"`
}
