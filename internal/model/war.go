package model

import "time"

// WarStatus is the lifecycle state of a war.
type WarStatus string

const (
	WarDeclared WarStatus = "declared"
	WarActive   WarStatus = "active"
	WarEnded    WarStatus = "ended"
)

var warTransitions = map[WarStatus][]WarStatus{
	WarDeclared: {WarActive, WarEnded},
	WarActive:   {WarEnded},
}

// CanTransition reports whether the war lifecycle allows moving from s to to.
func (s WarStatus) CanTransition(to WarStatus) bool {
	for _, next := range warTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Open reports whether the war still counts against its attacker.
func (s WarStatus) Open() bool {
	return s == WarDeclared || s == WarActive
}

// War is a declared conflict over a fixed set of target cells.
type War struct {
	ID                  string     `json:"id"`
	AttackerTerritoryID string     `json:"attacker_territory_id"`
	DefenderTerritoryID string     `json:"defender_territory_id"`
	TargetCells         []string   `json:"target_cells"`
	Status              WarStatus  `json:"status"`
	WinnerTerritoryID   string     `json:"winner_territory_id"`
	MaxCycles           int        `json:"max_cycles"`
	CyclesElapsed       int        `json:"cycles_elapsed"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	DeclaredBy          string     `json:"declared_by"`
	CreatedAt           time.Time  `json:"created_at"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
}

// Participant reports whether territoryID is one of the two sides.
func (w War) Participant(territoryID string) bool {
	return territoryID == w.AttackerTerritoryID || territoryID == w.DefenderTerritoryID
}

// Opponent returns the other side of territoryID.
func (w War) Opponent(territoryID string) string {
	if territoryID == w.AttackerTerritoryID {
		return w.DefenderTerritoryID
	}
	return w.AttackerTerritoryID
}
