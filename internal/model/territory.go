package model

import "time"

// TerritoryStatus is the lifecycle status of a territory.
type TerritoryStatus string

const (
	TerritoryActive   TerritoryStatus = "active"
	TerritoryInactive TerritoryStatus = "inactive"
)

// StabilityMin and StabilityMax bound Territory.Stability. StabilityDefault
// stands in for a stability the tick process never assigned.
const (
	StabilityMin     = 0
	StabilityMax     = 100
	StabilityDefault = 50
)

// Territory is a player-controlled political entity.
//
// OwnerUserID is empty for neutral territories. Stability is nil until the
// tick process first assigns it.
type Territory struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	OwnerUserID     string          `json:"owner_user_id"`
	Stability       *int            `json:"stability,omitempty"`
	CellsOwned      int             `json:"cells_owned"`
	RuralPopulation int64           `json:"rural_population"`
	UrbanPopulation int64           `json:"urban_population"`
	Status          TerritoryStatus `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Neutral reports whether the territory has no owner.
func (t Territory) Neutral() bool {
	return t.OwnerUserID == ""
}

// Active reports whether the territory can act.
func (t Territory) Active() bool {
	return t.Status == TerritoryActive
}

// StabilityOr returns the stability, or def when it was never set.
func (t Territory) StabilityOr(def int) int {
	if t.Stability == nil {
		return def
	}
	return *t.Stability
}

// Population returns rural plus urban population.
func (t Territory) Population() int64 {
	return t.RuralPopulation + t.UrbanPopulation
}

// ClampStability bounds v to [StabilityMin, StabilityMax].
func ClampStability(v int) int {
	if v < StabilityMin {
		return StabilityMin
	}
	if v > StabilityMax {
		return StabilityMax
	}
	return v
}

// Cell is a unit of land. TerritoryID is empty for unowned cells.
type Cell struct {
	ID              string `json:"id"`
	TerritoryID     string `json:"territory_id"`
	Region          string `json:"region"`
	RuralPopulation int64  `json:"rural_population"`
	UrbanPopulation int64  `json:"urban_population"`
}

// CellTransfer is the audit row written with every ownership change.
type CellTransfer struct {
	ID              int64     `json:"id"`
	CellID          string    `json:"cell_id"`
	FromTerritoryID string    `json:"from_territory_id"`
	ToTerritoryID   string    `json:"to_territory_id"`
	Reason          string    `json:"reason"`
	RefID           string    `json:"ref_id"`
	CreatedAt       time.Time `json:"created_at"`
}
