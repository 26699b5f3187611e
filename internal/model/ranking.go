package model

import "time"

// TickSummary is the per-territory output of one external tick pass.
type TickSummary struct {
	TickNumber  int64              `json:"tick_number"`
	TerritoryID string             `json:"territory_id"`
	Production  map[string]float64 `json:"production"`
	Consumption map[string]float64 `json:"consumption"`
}

// RankingRow is the score of one territory at one tick. Rows are append-only.
type RankingRow struct {
	ID          int64     `json:"id"`
	TerritoryID string    `json:"territory_id"`
	TickNumber  int64     `json:"tick_number"`
	ScoreTotal  float64   `json:"score_total"`
	Population  float64   `json:"population"`
	Economy     float64   `json:"economy"`
	Technology  float64   `json:"technology"`
	Stability   float64   `json:"stability"`
	Expansion   float64   `json:"expansion"`
	Efficiency  float64   `json:"efficiency"`
	CreatedAt   time.Time `json:"created_at"`
}
