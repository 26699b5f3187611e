// Package seed loads a world description into an empty store.
//
// World files are YAML. They describe the registry state the engines
// consume (territories, cells, blocs, technologies), opening balances and
// optional tick summaries. Used by `toi700 seed`, the scenario harness and
// package tests.
package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
	"github.com/Tchosco/toi700game-sub002/internal/ledger"
	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

// World is a complete seed description.
type World struct {
	Territories   []Territory   `yaml:"territories"`
	Cells         []Cell        `yaml:"cells"`
	Blocs         []Bloc        `yaml:"blocs"`
	Balances      []Balance     `yaml:"balances"`
	TickSummaries []TickSummary `yaml:"tick_summaries"`
	Era           *Era          `yaml:"era"`
}

type Territory struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Owner           string   `yaml:"owner"`
	Stability       *int     `yaml:"stability"`
	Status          string   `yaml:"status"`
	RuralPopulation int64    `yaml:"rural_population"`
	UrbanPopulation int64    `yaml:"urban_population"`
	Cells           []string `yaml:"cells"`
	Technologies    []string `yaml:"technologies"`
}

// Cell is an unowned cell or one with explicit population.
type Cell struct {
	ID              string `yaml:"id"`
	Territory       string `yaml:"territory"`
	Region          string `yaml:"region"`
	RuralPopulation int64  `yaml:"rural_population"`
	UrbanPopulation int64  `yaml:"urban_population"`
}

type Bloc struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Founder string   `yaml:"founder"`
	Status  string   `yaml:"status"`
	Members []string `yaml:"members"`
}

type Balance struct {
	Kind   string `yaml:"kind"`
	Owner  string `yaml:"owner"`
	Asset  string `yaml:"asset"`
	Amount int64  `yaml:"amount"`
}

type TickSummary struct {
	Tick        int64              `yaml:"tick"`
	Territory   string             `yaml:"territory"`
	Production  map[string]float64 `yaml:"production"`
	Consumption map[string]float64 `yaml:"consumption"`
}

type Era struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`
}

// Parse decodes a YAML world.
func Parse(data []byte) (World, error) {
	var w World
	if err := yaml.Unmarshal(data, &w); err != nil {
		return World{}, fmt.Errorf("parse world: %w", err)
	}
	return w, nil
}

// LoadFile reads and decodes a YAML world file.
func LoadFile(path string) (World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return World{}, fmt.Errorf("read world file: %w", err)
	}
	return Parse(data)
}

// Account returns the ledger account a balance entry names. Currency
// balances may omit the asset.
func (b Balance) Account() model.Account {
	a := model.Account{Kind: model.AccountKind(b.Kind), Owner: b.Owner, Asset: b.Asset}
	if a.Kind == model.AccountCurrency && a.Asset == "" {
		a.Asset = model.CurrencyAsset
	}
	return a
}

// Apply writes the world in a single transaction. Opening balances are
// credited through the ledger with stable op ids, so they are journaled
// like any other credit.
func Apply(ctx context.Context, st *store.Store, led *ledger.Ledger, w World, at time.Time) error {
	return st.WithTx(ctx, func(q *store.Queries) error {
		for _, t := range w.Territories {
			status := model.TerritoryStatus(t.Status)
			if status == "" {
				status = model.TerritoryActive
			}
			name := t.Name
			if name == "" {
				name = t.ID
			}
			err := q.InsertTerritory(ctx, model.Territory{
				ID:              t.ID,
				Name:            name,
				OwnerUserID:     t.Owner,
				Stability:       t.Stability,
				RuralPopulation: t.RuralPopulation,
				UrbanPopulation: t.UrbanPopulation,
				Status:          status,
				CreatedAt:       at,
			})
			if err != nil {
				return fmt.Errorf("territory %s: %w", t.ID, err)
			}
			for _, cellID := range t.Cells {
				if err := q.InsertCell(ctx, model.Cell{ID: cellID, TerritoryID: t.ID}); err != nil {
					return fmt.Errorf("cell %s: %w", cellID, err)
				}
			}
			for _, tech := range t.Technologies {
				if err := q.InsertTechnology(ctx, t.ID, tech, at); err != nil {
					return fmt.Errorf("technology %s/%s: %w", t.ID, tech, err)
				}
			}
		}

		for _, c := range w.Cells {
			err := q.InsertCell(ctx, model.Cell{
				ID:              c.ID,
				TerritoryID:     c.Territory,
				Region:          c.Region,
				RuralPopulation: c.RuralPopulation,
				UrbanPopulation: c.UrbanPopulation,
			})
			if err != nil {
				return fmt.Errorf("cell %s: %w", c.ID, err)
			}
		}

		for _, b := range w.Blocs {
			status := model.BlocStatus(b.Status)
			if status == "" {
				status = model.BlocActive
			}
			err := q.InsertBloc(ctx, model.Bloc{ID: b.ID, Name: b.Name, FounderTerritoryID: b.Founder, Status: status, CreatedAt: at})
			if err != nil {
				return fmt.Errorf("bloc %s: %w", b.ID, err)
			}
			for _, m := range b.Members {
				if err := q.UpsertBlocMember(ctx, b.ID, m, true, at); err != nil {
					return fmt.Errorf("bloc %s member %s: %w", b.ID, m, err)
				}
			}
		}

		tx := led.Bind(q)
		for _, b := range w.Balances {
			a := b.Account()
			if _, err := tx.Credit(ctx, "seed/"+a.String(), a, b.Amount, "seed"); err != nil {
				return fmt.Errorf("balance %s: %w", a, err)
			}
		}

		for _, s := range w.TickSummaries {
			err := q.UpsertTickSummary(ctx, model.TickSummary{
				TickNumber:  s.Tick,
				TerritoryID: s.Territory,
				Production:  s.Production,
				Consumption: s.Consumption,
			}, at)
			if err != nil {
				return fmt.Errorf("tick summary %d/%s: %w", s.Tick, s.Territory, err)
			}
		}

		if w.Era != nil {
			if err := q.InsertEra(ctx, model.Era{Number: w.Era.Number, Name: w.Era.Name, StartedAt: at}); err != nil {
				return fmt.Errorf("era: %w", err)
			}
		}
		return nil
	})
}

// ApplyFile loads a world file and applies it.
func ApplyFile(ctx context.Context, st *store.Store, led *ledger.Ledger, path string, at time.Time) error {
	w, err := LoadFile(path)
	if err != nil {
		return err
	}
	if err := Apply(ctx, st, led, w, at); err != nil {
		return gameerr.Dependency("seed world", err)
	}
	return nil
}
