package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/model"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestTerritoryModel(id, owner string) model.Territory {
	return model.Territory{
		ID:          id,
		Name:        "Territory " + id,
		OwnerUserID: owner,
		Status:      model.TerritoryActive,
		CreatedAt:   testTime,
	}
}

// createTestTerritory inserts an active territory owned by owner.
func createTestTerritory(t *testing.T, s *Store, id, owner string) model.Territory {
	t.Helper()
	terr := createTestTerritoryModel(id, owner)
	if err := s.Queries().InsertTerritory(context.Background(), terr); err != nil {
		t.Fatalf("InsertTerritory(%s) failed: %v", id, err)
	}
	return terr
}

// createTestCell inserts a cell owned by territoryID.
func createTestCell(t *testing.T, s *Store, id, territoryID string) {
	t.Helper()
	c := model.Cell{ID: id, TerritoryID: territoryID, Region: "north"}
	if err := s.Queries().InsertCell(context.Background(), c); err != nil {
		t.Fatalf("InsertCell(%s) failed: %v", id, err)
	}
}
