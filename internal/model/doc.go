// Package model defines the game-state records shared by the store and the engines.
//
// Records mirror the persisted row sets: territories and cells (owned by the
// territory registry), ledger accounts, wars, votes with their legal subjects,
// market listings and ranking rows. Each lifecycle carries an explicit
// transition table so engines reject moves the table does not list.
package model
