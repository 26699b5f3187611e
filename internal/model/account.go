package model

import (
	"fmt"
	"strings"
	"time"
)

// AccountKind names one of the three balance families held by the ledger.
type AccountKind string

const (
	// AccountCurrency is a user's currency balance.
	AccountCurrency AccountKind = "currency"
	// AccountResource is a territory's balance of one resource type.
	AccountResource AccountKind = "resource"
	// AccountToken is a user's balance of one token class.
	AccountToken AccountKind = "token"
)

// CurrencyAsset is the asset name used for currency accounts.
const CurrencyAsset = "currency"

// TokenPrefix marks a market resource type that denotes a token class.
const TokenPrefix = "token:"

// Account identifies a single ledger balance.
type Account struct {
	Kind  AccountKind `json:"kind"`
	Owner string      `json:"owner"`
	Asset string      `json:"asset"`
}

// CurrencyAccount returns the currency account of a user.
func CurrencyAccount(userID string) Account {
	return Account{Kind: AccountCurrency, Owner: userID, Asset: CurrencyAsset}
}

// ResourceAccount returns a territory's balance of resource.
func ResourceAccount(territoryID, resource string) Account {
	return Account{Kind: AccountResource, Owner: territoryID, Asset: resource}
}

// TokenAccount returns a user's balance of a token class.
func TokenAccount(userID, class string) Account {
	return Account{Kind: AccountToken, Owner: userID, Asset: class}
}

func (a Account) String() string {
	return fmt.Sprintf("%s:%s:%s", a.Kind, a.Owner, a.Asset)
}

// Valid reports whether every field of the account is set and the kind is known.
func (a Account) Valid() bool {
	switch a.Kind {
	case AccountCurrency, AccountResource, AccountToken:
	default:
		return false
	}
	return a.Owner != "" && a.Asset != ""
}

// Direction is the side of a ledger entry.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// LedgerEntry is one applied balance mutation, keyed by its operation id.
type LedgerEntry struct {
	OpID         string    `json:"op_id"`
	Account      Account   `json:"account"`
	Direction    Direction `json:"direction"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

// Asset is a parsed market resource type.
type Asset struct {
	Name  string
	Token bool
}

// ParseAsset splits a market resource type into a token class or a territory resource.
func ParseAsset(resourceType string) (Asset, error) {
	rt := strings.TrimSpace(resourceType)
	if rt == "" {
		return Asset{}, fmt.Errorf("empty resource type")
	}
	if class, ok := strings.CutPrefix(rt, TokenPrefix); ok {
		if class == "" {
			return Asset{}, fmt.Errorf("empty token class in %q", resourceType)
		}
		return Asset{Name: class, Token: true}, nil
	}
	return Asset{Name: rt}, nil
}

// Account returns the ledger account holding this asset for the given holder.
// Tokens are held by the user, resources by the territory.
func (a Asset) Account(userID, territoryID string) Account {
	if a.Token {
		return TokenAccount(userID, a.Name)
	}
	return ResourceAccount(territoryID, a.Name)
}

func (a Asset) String() string {
	if a.Token {
		return TokenPrefix + a.Name
	}
	return a.Name
}
