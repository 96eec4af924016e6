package domain

import (
	"strings"
	"time"
)

// TokenClass identifies which kind of market a token currently trades on.
type TokenClass string

const (
	// TokenClassBondingCurve means the token still trades on its issuance
	// curve and is priced per-token from the curve reserves.
	TokenClassBondingCurve TokenClass = "bonding_curve"
	// TokenClassAMM means the token has migrated to pooled DEX liquidity
	// and is priced through the aggregator.
	TokenClassAMM TokenClass = "amm"
)

// TokenClassification is a cached classification entry. Classification only
// ever moves bonding_curve -> amm; tokens do not de-migrate.
type TokenClassification struct {
	Token              string
	Class              TokenClass
	CheckedAt          time.Time
	LastMigrationCheck time.Time
}

// TokenStatus is the raw status reported by the bonding-curve venue.
type TokenStatus struct {
	Exists    bool
	OnCurve   bool
	Migrated  bool
	MarketCap float64
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// IsValidMint reports whether s looks like a base58-encoded mint address.
// It checks length and alphabet only; existence is the venue's concern.
func IsValidMint(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}
