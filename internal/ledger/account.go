package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCapital AccountSubType = iota
	SubTypePremiums
	SubTypeClaimDeposit

	// System sub-types
	SubTypeSystemPremiumsEarned
	SubTypeSystemPremiumsBurned
	SubTypeSystemStrategyYield
	SubTypeSystemCompensationClearing
	SubTypeSystemClaimPenalties

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AssetID maps the settlement asset to a numeric id. A deployment settles in
// exactly one asset; the id only shows up in account paths and storage rows.
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDC": 1,
		"USDT": 2,
		"DAI":  3,
	}
	idToAsset = map[AssetID]string{
		1: "USDC",
		2: "USDT",
		3: "DAI",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // owner id for user accounts, zero otherwise
	SubType  AccountSubType
	AssetID  AssetID
}

func NewUserAccountKey(owner uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: owner,
		SubType:  subType,
		AssetID:  assetID,
	}
}

func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// Owner returns the user an account belongs to, or uuid.Nil.
func (k AccountKey) Owner() uuid.UUID {
	if k.Scope != AccountScopeUser {
		return uuid.Nil
	}
	return uuid.UUID(k.EntityID)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Owner(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCapital:
		return "capital"
	case SubTypePremiums:
		return "premiums"
	case SubTypeClaimDeposit:
		return "claim_deposit"
	case SubTypeSystemPremiumsEarned:
		return "premiums_earned"
	case SubTypeSystemPremiumsBurned:
		return "premiums_burned"
	case SubTypeSystemStrategyYield:
		return "strategy_yield"
	case SubTypeSystemCompensationClearing:
		return "compensation_clearing"
	case SubTypeSystemClaimPenalties:
		return "claim_penalties"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}
