// internal/loyalty/domain.go
package loyalty

import (
	"storefront/pkg/ledger"
)

// TransactionType is the closed set of reasons a points balance can change.
type TransactionType string

const (
	TypeOrderCompletion  TransactionType = "order_completion"
	TypePointsRedemption TransactionType = "points_redemption"
	TypePointsExpiry     TransactionType = "points_expiry"
	TypeManualAdjustment TransactionType = "manual_adjustment"
	TypeReferralBonus    TransactionType = "referral_bonus"
	TypeBirthdayBonus    TransactionType = "birthday_bonus"
)

func (t TransactionType) valid() bool {
	switch t {
	case TypeOrderCompletion, TypePointsRedemption, TypePointsExpiry,
		TypeManualAdjustment, TypeReferralBonus, TypeBirthdayBonus:
		return true
	}
	return false
}

// earns reports whether the type only ever adds points. Redemptions and
// expiries only remove them; manual adjustments go either way.
func (t TransactionType) earns() bool {
	switch t {
	case TypeOrderCompletion, TypeReferralBonus, TypeBirthdayBonus:
		return true
	}
	return false
}

func (t TransactionType) spends() bool {
	return t == TypePointsRedemption || t == TypePointsExpiry
}

// TierThreshold is one row of the tier ladder: the lifetime points needed to
// hold a tier level.
type TierThreshold struct {
	Level     string `json:"level"`
	MinPoints int64  `json:"min_points"`
}

// Account and Entry are the ledger's types; the service layer adds the
// transaction-type policy on top without reshaping them.
type (
	Account = ledger.Account
	Entry   = ledger.Entry
)
