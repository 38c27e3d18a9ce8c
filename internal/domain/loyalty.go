/**
 * @description
 * Loyalty policy constants and the tier derivation function. Tier is a pure
 * function of the raw points counter; it is recomputed on every read and is
 * never stored, which rules out stale-tier state by construction.
 */

package domain

// Loyalty tiers in ascending order.
const (
	TierBronze   = "Bronze"
	TierSilver   = "Silver"
	TierGold     = "Gold"
	TierPlatinum = "Platinum"
)

// RewardPointsPerCurrencyUnit is the accrual rate applied at bill approval:
// 10 points per whole currency unit, truncated.
const RewardPointsPerCurrencyUnit = 10

// centsPerPoint converts a cent amount to points with truncation semantics
// identical to floor(amount * RewardPointsPerCurrencyUnit).
const centsPerPoint = 100 / RewardPointsPerCurrencyUnit

// tierThresholds holds the minimum points for each tier, ascending.
var tierThresholds = []struct {
	name      string
	minPoints int64
}{
	{TierBronze, 0},
	{TierSilver, 1000},
	{TierGold, 5000},
	{TierPlatinum, 10000},
}

// RewardsForAmount computes the points earned for an approved bill amount.
func RewardsForAmount(amountCents int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	return amountCents / centsPerPoint
}

// TierFor derives the loyalty tier for a cumulative points balance.
func TierFor(pointsEarned int64) string {
	tier := TierBronze
	for _, t := range tierThresholds {
		if pointsEarned >= t.minPoints {
			tier = t.name
		}
	}
	return tier
}

// NextTierFor returns the next tier above the given points balance and the
// points still required to reach it. ok is false at Platinum.
func NextTierFor(pointsEarned int64) (name string, pointsToNext int64, ok bool) {
	for _, t := range tierThresholds {
		if pointsEarned < t.minPoints {
			return t.name, t.minPoints - pointsEarned, true
		}
	}
	return "", 0, false
}
