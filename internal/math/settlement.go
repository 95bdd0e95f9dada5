package math

import "math/big"

// BpsDenominator is the basis-point scale for fee percentages (10000 = 100%).
const BpsDenominator uint64 = 10_000

// ResolutionFees computes the creator and platform fee taken from the losing
// reserve at resolution. Both are floored; the remainder stays claimable by
// winners.
func ResolutionFees(losingReserve, creatorFeeBps, platformFeeBps uint64) (creatorFee, platformFee uint64) {
	creatorFee = feeOf(losingReserve, creatorFeeBps)
	platformFee = feeOf(losingReserve, platformFeeBps)
	return creatorFee, platformFee
}

func feeOf(reserve, bps uint64) uint64 {
	num := MulU128(reserve, bps)
	defer putInt128(num)
	// reserve * bps / 10000 always fits in u64 when bps <= 10000
	fee, _ := DivToU64(num, new(big.Int).SetUint64(BpsDenominator))
	return fee
}

// ClaimPayout computes a winning participant's payout:
//
//	availableProfit = max(totalReserve - winningReserve - creatorFee - platformFee, 0)
//	userProfit      = floor(userTokens * availableProfit / winningSupply)
//	payout          = userPrincipal + userProfit
//
// Profit is apportioned by token weight, not by lamports deposited: token
// price rises as a pool fills, so earlier depositors hold more tokens per
// lamport and take a larger profit share. Floor division leaves dust in the
// vault, bounded by the number of winners.
func ClaimPayout(
	yesReserve, noReserve uint64,
	winnerYes bool,
	creatorFee, platformFee uint64,
	userTokens, userPrincipal, winningSupply uint64,
) (uint64, error) {
	if winningSupply == 0 {
		return 0, ErrOverflow
	}

	winningReserve := noReserve
	if winnerYes {
		winningReserve = yesReserve
	}

	totalReserve := getInt128()
	defer putInt128(totalReserve)
	totalReserve.SetUint64(yesReserve)
	totalReserve.Add(totalReserve, new(big.Int).SetUint64(noReserve))

	deductions := getInt128()
	defer putInt128(deductions)
	deductions.SetUint64(winningReserve)
	deductions.Add(deductions, new(big.Int).SetUint64(creatorFee))
	deductions.Add(deductions, new(big.Int).SetUint64(platformFee))

	profitPool := getInt128()
	defer putInt128(profitPool)
	profitPool.Sub(totalReserve, deductions)

	var userProfit uint64
	if profitPool.Sign() > 0 {
		num := getInt128()
		defer putInt128(num)
		num.Mul(new(big.Int).SetUint64(userTokens), profitPool)

		var err error
		userProfit, err = DivToU64(num, new(big.Int).SetUint64(winningSupply))
		if err != nil {
			return 0, err
		}
	}

	return AddU64(userPrincipal, userProfit)
}
