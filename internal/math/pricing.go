package math

import "math/big"

const (
	// VirtualReserve is the constant fictitious reserve (1 SOL in lamports)
	// added to both sides before pricing. It is never actually held; it only
	// stabilizes early odds and rules out division by zero on empty pools.
	VirtualReserve uint64 = 1_000_000_000

	// Scale is the fixed-point precision for prices (1e9).
	Scale uint64 = 1_000_000_000
)

// Quote is the result of pricing one deposit against current reserves.
// YesPrice and NoPrice are scaled by Scale and always sum to Scale
// (up to floor-division dust).
type Quote struct {
	TokenAmount   uint64
	YesPrice      uint64
	NoPrice       uint64
	NewYesReserve uint64
	NewNoReserve  uint64
}

// QuoteDeposit computes the outcome-token amount minted for a deposit and
// the post-deposit reserves. Pure function: the HTTP preview endpoint and
// the settlement engine both call it, and both must see identical results
// for identical inputs. Integer arithmetic only, no hidden state.
//
// price(side) = (reserve(side) + VirtualReserve) * Scale / (virtualYes + virtualNo)
// tokens      = floor(amount * Scale / price(side))
//
// Buying a side raises that side's price on the next quote, so earlier
// depositors mint more tokens per lamport.
func QuoteDeposit(yesReserve, noReserve, amount uint64, isYes bool) (Quote, error) {
	vYes := new(big.Int).SetUint64(yesReserve)
	vYes.Add(vYes, new(big.Int).SetUint64(VirtualReserve))
	vNo := new(big.Int).SetUint64(noReserve)
	vNo.Add(vNo, new(big.Int).SetUint64(VirtualReserve))

	denom := getInt128()
	defer putInt128(denom)
	denom.Add(vYes, vNo) // > 0 by construction

	scale := new(big.Int).SetUint64(Scale)

	yesNum := getInt128()
	defer putInt128(yesNum)
	yesNum.Mul(vYes, scale)
	yesPrice, err := DivToU64(yesNum, denom)
	if err != nil {
		return Quote{}, err
	}

	noNum := getInt128()
	defer putInt128(noNum)
	noNum.Mul(vNo, scale)
	noPrice, err := DivToU64(noNum, denom)
	if err != nil {
		return Quote{}, err
	}

	selected := yesPrice
	if !isYes {
		selected = noPrice
	}

	tokenNum := MulU128(amount, Scale)
	defer putInt128(tokenNum)
	tokens, err := DivToU64(tokenNum, new(big.Int).SetUint64(selected))
	if err != nil {
		return Quote{}, err
	}

	newYes := yesReserve
	newNo := noReserve
	if isYes {
		if newYes, err = AddU64(yesReserve, amount); err != nil {
			return Quote{}, err
		}
	} else {
		if newNo, err = AddU64(noReserve, amount); err != nil {
			return Quote{}, err
		}
	}

	return Quote{
		TokenAmount:   tokens,
		YesPrice:      yesPrice,
		NoPrice:       noPrice,
		NewYesReserve: newYes,
		NewNoReserve:  newNo,
	}, nil
}

// SpotPrices returns the current YES and NO prices without depositing.
func SpotPrices(yesReserve, noReserve uint64) (yesPrice, noPrice uint64, err error) {
	q, err := QuoteDeposit(yesReserve, noReserve, 0, true)
	if err != nil {
		return 0, 0, err
	}
	return q.YesPrice, q.NoPrice, nil
}
