// Package pool implements the four-way accounting split applied to every
// accepted deposit: 50% prize, 30% ecosystem, 10% developer, 10% revival.
package pool

import "math/big"

// Fixed integer percentages of the split. Prize has no percentage of its
// own: it absorbs whatever the other three floor divisions leave behind,
// so the four parts always sum exactly to the input amount.
const (
	EcosystemPct = 30
	DeveloperPct = 10
	RevivalPct   = 10
)

var hundred = big.NewInt(100)

// Allocation is the result of splitting one deposit amount.
type Allocation struct {
	Prize     *big.Int
	Ecosystem *big.Int
	Developer *big.Int
	Revival   *big.Int
}

// Split divides amount across the four pools with exact conservation:
// the outputs are non-negative and sum to amount for every amount >= 0.
// Rounding remainders from the integer divisions land in Prize, so e.g.
// Split(1) yields prize=1 and zero elsewhere.
func Split(amount *big.Int) Allocation {
	pct := func(p int64) *big.Int {
		v := new(big.Int).Mul(amount, big.NewInt(p))
		return v.Quo(v, hundred)
	}

	eco := pct(EcosystemPct)
	dev := pct(DeveloperPct)
	rev := pct(RevivalPct)

	prize := new(big.Int).Sub(amount, eco)
	prize.Sub(prize, dev)
	prize.Sub(prize, rev)

	return Allocation{Prize: prize, Ecosystem: eco, Developer: dev, Revival: rev}
}

// Total returns the sum of the four parts.
func (a Allocation) Total() *big.Int {
	t := new(big.Int).Add(a.Prize, a.Ecosystem)
	t.Add(t, a.Developer)
	return t.Add(t, a.Revival)
}
