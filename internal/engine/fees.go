package engine

import "github.com/holiman/uint256"

// maxInputBits bounds trade and deposit inputs to 128 bits so fee and scale
// arithmetic cannot overflow 256-bit intermediates.
const maxInputBits = 128

// splitFee deducts the market's fee from a trade input before it reaches the
// pricing curve: fee = q*feeBps/10_000 truncating, effective = q - fee. The
// fee leg transfers to the treasury; the effective leg is what the curve
// consumes and what enters the vault. Truncation here matches the curve's own
// rounding so no value leaks between fee and vault accounting.
func (m *Market) splitFee(q *uint256.Int) (fee, effective *uint256.Int) {
	fee = new(uint256.Int).Mul(q, uint256.NewInt(m.cfg.FeeBps))
	fee.Div(fee, uint256.NewInt(feeScale))
	effective = new(uint256.Int).Sub(q, fee)
	return fee, effective
}
