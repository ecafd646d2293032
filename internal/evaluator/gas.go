package evaluator

import "github.com/holiman/uint256"

// gasCostFloor resolves the "implementation-defined" constant spec §9
// open question 1 leaves open: assumed back-run gas units multiplied by
// the bucket's observed median priority fee (wei).
func gasCostFloor(assumedGasUnits uint64, medianPriorityFeeWei *uint256.Int) *uint256.Int {
	if medianPriorityFeeWei == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Mul(uint256.NewInt(assumedGasUnits), medianPriorityFeeWei)
}

// medianPriorityFee returns the median of the supplied priority fees,
// used as the basis for gasCostFloor. An empty slice yields zero.
func medianPriorityFee(fees []*uint256.Int) *uint256.Int {
	if len(fees) == 0 {
		return uint256.NewInt(0)
	}
	sorted := append([]*uint256.Int(nil), fees...)
	insertionSortU256(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	sum := new(uint256.Int).Add(sorted[mid-1], sorted[mid])
	return new(uint256.Int).Div(sum, uint256.NewInt(2))
}

// insertionSortU256 sorts small slices of *uint256.Int in place; bucket
// member counts are bounded by max_members_per_bucket (default 64), so
// this never needs to be better than O(n^2).
func insertionSortU256(s []*uint256.Int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].Cmp(s[j]) > 0; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
