package service

import "sort"

// Distribute splits amount across weights in proportion to their signed
// values using largest-remainder rounding, so the parts always sum to amount.
// The weights must sum to a positive total.
func Distribute(amount int64, weights []int64) []int64 {
	parts := make([]int64, len(weights))
	var total int64
	for _, w := range weights {
		total += w
	}
	if total <= 0 || len(weights) == 0 {
		return parts
	}

	type remainder struct {
		index int
		value int64
	}
	remainders := make([]remainder, len(weights))
	var assigned int64
	for i, w := range weights {
		exact := amount * w
		q := floorDiv(exact, total)
		parts[i] = q
		assigned += q
		remainders[i] = remainder{index: i, value: exact - q*total}
	}

	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].value > remainders[b].value
	})
	for k := int64(0); k < amount-assigned; k++ {
		parts[remainders[k%int64(len(remainders))].index]++
	}
	return parts
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
